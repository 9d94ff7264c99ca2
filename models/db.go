package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OpenMySQL 打开连接池并包装成 GORM，同时自动建表
func OpenMySQL(dsn string) (*gorm.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping mysql: %v", ErrStorageUnavailable, err)
	}

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn: db,
	}), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("gorm init: %w", err)
	}
	if err := Migrate(gormDB); err != nil {
		return nil, err
	}
	log.Info().Msg("run-state database connected")
	return gormDB, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&RunState{}); err != nil {
		return fmt.Errorf("migrate run_state: %w", err)
	}
	return nil
}

// GormRunStore keeps run state in a SQL table. Every status write is a single
// conditional UPDATE, so concurrent writers can never regress a step.
type GormRunStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormRunStore(db *gorm.DB) *GormRunStore {
	return &GormRunStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *GormRunStore) Ensure(ctx context.Context, runID string) error {
	row := NewRunState(runID, s.now())
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
	return storageErr("ensure", err)
}

func (s *GormRunStore) UpdateStep(ctx context.Context, runID string, step Step, status string) error {
	if !step.Valid() {
		return fmt.Errorf("unknown step %q", step)
	}
	preds, err := Predecessors(status)
	if err != nil {
		return err
	}
	if err := s.Ensure(ctx, runID); err != nil {
		return err
	}

	col := step.Column()
	res := s.db.WithContext(ctx).Model(&RunState{}).
		Where("run_id = ? AND "+col+" IN ?", runID, preds).
		Updates(map[string]interface{}{
			col:          status,
			"updated_at": s.now(),
		})
	if res.Error != nil {
		return storageErr("update "+col, res.Error)
	}
	if res.RowsAffected == 0 {
		return s.checkUnchanged(ctx, runID, step, status)
	}
	return nil
}

// Complete marks editing completed and records the final artifact in the same statement.
func (s *GormRunStore) Complete(ctx context.Context, runID string, finalURI string) error {
	preds, _ := Predecessors(StatusCompleted)
	res := s.db.WithContext(ctx).Model(&RunState{}).
		Where("run_id = ? AND editing_status IN ?", runID, preds).
		Updates(map[string]interface{}{
			"editing_status":  StatusCompleted,
			"final_video_uri": finalURI,
			"updated_at":      s.now(),
		})
	if res.Error != nil {
		return storageErr("complete", res.Error)
	}
	if res.RowsAffected == 0 {
		return s.checkUnchanged(ctx, runID, StepEditing, StatusCompleted)
	}
	return nil
}

// MySQL reports zero affected rows when the new values equal the old ones, so a
// miss is only a rejected transition if the stored status differs.
func (s *GormRunStore) checkUnchanged(ctx context.Context, runID string, step Step, status string) error {
	cur, err := s.Get(ctx, runID)
	if err != nil {
		return err
	}
	if cur.Status(step) == status {
		return nil
	}
	return fmt.Errorf("%w: %s %q -> %q", ErrInvalidTransition, step, cur.Status(step), status)
}

func (s *GormRunStore) Get(ctx context.Context, runID string) (*RunState, error) {
	var row RunState
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, storageErr("get", err)
	}
	return &row, nil
}

// ListStale returns runs with a running step that has not been touched since before.
func (s *GormRunStore) ListStale(ctx context.Context, before time.Time) ([]RunState, error) {
	q := s.db.WithContext(ctx).Where("updated_at < ?", before)
	cond := s.db.Where(StepScriptGeneration.Column()+" = ?", StatusRunning)
	for _, step := range Steps[1:] {
		cond = cond.Or(step.Column()+" = ?", StatusRunning)
	}
	var rows []RunState
	if err := q.Where(cond).Find(&rows).Error; err != nil {
		return nil, storageErr("list stale", err)
	}
	return rows, nil
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("run state %s: %w", op, err)
	}
	return fmt.Errorf("%w: run state %s: %v", ErrStorageUnavailable, op, err)
}
