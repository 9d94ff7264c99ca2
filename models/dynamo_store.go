package models

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
)

// DynamoRunStore keeps one item per run keyed by run_id. Conditional writes
// give the same guarantees as the SQL store.
type DynamoRunStore struct {
	svc   dynamodbiface.DynamoDBAPI
	table string
	now   func() time.Time
}

func NewDynamoRunStore(svc dynamodbiface.DynamoDBAPI, table string) *DynamoRunStore {
	return &DynamoRunStore{svc: svc, table: table, now: func() time.Time { return time.Now().UTC() }}
}

func (s *DynamoRunStore) key(runID string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		"run_id": {S: aws.String(runID)},
	}
}

func (s *DynamoRunStore) Ensure(ctx context.Context, runID string) error {
	av, err := dynamodbattribute.MarshalMap(NewRunState(runID, s.now()))
	if err != nil {
		return fmt.Errorf("marshal run state: %w", err)
	}
	_, err = s.svc.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(run_id)"),
	})
	if err != nil && !conditionFailed(err) {
		return dynamoErr("ensure", err)
	}
	return nil
}

func (s *DynamoRunStore) UpdateStep(ctx context.Context, runID string, step Step, status string) error {
	if !step.Valid() {
		return fmt.Errorf("unknown step %q", step)
	}
	if err := s.Ensure(ctx, runID); err != nil {
		return err
	}
	return s.conditionalSet(ctx, runID, step, status, nil)
}

func (s *DynamoRunStore) Complete(ctx context.Context, runID string, finalURI string) error {
	return s.conditionalSet(ctx, runID, StepEditing, StatusCompleted, &finalURI)
}

func (s *DynamoRunStore) conditionalSet(ctx context.Context, runID string, step Step, status string, finalURI *string) error {
	preds, err := Predecessors(status)
	if err != nil {
		return err
	}

	values := map[string]*dynamodb.AttributeValue{
		":status": {S: aws.String(status)},
		":now":    {N: aws.String(strconv.FormatInt(s.now().Unix(), 10))},
	}
	placeholders := make([]string, len(preds))
	for i, p := range preds {
		ph := ":p" + strconv.Itoa(i)
		placeholders[i] = ph
		values[ph] = &dynamodb.AttributeValue{S: aws.String(p)}
	}
	update := "SET #s = :status, updated_at = :now"
	if finalURI != nil {
		update += ", final_video_uri = :uri"
		values[":uri"] = &dynamodb.AttributeValue{S: aws.String(*finalURI)}
	}

	_, err = s.svc.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       s.key(runID),
		UpdateExpression:          aws.String(update),
		ConditionExpression:       aws.String("attribute_exists(run_id) AND #s IN (" + strings.Join(placeholders, ", ") + ")"),
		ExpressionAttributeNames:  map[string]*string{"#s": aws.String(step.Column())},
		ExpressionAttributeValues: values,
	})
	if err == nil {
		return nil
	}
	if !conditionFailed(err) {
		return dynamoErr("update "+step.Column(), err)
	}
	cur, getErr := s.Get(ctx, runID)
	if getErr != nil {
		return getErr
	}
	return fmt.Errorf("%w: %s %q -> %q", ErrInvalidTransition, step, cur.Status(step), status)
}

func (s *DynamoRunStore) Get(ctx context.Context, runID string) (*RunState, error) {
	out, err := s.svc.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.key(runID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, dynamoErr("get", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrRunNotFound
	}
	var row RunState
	if err := dynamodbattribute.UnmarshalMap(out.Item, &row); err != nil {
		return nil, fmt.Errorf("unmarshal run state: %w", err)
	}
	return &row, nil
}

func (s *DynamoRunStore) ListStale(ctx context.Context, before time.Time) ([]RunState, error) {
	values := map[string]*dynamodb.AttributeValue{
		":cutoff":  {N: aws.String(strconv.FormatInt(before.Unix(), 10))},
		":running": {S: aws.String(StatusRunning)},
	}
	names := map[string]*string{}
	ors := make([]string, len(Steps))
	for i, step := range Steps {
		n := "#s" + strconv.Itoa(i)
		names[n] = aws.String(step.Column())
		ors[i] = n + " = :running"
	}

	var rows []RunState
	var decodeErr error
	err := s.svc.ScanPagesWithContext(ctx, &dynamodb.ScanInput{
		TableName:                 aws.String(s.table),
		FilterExpression:          aws.String("updated_at < :cutoff AND (" + strings.Join(ors, " OR ") + ")"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ConsistentRead:            aws.Bool(true),
	}, func(page *dynamodb.ScanOutput, last bool) bool {
		var batch []RunState
		if err := dynamodbattribute.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			decodeErr = err
			return false
		}
		rows = append(rows, batch...)
		return true
	})
	if err != nil {
		return nil, dynamoErr("scan stale", err)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("unmarshal stale runs: %w", decodeErr)
	}
	return rows, nil
}

func conditionFailed(err error) bool {
	var aerr awserr.Error
	return errors.As(err, &aerr) && aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException
}

func dynamoErr(op string, err error) error {
	var aerr awserr.Error
	if errors.As(err, &aerr) && aerr.Code() == request.CanceledErrorCode {
		return fmt.Errorf("run state %s: %w", op, context.Canceled)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("run state %s: %w", op, err)
	}
	return fmt.Errorf("%w: run state %s: %v", ErrStorageUnavailable, op, err)
}
