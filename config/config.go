package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"
)

// DefaultPath 默认配置文件位置
const DefaultPath = "config/config.yaml"

type Config struct {
	Server struct {
		Port      string  `yaml:"port" validate:"required"`
		RateLimit float64 `yaml:"rate_limit" validate:"gt=0"`
		Burst     int     `yaml:"burst" validate:"gte=1"`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`

	// Store selects the run-state backend.
	Store struct {
		Backend string `yaml:"backend" validate:"oneof=mysql dynamo"`
	} `yaml:"store"`

	MySQL struct {
		DSN string `yaml:"dsn"`
	} `yaml:"mysql"`

	Dynamo struct {
		Region   string `yaml:"region"`
		Table    string `yaml:"table"`
		Endpoint string `yaml:"endpoint"`
	} `yaml:"dynamo"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
	} `yaml:"redis"`

	Queue struct {
		Backend     string `yaml:"backend" validate:"oneof=asynq pool"`
		Concurrency int    `yaml:"concurrency" validate:"gte=1"`
	} `yaml:"queue"`

	// Worker is the remote image-to-video worker.
	Worker struct {
		Addr         string        `yaml:"addr" validate:"required,url"`
		PollInterval time.Duration `yaml:"poll_interval" validate:"gt=0"`
	} `yaml:"worker"`

	MinIO struct {
		Endpoint      string        `yaml:"endpoint" validate:"required"`
		AccessKey     string        `yaml:"access_key"`
		SecretKey     string        `yaml:"secret_key"`
		Bucket        string        `yaml:"bucket" validate:"required"`
		UseSSL        bool          `yaml:"use_ssl"`
		Prefix        string        `yaml:"prefix"`
		PresignExpiry time.Duration `yaml:"presign_expiry" validate:"gt=0"`
	} `yaml:"minio"`

	OpenAI struct {
		APIKey      string `yaml:"api_key"`
		ScriptModel string `yaml:"script_model" validate:"required"`
		ImageModel  string `yaml:"image_model" validate:"required"`
		ImageSize   string `yaml:"image_size" validate:"required"`
	} `yaml:"openai"`

	Gemini struct {
		APIKey string `yaml:"api_key"`
		Model  string `yaml:"model" validate:"required"`
	} `yaml:"gemini"`

	Polly struct {
		Region  string `yaml:"region" validate:"required"`
		VoiceID string `yaml:"voice_id" validate:"required"`
		Engine  string `yaml:"engine" validate:"oneof=standard neural"`
		Rate    string `yaml:"rate" validate:"required"`
	} `yaml:"polly"`

	FFmpeg struct {
		Binary  string `yaml:"binary" validate:"required"`
		WorkDir string `yaml:"work_dir"`
	} `yaml:"ffmpeg"`

	Pipeline PipelineConfig `yaml:"pipeline"`
	Retry    RetryConfig    `yaml:"retry"`
}

type PipelineConfig struct {
	MaxRounds          int           `yaml:"max_rounds" validate:"gte=1"`
	MaxDialogueWords   int           `yaml:"max_dialogue_words" validate:"gte=0"`
	SceneDuration      int           `yaml:"scene_duration" validate:"gte=1,lte=10"`
	SilenceGap         time.Duration `yaml:"silence_gap" validate:"gte=0"`
	SceneConcurrency   int           `yaml:"scene_concurrency" validate:"gte=1"`
	SceneFailurePolicy string        `yaml:"scene_failure_policy" validate:"oneof=abort"`
	RunTimeout         time.Duration `yaml:"run_timeout" validate:"gt=0"`
	StaleAfter         time.Duration `yaml:"stale_after" validate:"gt=0"`
	SweepSchedule      string        `yaml:"sweep_schedule" validate:"required"`
}

// RetryConfig holds the backoff policy and the per-call timeouts of the capability adapters.
type RetryConfig struct {
	Attempts       int           `yaml:"attempts" validate:"gte=1"`
	Initial        time.Duration `yaml:"initial" validate:"gt=0"`
	Max            time.Duration `yaml:"max" validate:"gtefield=Initial"`
	Multiplier     float64       `yaml:"multiplier" validate:"gte=1"`
	TextTimeout    time.Duration `yaml:"text_timeout" validate:"gt=0"`
	ImageTimeout   time.Duration `yaml:"image_timeout" validate:"gt=0"`
	VideoTimeout   time.Duration `yaml:"video_timeout" validate:"gt=0"`
	SpeechTimeout  time.Duration `yaml:"speech_timeout" validate:"gt=0"`
	ComposeTimeout time.Duration `yaml:"compose_timeout" validate:"gt=0"`
	BlobTimeout    time.Duration `yaml:"blob_timeout" validate:"gt=0"`
}

// LoadConfig 读取 YAML 配置，填充默认值，应用环境变量覆盖并校验
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()

	cfg := Default()
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config with every optional field populated.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Port = ":8080"
	cfg.Server.RateLimit = 1
	cfg.Server.Burst = 5
	cfg.Log.Level = "info"
	cfg.Store.Backend = "mysql"
	cfg.Dynamo.Table = "ad_run_state"
	cfg.Queue.Backend = "asynq"
	cfg.Queue.Concurrency = 4
	cfg.Worker.PollInterval = 3 * time.Second
	cfg.MinIO.Bucket = "adreel"
	cfg.MinIO.Prefix = "runs"
	cfg.MinIO.PresignExpiry = 72 * time.Hour
	cfg.OpenAI.ScriptModel = "gpt-4o-mini"
	cfg.OpenAI.ImageModel = "dall-e-3"
	cfg.OpenAI.ImageSize = "1792x1024"
	cfg.Gemini.Model = "gemini-1.5-flash"
	cfg.Polly.Region = "us-east-1"
	cfg.Polly.VoiceID = "Joanna"
	cfg.Polly.Engine = "neural"
	cfg.Polly.Rate = "85%"
	cfg.FFmpeg.Binary = "ffmpeg"
	cfg.Pipeline = PipelineConfig{
		MaxRounds:          3,
		MaxDialogueWords:   18,
		SceneDuration:      6,
		SilenceGap:         1500 * time.Millisecond,
		SceneConcurrency:   1,
		SceneFailurePolicy: "abort",
		RunTimeout:         90 * time.Minute,
		StaleAfter:         2 * time.Hour,
		SweepSchedule:      "@every 10m",
	}
	cfg.Retry = RetryConfig{
		Attempts:       3,
		Initial:        2 * time.Second,
		Max:            30 * time.Second,
		Multiplier:     2,
		TextTimeout:    2 * time.Minute,
		ImageTimeout:   2 * time.Minute,
		VideoTimeout:   20 * time.Minute,
		SpeechTimeout:  time.Minute,
		ComposeTimeout: 10 * time.Minute,
		BlobTimeout:    time.Minute,
	}
	return cfg
}

// Validate checks struct tags plus the cross-field rules the tags cannot express.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Store.Backend == "mysql" && c.MySQL.DSN == "" {
		return fmt.Errorf("invalid config: mysql.dsn is required for the mysql store")
	}
	if c.Store.Backend == "dynamo" && (c.Dynamo.Region == "" || c.Dynamo.Table == "") {
		return fmt.Errorf("invalid config: dynamo.region and dynamo.table are required for the dynamo store")
	}
	if c.Queue.Backend == "asynq" && c.Redis.Addr == "" {
		return fmt.Errorf("invalid config: redis.addr is required for the asynq queue")
	}
	return nil
}

// 密钥类配置优先从环境变量读取
func applyEnv(c *Config) {
	setString(&c.MySQL.DSN, "MYSQL_DSN")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.Worker.Addr, "VIDEO_WORKER_ADDR")
	setString(&c.MinIO.Endpoint, "MINIO_ENDPOINT")
	setString(&c.MinIO.AccessKey, "MINIO_ACCESS_KEY")
	setString(&c.MinIO.SecretKey, "MINIO_SECRET_KEY")
	setString(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&c.Gemini.APIKey, "GEMINI_API_KEY")
	setString(&c.Polly.Region, "AWS_REGION")
	setString(&c.Dynamo.Region, "AWS_REGION")
	setString(&c.Log.Level, "LOG_LEVEL")
	if v := os.Getenv("SCENE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Pipeline.SceneConcurrency = n
		}
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
