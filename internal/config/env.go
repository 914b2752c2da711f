package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type BaseEnv struct {
	Env      string `envconfig:"ENV" default:"local"`
	HTTPHost string `envconfig:"HTTP_HOST" default:""`
	HTTPPort string `envconfig:"HTTP_PORT" default:"3100"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"debug"`
	APIKey   string `envconfig:"API_KEY" required:"true"`
}

type StorageEnv struct {
	Type    string `envconfig:"STORAGE_TYPE" default:"local"`
	BaseDir string `envconfig:"STORAGE_BASE_DIR" default:".reliefops/data"`
	// Type == "s3"
	S3Bucket string `envconfig:"STORAGE_S3_BUCKET"`
	S3Prefix string `envconfig:"STORAGE_S3_PREFIX" default:"reliefops/"`
	S3Region string `envconfig:"STORAGE_S3_REGION" default:"us-east-1"`
	// Type == "sqlite"
	SQLitePath string `envconfig:"STORAGE_SQLITE_PATH" default:".reliefops/reliefops.db"`
	// Type == "firestore"
	FirestoreProject     string `envconfig:"STORAGE_FIRESTORE_PROJECT"`
	FirestoreCredentials string `envconfig:"STORAGE_FIRESTORE_CREDENTIALS"`
	FirestoreCollection  string `envconfig:"STORAGE_FIRESTORE_COLLECTION" default:"reliefops"`
}

type LLMEnv struct {
	OpenAIAPIKey  string  `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL string  `envconfig:"OPENAI_BASE_URL"`
	OpenAIModel   string  `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	Temperature   float32 `envconfig:"OPENAI_TEMPERATURE" default:"0.2"`
	MaxTokens     int     `envconfig:"OPENAI_MAX_TOKENS" default:"800"`
}

type GeoEnv struct {
	MapsAPIKey          string `envconfig:"MAPS_API_KEY"`
	MapsRegion          string `envconfig:"MAPS_REGION"`
	LanguageCredentials string `envconfig:"LANGUAGE_CREDENTIALS"`
}

type PipelineEnv struct {
	MaxRetries           int           `envconfig:"PIPELINE_MAX_RETRIES" default:"2"`
	InitialBackoff       time.Duration `envconfig:"PIPELINE_INITIAL_BACKOFF" default:"500ms"`
	MaxBackoff           time.Duration `envconfig:"PIPELINE_MAX_BACKOFF" default:"5s"`
	StageTimeout         time.Duration `envconfig:"PIPELINE_STAGE_TIMEOUT" default:"30s"`
	ConfidenceThreshold  float64       `envconfig:"PIPELINE_CONFIDENCE_THRESHOLD" default:"0.5"`
	MinDescriptionLength int           `envconfig:"PIPELINE_MIN_DESCRIPTION_LENGTH" default:"10"`
	ClaimAttempts        int           `envconfig:"PIPELINE_CLAIM_ATTEMPTS" default:"3"`
	Workers              int           `envconfig:"WORKERS" default:"4"`
	SweepSchedule        string        `envconfig:"SWEEP_SCHEDULE" default:"@every 30s"`
	SweepBatchSize       int           `envconfig:"SWEEP_BATCH_SIZE" default:"50"`
}

type NotifyEnv struct {
	MaxAttempts   int           `envconfig:"NOTIFY_MAX_ATTEMPTS" default:"3"`
	RetrySchedule string        `envconfig:"NOTIFY_RETRY_SCHEDULE" default:"@every 1m"`
	RetryBackoff  time.Duration `envconfig:"NOTIFY_RETRY_BACKOFF" default:"30s"`
	SendLease     time.Duration `envconfig:"NOTIFY_SEND_LEASE" default:"2m"`
	Concurrency   int           `envconfig:"NOTIFY_CONCURRENCY" default:"8"`

	SMTPHost     string `envconfig:"SMTP_HOST"`
	SMTPPort     int    `envconfig:"SMTP_PORT" default:"587"`
	SMTPUsername string `envconfig:"SMTP_USERNAME"`
	SMTPPassword string `envconfig:"SMTP_PASSWORD"`
	SMTPFrom     string `envconfig:"SMTP_FROM"`

	SMSGatewayURL   string `envconfig:"SMS_GATEWAY_URL"`
	SMSGatewayToken string `envconfig:"SMS_GATEWAY_TOKEN"`
	SMSFrom         string `envconfig:"SMS_FROM"`
}

type VAPIDEnv struct {
	PublicKey    string `envconfig:"VAPID_PUBLIC_KEY"`
	PrivateKey   string `envconfig:"VAPID_PRIVATE_KEY"`
	ContactEmail string `envconfig:"VAPID_CONTACT_EMAIL" default:"ops@reliefops.invalid"`
}

type RosterEnv struct {
	File string `envconfig:"ROSTER_FILE"`
}

type JournalEnv struct {
	// Dir enables the event journal when set.
	Dir string `envconfig:"EVENT_JOURNAL_DIR"`
}

type Env struct {
	BaseEnv
	StorageEnv
	LLMEnv
	GeoEnv
	PipelineEnv
	NotifyEnv
	VAPIDEnv
	RosterEnv
	JournalEnv
}

const namespace = "RELIEFOPS"

// LoadEnv reads the optional dotenv files and then the process environment.
// Variables already set in the environment win over the files.
func LoadEnv(dotenvFiles ...string) (*Env, error) {
	if len(dotenvFiles) == 0 {
		dotenvFiles = []string{".env"}
	}
	for _, f := range dotenvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	if err := env.validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

func (e *Env) validate() error {
	switch e.StorageEnv.Type {
	case "local", "sqlite":
	case "s3":
		if e.S3Bucket == "" {
			return errors.New("RELIEFOPS_STORAGE_S3_BUCKET is required for s3 storage")
		}
	case "firestore":
		if e.FirestoreProject == "" {
			return errors.New("RELIEFOPS_STORAGE_FIRESTORE_PROJECT is required for firestore storage")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", e.StorageEnv.Type)
	}
	if e.MaxRetries < 0 {
		return errors.New("RELIEFOPS_PIPELINE_MAX_RETRIES must not be negative")
	}
	if e.ConfidenceThreshold < 0 || e.ConfidenceThreshold > 1 {
		return errors.New("RELIEFOPS_PIPELINE_CONFIDENCE_THRESHOLD must be within [0,1]")
	}
	if e.Workers < 1 {
		return errors.New("RELIEFOPS_WORKERS must be at least 1")
	}
	return nil
}

func (e *BaseEnv) IsLocal() bool {
	return e.Env == "local"
}

func (e *BaseEnv) SlogLevel() slog.Level {
	if e == nil {
		return slog.LevelDebug
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelDebug
	}
	return level
}
