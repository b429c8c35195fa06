package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port      string
	JWTSecret string
	JWTExpiry time.Duration

	DatabaseDriver string // "postgres" or "sqlite"
	DatabaseURL    string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	GoogleProjectID    string
	GooglePubSubTopic  string
	GoogleCredentials  string
	WebhookToken       string

	FirebaseCredentials string

	AIProvider    string
	GeminiApiKey  string
	GeminiModel   string
	OllamaBaseURL string
	OllamaModel   string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	ChromaAPIKey   string
	ChromaTenant   string
	ChromaDatabase string

	EncryptionKey string

	QueueWorkers      int
	QueueSecret       string
	QueuePollInterval time.Duration
	TaskTimeout       time.Duration
	AITaskTimeout     time.Duration
	MaxAttempts       int
	MessageLockTTL    time.Duration // never shorter than AITaskTimeout

	DigestTickInterval time.Duration
	DraftStaleAfter    time.Duration
	DraftCleanupEvery  time.Duration
	ResyncWindow       time.Duration
	ResyncLimit        int
	IMAPPollInterval   time.Duration
	WatchRenewInterval time.Duration
}

// Load reads configuration from .env, an optional YAML file and the
// environment, in increasing order of precedence.
func Load(configFile string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("inbox")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && configFile != "" {
			return nil, err
		}
	}

	cfg := &Config{
		Port:      v.GetString("PORT"),
		JWTSecret: v.GetString("JWT_SECRET"),
		JWTExpiry: v.GetDuration("JWT_EXPIRY"),

		DatabaseDriver: v.GetString("DB_DRIVER"),
		DatabaseURL:    v.GetString("DATABASE_URL"),

		GoogleClientID:     v.GetString("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: v.GetString("GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURL:  v.GetString("GOOGLE_REDIRECT_URL"),
		GoogleProjectID:    v.GetString("GOOGLE_PROJECT_ID"),
		GooglePubSubTopic:  v.GetString("GOOGLE_PUBSUB_TOPIC"),
		GoogleCredentials:  v.GetString("GOOGLE_APPLICATION_CREDENTIALS"),
		WebhookToken:       v.GetString("GOOGLE_PUBSUB_VERIFICATION_TOKEN"),

		FirebaseCredentials: v.GetString("FIREBASE_CREDENTIALS"),

		AIProvider:    v.GetString("AI_PROVIDER"),
		GeminiApiKey:  v.GetString("GEMINI_API_KEY"),
		GeminiModel:   v.GetString("GEMINI_MODEL"),
		OllamaBaseURL: v.GetString("OLLAMA_BASE_URL"),
		OllamaModel:   v.GetString("OLLAMA_MODEL"),
		OpenAIAPIKey:  v.GetString("OPENAI_API_KEY"),
		OpenAIBaseURL: v.GetString("OPENAI_BASE_URL"),
		OpenAIModel:   v.GetString("OPENAI_MODEL"),

		ChromaAPIKey:   v.GetString("CHROMA_API_KEY"),
		ChromaTenant:   v.GetString("CHROMA_TENANT"),
		ChromaDatabase: v.GetString("CHROMA_DATABASE"),

		EncryptionKey: v.GetString("ENCRYPTION_KEY"),

		QueueWorkers:      v.GetInt("QUEUE_WORKERS"),
		QueueSecret:       v.GetString("QUEUE_SECRET"),
		QueuePollInterval: v.GetDuration("QUEUE_POLL_INTERVAL"),
		TaskTimeout:       v.GetDuration("TASK_TIMEOUT"),
		AITaskTimeout:     v.GetDuration("AI_TASK_TIMEOUT"),
		MaxAttempts:       v.GetInt("QUEUE_MAX_ATTEMPTS"),
		MessageLockTTL:    v.GetDuration("MESSAGE_LOCK_TTL"),

		DigestTickInterval: v.GetDuration("DIGEST_TICK_INTERVAL"),
		DraftStaleAfter:    v.GetDuration("DRAFT_STALE_AFTER"),
		DraftCleanupEvery:  v.GetDuration("DRAFT_CLEANUP_INTERVAL"),
		ResyncWindow:       v.GetDuration("RESYNC_WINDOW"),
		ResyncLimit:        v.GetInt("RESYNC_LIMIT"),
		IMAPPollInterval:   v.GetDuration("IMAP_POLL_INTERVAL"),
		WatchRenewInterval: v.GetDuration("WATCH_RENEW_INTERVAL"),
	}
	cfg.MessageLockTTL = messageLockTTL(cfg.MessageLockTTL, cfg.AITaskTimeout)
	return cfg, nil
}

// messageLockTTL stretches ttl past the message task timeout so a lock
// cannot expire while its holder is still running.
func messageLockTTL(ttl, taskTimeout time.Duration) time.Duration {
	if floor := taskTimeout + lockGrace; ttl < floor {
		return floor
	}
	return ttl
}

const lockGrace = 30 * time.Second

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("JWT_SECRET", "your-secret-key-change-in-production")
	v.SetDefault("JWT_EXPIRY", 7*24*time.Hour)
	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("DATABASE_URL", "host=localhost user=postgres password=postgres dbname=inbox port=5432 sslmode=disable")
	v.SetDefault("GOOGLE_PUBSUB_TOPIC", "gmail-updates")
	v.SetDefault("AI_PROVIDER", "auto")
	v.SetDefault("GEMINI_MODEL", "gemini-2.5-flash")
	v.SetDefault("OLLAMA_BASE_URL", "http://localhost:11434")
	v.SetDefault("OLLAMA_MODEL", "llama3")
	v.SetDefault("OPENAI_MODEL", "gpt-4o-mini")
	v.SetDefault("QUEUE_WORKERS", 8)
	v.SetDefault("QUEUE_POLL_INTERVAL", time.Second)
	v.SetDefault("TASK_TIMEOUT", 60*time.Second)
	v.SetDefault("AI_TASK_TIMEOUT", 180*time.Second)
	v.SetDefault("QUEUE_MAX_ATTEMPTS", 5)
	v.SetDefault("MESSAGE_LOCK_TTL", 4*time.Minute)
	v.SetDefault("DIGEST_TICK_INTERVAL", time.Minute)
	v.SetDefault("DRAFT_STALE_AFTER", 72*time.Hour)
	v.SetDefault("DRAFT_CLEANUP_INTERVAL", time.Hour)
	v.SetDefault("RESYNC_WINDOW", 24*time.Hour)
	v.SetDefault("RESYNC_LIMIT", 50)
	v.SetDefault("IMAP_POLL_INTERVAL", 2*time.Minute)
	v.SetDefault("WATCH_RENEW_INTERVAL", 6*time.Hour)
}
