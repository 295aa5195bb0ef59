package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port    string
	Env     string
	Log     LogConfig
	Session SessionConfig
	LLM     LLMConfig
	Media   MediaConfig
}

type LogConfig struct {
	Level  string
	Format string
}

type SessionConfig struct {
	Backend     string // memory | file | sqlite | postgres
	Path        string
	DatabaseURL string
	CacheSize   int
	CacheTTL    time.Duration
}

type LLMConfig struct {
	// Mode is "fake" (offline, deterministic) or "live".
	Mode           string
	TiersFile      string
	AttemptTimeout time.Duration
	GeminiAPIKey   string
	GroqAPIKey     string
	OpenAIAPIKey   string
}

func (c LLMConfig) Fake() bool { return c.Mode == "fake" }

type MediaConfig struct {
	Enabled   bool
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Load reads .env, the command line and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadArgs(os.Args[1:])
}

func LoadArgs(args []string) (*Config, error) {
	fs := flag.NewFlagSet("tcmdiag", flag.ContinueOnError)
	port := fs.String("port", ":8081", "server port")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if envPort := os.Getenv("PORT"); envPort != "" {
		if strings.HasPrefix(envPort, ":") {
			*port = envPort
		} else {
			*port = ":" + envPort
		}
	}

	env := strings.TrimSpace(os.Getenv("APP_ENV"))
	if env == "" {
		env = "local"
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}
	llm, err := loadLLMConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Port: *port,
		Env:  env,
		Log: LogConfig{
			Level:  firstNonEmpty(strings.TrimSpace(os.Getenv("LOG_LEVEL")), "info"),
			Format: firstNonEmpty(strings.ToLower(strings.TrimSpace(os.Getenv("LOG_FORMAT"))), "text"),
		},
		Session: session,
		LLM:     llm,
		Media:   loadMediaConfig(),
	}, nil
}

func loadSessionConfig() (SessionConfig, error) {
	backend := strings.ToLower(firstNonEmpty(strings.TrimSpace(os.Getenv("SESSION_STORE")), "memory"))
	cfg := SessionConfig{
		Backend:     backend,
		Path:        strings.TrimSpace(os.Getenv("SESSION_STORE_PATH")),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
	}
	switch backend {
	case "memory":
	case "file":
		cfg.Path = firstNonEmpty(cfg.Path, "tmp/diagnosis_sessions.json")
	case "sqlite":
		cfg.Path = firstNonEmpty(cfg.Path, "tmp/diagnosis_sessions.db")
	case "postgres":
		if cfg.DatabaseURL == "" {
			return SessionConfig{}, fmt.Errorf("SESSION_STORE=postgres requires DATABASE_URL")
		}
	default:
		return SessionConfig{}, fmt.Errorf("SESSION_STORE %q is not one of memory, file, sqlite, postgres", backend)
	}

	size, err := envInt("SESSION_CACHE_SIZE", 2048)
	if err != nil {
		return SessionConfig{}, err
	}
	ttl, err := envDuration("SESSION_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return SessionConfig{}, err
	}
	cfg.CacheSize = size
	cfg.CacheTTL = ttl
	return cfg, nil
}

func loadLLMConfig() (LLMConfig, error) {
	cfg := LLMConfig{
		TiersFile:    strings.TrimSpace(os.Getenv("LLM_TIERS_FILE")),
		GeminiAPIKey: firstNonEmpty(strings.TrimSpace(os.Getenv("GEMINI_API_KEY")), strings.TrimSpace(os.Getenv("GOOGLE_API_KEY"))),
		GroqAPIKey:   strings.TrimSpace(os.Getenv("GROQ_API_KEY")),
		OpenAIAPIKey: strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
	}
	timeout, err := envDuration("LLM_ATTEMPT_TIMEOUT", 30*time.Second)
	if err != nil {
		return LLMConfig{}, err
	}
	cfg.AttemptTimeout = timeout

	mode := strings.ToLower(strings.TrimSpace(os.Getenv("LLM_PROVIDER_MODE")))
	switch mode {
	case "":
		mode = "fake"
		if cfg.GeminiAPIKey != "" || cfg.GroqAPIKey != "" || cfg.OpenAIAPIKey != "" {
			mode = "live"
		}
	case "fake", "live":
	default:
		return LLMConfig{}, fmt.Errorf("LLM_PROVIDER_MODE %q is not one of fake, live", mode)
	}
	cfg.Mode = mode
	return cfg, nil
}

func loadMediaConfig() MediaConfig {
	endpoint := strings.TrimSpace(os.Getenv("MEDIA_S3_ENDPOINT"))
	return MediaConfig{
		Enabled:   endpoint != "",
		Endpoint:  endpoint,
		Region:    firstNonEmpty(strings.TrimSpace(os.Getenv("MEDIA_S3_REGION")), "us-east-1"),
		AccessKey: firstNonEmpty(strings.TrimSpace(os.Getenv("MEDIA_S3_ACCESS_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_USER"))),
		SecretKey: firstNonEmpty(strings.TrimSpace(os.Getenv("MEDIA_S3_SECRET_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_PASSWORD"))),
		Bucket:    firstNonEmpty(strings.TrimSpace(os.Getenv("MEDIA_S3_BUCKET")), "tcmdiag-media"),
		UseSSL:    resolveMediaUseSSL(),
	}
}

func resolveMediaUseSSL() bool {
	raw := strings.TrimSpace(os.Getenv("MEDIA_S3_USE_SSL"))
	if raw == "" {
		return true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}
	return v
}

func envInt(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
