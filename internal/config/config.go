package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Slack     SlackConfig
	Admin     AdminConfig
	Directory DirectoryConfig
	Reminders RemindersConfig
	Dedup     DedupConfig
	Redis     RedisConfig
	Storage   StorageConfig
	Pipeline  PipelineConfig
	Reformat  ReformatConfig
	Ollama    OllamaConfig
	Proxy     ProxyConfig
	OpenAI    OpenAIConfig
}

type ServerConfig struct {
	Port     int
	MaxConns int
	MCPStdio bool
}

type LogConfig struct {
	Level string
}

type SlackConfig struct {
	BotToken      string
	SigningSecret string
}

type AdminConfig struct {
	Token string
}

type DirectoryConfig struct {
	Path string
}

type RemindersConfig struct {
	SchedulePath string
	Timezone     string
	GraceWindow  time.Duration
	Concurrency  int
}

type DedupConfig struct {
	Backend  string // "memory" or "redis"
	Window   time.Duration
	Capacity int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type StorageConfig struct {
	LedgerBackend string // "memory" or "sqlite"
	DataDir       string
}

type PipelineConfig struct {
	Workers              int
	ExternalTimeout      time.Duration
	TranscriptionTimeout time.Duration
	TempDir              string
}

type ReformatConfig struct {
	Provider string // "openrouter", "ollama" or "auto"
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type ProxyConfig struct {
	OpenRouterAPIKey string
	Model            string
}

type OpenAIConfig struct {
	APIKey             string
	BaseURL            string
	TranscriptionModel string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:     8080,
			MaxConns: 256,
		},
		Log: LogConfig{Level: "info"},
		Directory: DirectoryConfig{
			Path: defaultConfigDir() + "/directory.yaml",
		},
		Reminders: RemindersConfig{
			Timezone:    "Asia/Karachi",
			GraceWindow: time.Hour,
			Concurrency: 4,
		},
		Dedup: DedupConfig{
			Backend:  "memory",
			Window:   24 * time.Hour,
			Capacity: 50000,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Storage: StorageConfig{
			LedgerBackend: "memory",
			DataDir:       defaultDataDir(),
		},
		Pipeline: PipelineConfig{
			Workers:              8,
			ExternalTimeout:      30 * time.Second,
			TranscriptionTimeout: 2 * time.Minute,
		},
		Reformat: ReformatConfig{Provider: "auto"},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
			Model:   "llama3.1",
		},
		Proxy: ProxyConfig{
			Model: "openai/gpt-4o",
		},
		OpenAI: OpenAIConfig{
			BaseURL:            "https://api.openai.com/v1",
			TranscriptionModel: "whisper-1",
		},
	}
}

// Load reads configuration from a .env file (if present), the JSON config
// file at $XDG_CONFIG_HOME/statusbot/config.json, STATUSBOT_* environment
// variables and the secrets file, in increasing order of precedence for
// non-secret keys. Secrets come from the environment first and the secrets
// file second.
func Load() (Config, error) {
	_ = godotenv.Load()
	return loadWith(newPlatformBackend(), NewFileSecrets())
}

func loadWith(b ConfigBackend, secrets SecretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecrets(&cfg, secrets)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.Slack.BotToken == "" {
		return fmt.Errorf("missing required config: Slack bot token. "+
			"Set it via environment variable STATUSBOT_SLACK_BOT_TOKEN or the secrets file (%s)", secretsFilePath())
	}
	switch cfg.Dedup.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid dedup.backend %q: want memory or redis", cfg.Dedup.Backend)
	}
	switch cfg.Storage.LedgerBackend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("invalid storage.ledger_backend %q: want memory or sqlite", cfg.Storage.LedgerBackend)
	}
	switch strings.ToLower(cfg.Reformat.Provider) {
	case "openrouter", "ollama", "auto":
	default:
		return fmt.Errorf("invalid reformat.provider %q: want openrouter, ollama or auto", cfg.Reformat.Provider)
	}
	if cfg.Reminders.GraceWindow <= 0 {
		return fmt.Errorf("reminders.grace_window must be positive, got %s", cfg.Reminders.GraceWindow)
	}
	if cfg.Dedup.Window <= 0 {
		return fmt.Errorf("dedup.window must be positive, got %s", cfg.Dedup.Window)
	}
	return nil
}
