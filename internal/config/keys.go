package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "STATUSBOT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_conns", typ: kInt, env: "STATUSBOT_SERVER_MAX_CONNS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConns = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConns },
	},
	{
		key: "server.mcp_stdio", typ: kBool, env: "STATUSBOT_SERVER_MCP_STDIO",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPStdio = v.(bool) },
		extract: func(cfg Config) any { return cfg.Server.MCPStdio },
	},
	{
		key: "log.level", typ: kString, env: "STATUSBOT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "slack.bot_token", typ: kString, env: "STATUSBOT_SLACK_BOT_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Slack.BotToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Slack.BotToken },
	},
	{
		key: "slack.signing_secret", typ: kString, env: "STATUSBOT_SLACK_SIGNING_SECRET",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Slack.SigningSecret = v.(string) },
		extract: func(cfg Config) any { return cfg.Slack.SigningSecret },
	},
	{
		key: "admin.token", typ: kString, env: "STATUSBOT_ADMIN_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Admin.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Admin.Token },
	},
	{
		key: "directory.path", typ: kString, env: "STATUSBOT_DIRECTORY_PATH",
		apply:   func(cfg *Config, v any) { cfg.Directory.Path = v.(string) },
		extract: func(cfg Config) any { return cfg.Directory.Path },
	},
	{
		key: "reminders.schedule_path", typ: kString, env: "STATUSBOT_REMINDERS_SCHEDULE_PATH",
		apply:   func(cfg *Config, v any) { cfg.Reminders.SchedulePath = v.(string) },
		extract: func(cfg Config) any { return cfg.Reminders.SchedulePath },
	},
	{
		key: "reminders.timezone", typ: kString, env: "STATUSBOT_REMINDERS_TIMEZONE",
		apply:   func(cfg *Config, v any) { cfg.Reminders.Timezone = v.(string) },
		extract: func(cfg Config) any { return cfg.Reminders.Timezone },
	},
	{
		key: "reminders.grace_window", typ: kDuration, env: "STATUSBOT_REMINDERS_GRACE_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.Reminders.GraceWindow = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Reminders.GraceWindow },
	},
	{
		key: "reminders.concurrency", typ: kInt, env: "STATUSBOT_REMINDERS_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Reminders.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Reminders.Concurrency },
	},
	{
		key: "dedup.backend", typ: kString, env: "STATUSBOT_DEDUP_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Dedup.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Dedup.Backend },
	},
	{
		key: "dedup.window", typ: kDuration, env: "STATUSBOT_DEDUP_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.Dedup.Window = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Dedup.Window },
	},
	{
		key: "dedup.capacity", typ: kInt, env: "STATUSBOT_DEDUP_CAPACITY",
		apply:   func(cfg *Config, v any) { cfg.Dedup.Capacity = v.(int) },
		extract: func(cfg Config) any { return cfg.Dedup.Capacity },
	},
	{
		key: "redis.addr", typ: kString, env: "STATUSBOT_REDIS_ADDR",
		apply:   func(cfg *Config, v any) { cfg.Redis.Addr = v.(string) },
		extract: func(cfg Config) any { return cfg.Redis.Addr },
	},
	{
		key: "redis.password", typ: kString, env: "STATUSBOT_REDIS_PASSWORD",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Redis.Password = v.(string) },
		extract: func(cfg Config) any { return cfg.Redis.Password },
	},
	{
		key: "redis.db", typ: kInt, env: "STATUSBOT_REDIS_DB",
		apply:   func(cfg *Config, v any) { cfg.Redis.DB = v.(int) },
		extract: func(cfg Config) any { return cfg.Redis.DB },
	},
	{
		key: "storage.ledger_backend", typ: kString, env: "STATUSBOT_STORAGE_LEDGER_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Storage.LedgerBackend = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.LedgerBackend },
	},
	{
		key: "storage.data_dir", typ: kString, env: "STATUSBOT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "pipeline.workers", typ: kInt, env: "STATUSBOT_PIPELINE_WORKERS",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.Workers = v.(int) },
		extract: func(cfg Config) any { return cfg.Pipeline.Workers },
	},
	{
		key: "pipeline.external_timeout", typ: kDuration, env: "STATUSBOT_PIPELINE_EXTERNAL_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.ExternalTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Pipeline.ExternalTimeout },
	},
	{
		key: "pipeline.transcription_timeout", typ: kDuration, env: "STATUSBOT_PIPELINE_TRANSCRIPTION_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.TranscriptionTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Pipeline.TranscriptionTimeout },
	},
	{
		key: "pipeline.temp_dir", typ: kString, env: "STATUSBOT_PIPELINE_TEMP_DIR",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.TempDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Pipeline.TempDir },
	},
	{
		key: "reformat.provider", typ: kString, env: "STATUSBOT_REFORMAT_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Reformat.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Reformat.Provider },
	},
	{
		key: "ollama.base_url", typ: kString, env: "STATUSBOT_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.model", typ: kString, env: "STATUSBOT_OLLAMA_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.Model },
	},
	{
		key: "proxy.openrouter_api_key", typ: kString, env: "STATUSBOT_OPENROUTER_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Proxy.OpenRouterAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Proxy.OpenRouterAPIKey },
	},
	{
		key: "proxy.model", typ: kString, env: "STATUSBOT_PROXY_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Proxy.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Proxy.Model },
	},
	{
		key: "openai.api_key", typ: kString, env: "STATUSBOT_OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.OpenAI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.APIKey },
	},
	{
		key: "openai.base_url", typ: kString, env: "STATUSBOT_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.BaseURL },
	},
	{
		key: "openai.transcription_model", typ: kString, env: "STATUSBOT_OPENAI_TRANSCRIPTION_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.TranscriptionModel = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.TranscriptionModel },
	},
}

// secretAccount maps a dotted key to its account name in the secrets file.
func secretAccount(key string) string {
	return strings.ReplaceAll(key, ".", "_")
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if d, err := time.ParseDuration(v); err == nil {
					s.apply(cfg, d)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}

// applySecrets fills secret keys still empty after env overrides from the
// secrets store.
func applySecrets(cfg *Config, secrets SecretStore) {
	if secrets == nil {
		return
	}
	for _, s := range specs {
		if !s.secret || s.typ != kString {
			continue
		}
		if cur, _ := s.extract(*cfg).(string); cur != "" {
			continue
		}
		if v, err := secrets.Get(secretsService, secretAccount(s.key)); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}
