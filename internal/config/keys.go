package config

import (
	"fmt"
	"os"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
)

func (t keyType) String() string {
	switch t {
	case kInt:
		return "integer"
	case kDuration:
		return "duration"
	default:
		return "string"
	}
}

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
		key: "server.host", typ: kString, env: "PERSONA_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "PERSONA_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "PERSONA_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "PERSONA_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "PERSONA_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
	{
		key: "pipeline.poll_interval", typ: kDuration, env: "PERSONA_PIPELINE_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.PollInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Pipeline.PollInterval },
	},
	{
		key: "pipeline.batch_size", typ: kInt, env: "PERSONA_PIPELINE_BATCH_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.BatchSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Pipeline.BatchSize },
	},
	{
		key: "pipeline.rebuild_concurrency", typ: kInt, env: "PERSONA_PIPELINE_REBUILD_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.RebuildConcurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Pipeline.RebuildConcurrency },
	},
	{
		key: "chat.max_results", typ: kInt, env: "PERSONA_CHAT_MAX_RESULTS",
		apply:   func(cfg *Config, v any) { cfg.Chat.MaxResults = v.(int) },
		extract: func(cfg Config) any { return cfg.Chat.MaxResults },
	},
	{
		key: "chat.session_list_limit", typ: kInt, env: "PERSONA_CHAT_SESSION_LIST_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Chat.SessionListLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Chat.SessionListLimit },
	},
	{
		key: "profile.cache_ttl", typ: kDuration, env: "PERSONA_PROFILE_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Profile.CacheTTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Profile.CacheTTL },
	},
	{
		key: "client.user_id", typ: kString, env: "PERSONA_USER_ID",
		apply:   func(cfg *Config, v any) { cfg.Client.UserID = v.(string) },
		extract: func(cfg Config) any { return cfg.Client.UserID },
	},
	{
		key: "auth.api_token", typ: kString, env: "PERSONA_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Auth.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.APIToken },
	},
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
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				d, err := parseValue(kDuration, v)
				if err != nil {
					return fmt.Errorf("invalid duration for %s: %w", s.key, err)
				}
				s.apply(cfg, d)
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
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from env var %s=%q: %v. Using default value.\n", s.typ, s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
