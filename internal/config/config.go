package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Error reports invalid or missing configuration. It is fatal: the process
// must not serve requests that depend on the offending key.
type Error struct {
	Key    string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
}

type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Storage StorageConfig `koanf:"storage"`
	Gemini  GeminiConfig  `koanf:"gemini"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type StorageConfig struct {
	Path string `koanf:"path"`
}

type GeminiConfig struct {
	BaseURL         string `koanf:"base_url"`
	MaxPromptTokens int    `koanf:"max_prompt_tokens"`

	// Credentials and Models are normalized from the raw gemini.api_keys /
	// gemini.models keys during Load. Order is priority order and is kept
	// verbatim; duplicates are deliberate and never collapsed.
	Credentials []string `koanf:"-"`
	Models      []string `koanf:"-"`
}

// defaultModels is the fallback model order when gemini.models is not set.
var defaultModels = []string{
	"gemini-2.0-flash",
	"gemini-2.0-flash-lite",
	"gemini-1.5-flash",
}

// Load reads configuration from config.yaml (if present) and DERM_-prefixed
// environment variables. Env vars override the file; `__` maps to a dot, so
// DERM_GEMINI__API_KEYS sets gemini.api_keys.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider("config.yaml"), yaml.Parser()); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := k.Load(env.Provider("DERM_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "DERM_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	if !k.Exists("server.port") {
		k.Set("server.port", 8123)
	}
	if !k.Exists("storage.path") {
		k.Set("storage.path", "data/diagnosis.db")
	}
	if !k.Exists("gemini.max_prompt_tokens") {
		k.Set("gemini.max_prompt_tokens", 16000)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	creds, err := loadCredentials(k)
	if err != nil {
		return nil, err
	}
	cfg.Gemini.Credentials = creds

	models := defaultModels
	if raw := k.Get("gemini.models"); raw != nil {
		models, err = normalizeList("gemini.models", raw)
		if err != nil {
			return nil, err
		}
	}
	cfg.Gemini.Models = models

	return &cfg, nil
}

// loadCredentials reads the plural gemini.api_keys key, falling back to the
// legacy singular gemini.api_key when the plural key is absent or empty.
func loadCredentials(k *koanf.Koanf) ([]string, error) {
	if raw := k.Get("gemini.api_keys"); raw != nil {
		creds, err := normalizeList("gemini.api_keys", raw)
		if err == nil {
			return creds, nil
		}
		// An empty plural key falls through to the legacy key; anything
		// else (malformed JSON, non-array value) is a hard error.
		if !isEmptyListError(err) {
			return nil, err
		}
	}

	legacy := strings.TrimSpace(k.String("gemini.api_key"))
	if legacy == "" {
		return nil, &Error{Key: "gemini.api_keys", Reason: "no API keys configured (set gemini.api_keys or the legacy gemini.api_key)"}
	}
	return []string{legacy}, nil
}

const reasonEmpty = "list is empty"

func isEmptyListError(err error) bool {
	var cfgErr *Error
	return errors.As(err, &cfgErr) && cfgErr.Reason == reasonEmpty
}

// normalizeList converts a configuration value of varying shape into an
// ordered []string. YAML files yield real lists; env vars yield strings that
// may be a JSON array, a comma-separated list, or a bare scalar.
func normalizeList(key string, raw any) ([]string, error) {
	switch v := raw.(type) {
	case []string:
		return cleanList(key, v)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return cleanList(key, out)
	case string:
		return ParseStringList(key, v)
	default:
		return nil, &Error{Key: key, Reason: fmt.Sprintf("unsupported type %T", raw)}
	}
}

// ParseStringList parses a raw string into an ordered list. Policy, in order:
// JSON-array decode; comma split with whitespace trimming; single scalar.
func ParseStringList(key, raw string) ([]string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, &Error{Key: key, Reason: reasonEmpty}
	}

	if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "\"") {
		var decoded any
		if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
			return nil, &Error{Key: key, Reason: fmt.Sprintf("malformed JSON: %v", err)}
		}
		arr, ok := decoded.([]any)
		if !ok {
			return nil, &Error{Key: key, Reason: fmt.Sprintf("JSON value is %T, expected array", decoded)}
		}
		out := make([]string, 0, len(arr))
		for _, item := range arr {
			s, ok := item.(string)
			if !ok {
				s = fmt.Sprint(item)
			}
			out = append(out, s)
		}
		return cleanList(key, out)
	}

	parts := strings.Split(trimmed, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return cleanList(key, out)
}

// cleanList drops empty elements and validates the result is non-empty.
func cleanList(key string, in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, &Error{Key: key, Reason: reasonEmpty}
	}
	return out, nil
}
