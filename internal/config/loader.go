package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "WATCHPOST_"

// legacyEnv maps the flat variable names used by existing .env deployments.
var legacyEnv = map[string]string{
	"RTSP_URL":               "stream_url",
	"CAMERA_NAME":            "camera_name",
	"TELEGRAM_BOT_TOKEN":     "telegram.bot_token",
	"TELEGRAM_CHAT_ID":       "telegram.chat_id",
	"FRAME_PROCESS_INTERVAL": "frame_process_interval",
	"FRAME_RESIZE_WIDTH":     "frame_resize_width",
	"ZOOM_FACTOR":            "zoom_factor",
	"CONFIDENCE_THRESHOLD":   "confidence_threshold",
	"AUTO_DELETE_AFTER":      "auto_delete_after_days",
	"SECRET_KEY":             "auth.jwt_secret",
	"WEB_USERNAME":           "auth.username",
	"WEB_PASSWORD":           "auth.password",
	"WEB_PORT":               "http.port",
	"WEB_HOST":               "http.host",
	"DATABASE_PATH":          "database_path",
}

// Load builds a Config by layering, low to high:
//  1. defaults (New)
//  2. YAML file at path, or WATCHPOST_CONFIG when path is empty
//  3. legacy flat env names (RTSP_URL, TELEGRAM_BOT_TOKEN, ...)
//  4. WATCHPOST_ env vars; a double underscore separates sections
//     (WATCHPOST_TELEGRAM__BOT_TOKEN -> telegram.bot_token)
//
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	// .env file is optional
	_ = godotenv.Load()

	base := New()
	k := koanf.New(".")

	if path == "" {
		path = os.Getenv(envPrefix + "CONFIG")
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	legacy := env.Provider("", ".", func(s string) string {
		return legacyEnv[s]
	})
	if err := k.Load(legacy, nil); err != nil {
		return nil, fmt.Errorf("failed to load legacy env: %w", err)
	}

	prefixed := env.Provider(envPrefix, ".", envKey)
	if err := k.Load(prefixed, nil); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps WATCHPOST_HTTP__PORT to http.port.
func envKey(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	if s == "CONFIG" {
		return ""
	}
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "__", ".")
}
