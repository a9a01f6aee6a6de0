package config

import (
	"errors"
	"fmt"
	"time"
)

// Config is the full daemon configuration.
type Config struct {
	StreamURL            string        `koanf:"stream_url"`
	CameraName           string        `koanf:"camera_name"`
	CaptureFPS           int           `koanf:"capture_fps"`
	FrameProcessInterval int           `koanf:"frame_process_interval"`
	FrameResizeWidth     int           `koanf:"frame_resize_width"`
	ZoomFactor           float64       `koanf:"zoom_factor"`
	ZoomWidth            int           `koanf:"zoom_width"`
	ZoomHeight           int           `koanf:"zoom_height"`
	ConfidenceThreshold  float64       `koanf:"confidence_threshold"`
	FaceTolerance        float64       `koanf:"face_tolerance"`
	Cooldown             time.Duration `koanf:"cooldown"`
	CooldownGrid         int           `koanf:"cooldown_grid"`
	AutoDeleteAfterDays  int           `koanf:"auto_delete_after_days"`
	CleanupInterval      time.Duration `koanf:"cleanup_interval"`
	PendingTTL           time.Duration `koanf:"pending_ttl"`
	DatabasePath         string        `koanf:"database_path"`
	KnownFacesDir        string        `koanf:"known_faces_dir"`
	UploadsDir           string        `koanf:"uploads_dir"`

	Detector DetectorConfig `koanf:"detector"`
	Face     FaceConfig     `koanf:"face"`
	Telegram TelegramConfig `koanf:"telegram"`
	HTTP     HTTPConfig     `koanf:"http"`
	Auth     AuthConfig     `koanf:"auth"`
	MinIO    MinIOConfig    `koanf:"minio"`
	NATS     NATSConfig     `koanf:"nats"`
}

// DetectorConfig selects the person detection backend.
type DetectorConfig struct {
	Backend  string        `koanf:"backend"` // http or grpc
	Endpoint string        `koanf:"endpoint"`
	Timeout  time.Duration `koanf:"timeout"`
}

// FaceConfig points at the face encoding service.
type FaceConfig struct {
	Endpoint string        `koanf:"endpoint"`
	Timeout  time.Duration `koanf:"timeout"`
}

type TelegramConfig struct {
	BotToken     string        `koanf:"bot_token"`
	ChatID       string        `koanf:"chat_id"`
	PollInterval time.Duration `koanf:"poll_interval"`
}

// Configured reports whether alerts can be delivered at all.
func (t TelegramConfig) Configured() bool {
	return t.BotToken != "" && t.ChatID != ""
}

type HTTPConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// Addr returns host:port for the listener.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

type AuthConfig struct {
	Enabled   bool          `koanf:"enabled"`
	Username  string        `koanf:"username"`
	Password  string        `koanf:"password"`
	JWTSecret string        `koanf:"jwt_secret"`
	JWTExpiry time.Duration `koanf:"jwt_expiry"`
}

type MinIOConfig struct {
	Endpoint  string `koanf:"endpoint"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	Bucket    string `koanf:"bucket"`
	UseSSL    bool   `koanf:"use_ssl"`
}

// Enabled reports whether the artifact mirror should be wired.
func (m MinIOConfig) Enabled() bool {
	return m.Endpoint != ""
}

type NATSConfig struct {
	URL     string `koanf:"url"`
	Subject string `koanf:"subject"`
	Stream  string `koanf:"stream"`
}

// Enabled reports whether stored events should be published.
func (n NATSConfig) Enabled() bool {
	return n.URL != ""
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		CameraName:           "Front Camera",
		CaptureFPS:           10,
		FrameProcessInterval: 5,
		FrameResizeWidth:     640,
		ZoomFactor:           2,
		ZoomWidth:            640,
		ZoomHeight:           480,
		ConfidenceThreshold:  0.5,
		FaceTolerance:        0.6,
		Cooldown:             30 * time.Second,
		CooldownGrid:         50,
		AutoDeleteAfterDays:  7,
		CleanupInterval:      24 * time.Hour,
		PendingTTL:           7 * 24 * time.Hour,
		DatabasePath:         "detections.db",
		KnownFacesDir:        "known_faces",
		UploadsDir:           "uploads",
		Detector: DetectorConfig{
			Backend:  "http",
			Endpoint: "http://localhost:8081",
			Timeout:  15 * time.Second,
		},
		Face: FaceConfig{
			Endpoint: "http://localhost:8082",
			Timeout:  30 * time.Second,
		},
		Telegram: TelegramConfig{
			PollInterval: 2 * time.Second,
		},
		HTTP: HTTPConfig{
			Host: "0.0.0.0",
			Port: 5000,
		},
		Auth: AuthConfig{
			Username:  "admin",
			JWTExpiry: 24 * time.Hour,
		},
		MinIO: MinIOConfig{
			Bucket: "watchpost",
		},
		NATS: NATSConfig{
			Subject: "watchpost.events",
			Stream:  "WATCHPOST_EVENTS",
		},
	}
}

// Validate checks the settings the daemon cannot run without.
func (c *Config) Validate() error {
	if c.StreamURL == "" {
		return ErrMissingStreamURL
	}
	if c.FrameProcessInterval <= 0 {
		return fmt.Errorf("%w: frame_process_interval must be positive", ErrInvalidValue)
	}
	if c.FrameResizeWidth <= 0 {
		return fmt.Errorf("%w: frame_resize_width must be positive", ErrInvalidValue)
	}
	if c.ZoomFactor <= 0 {
		return fmt.Errorf("%w: zoom_factor must be positive", ErrInvalidValue)
	}
	if c.ZoomWidth <= 0 || c.ZoomHeight <= 0 {
		return fmt.Errorf("%w: zoom output size must be positive", ErrInvalidValue)
	}
	if c.CooldownGrid <= 0 {
		return fmt.Errorf("%w: cooldown_grid must be positive", ErrInvalidValue)
	}
	if c.CaptureFPS <= 0 {
		return fmt.Errorf("%w: capture_fps must be positive", ErrInvalidValue)
	}
	switch c.Detector.Backend {
	case "http", "grpc":
	default:
		return fmt.Errorf("%w: detector.backend %q (valid: http|grpc)", ErrInvalidValue, c.Detector.Backend)
	}
	if c.Auth.Enabled && c.Auth.Password == "" {
		return errors.New("auth.password is required when auth is enabled")
	}
	return nil
}
