package config

import (
	"os"
	"path/filepath"
	"strconv"

	"lanshare/pkg/utils"
)

const (
	DefaultPort          = 3000
	DefaultMaxUploadSize = 500 << 20
	DefaultControlAddr   = "127.0.0.1:3939"
)

// ServerConfig is the mutable configuration of one transfer server.
type ServerConfig struct {
	Port       int    `json:"port"`
	SavePath   string `json:"savePath"`
	DeviceName string `json:"deviceName"`
}

type Config struct {
	Server ServerConfig

	// MaxUploadSize caps a single uploaded file, in bytes.
	MaxUploadSize int64
	// MaxConnections caps concurrent connections; 0 means unlimited.
	MaxConnections int

	ControlAddr string
	PrefsPath   string
	DBConnStr   string
	LogLevel    string

	SMTPHost    string
	SMTPPort    int
	SMTPFrom    string
	SMTPPass    string
	NotifyEmail string
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:       DefaultPort,
			DeviceName: utils.GetHostname(),
		},
		MaxUploadSize: DefaultMaxUploadSize,
		ControlAddr:   DefaultControlAddr,
		PrefsPath:     defaultPrefsPath(),
		LogLevel:      "info",
		SMTPHost:      "smtp.gmail.com",
		SMTPPort:      587,
	}
}

// FromEnv returns Default() with environment overrides applied.
func FromEnv() Config {
	cfg := Default()
	cfg.Server.Port = getEnvInt("LANSHARE_PORT", cfg.Server.Port)
	cfg.Server.SavePath = getEnv("LANSHARE_SAVE_PATH", cfg.Server.SavePath)
	cfg.Server.DeviceName = getEnv("LANSHARE_DEVICE_NAME", cfg.Server.DeviceName)
	cfg.MaxUploadSize = int64(getEnvInt("LANSHARE_MAX_UPLOAD_MB", int(cfg.MaxUploadSize>>20))) << 20
	cfg.MaxConnections = getEnvInt("LANSHARE_MAX_CONNS", cfg.MaxConnections)
	cfg.ControlAddr = getEnv("LANSHARE_CONTROL_ADDR", cfg.ControlAddr)
	cfg.PrefsPath = getEnv("LANSHARE_PREFS", cfg.PrefsPath)
	cfg.DBConnStr = getEnv("DATABASE_URL", cfg.DBConnStr)
	cfg.LogLevel = getEnv("LANSHARE_LOG_LEVEL", cfg.LogLevel)
	cfg.SMTPHost = getEnv("SMTP_HOST", cfg.SMTPHost)
	cfg.SMTPPort = getEnvInt("SMTP_PORT", cfg.SMTPPort)
	cfg.SMTPFrom = getEnv("SMTP_FROM", cfg.SMTPFrom)
	cfg.SMTPPass = getEnv("SMTP_PASS", cfg.SMTPPass)
	cfg.NotifyEmail = getEnv("LANSHARE_NOTIFY_EMAIL", cfg.NotifyEmail)
	return cfg
}

// MailEnabled reports whether upload notifications can be sent.
func (c Config) MailEnabled() bool {
	return c.SMTPFrom != "" && c.NotifyEmail != ""
}

func defaultPrefsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "lanshare", "prefs.json")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
