package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	ListenAddr string
	// WebserverPort is the static port used when no base URL is configured
	// for the tenant.
	WebserverPort string
	LogLevel      string

	DB struct {
		DSN string
	}

	Redis struct {
		URL string
	}

	DAV struct {
		URL          string
		ClientID     string
		ClientSecret string
		TokenURL     string
		ITipRate     int
	}

	SMTP struct {
		Host     string
		Port     int
		Username string
		Password string
	}

	OIDC struct {
		IssuerURL string
		ClientID  string
	}

	AuthDisabled      bool
	PrometheusEnabled bool
	// TrustedProxies are the reverse proxies whose forwarding headers are honoured.
	TrustedProxies []string
}

func Load() (*Config, error) {
	cfg := &Config{}

	cfg.ListenAddr = getenvDefault("APP_LISTEN_ADDR", ":8080")
	cfg.WebserverPort = getenvDefault("APP_WEBSERVER_PORT", "8080")
	cfg.LogLevel = strings.ToLower(getenvDefault("APP_LOG_LEVEL", "info"))
	cfg.DB.DSN = os.Getenv("APP_DB_DSN")

	if cfg.DB.DSN == "" {
		host := os.Getenv("APP_DB_HOST")
		name := os.Getenv("APP_DB_NAME")
		user := os.Getenv("APP_DB_USER")
		password := os.Getenv("APP_DB_PASSWORD")
		port := getenvDefault("APP_DB_PORT", "5432")
		sslmode := getenvDefault("APP_DB_SSLMODE", "disable")

		if host != "" && name != "" && user != "" && password != "" {
			cfg.DB.DSN = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, password, host, port, name, sslmode)
		}
	}

	cfg.Redis.URL = getenvDefault("APP_REDIS_URL", "redis://localhost:6379/0")

	cfg.DAV.URL = strings.TrimRight(getenvDefault("APP_DAV_URL", "http://localhost:8001"), "/")
	cfg.DAV.ClientID = os.Getenv("APP_DAV_CLIENT_ID")
	cfg.DAV.ClientSecret = os.Getenv("APP_DAV_CLIENT_SECRET")
	cfg.DAV.TokenURL = os.Getenv("APP_DAV_TOKEN_URL")
	cfg.DAV.ITipRate = getenvInt("APP_ITIP_RATE", 20)

	cfg.SMTP.Host = getenvDefault("APP_SMTP_HOST", "localhost")
	cfg.SMTP.Port = getenvInt("APP_SMTP_PORT", 25)
	cfg.SMTP.Username = os.Getenv("APP_SMTP_USERNAME")
	cfg.SMTP.Password = os.Getenv("APP_SMTP_PASSWORD")

	cfg.OIDC.IssuerURL = os.Getenv("APP_OIDC_ISSUER_URL")
	cfg.OIDC.ClientID = os.Getenv("APP_OIDC_CLIENT_ID")
	cfg.AuthDisabled = getenvBool("APP_AUTH_DISABLED", false)
	cfg.PrometheusEnabled = getenvBool("APP_PROMETHEUS_ENDPOINT_ENABLED", false)
	cfg.TrustedProxies = getenvList("APP_TRUSTED_PROXIES")

	if cfg.DB.DSN == "" {
		return nil, errors.New("APP_DB_DSN is required (or set APP_DB_HOST, APP_DB_NAME, APP_DB_USER, and APP_DB_PASSWORD)")
	}
	if !cfg.AuthDisabled && (cfg.OIDC.IssuerURL == "" || cfg.OIDC.ClientID == "") {
		return nil, errors.New("APP_OIDC_ISSUER_URL and APP_OIDC_CLIENT_ID are required unless APP_AUTH_DISABLED is set")
	}
	if (cfg.DAV.ClientID != "") != (cfg.DAV.ClientSecret != "") {
		return nil, errors.New("APP_DAV_CLIENT_ID and APP_DAV_CLIENT_SECRET must be set together")
	}
	if cfg.DAV.ClientID != "" && cfg.DAV.TokenURL == "" {
		return nil, errors.New("APP_DAV_TOKEN_URL is required when DAV client credentials are set")
	}
	if cfg.DAV.ITipRate <= 0 {
		return nil, fmt.Errorf("APP_ITIP_RATE must be positive (got %d)", cfg.DAV.ITipRate)
	}

	if cfg.AuthDisabled {
		fmt.Println("WARNING: APP_AUTH_DISABLED is set. The calendar API will accept unauthenticated requests.")
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvList(key string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
