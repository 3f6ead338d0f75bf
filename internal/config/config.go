// Package config loads the process configuration once at startup.
// Nothing else in the service reads the environment directly; handlers and
// clients receive an explicit Config (or a slice of it) at construction.
package config

import (
	"fmt"
	"os"

	_ "github.com/joho/godotenv/autoload"
)

// GatewayMode selects which payment processor environment the client talks to.
type GatewayMode string

const (
	ModeSandbox GatewayMode = "sandbox"
	ModeLive    GatewayMode = "live"
)

// GatewayConfig holds the credentials and addressing for the payment gateway.
type GatewayConfig struct {
	Mode         GatewayMode
	ClientID     string
	ClientSecret string
	// ClientURL is the public base URL of the storefront SPA; the gateway
	// return/cancel links are derived from it.
	ClientURL string
	// BrandName shown inside the external payment UI.
	BrandName string
}

// DatabaseConfig holds the order store connection settings. Empty Host means
// the in-memory store is used instead (dev and test mode).
type DatabaseConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
	Schema   string
}

// Config is the full service configuration.
type Config struct {
	ListenAddr string
	Gateway    GatewayConfig
	Database   DatabaseConfig
	// AllowedOrigin is the SPA origin permitted by CORS.
	AllowedOrigin string
}

// DSN renders the postgres connection string for the pgx stdlib driver.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		d.Username, d.Password, d.Host, d.Port, d.Database, d.Schema,
	)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Load reads the configuration from the environment. Missing gateway
// credentials is a startup error, not a per-request failure.
func Load() (Config, error) {
	mode := GatewayMode(envOr("PAYPAL_MODE", string(ModeSandbox)))
	if mode != ModeSandbox && mode != ModeLive {
		return Config{}, fmt.Errorf("config: invalid PAYPAL_MODE %q (want sandbox or live)", mode)
	}

	clientID := os.Getenv("PAYPAL_CLIENT_ID")
	clientSecret := os.Getenv("PAYPAL_CLIENT_SECRET")
	if clientID == "" || clientSecret == "" {
		return Config{}, fmt.Errorf("config: missing PayPal credentials (PAYPAL_CLIENT_ID / PAYPAL_CLIENT_SECRET)")
	}

	clientURL := envOr("CLIENT_URL", "http://localhost:3000")

	cfg := Config{
		ListenAddr: ":" + envOr("PORT", "8080"),
		Gateway: GatewayConfig{
			Mode:         mode,
			ClientID:     clientID,
			ClientSecret: clientSecret,
			ClientURL:    clientURL,
			BrandName:    envOr("BRAND_NAME", "TDB"),
		},
		Database: DatabaseConfig{
			Host:     os.Getenv("DB_HOST"),
			Port:     envOr("DB_PORT", "5432"),
			Username: os.Getenv("DB_USERNAME"),
			Password: os.Getenv("DB_PASSWORD"),
			Database: os.Getenv("DB_DATABASE"),
			Schema:   envOr("DB_SCHEMA", "public"),
		},
		AllowedOrigin: clientURL,
	}
	return cfg, nil
}
