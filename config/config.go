// Package config loads the site configuration from an optional YAML
// file with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Duration parses human durations ("5m", "24h") from both YAML and
// environment variables.
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

// Std returns the plain time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Cache    CacheConfig    `yaml:"cache"`
	Delivery DeliveryConfig `yaml:"delivery"`
	Site     SiteConfig     `yaml:"site"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	BasePath  string `yaml:"basePath"`
	StaticDir string `yaml:"staticDir"`
	MediaDir  string `yaml:"mediaDir"`
}

// CacheConfig selects and configures the durable cache backend.
type CacheConfig struct {
	// Backend is "sqlite" or "file", chosen once at startup.
	Backend string `yaml:"backend"`
	// Path is the database file (sqlite) or directory (file).
	Path    string   `yaml:"path"`
	PageTTL Duration `yaml:"pageTtl"`
}

// DeliveryConfig configures the conditional delivery layer.
type DeliveryConfig struct {
	Disabled      bool     `yaml:"disabled"`
	HTMLTTL       Duration `yaml:"htmlTtl"`
	MediaTTL      Duration `yaml:"mediaTtl"`
	StaticTTL     Duration `yaml:"staticTtl"`
	BodyHashLimit int64    `yaml:"bodyHashLimit"`
}

// SiteConfig holds content settings.
type SiteConfig struct {
	Title        string `yaml:"title"`
	GridSize     int    `yaml:"gridSize"`
	OverfetchCap int    `yaml:"overfetchCap"`
	GalleryPath  string `yaml:"galleryPath"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:      "0.0.0.0",
			Port:      8080,
			StaticDir: "./static",
			MediaDir:  "./media",
		},
		Cache: CacheConfig{
			Backend: "sqlite",
			Path:    "./data/cache.db",
			PageTTL: Duration(time.Hour),
		},
		Delivery: DeliveryConfig{
			HTMLTTL:       Duration(5 * time.Minute),
			MediaTTL:      Duration(24 * time.Hour),
			StaticTTL:     Duration(365 * 24 * time.Hour),
			BodyHashLimit: 256 << 10,
		},
		Site: SiteConfig{
			Title:        "Portfolio",
			GridSize:     12,
			OverfetchCap: 500,
			GalleryPath:  "./data/gallery.db",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file if one
// is given, then FOLIO_-prefixed environment variables on top.
func Load(filename string) (Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if filename != "" {
		b, err := os.ReadFile(filename)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := envconfig.Process("folio", &cfg); err != nil {
		return cfg, fmt.Errorf("process env config: %w", err)
	}
	return cfg, nil
}
