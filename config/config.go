// Package config loads the service configuration from YAML.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"

	"churnrisk/errs"
	"churnrisk/logging"
)

type Config struct {
	Http struct {
		Port           int           `yaml:"port"`
		Timeout        time.Duration `yaml:"timeout"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
		MaxUploadBytes int64         `yaml:"max_upload_bytes"`
		PreviewRows    int           `yaml:"preview_rows"`
	} `yaml:"http"`
	Artifacts struct {
		SchemaPath string `yaml:"schema_path"`
		ModelPath  string `yaml:"model_path"`
		Watch      bool   `yaml:"watch"`
	} `yaml:"artifacts"`
	Batch struct {
		MaxRows int `yaml:"max_rows"`
	} `yaml:"batch"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	RateLimit struct {
		RequestsPerSecond float64  `yaml:"requests_per_second"`
		Burst             int      `yaml:"burst"`
		MaxClients        int      `yaml:"max_clients"`
		TrustedProxies    []string `yaml:"trusted_proxies"`
	} `yaml:"rate_limit"`
	Monitoring struct {
		Metrics   bool `yaml:"metrics"`
		WebSocket bool `yaml:"websocket"`
	} `yaml:"monitoring"`
	Log logging.Config `yaml:"log"`
}

// DefaultConfig returns the configuration used for any key the file leaves out.
func DefaultConfig() *Config {
	c := &Config{}
	c.Http.Port = 8080
	c.Http.Timeout = 30 * time.Second
	c.Http.AllowedOrigins = []string{"*"}
	c.Http.MaxUploadBytes = 32 << 20
	c.Http.PreviewRows = 20
	c.Artifacts.SchemaPath = "artifacts/schema.yaml"
	c.Artifacts.ModelPath = "artifacts/model.json"
	c.Batch.MaxRows = 10000
	c.Database.Path = "data/runs.db"
	c.RateLimit.RequestsPerSecond = 10
	c.RateLimit.Burst = 20
	c.RateLimit.MaxClients = 4096
	c.Monitoring.Metrics = true
	c.Monitoring.WebSocket = true
	c.Log.Level = "info"
	c.Log.Format = "json"
	c.Log.MaxSizeMB = 100
	c.Log.MaxBackups = 5
	c.Log.MaxAgeDays = 28
	return c
}

// Load reads path over the defaults. Relative artifact, database and log
// paths are resolved against the config file's directory. Any failure is a
// ConfigurationError.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, &errs.ConfigurationError{Artifact: "config", Path: path, Err: err}
	}
	defer file.Close()

	config := DefaultConfig()
	if err := yaml.NewDecoder(file).Decode(config); err != nil {
		return nil, &errs.ConfigurationError{Artifact: "config", Path: path, Err: err}
	}
	config.resolvePaths(filepath.Dir(path))
	if err := config.Validate(); err != nil {
		return nil, &errs.ConfigurationError{Artifact: "config", Path: path, Err: err}
	}
	return config, nil
}

func (c *Config) resolvePaths(base string) {
	for _, p := range []*string{&c.Artifacts.SchemaPath, &c.Artifacts.ModelPath, &c.Database.Path, &c.Log.File} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
}

// Validate checks ranges that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	switch {
	case c.Http.Port <= 0 || c.Http.Port > 65535:
		return fmt.Errorf("http.port %d out of range", c.Http.Port)
	case c.Http.Timeout <= 0:
		return fmt.Errorf("http.timeout must be positive")
	case c.Http.MaxUploadBytes <= 0:
		return fmt.Errorf("http.max_upload_bytes must be positive")
	case c.Artifacts.SchemaPath == "":
		return fmt.Errorf("artifacts.schema_path is required")
	case c.Artifacts.ModelPath == "":
		return fmt.Errorf("artifacts.model_path is required")
	case c.Batch.MaxRows <= 0:
		return fmt.Errorf("batch.max_rows must be positive")
	case c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0:
		return fmt.Errorf("rate_limit values must not be negative")
	}
	for _, proxy := range c.RateLimit.TrustedProxies {
		if _, _, err := net.ParseCIDR(proxy); err != nil && net.ParseIP(proxy) == nil {
			return fmt.Errorf("rate_limit.trusted_proxies: %q is not an IP or CIDR", proxy)
		}
	}
	return nil
}
