package markpipe

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all pipeline configuration.
type Config struct {
	DBPath    string       `yaml:"db_path"`
	UploadDir string       `yaml:"upload_dir"`
	Import    ImportConfig `yaml:"import"`
	Fetch     FetchConfig  `yaml:"fetch"`
	Index     IndexConfig  `yaml:"index"`
}

// ImportConfig controls the upload intake workers.
type ImportConfig struct {
	BatchSize    int           `yaml:"batch_size"`
	Visibility   time.Duration `yaml:"visibility"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

// FetchConfig controls the page download workers.
type FetchConfig struct {
	Concurrency  int           `yaml:"concurrency"`
	Timeout      time.Duration `yaml:"timeout"`
	Visibility   time.Duration `yaml:"visibility"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

// IndexConfig controls the fulltext writer.
type IndexConfig struct {
	Visibility   time.Duration `yaml:"visibility"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

func (c *Config) defaults() {
	if c.DBPath == "" {
		c.DBPath = "marque.db"
	}
	if c.UploadDir == "" {
		c.UploadDir = "uploads"
	}
	if c.Import.BatchSize <= 0 {
		c.Import.BatchSize = 25
	}
	if c.Import.Visibility <= 0 {
		c.Import.Visibility = 5 * time.Minute
	}
	if c.Import.PollInterval <= 0 {
		c.Import.PollInterval = time.Second
	}
	if c.Import.MaxAttempts <= 0 {
		c.Import.MaxAttempts = 5
	}
	if c.Fetch.Concurrency <= 0 {
		c.Fetch.Concurrency = 4
	}
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = 30 * time.Second
	}
	if c.Fetch.Visibility <= 0 {
		c.Fetch.Visibility = 2 * time.Minute
	}
	if c.Fetch.PollInterval <= 0 {
		c.Fetch.PollInterval = time.Second
	}
	if c.Fetch.MaxAttempts <= 0 {
		c.Fetch.MaxAttempts = 5
	}
	if c.Index.Visibility <= 0 {
		c.Index.Visibility = 2 * time.Minute
	}
	if c.Index.PollInterval <= 0 {
		c.Index.PollInterval = time.Second
	}
	if c.Index.MaxAttempts <= 0 {
		c.Index.MaxAttempts = 10
	}
}

// LoadConfigFile reads a YAML config file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
