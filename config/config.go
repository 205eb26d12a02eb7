// Package config loads server and CLI settings: defaults, then an optional
// YAML file, then environment variables. Command line flags are applied on
// top by the cli package.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/stevemurr/objectbox/store"
)

// Config holds every setting of the objectbox server and CLI.
type Config struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	DataDir        string   `yaml:"data_dir"`
	Backend        string   `yaml:"backend"`
	Table          string   `yaml:"table"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	LogLevel       string   `yaml:"log_level"`
	DynamoDB       DynamoDB `yaml:"dynamodb"`
}

// DynamoDB configures the dynamodb backend.
type DynamoDB struct {
	Table    string `yaml:"table"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8080,
		DataDir:        "./data",
		Backend:        "json",
		Table:          "object",
		AllowedOrigins: []string{"*"},
		LogLevel:       "info",
		DynamoDB:       DynamoDB{Table: store.DefaultDynamoDBTable},
	}
}

// Load reads the defaults, overlays the YAML file at path (skipped when path
// is empty) and then the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "parse config %s", path)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	env := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	env("HOST", &c.Host)
	env("DATA_DIR", &c.DataDir)
	env("STORE_BACKEND", &c.Backend)
	env("OBJECTBOX_TABLE", &c.Table)
	env("LOG_LEVEL", &c.LogLevel)
	env("DYNAMODB_TABLE", &c.DynamoDB.Table)
	env("DYNAMODB_REGION", &c.DynamoDB.Region)
	env("DYNAMODB_ENDPOINT", &c.DynamoDB.Endpoint)

	if v, ok := lookup("ALLOWED_ORIGINS"); ok && v != "" {
		c.AllowedOrigins = splitOrigins(v)
	}
	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "invalid PORT %q", v)
		}
		c.Port = port
	}
	return nil
}

func splitOrigins(v string) []string {
	var out []string
	for _, o := range strings.Split(v, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Validate fills in empty settings and rejects impossible ones.
func (c *Config) Validate() error {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Port < 0 || c.Port > 65535 {
		return errors.Newf("port %d out of range", c.Port)
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Backend == "" {
		c.Backend = "json"
	}
	if !store.IsBackend(c.Backend) {
		return errors.Wrapf(store.ErrUnknownBackend, "%q", c.Backend)
	}
	if c.Table == "" {
		c.Table = "object"
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.DynamoDB.Table == "" {
		c.DynamoDB.Table = store.DefaultDynamoDBTable
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (logrus.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
		return logrus.ParseLevel(c.LogLevel)
	}
	return 0, errors.Newf("unknown log level %q", c.LogLevel)
}

// Logger returns a logrus logger at the configured level.
func (c Config) Logger() (*logrus.Logger, error) {
	level, err := c.Level()
	if err != nil {
		return nil, err
	}
	log := logrus.New()
	log.SetLevel(level)
	return log, nil
}

// StoreOptions returns the backend factory options for c.
func (c Config) StoreOptions(log *logrus.Logger) store.Options {
	return store.Options{
		Backend:          c.Backend,
		DataDir:          c.DataDir,
		DynamoDBTable:    c.DynamoDB.Table,
		DynamoDBRegion:   c.DynamoDB.Region,
		DynamoDBEndpoint: c.DynamoDB.Endpoint,
		Logger:           log,
	}
}
