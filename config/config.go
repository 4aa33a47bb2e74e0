// Package config loads settings for the license tools.
//
// Values are layered: struct-tag defaults, then XDAO_LICENSE_* environment
// variables, then an optional YAML file. Command-line flags are applied by
// the commands themselves on top of the result.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"github.com/mitchellh/go-homedir"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v2"

	"xdao.co/license/archive/archiveconfig"
)

// EnvPrefix prefixes every environment variable, e.g. XDAO_LICENSE_KEY_FILE.
const EnvPrefix = "XDAO_LICENSE"

// Config is the complete tool configuration.
type Config struct {
	KeyFile      string   `yaml:"key_file" envconfig:"KEY_FILE" default:"~/.xdao/license/private_key.pem" validate:"required"`
	Scheme       string   `yaml:"scheme" envconfig:"SCHEME" default:"p384" validate:"oneof=p384 p-384 secp384r1 ed448"`
	DefaultDays  int      `yaml:"default_days" envconfig:"DEFAULT_DAYS" default:"365" validate:"min=1,max=36525"`
	BatchOutput  string   `yaml:"batch_output" envconfig:"BATCH_OUTPUT" default:"licenses.txt" validate:"required"`
	Concurrency  int      `yaml:"concurrency" envconfig:"CONCURRENCY" default:"8" validate:"min=1,max=1024"`
	TrustAnchors []string `yaml:"trust_anchors" envconfig:"TRUST_ANCHORS" validate:"dive,hexadecimal"`

	Log    LogConfig    `yaml:"log" envconfig:"LOG"`
	Daemon DaemonConfig `yaml:"daemon" envconfig:"DAEMON"`

	// Archive is file-only; backend lists do not fit in environment variables.
	Archive archiveconfig.Config `yaml:"archive" ignored:"true"`
}

type LogConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL" default:"info" validate:"oneof=trace debug info warn warning error fatal panic"`
	Format string `yaml:"format" envconfig:"FORMAT" default:"text" validate:"oneof=text json"`
}

// DaemonConfig configures xdao-licarchived.
type DaemonConfig struct {
	Listen        string `yaml:"listen" envconfig:"LISTEN" default:":7443" validate:"required"`
	MetricsListen string `yaml:"metrics_listen" envconfig:"METRICS_LISTEN" default:":9090"`
	Backend       string `yaml:"backend" envconfig:"BACKEND" default:"localfs"`
	// VerifyPuts rejects tokens that do not carry a valid signature from
	// one of TrustAnchors.
	VerifyPuts bool `yaml:"verify_puts" envconfig:"VERIFY_PUTS"`
}

var validate = validator.New()

// Load reads the environment and, when path is non-empty, the YAML file at
// path on fs. Keys present in the file override the environment.
func Load(fs afero.Fs, path string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if path != "" {
		if fs == nil {
			fs = afero.NewOsFs()
		}
		p, err := homedir.Expand(path)
		if err != nil {
			return nil, err
		}
		data, err := afero.ReadFile(fs, p)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", p, err)
		}
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolvePaths() error {
	for _, p := range []*string{&c.KeyFile, &c.BatchOutput} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Archive.Enabled() {
		if err := c.Archive.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ConfigureLogging applies the log settings to logger.
func (c *Config) ConfigureLogging(logger *logrus.Logger) error {
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return err
	}
	logger.SetLevel(level)
	switch strings.ToLower(c.Log.Format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
