package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Config struct {
	AppPort          string        `mapstructure:"app_port"`
	HMACSecret       string        `mapstructure:"hmac_secret"`
	SigMaxAgeSeconds int64         `mapstructure:"sig_max_age_seconds"`
	SQLiteDSN        string        `mapstructure:"sqlite_dsn"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	BankWindow       time.Duration `mapstructure:"window_bank_transfer"`
	WalletWindow     time.Duration `mapstructure:"window_wallet_qr"`
	CodeLength       int           `mapstructure:"code_length"`
	Currency         string        `mapstructure:"currency"`
	Timezone         string        `mapstructure:"timezone"`
	Payee            string        `mapstructure:"payee"`
	Country          string        `mapstructure:"country"`
	SpoolDir         string        `mapstructure:"spool_dir"`
	AllowedOrigins   []string      `mapstructure:"allowed_origins"`
	OperatorsFile    string        `mapstructure:"operators_file"`
	Verbose          bool          `mapstructure:"verbose"`

	// Operators maps console tokens to operator ids. Tokens are secrets and
	// keep their case, so they are read with yaml.v3 rather than viper.
	Operators map[string]string `mapstructure:"-"`
}

var defaults = map[string]any{
	"app_port":             "8080",
	"hmac_secret":          "supersecret-dev",
	"sig_max_age_seconds":  300,
	"sqlite_dsn":           "./app.db",
	"sweep_interval":       "1s",
	"window_bank_transfer": "60s",
	"window_wallet_qr":     "60s",
	"code_length":          6,
	"currency":             "VND",
	"timezone":             "UTC",
	"payee":                "MERCHANT",
	"country":              "VN",
	"spool_dir":            "",
	"allowed_origins":      []string{"*"},
	"operators_file":       "",
	"verbose":              false,
}

// Load reads defaults, then an optional YAML file (CONFIG_FILE, or
// ./config.yaml when present), then environment variables named after the
// upper-cased keys. Operators listed in OPERATORS_FILE are merged over any
// from the config file. The config file must be YAML (or JSON) for its
// operators section to be read.
func Load() (Config, error) {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.Operators = make(map[string]string)
	for _, path := range []string{v.ConfigFileUsed(), cfg.OperatorsFile} {
		if path == "" {
			continue
		}
		ops, err := loadOperators(path)
		if err != nil {
			return Config{}, err
		}
		for token, id := range ops {
			cfg.Operators[token] = id
		}
	}

	cfg.Currency = strings.ToUpper(cfg.Currency)
	return cfg, cfg.validate()
}

// Location resolves the configured timezone for statement timestamps.
func (c Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

func (c Config) validate() error {
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive, got %s", c.SweepInterval)
	}
	if c.BankWindow <= 0 || c.WalletWindow <= 0 {
		return fmt.Errorf("payment windows must be positive")
	}
	if len(c.Currency) != 3 {
		return fmt.Errorf("currency must be an ISO 4217 code, got %q", c.Currency)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	for token, id := range c.Operators {
		if strings.TrimSpace(token) == "" || strings.TrimSpace(id) == "" {
			return fmt.Errorf("operators: empty token or id")
		}
	}
	return nil
}

type operatorsFile struct {
	Operators map[string]string `yaml:"operators"`
}

func loadOperators(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read operators file: %w", err)
	}
	var f operatorsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse operators file %s: %w", path, err)
	}
	return f.Operators, nil
}
