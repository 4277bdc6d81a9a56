package config

import (
	"fmt"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"

	"github.com/mcclellann/loanledger/pkg/money"
)

type Config struct {
	DatabasePath string `env:"DATABASE_PATH" envDefault:"loanledger.db"`
	JWTSecret    string `env:"JWT_SECRET,required,notEmpty"`
	Port         int    `env:"PORT" envDefault:"8080"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv       string `env:"APP_ENV" envDefault:"production"`

	DefaultInterestRate string `env:"DEFAULT_INTEREST_RATE" envDefault:"0.13"`
	DefaultTermMonths   int    `env:"DEFAULT_TERM_MONTHS" envDefault:"12"`
	PrepaidChargeName   string `env:"PREPAID_CHARGE_NAME" envDefault:"Prepaid Interest"`

	ShutdownTimeoutS int `env:"SHUTDOWN_TIMEOUT_S" envDefault:"30"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	if _, err := cfg.InterestRate(); err != nil {
		return nil, fmt.Errorf("config.Load: DEFAULT_INTEREST_RATE: %w", err)
	}
	if cfg.DefaultTermMonths < 1 {
		return nil, fmt.Errorf("config.Load: DEFAULT_TERM_MONTHS must be positive, got %d", cfg.DefaultTermMonths)
	}
	return &cfg, nil
}

// InterestRate parses DefaultInterestRate as an annual rate fraction in [0, 1].
func (c *Config) InterestRate() (decimal.Decimal, error) {
	return money.ParseRate(c.DefaultInterestRate)
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}
