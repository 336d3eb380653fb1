package shared

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const CONFIG_PREFIX = "EVENT_MANAGER"

type AppConfig struct {
	PgUsername     string `split_words:"true" default:"postgres"`
	PgPassword     string `split_words:"true" default:"postgres"`
	PgContactPoint string `split_words:"true" default:"127.0.0.1"`
	PgContactPort  string `split_words:"true" default:"5432"`
	PgDbName       string `split_words:"true" default:"checkin"`

	ListenAddress string `split_words:"true" default:"0.0.0.0:8081"`

	// Expired events reach API instances through the relay topic. Without a
	// topic requests are still expired but nobody is notified.
	GcpProjectID        string `split_words:"true" default:"kids-checkin"`
	RelayTopic          string `split_words:"true"`
	RelayServiceAccount string `split_words:"true"`
	InstanceId          string `split_words:"true"`

	SweepInterval time.Duration `split_words:"true" default:"30s"`
	SweepBatch    int           `split_words:"true" default:"100"`
}

func InitAppConfiguration() (config *AppConfig, err error) {
	config = &AppConfig{}

	if err := envconfig.Process(CONFIG_PREFIX, config); err != nil {
		return nil, fmt.Errorf("failed to parse env vars: %v", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return
}

// Validate rejects sweep settings that would spin or panic the ticker.
func (c *AppConfig) Validate() error {
	if c.SweepInterval <= 0 {
		return fmt.Errorf("%s_SWEEP_INTERVAL must be positive, got %s", CONFIG_PREFIX, c.SweepInterval)
	}
	if c.SweepBatch <= 0 {
		return fmt.Errorf("%s_SWEEP_BATCH must be positive, got %d", CONFIG_PREFIX, c.SweepBatch)
	}
	return nil
}

func (c *AppConfig) PostgresConnectString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.PgContactPoint, c.PgContactPort, c.PgUsername, c.PgPassword, c.PgDbName)
}
