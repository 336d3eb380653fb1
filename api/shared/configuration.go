package shared

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const CONFIG_PREFIX = "CHECKIN"

type AppConfig struct {
	PgUsername             string `split_words:"true" default:"postgres"`
	PgPassword             string `split_words:"true" default:"postgres"`
	PgContactPoint         string `split_words:"true" default:"127.0.0.1"`
	PgContactPort          string `split_words:"true" default:"5432"`
	PgDbName               string `split_words:"true" default:"checkin"`
	SqlMigrationsSourceDir string `split_words:"true" default:"./sql"`
	StartupMigration       bool   `split_words:"true" default:"false"`

	ListenAddress string        `split_words:"true" default:"0.0.0.0:8080"`
	RequestTtl    time.Duration `split_words:"true" default:"15m"`

	GcpProjectID           string `split_words:"true" default:"kids-checkin"`
	FirebaseServiceAccount string `split_words:"true"`

	// The relay is disabled when RelayTopic is empty.
	RelayTopic          string `split_words:"true"`
	RelaySubscription   string `split_words:"true"`
	RelayServiceAccount string `split_words:"true"`
	InstanceId          string `split_words:"true"`
}

func InitAppConfiguration() (config *AppConfig, err error) {
	config = &AppConfig{}
	if err := envconfig.Process(CONFIG_PREFIX, config); err != nil {
		return nil, fmt.Errorf("failed to parse env vars: %v", err)
	}

	return
}

func (c *AppConfig) PostgresConnectString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.PgContactPoint, c.PgContactPort, c.PgUsername, c.PgPassword, c.PgDbName)
}

func (c *AppConfig) PostgresURL() string {
	return fmt.Sprintf("postgres://%v:%v/%v?sslmode=disable&user=%s&password=%s",
		c.PgContactPoint, c.PgContactPort, c.PgDbName, c.PgUsername, c.PgPassword)
}
