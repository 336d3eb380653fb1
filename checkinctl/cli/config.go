package cli

import (
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

const CONFIG_PREFIX = "CHECKINCTL"

type Config struct {
	ApiUrl    string `split_words:"true" default:"http://127.0.0.1:8080"`
	WsUrl     string `split_words:"true" default:"ws://127.0.0.1:8080/api/v1/ws"`
	WsOrigin  string `split_words:"true" default:"http://localhost"`
	Token     string
	CachePath string `split_words:"true" default:"./checkinctl.db"`
	ActorId   string `split_words:"true"`

	// ReplayMaxElapsed bounds the retries of one queued operation on sync.
	ReplayMaxElapsed  time.Duration `split_words:"true" default:"30s"`
	ReplayConcurrency int           `split_words:"true" default:"4"`
}

func LoadConfig() (*Config, error) {
	config := &Config{}
	if err := envconfig.Process(CONFIG_PREFIX, config); err != nil {
		return nil, errors.Wrap(err, "failed to parse env vars")
	}
	return config, nil
}
