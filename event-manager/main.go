package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/Vinubaba/kids-checkin/api/capacity"
	"github.com/Vinubaba/kids-checkin/api/checkins"
	"github.com/Vinubaba/kids-checkin/api/notifications"
	"github.com/Vinubaba/kids-checkin/api/tokens"
	"github.com/Vinubaba/kids-checkin/common/generator"
	"github.com/Vinubaba/kids-checkin/common/log"
	"github.com/Vinubaba/kids-checkin/common/messaging"
	"github.com/Vinubaba/kids-checkin/common/store"
	. "github.com/Vinubaba/kids-checkin/event-manager/shared"
	"github.com/Vinubaba/kids-checkin/event-manager/sweeper"

	"github.com/cenkalti/backoff/v4"
	"github.com/facebookgo/inject"
	"github.com/gorilla/mux"
	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/postgres"
	"github.com/pkg/errors"
)

var (
	ctx    = context.Background()
	logger = log.NewLogger("event-manager")
	config *AppConfig
	db     *gorm.DB

	stringGenerator = &generator.StringGenerator{}
	dbStore         = &store.Store{}
	tokenIssuer     = &tokens.Issuer{}
	capacityGuard   = &capacity.Guard{}
	stateMachine    = &checkins.StateMachine{}
	hub             = &notifications.Hub{}
	expirySweeper   = &sweeper.Sweeper{}

	pubSubClient *messaging.Client
	relay        *notifications.Relay
)

func init() {
	checkErrAndExit(initAppConfiguration())
	checkErrAndExit(initPostgresConnection())
	checkErrAndExit(initPubSubClient())
	checkErrAndExit(initApplicationGraph())
}

func initAppConfiguration() (err error) {
	config, err = InitAppConfiguration()
	if err != nil {
		return
	}
	if config.InstanceId == "" {
		config.InstanceId = "event-manager-" + stringGenerator.GenerateUuid()
	}
	return
}

func initPostgresConnection() (err error) {
	db, err = gorm.Open("postgres", config.PostgresConnectString())
	if err != nil {
		return
	}

	db.LogMode(true)
	db.SetLogger(logger)
	return
}

func initPubSubClient() (err error) {
	if config.RelayTopic == "" {
		logger.Warn(ctx, "no relay topic configured, expired events stay local")
		return nil
	}
	pubSubClient, err = messaging.New(ctx, messaging.ClientOptions{
		ProjectID:      config.GcpProjectID,
		Topic:          config.RelayTopic,
		CredentialPath: config.RelayServiceAccount,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create relay client")
	}
	relay = &notifications.Relay{InstanceId: config.InstanceId}
	return ensureTopicIsCreated()
}

func ensureTopicIsCreated() error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Minute
	return backoff.RetryNotify(func() error {
		return pubSubClient.EnsureTopic(ctx)
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		logger.Warn(ctx, "relay topic not ready", "topic", config.RelayTopic, "err", err.Error(), "retryIn", next.String())
	})
}

func initApplicationGraph() error {
	g := inject.Graph{}
	g.Provide(
		&inject.Object{Value: config},
		&inject.Object{Value: db},
		&inject.Object{Value: stringGenerator},
		&inject.Object{Value: dbStore},
		&inject.Object{Value: tokenIssuer},
		&inject.Object{Value: capacityGuard},
		&inject.Object{Value: stateMachine},
		&inject.Object{Value: hub},
		&inject.Object{Value: expirySweeper},
		&inject.Object{Value: logger},
	)
	if relay != nil {
		g.Provide(
			&inject.Object{Value: pubSubClient},
			&inject.Object{Value: relay},
		)
	}
	if err := g.Populate(); err != nil {
		return errors.Wrap(err, "failed to populate")
	}
	if relay != nil {
		hub.Relay = relay
	}
	return nil
}

func main() {
	go expirySweeper.Start(ctx)
	startHttpServer(ctx)
}

func startHttpServer(ctx context.Context) {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	router.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if err := db.DB().PingContext(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	logger.Info(ctx, "listening", "address", config.ListenAddress, "instanceId", config.InstanceId)
	checkErrAndExit(http.ListenAndServe(config.ListenAddress, router))
}

func checkErrAndExit(err error) {
	if err == nil {
		return
	}
	fmt.Println(err.Error())
	os.Exit(1)
}
