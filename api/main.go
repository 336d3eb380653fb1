package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/Vinubaba/kids-checkin/api/authentication"
	"github.com/Vinubaba/kids-checkin/api/capacity"
	"github.com/Vinubaba/kids-checkin/api/checkins"
	"github.com/Vinubaba/kids-checkin/api/notifications"
	"github.com/Vinubaba/kids-checkin/api/services"
	. "github.com/Vinubaba/kids-checkin/api/shared"
	"github.com/Vinubaba/kids-checkin/api/tokens"
	"github.com/Vinubaba/kids-checkin/common/generator"
	"github.com/Vinubaba/kids-checkin/common/log"
	"github.com/Vinubaba/kids-checkin/common/messaging"
	. "github.com/Vinubaba/kids-checkin/common/roles"
	. "github.com/Vinubaba/kids-checkin/common/store"
	"github.com/Vinubaba/kids-checkin/common/store/migrations"

	"firebase.google.com/go"
	"firebase.google.com/go/auth"
	"github.com/cenkalti/backoff/v4"
	"github.com/facebookgo/inject"
	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/gorilla/mux"
	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/postgres"
	"github.com/pkg/errors"
	"google.golang.org/api/option"
)

var (
	ctx             = context.Background()
	logger          = log.NewLogger("kids-checkin")
	config          *AppConfig
	db              *gorm.DB
	stringGenerator = &generator.StringGenerator{}

	dbStore        = &Store{}
	tokenIssuer    = &tokens.Issuer{}
	capacityGuard  = &capacity.Guard{}
	stateMachine   = &checkins.StateMachine{}
	serviceService = &services.ServiceService{}

	hub       = &notifications.Hub{}
	webSocket = &notifications.WebSocket{}
	relay     *notifications.Relay

	checkinsHandlerFactory = &checkins.HandlerFactory{}
	servicesHandlerFactory = &services.HandlerFactory{}

	messagingClient *messaging.Client
	firebaseClient  *auth.Client
	authenticator   = &authentication.Authenticator{}
)

func init() {
	checkErrAndExit(initAppConfiguration())
	checkErrAndExit(initPostgresConnection())
	checkErrAndExit(initFirebase())
	checkErrAndExit(initRelay())
	checkErrAndExit(initApplicationGraph())
}

func initAppConfiguration() (err error) {
	config, err = InitAppConfiguration()
	if err != nil {
		return
	}
	tokenIssuer.TTL = config.RequestTtl
	if config.InstanceId == "" {
		config.InstanceId = stringGenerator.GenerateUuid()
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

func initFirebase() error {
	opts := []option.ClientOption{}
	if config.FirebaseServiceAccount != "" {
		opts = append(opts, option.WithCredentialsFile(config.FirebaseServiceAccount))
	}
	firebaseConfig := &firebase.Config{ProjectID: config.GcpProjectID}

	firebaseApp, err := firebase.NewApp(ctx, firebaseConfig, opts...)
	if err != nil {
		return err
	}

	firebaseClient, err = firebaseApp.Auth(ctx)
	if err != nil {
		return errors.Wrap(err, "error getting Auth client")
	}

	return nil
}

func initRelay() (err error) {
	if config.RelayTopic == "" {
		return nil
	}
	messagingClient, err = messaging.New(ctx, messaging.ClientOptions{
		ProjectID:      config.GcpProjectID,
		Topic:          config.RelayTopic,
		Subscription:   config.RelaySubscription,
		CredentialPath: config.RelayServiceAccount,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create relay client")
	}
	relay = &notifications.Relay{InstanceId: config.InstanceId}
	return ensureRelayTopology()
}

// ensureRelayTopology waits for the relay topic and this instance's
// subscription to exist, creating them when missing.
func ensureRelayTopology() error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Minute
	return backoff.RetryNotify(func() error {
		if err := messagingClient.EnsureTopic(ctx); err != nil {
			return err
		}
		if config.RelaySubscription == "" {
			return nil
		}
		return messagingClient.EnsureSubscription(ctx, 20*time.Second)
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		logger.Warn(ctx, "relay topology not ready", "err", err.Error(), "retryIn", next.String())
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
		&inject.Object{Value: serviceService},
		&inject.Object{Value: hub},
		&inject.Object{Value: webSocket},
		&inject.Object{Value: checkinsHandlerFactory},
		&inject.Object{Value: servicesHandlerFactory},
		&inject.Object{Value: firebaseClient},
		&inject.Object{Value: authenticator},
		&inject.Object{Value: logger},
	)
	if relay != nil {
		g.Provide(
			&inject.Object{Value: messagingClient},
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
	if config.StartupMigration {
		applySqlSchemaMigrations(ctx)
	}
	if relay != nil {
		go func() {
			if err := relay.Run(ctx); err != nil {
				logger.Err(ctx, "relay stopped", "err", err.Error())
			}
		}()
	}
	startHttpServer(ctx)
}

func applySqlSchemaMigrations(ctx context.Context) {
	logger.Info(ctx, "applying sql schema migrations")
	migrationResult := migrations.Up(migrations.ApplyOptions{
		SourceURL:   fmt.Sprintf("file://%s", config.SqlMigrationsSourceDir),
		DatabaseURL: config.PostgresURL(),
	})
	checkErrAndExit(migrationResult.Err)
	if !migrationResult.Changes {
		logger.Info(ctx, "no new migrations applied")
	}
}

func startHttpServer(ctx context.Context) {
	checkinsOpts := []kithttp.ServerOption{
		kithttp.ServerErrorLogger(logger),
		kithttp.ServerErrorEncoder(checkins.EncodeError),
	}

	servicesOpts := []kithttp.ServerOption{
		kithttp.ServerErrorLogger(logger),
		kithttp.ServerErrorEncoder(services.EncodeError),
	}

	router := mux.NewRouter()

	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	router.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if err := db.DB().PingContext(ctx); err != nil {
			WriteJSON(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	apiRouterV1 := router.PathPrefix("/api/v1").Subrouter()

	apiRouterV1.Handle("/check-in-requests", authenticator.Roles(checkinsHandlerFactory.CreateRequest(checkinsOpts), ROLE_GUARDIAN)).Methods(http.MethodPost)
	apiRouterV1.Handle("/check-in-requests/{requestId}", authenticator.Roles(checkinsHandlerFactory.GetRequest(checkinsOpts), ROLE_GUARDIAN, ROLE_STAFF, ROLE_ADMIN)).Methods(http.MethodGet)
	apiRouterV1.Handle("/check-in-requests/{requestId}/cancel", authenticator.Roles(checkinsHandlerFactory.CancelRequest(checkinsOpts), ROLE_GUARDIAN)).Methods(http.MethodPost)

	apiRouterV1.Handle("/tokens/{token}", authenticator.Roles(checkinsHandlerFactory.Preview(checkinsOpts), ROLE_STAFF, ROLE_ADMIN)).Methods(http.MethodGet)
	apiRouterV1.Handle("/tokens/{token}/approve", authenticator.Roles(checkinsHandlerFactory.Approve(checkinsOpts), ROLE_STAFF, ROLE_ADMIN)).Methods(http.MethodPost)
	apiRouterV1.Handle("/tokens/{token}/reject", authenticator.Roles(checkinsHandlerFactory.Reject(checkinsOpts), ROLE_STAFF, ROLE_ADMIN)).Methods(http.MethodPost)

	apiRouterV1.Handle("/check-ins", authenticator.Roles(checkinsHandlerFactory.CheckIn(checkinsOpts), ROLE_STAFF, ROLE_ADMIN)).Methods(http.MethodPost)

	apiRouterV1.Handle("/children/{childId}", authenticator.Roles(checkinsHandlerFactory.GetChild(checkinsOpts), ROLE_GUARDIAN, ROLE_STAFF, ROLE_ADMIN)).Methods(http.MethodGet)
	apiRouterV1.Handle("/children/{childId}/check-out", authenticator.Roles(checkinsHandlerFactory.CheckOut(checkinsOpts), ROLE_GUARDIAN, ROLE_STAFF, ROLE_ADMIN)).Methods(http.MethodPost)

	apiRouterV1.Handle("/services", authenticator.Roles(servicesHandlerFactory.List(servicesOpts), ROLE_GUARDIAN, ROLE_STAFF, ROLE_ADMIN)).Methods(http.MethodGet)
	apiRouterV1.Handle("/services/{serviceId}", authenticator.Roles(servicesHandlerFactory.Get(servicesOpts), ROLE_GUARDIAN, ROLE_STAFF, ROLE_ADMIN)).Methods(http.MethodGet)
	apiRouterV1.Handle("/services/{serviceId}", authenticator.Roles(servicesHandlerFactory.Update(servicesOpts), ROLE_STAFF, ROLE_ADMIN)).Methods(http.MethodPatch)

	apiRouterV1.Handle("/ws", authenticator.Roles(webSocket.Handler(), ROLE_GUARDIAN, ROLE_STAFF, ROLE_ADMIN))

	logger.Info(ctx, "listening", "address", config.ListenAddress, "instanceId", config.InstanceId)
	checkErrAndExit(http.ListenAndServe(config.ListenAddress,
		logger.RequestLoggerMiddleware(
			authenticator.Firebase(router, []string{"/healthz", "/readyz"}),
		),
	))
}

func checkErrAndExit(err error) {
	if err == nil {
		return
	}
	fmt.Println(err.Error())
	os.Exit(1)
}
