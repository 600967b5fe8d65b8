package components

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"bank-saga/internal/api/routes"
	"bank-saga/internal/config"
	"bank-saga/internal/domain/account"
	"bank-saga/internal/domain/saga"
	"bank-saga/internal/infrastructure/events"
	"bank-saga/internal/infrastructure/journal"
	journalpg "bank-saga/internal/infrastructure/journal/postgres"
	"bank-saga/internal/infrastructure/messaging"
	"bank-saga/internal/infrastructure/messaging/kafka"
	"bank-saga/internal/infrastructure/runtime"
	"bank-saga/internal/pkg/logging"

	"github.com/gin-gonic/gin"
)

// Container holds all application components and their dependencies
type Container struct {
	Config         *config.Config
	Journal        journal.Journal
	EntityRouter   *runtime.Router
	EventBroker    *events.Broker
	EventPublisher messaging.EventPublisher
	SagaConsumer   *messaging.SagaRequestConsumer
	Router         *gin.Engine
	Server         *http.Server

	closeJournal func()
}

var (
	instance     *Container
	instanceOnce sync.Once
	instanceErr  error
)

// GetInstance returns the singleton container instance.
// Uses sync.Once to ensure it's only initialized once.
func GetInstance() (*Container, error) {
	instanceOnce.Do(func() {
		instance, instanceErr = newContainer()
	})
	return instance, instanceErr
}

// New creates and initializes all application components.
func New() (*Container, error) {
	return GetInstance()
}

func newContainer() (*Container, error) {
	container := &Container{}

	container.Config = config.Load()
	logging.Init(container.Config)

	if err := container.initJournal(); err != nil {
		return nil, fmt.Errorf("failed to initialize journal: %w", err)
	}

	container.EventBroker = events.NewBroker()

	if err := container.initEventPublisher(); err != nil {
		return nil, fmt.Errorf("failed to initialize event publisher: %w", err)
	}

	container.initEntityRouter()

	if err := container.initSagaConsumer(); err != nil {
		return nil, fmt.Errorf("failed to initialize saga consumer: %w", err)
	}

	if err := container.initServer(); err != nil {
		return nil, fmt.Errorf("failed to initialize server: %w", err)
	}

	logging.Info("All components initialized successfully")
	return container, nil
}

// initJournal selects the event journal backend
func (c *Container) initJournal() error {
	switch c.Config.Journal.Backend {
	case "postgres":
		pg, err := journalpg.NewJournal(journalpg.NewConfigFromEnv())
		if err != nil {
			return err
		}
		c.Journal = pg
		c.closeJournal = pg.Close
	default:
		c.Journal = journal.NewMemory()
	}

	logging.Info("Journal initialized", logging.F("backend", c.Config.Journal.Backend))
	return nil
}

// initEventPublisher sets up the Kafka event publisher
func (c *Container) initEventPublisher() error {
	// Kafka can be disabled for tests and local development.
	if os.Getenv("KAFKA_ENABLED") == "false" {
		logging.Info("Kafka disabled, using no-op event publisher")
		c.EventPublisher = messaging.NewNoOpEventPublisher()
		return nil
	}

	kafkaConfig := kafka.NewConfigFromEnv()
	publisher, err := messaging.NewKafkaEventPublisher(kafkaConfig)
	if err != nil {
		// Fall back to no-op so the service starts without Kafka.
		logging.Warn("Failed to initialize Kafka, using no-op event publisher",
			logging.F("error", err.Error()))
		c.EventPublisher = messaging.NewNoOpEventPublisher()
		return nil
	}

	c.EventPublisher = publisher
	logging.Info("Kafka event publisher initialized", logging.F("brokers", kafkaConfig.Brokers))
	return nil
}

// initEntityRouter wires the entity runtime: journal, clock and the two
// entity kinds.
func (c *Container) initEntityRouter() {
	clock := runtime.SystemClock{}
	sagaCfg := c.Config.Saga

	opts := []runtime.Option{runtime.WithMailboxSize(sagaCfg.MailboxSize)}
	if snapshots, ok := c.Journal.(journal.SnapshotStore); ok {
		opts = append(opts, runtime.WithSnapshotStore(snapshots))
	}
	router := runtime.NewRouter(c.Journal, clock, opts...)

	router.RegisterKind(account.Kind, func(id string, svc runtime.Services) runtime.Entity {
		return account.New(id, svc, account.Options{
			StashLimit:    sagaCfg.StashLimit,
			SnapshotEvery: sagaCfg.SnapshotEvery,
		})
	})

	publisher := c.EventPublisher
	broker := c.EventBroker
	router.RegisterKind(saga.Kind, func(id string, svc runtime.Services) runtime.Entity {
		return saga.New(id, svc, saga.Options{
			PrepareTimeout: sagaCfg.PrepareTimeout,
			RetryInterval:  sagaCfg.RetryInterval,
			OnCompleted: func(state saga.State) {
				publishOutcome(publisher, broker, state)
			},
		})
	})

	c.EntityRouter = router
	logging.Info("Entity router initialized", logging.F("mailbox_size", sagaCfg.MailboxSize))
}

// publishOutcome fans a terminal saga state out to Kafka and the SSE
// broker.
func publishOutcome(publisher messaging.EventPublisher, broker *events.Broker, state saga.State) {
	participants := state.Participants()
	rejected := make([]string, 0, len(state.Rejected))
	for accountNumber := range state.Rejected {
		rejected = append(rejected, accountNumber)
	}

	event := messaging.SagaCompletedEvent{
		TransactionID: state.TxID,
		Outcome:       string(state.Outcome),
		Participants:  participants,
		Rejected:      rejected,
		Timestamp:     time.Now(),
	}
	if err := publisher.PublishSagaCompleted(event); err != nil {
		logging.Error("Failed to publish saga completed event", err, logging.Tx(state.TxID))
	}

	broker.Publish(events.SagaOutcomeEvent{
		TransactionID: state.TxID,
		Outcome:       string(state.Outcome),
		Participants:  participants,
		Timestamp:     time.Now(),
	})
}

// initSagaConsumer creates the Kafka command ingress when Kafka is enabled;
// Start runs it
func (c *Container) initSagaConsumer() error {
	if _, ok := c.EventPublisher.(*messaging.NoOpEventPublisher); ok {
		// No Kafka, no command topic.
		return nil
	}

	consumer, err := messaging.NewSagaRequestConsumer(kafka.NewConfigFromEnv(), c.EntityRouter)
	if err != nil {
		logging.Warn("Failed to initialize saga request consumer", logging.F("error", err.Error()))
		return nil
	}
	c.SagaConsumer = consumer
	return nil
}

// initServer sets up the HTTP server with all middleware and routes
func (c *Container) initServer() error {
	if c.Config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	c.Router = gin.Default()
	routes.RegisterRoutes(c.Router, c)

	c.Server = &http.Server{
		Addr:           ":" + c.Config.Server.Port,
		Handler:        c.Router,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	logging.Info("HTTP server configured", logging.F("port", c.Config.Server.Port))
	return nil
}

// Start begins serving HTTP requests and consuming saga requests
func (c *Container) Start() error {
	if c.SagaConsumer != nil {
		if err := c.SagaConsumer.Start(); err != nil {
			return fmt.Errorf("failed to start saga consumer: %w", err)
		}
	}

	logging.Info("Starting HTTP server", logging.F("address", c.Server.Addr))

	go func() {
		if err := c.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("Server failed to start", err)
			os.Exit(1)
		}
	}()

	c.waitForShutdown()
	return nil
}

// waitForShutdown handles graceful shutdown
func (c *Container) waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.Shutdown(ctx); err != nil {
		logging.Error("Server forced to shutdown", err)
	}

	logging.Info("Server shutdown complete")
}

// Shutdown gracefully stops all components
func (c *Container) Shutdown(ctx context.Context) error {
	if err := c.Server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	if c.SagaConsumer != nil {
		if err := c.SagaConsumer.Stop(); err != nil {
			logging.Error("Failed to stop saga consumer", err)
		}
	}

	if err := c.EntityRouter.Shutdown(ctx); err != nil {
		logging.Error("Failed to stop entity router", err)
	}

	if c.EventPublisher != nil {
		if err := c.EventPublisher.Close(); err != nil {
			logging.Error("Failed to close event publisher", err)
		}
	}

	if c.closeJournal != nil {
		c.closeJournal()
	}

	return nil
}

// GetEntityRouter returns the entity router
func (c *Container) GetEntityRouter() *runtime.Router {
	return c.EntityRouter
}

// GetEventBroker returns the event broker
func (c *Container) GetEventBroker() *events.Broker {
	return c.EventBroker
}

// GetConfig returns the configuration
func (c *Container) GetConfig() *config.Config {
	return c.Config
}

// GetEventPublisher returns the event publisher
func (c *Container) GetEventPublisher() messaging.EventPublisher {
	return c.EventPublisher
}
