// Command hub is the Hub Entry Point's process wiring: it constructs every
// component (C1-C10) and starts serving, following the logger -> config ->
// database -> monitoring -> router -> server.Start shape of the teacher's
// cmd/signalman/main.go.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/BranchManager69/degenduel-sub003/internal/authn"
	"github.com/BranchManager69/degenduel-sub003/internal/breaker"
	"github.com/BranchManager69/degenduel-sub003/internal/broadcast"
	"github.com/BranchManager69/degenduel-sub003/internal/envelope"
	"github.com/BranchManager69/degenduel-sub003/internal/eventbridge"
	"github.com/BranchManager69/degenduel-sub003/internal/eventbus"
	"github.com/BranchManager69/degenduel-sub003/internal/events"
	"github.com/BranchManager69/degenduel-sub003/internal/handlers"
	"github.com/BranchManager69/degenduel-sub003/internal/hub"
	"github.com/BranchManager69/degenduel-sub003/internal/metrics"
	"github.com/BranchManager69/degenduel-sub003/internal/registry"
	"github.com/BranchManager69/degenduel-sub003/internal/rooms"
	"github.com/BranchManager69/degenduel-sub003/internal/router"
	"github.com/BranchManager69/degenduel-sub003/internal/supervisor"
	"github.com/BranchManager69/degenduel-sub003/pkg/config"
	"github.com/BranchManager69/degenduel-sub003/pkg/database"
	dbsql "github.com/BranchManager69/degenduel-sub003/pkg/database/sql"
	"github.com/BranchManager69/degenduel-sub003/pkg/logging"
	"github.com/BranchManager69/degenduel-sub003/pkg/monitoring"
	pkgredis "github.com/BranchManager69/degenduel-sub003/pkg/redis"
	"github.com/BranchManager69/degenduel-sub003/pkg/server"
)

const serviceName = "realtime-hub"

func main() {
	logger := logging.NewLoggerWithService(serviceName)
	config.LoadEnv(logger)

	dbCfg := database.DefaultConfig()
	dbCfg.URL = config.RequireEnv("DATABASE_URL")
	db := database.MustConnect(dbCfg, logger)
	defer db.Close()

	if err := applyMigrations(db); err != nil {
		logger.WithError(err).Fatal("Failed to apply migrations")
	}

	gitSHA := config.GetEnv("GIT_SHA", "dev")
	healthChecker := monitoring.NewHealthChecker(serviceName, gitSHA)
	healthChecker.AddCheck("postgres", monitoring.DatabaseHealthCheck(db))
	metricsCollector := monitoring.NewMetricsCollector(serviceName, gitSHA, gitSHA)
	hubMetrics := metrics.New(prometheus.DefaultRegisterer)

	sessionSecret := []byte(config.RequireEnv("SESSION_JWT_SECRET"))
	serviceSecret := []byte(config.RequireEnv("SERVICE_AUTH_SECRET"))
	verifier := authn.NewVerifier(sessionSecret, serviceSecret)

	reg := registry.New(registry.DefaultTopicTable())

	lifecycleBus := eventbus.New[events.ServiceLifecycleEvent]()
	circuitBus := eventbus.New[events.CircuitTransitionEvent]()

	lifecycleBus.Subscribe(context.Background(), func(evt events.ServiceLifecycleEvent) {
		hubMetrics.ServiceState.WithLabelValues(evt.Service, string(evt.From)).Set(0)
		hubMetrics.ServiceState.WithLabelValues(evt.Service, string(evt.To)).Set(1)
	})
	circuitBus.Subscribe(context.Background(), func(evt events.CircuitTransitionEvent) {
		hubMetrics.RecordCircuitTransition(evt.Service, string(evt.To))
		hubMetrics.RecordCircuitState(evt.Service, circuitStateValue(evt.To))
	})

	store := breaker.NewStore(db)
	breakers := breaker.NewManager(store, circuitBus, logger)

	sup := supervisor.New(logger, lifecycleBus, breakers, 10*time.Second)
	registerServices(sup, db)

	var h *hub.Hub
	bcast := broadcast.New(reg, disconnectorFunc(func(c *registry.Connection, reason string) {
		h.Disconnect(c, reason)
	}))

	roomsEngine := rooms.New(rooms.Config{
		ChatHistoryCapacity: config.GetEnvInt("ROOM_CHAT_HISTORY", 50),
		MaxChatMessageLen:   config.GetEnvInt("ROOM_CHAT_MAX_LEN", 500),
		ChatWindowLimit:     config.GetEnvInt("ROOM_CHAT_WINDOW_LIMIT", 5),
		ChatWindow:          5 * time.Second,
	}, noParticipants{}, bcast)

	table := router.NewTable()
	handlers.Wire(table, handlers.Collaborators{
		Rooms:      roomsEngine,
		Registry:   reg,
		Breakers:   breakers,
		Supervisor: sup,
	})
	dep := handlers.ServiceTopicMap{
		Mapping: map[string]string{
			"wallet":      "wallet-service",
			"portfolio":   "portfolio-service",
			"market-data": "market-data-service",
		},
		Breakers: breakers,
	}
	rt := router.New(table, reg, dep)

	h = hub.New(hub.DefaultConfig(), reg, rt, verifier, bcast, logger)

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	report, err := sup.Start(startCtx)
	startCancel()
	if err != nil {
		logger.WithError(err).Fatal("Failed to start supervised services")
	}
	logger.WithFields(logging.Fields{
		"initialized": report.Initialized,
		"failed":      report.Failed,
	}).Info("Service supervisor startup complete")

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	var monitorPublisher *pkgredis.TypedPubSub[events.MetricsSnapshot]
	if redisAddr := config.GetEnv("REDIS_ADDR", ""); redisAddr != "" {
		redisClient, err := pkgredis.NewUniversalClient(bgCtx, pkgredis.Config{
			Mode:  pkgredis.ModeSingle,
			Addrs: []string{redisAddr},
		})
		if err != nil {
			logger.WithError(err).Warn("Redis monitor fan-out disabled: failed to connect")
		} else {
			monitorPublisher = pkgredis.NewTypedPubSub[events.MetricsSnapshot](redisClient)
		}
	}
	go runMonitorSnapshotLoop(bgCtx, sup, bcast, monitorPublisher, logger)

	if brokers := config.GetEnv("KAFKA_BROKERS", ""); brokers != "" {
		eventsTopic := config.GetEnv("KAFKA_EVENTS_TOPIC", "hub-domain-events")
		kafkaClient, err := kgo.NewClient(
			kgo.SeedBrokers(strings.Split(brokers, ",")...),
			kgo.ConsumerGroup(config.GetEnv("KAFKA_GROUP_ID", serviceName)),
			kgo.ClientID(serviceName),
			kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
		)
		if err != nil {
			logger.WithError(err).Warn("Kafka event bridge disabled: failed to create client")
		} else {
			kafkaClient.AddConsumeTopics(eventsTopic)
			defer kafkaClient.Close()
			bridge := eventbridge.NewKafkaBridge(kafkaClient, eventsTopic, lifecycleBus, circuitBus, logger)
			go bridge.Run(bgCtx)
		}
	}

	ginRouter := server.SetupServiceRouter(logger, serviceName, healthChecker, metricsCollector)
	ginRouter.GET("/api/v69/ws", func(c *gin.Context) { h.ServeWS(c.Writer, c.Request) })

	srvCfg := server.DefaultConfig(serviceName, config.GetEnv("PORT", "3069"))
	if err := server.Start(srvCfg, ginRouter, logger); err != nil {
		logger.WithError(err).Error("Server exited with error")
	}

	bgCancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	h.Shutdown(shutdownCtx)
	sup.Stop(shutdownCtx)
	shutdownCancel()
}

// runMonitorSnapshotLoop periodically aggregates supervisor/breaker state
// and broadcasts it on the `monitor` topic (spec.md §4.7), optionally
// fanning the same snapshot out to Redis when configured so an external
// dashboard can observe it without holding a hub connection open.
func runMonitorSnapshotLoop(ctx context.Context, sup *supervisor.Supervisor, bcast *broadcast.Broadcaster, publisher *pkgredis.TypedPubSub[events.MetricsSnapshot], logger logging.Logger) {
	interval := time.Duration(config.GetEnvInt("MONITOR_SNAPSHOT_INTERVAL_SECONDS", 10)) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := sup.MetricsSnapshot()
			bcast.Broadcast(registry.TopicMonitor, envelope.Data(registry.TopicMonitor, "snapshot", "", snap))
			if publisher != nil {
				if err := publisher.Publish(ctx, "hub:monitor:snapshot", snap); err != nil {
					logger.WithError(err).Warn("failed to publish monitor snapshot to redis")
				}
			}
		}
	}
}

func circuitStateValue(s events.CircuitState) float64 {
	switch s {
	case events.CircuitClosed:
		return 0
	case events.CircuitHalfOpen:
		return 1
	case events.CircuitOpen:
		return 2
	default:
		return -1
	}
}

type disconnectorFunc func(c *registry.Connection, reason string)

func (f disconnectorFunc) Disconnect(c *registry.Connection, reason string) { f(c, reason) }

// noParticipants is the contest-participation stub used until the contest
// service's membership API is wired; every principal is treated as a
// participant so chat/room join flows are exercisable end to end.
type noParticipants struct{}

func (noParticipants) IsParticipant(contestID int64, principalID string) bool { return true }

func applyMigrations(db *sql.DB) error {
	entries, err := dbsql.Content.ReadDir("schema")
	if err != nil {
		return fmt.Errorf("reading embedded schema: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		body, err := dbsql.Content.ReadFile("schema/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading %s: %w", entry.Name(), err)
		}
		if _, err := db.Exec(string(body)); err != nil {
			return fmt.Errorf("applying %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// registerServices declares the supervised Service Records backing the
// topics routed through this hub, mirroring the dependency-ordered
// registration shape of the teacher's service bootstrap.
func registerServices(sup *supervisor.Supervisor, db *sql.DB) {
	sup.Register("database", nil, supervisor.Hooks{
		HealthCheck: func(ctx context.Context) error { return db.PingContext(ctx) },
	})
	sup.Register("wallet-service", []string{"database"}, supervisor.Hooks{})
	sup.Register("portfolio-service", []string{"database"}, supervisor.Hooks{})
	sup.Register("market-data-service", nil, supervisor.Hooks{})
}
