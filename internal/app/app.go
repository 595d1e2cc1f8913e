package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"shrike/internal/app/server"
	"shrike/internal/bus"
	"shrike/internal/collector"
	"shrike/internal/comparator"
	"shrike/internal/config"
	"shrike/internal/database"
	"shrike/internal/enricher"
	"shrike/internal/geolite"
	"shrike/internal/jobs/maintenance"
	"shrike/internal/jobs/runtime"
	"shrike/internal/recorder"
	"shrike/internal/store"
	"shrike/internal/support"
)

const defaultAPIPort = 8082

func Run() error {
	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file found. Falling back to system environment variables.")
	}

	log.SetLevel(log.DebugLevel)

	apiPortFlag := flag.Int("api-port", defaultAPIPort, "Port for API server")
	productionFlag := flag.Bool("production", false, "Run in production mode")
	flag.Parse()

	config.SetProductionMode(*productionFlag)
	config.ReadSettings()

	apiPort := resolvePort("API_PORT", "api-port", *apiPortFlag)

	redisClient, err := support.GetRedisClient()
	if err != nil {
		return fmt.Errorf("failed to get redis client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	config.EnableRedisSynchronization(ctx, redisClient)
	defer config.DisableRedisSynchronization()

	heartbeatCancel := runtime.LaunchInstanceHeartbeat(ctx, redisClient)
	defer heartbeatCancel()

	if _, err := database.SetupDB(); err != nil {
		return fmt.Errorf("failed to set up database: %w", err)
	}

	cfg := config.GetConfig()

	rawQueue := bus.NewRedisQueue(redisClient, cfg.Queues.Raw)
	enrichedQueue := bus.NewRedisQueue(redisClient, cfg.Queues.Enriched)
	comparedQueue := bus.NewRedisQueue(redisClient, cfg.Queues.Compared)

	snapshot := store.NewFileStore(cfg.Comparator.SnapshotPath)
	dispatcher := comparator.NewDispatcher(snapshot.Load(), snapshot, comparedQueue, comparator.Options{
		SeriesTimeout:  config.GetSeriesTimeout(),
		StrictOrdering: cfg.Comparator.StrictOrdering,
	})

	geo := enricher.New(rawQueue, enrichedQueue)
	geo.LoadDatabases()
	defer geo.Close()
	geolite.OnUpdate(geo.LoadDatabases)

	feedCollector := collector.New(rawQueue)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		feedCollector.StartFetchRoutine(groupCtx)
		return nil
	})

	group.Go(func() error {
		runtime.StartGeoLiteUpdateRoutine(groupCtx)
		return nil
	})

	group.Go(func() error {
		maintenance.StartEntryCleanupRoutine(groupCtx)
		return nil
	})

	group.Go(func() error {
		return geo.Run(groupCtx)
	})

	group.Go(func() error {
		return runComparator(groupCtx, dispatcher, enrichedQueue)
	})

	group.Go(func() error {
		return recorder.New(comparedQueue).Run(groupCtx)
	})

	group.Go(func() error {
		return server.OpenRoutes(apiPort)
	})

	return group.Wait()
}

// runComparator feeds enriched events into the dispatcher. Malformed and
// stale messages are rejected individually; an ordering violation is fatal
// only when strict ordering is configured.
func runComparator(ctx context.Context, dispatcher *comparator.Dispatcher, consumer bus.Consumer) error {
	for {
		delivery, err := consumer.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("comparator: receive: %w", err)
		}

		if err := dispatcher.HandleMessage(ctx, delivery.Body); err != nil {
			var outOfOrder *comparator.OutOfOrderError
			if errors.As(err, &outOfOrder) && dispatcher.StrictOrdering() {
				return fmt.Errorf("comparator: %w", err)
			}
			log.Warn("Rejected enriched event", "error", err)
		}
	}
}

func resolvePort(primaryEnv, legacyEnv string, fallback int) int {
	if port := readPort(primaryEnv); port != 0 {
		return port
	}
	if port := readPort(legacyEnv); port != 0 {
		return port
	}
	return fallback
}

func readPort(envKey string) int {
	raw := os.Getenv(envKey)
	if raw == "" {
		return 0
	}
	port, err := strconv.Atoi(raw)
	if err != nil || port == 0 {
		log.Warn("invalid port override", "env", envKey, "value", raw)
		return 0
	}
	return port
}
