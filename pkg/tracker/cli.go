package tracker

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/buswatch/buswatch/pkg/database"
	"github.com/buswatch/buswatch/pkg/elastic_client"
	"github.com/buswatch/buswatch/pkg/events"
	"github.com/buswatch/buswatch/pkg/model"
	"github.com/buswatch/buswatch/pkg/redis_client"
	"github.com/buswatch/buswatch/pkg/tracker/detector"
	"github.com/buswatch/buswatch/pkg/tracker/locationcache"
	"github.com/buswatch/buswatch/pkg/tracker/resolver"
	"github.com/buswatch/buswatch/pkg/tracker/scheduler"
	"github.com/buswatch/buswatch/pkg/tracker/sighting"
	"github.com/buswatch/buswatch/pkg/tracker/source"
	"github.com/buswatch/buswatch/pkg/tracker/store"
	"github.com/buswatch/buswatch/pkg/tracker/timetable"
	"github.com/eko/gocache/lib/v4/cache"
	gocachestore "github.com/eko/gocache/lib/v4/store"
	redisstore "github.com/eko/gocache/store/redis/v4"
	"github.com/kr/pretty"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "tracker",
		Usage: "Ingest live vehicle positions from the configured sources",
		Subcommands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Poll every source in the registry and track vehicles",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "registry",
						Usage:   "Path to the source registry YAML",
						Value:   "sources.yaml",
						EnvVars: []string{"BUSWATCH_SOURCES_FILE"},
					},
				},
				Action: runTracker,
			},
			{
				Name:  "rebuild-cache",
				Usage: "Repopulate the live vehicle cache from the database",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "ttl",
						Usage: "Lifetime for the rebuilt entries",
						Value: 15 * time.Minute,
					},
				},
				Action: runRebuildCache,
			},
			{
				Name:  "test-resolve",
				Usage: "Run a hand-crafted sighting through the resolvers and print the result",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "registry",
						Value:   "sources.yaml",
						EnvVars: []string{"BUSWATCH_SOURCES_FILE"},
					},
					&cli.StringFlag{Name: "source", Required: true},
					&cli.StringFlag{Name: "code", Usage: "Vendor vehicle code", Required: true},
					&cli.StringFlag{Name: "line", Usage: "Line label"},
					&cli.StringFlag{Name: "operator", Usage: "Vendor operator hint"},
					&cli.StringFlag{Name: "destination"},
					&cli.Float64Flag{Name: "lat"},
					&cli.Float64Flag{Name: "lon"},
				},
				Action: runTestResolve,
			},
		},
	}
}

func runTracker(c *cli.Context) error {
	if err := database.Connect(); err != nil {
		return err
	}
	if err := redis_client.Connect(); err != nil {
		return err
	}
	if err := elastic_client.Connect(false); err != nil {
		log.Error().Err(err).Msg("Failed to connect to Elasticsearch")
	}

	registry, err := source.LoadRegistry(c.String("registry"))
	if err != nil {
		return err
	}

	publisher, err := events.NewPublisher()
	if err != nil {
		return err
	}

	mongoStore := store.NewMongoStore()
	liveCache := locationcache.NewCache(redis_client.Client)

	serviceCache := cache.New[string](redisstore.NewRedis(
		redis_client.Client,
		gocachestore.WithExpiration(6*time.Hour),
	))

	var workers []*scheduler.Worker
	for _, descriptor := range registry {
		pipeline := &scheduler.Pipeline{
			Store: mongoStore,

			Cache:    liveCache,
			CacheTTL: descriptor.CacheTTLDuration(),

			Vehicles: &resolver.VehicleResolver{Store: mongoStore, Alerts: publisher},
			Services: &resolver.ServiceResolver{Cache: serviceCache},
			Journeys: &resolver.JourneyResolver{
				Journeys:  mongoStore,
				Locations: mongoStore,
				Timetable: timetable.NewMongoTripFinder(),
			},
			Detector: &detector.Detector{StaleAfter: descriptor.StaleAfterDuration()},
		}

		workers = append(workers, &scheduler.Worker{
			Descriptor: descriptor,

			Store:    mongoStore,
			Pipeline: pipeline,

			Alerts: publisher,

			Clock: scheduler.RealClock,
		})
	}

	ctx, cancel := context.WithCancel(context.Background())

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalChan
		log.Info().Msg("Shutting down")
		cancel()
	}()

	manager := &scheduler.Manager{Workers: workers}
	manager.Run(ctx)

	elastic_client.WaitUntilQueueEmpty()

	return nil
}

func runRebuildCache(c *cli.Context) error {
	if err := database.Connect(); err != nil {
		return err
	}
	if err := redis_client.Connect(); err != nil {
		return err
	}

	ctx := context.Background()

	mongoStore := store.NewMongoStore()
	liveCache := locationcache.NewCache(redis_client.Client)

	locations, err := mongoStore.GetLatestLocationPerVehicle(ctx)
	if err != nil {
		return err
	}

	var entries []*locationcache.Entry
	for _, location := range locations {
		if !location.Current {
			continue
		}

		entry := locationcache.NewEntryFromLocation(location)

		if journey, err := mongoStore.GetJourney(ctx, location.JourneyRef); err == nil && journey != nil {
			entry.ServiceRef = journey.ServiceRef
			entry.RouteLabel = journey.RouteLabel
			entry.DestinationText = journey.DestinationText
		}
		if vehicle, err := mongoStore.GetVehicle(ctx, location.VehicleRef); err == nil && vehicle != nil {
			entry.OperatorRef = vehicle.OperatorRef
		}

		entries = append(entries, entry)
	}

	if err := liveCache.Rebuild(ctx, entries, c.Duration("ttl")); err != nil {
		return err
	}

	log.Info().Int("entries", len(entries)).Msg("Rebuilt live vehicle cache")

	return nil
}

func runTestResolve(c *cli.Context) error {
	if err := database.Connect(); err != nil {
		return err
	}

	registry, err := source.LoadRegistry(c.String("registry"))
	if err != nil {
		return err
	}

	var descriptor *source.Descriptor
	for _, candidate := range registry {
		if candidate.Name == c.String("source") {
			descriptor = candidate
			break
		}
	}
	if descriptor == nil {
		log.Fatal().Str("source", c.String("source")).Msg("Source not in registry")
	}

	record := &sighting.Sighting{
		VendorVehicleCode: c.String("code"),
		LineLabel:         c.String("line"),
		OperatorHint:      c.String("operator"),
		DestinationText:   c.String("destination"),
		Location:          model.NewPoint(c.Float64("lon"), c.Float64("lat")),
		RecordedAt:        time.Now(),
	}

	ctx := context.Background()
	mongoStore := store.NewMongoStore()

	refData, err := resolver.LoadRefData(ctx, mongoStore, descriptor.Operators)
	if err != nil {
		return err
	}

	vehicleResolver := &resolver.VehicleResolver{Store: mongoStore}
	vehicle, created, err := vehicleResolver.Resolve(ctx, record, descriptor)
	if err != nil {
		return err
	}

	serviceResolver := &resolver.ServiceResolver{}
	outcome := serviceResolver.Resolve(ctx, record, vehicle.OperatorRef, descriptor, refData)

	pretty.Println("vehicle (created:", created, ")")
	pretty.Println(vehicle)
	pretty.Println("service outcome")
	pretty.Println(outcome)

	return nil
}
