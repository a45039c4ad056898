package main

import (
	"context"

	"classbook/internal/bookings/events"
	bookingshandler "classbook/internal/bookings/handler"
	bookingsrepo "classbook/internal/bookings/repository"
	bookingsservice "classbook/internal/bookings/service"
	"classbook/internal/health"
	packageshandler "classbook/internal/packages/handler"
	packagesrepo "classbook/internal/packages/repository"
	packagesservice "classbook/internal/packages/service"
	scheduleshandler "classbook/internal/schedules/handler"
	schedulesrepo "classbook/internal/schedules/repository"
	schedulesservice "classbook/internal/schedules/service"
	"classbook/internal/schedules/validator"
	"classbook/internal/slots"
	"classbook/internal/slots/counter"
	"classbook/pkg/app"
	"classbook/pkg/config"
	"classbook/pkg/kafka"
	kafka_config "classbook/pkg/kafka/config"
)

const ServiceName = "classbook-api"

func main() {
	cfg := config.Load(ServiceName)

	cfg.SetMongo()
	if cfg.FastPathEnabled {
		cfg.SetRedis()
	}

	serverApp := app.NewApplication(cfg)
	serverApp.OnShutdown(cfg.GracefulShutdown)

	coordinator := initCoordinator(cfg)
	publisher := initPublisher(cfg, serverApp)

	classRepo := schedulesrepo.NewMongoClassRepository(cfg)
	grantRepo := packagesrepo.NewMongoGrantRepository(cfg)
	bookingRepo := bookingsrepo.NewMongoBookingRepository(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.WriteTimeout)
	if err := bookingRepo.EnsureIndexes(ctx); err != nil {
		cfg.Log.Fatal("Failed to create booking indexes", "error", err)
	}
	cancel()

	classService := schedulesservice.NewClassService(
		classRepo,
		validator.NewClassValidator(cfg.Log),
		coordinator,
		cfg,
	)
	packageService := packagesservice.NewPackageService(grantRepo, cfg)
	bookingService := bookingsservice.NewBookingService(
		bookingRepo,
		classRepo,
		grantRepo,
		coordinator,
		publisher,
		cfg,
	)

	cfg.Log.Info("Services initialized", "database", cfg.MongoDatabaseName)

	serverApp.SetApp(
		health.NewHandler(cfg.Client.Mongo, coordinator, cfg.Log),
		scheduleshandler.NewClassHandler(classService, cfg.Log),
		packageshandler.NewPackageHandler(packageService, cfg.Log),
		bookingshandler.NewBookingHandler(bookingService, cfg.Log),
	)
	serverApp.Run()
}

func initCoordinator(cfg *config.Config) *slots.Coordinator {
	var slotCounter counter.Counter
	if cfg.FastPathEnabled && cfg.Client.Redis != nil {
		slotCounter = counter.NewRedisCounter(cfg.Client.Redis)
		cfg.Log.Info("Fast-path slot counter enabled", "addr", cfg.RedisAddr)
	} else {
		cfg.Log.Info("Fast path disabled, bookings use the ledger only")
	}
	return slots.NewCoordinator(slotCounter, cfg.RedisOpTimeout, cfg.Log)
}

// initPublisher builds the Kafka event publisher. Booking events are best
// effort, so a missing broker downgrades to a no-op publisher instead of
// blocking startup.
func initPublisher(cfg *config.Config, serverApp *app.Application) events.Publisher {
	kafkaCfg, err := kafka_config.Load()
	if err != nil {
		cfg.Log.Warn("Kafka configuration invalid, booking events disabled", "error", err)
		return events.NopPublisher{}
	}

	producer, err := kafka.NewProducer(kafkaCfg, events.Topic)
	if err != nil {
		cfg.Log.Warn("Kafka producer unavailable, booking events disabled", "error", err)
		return events.NopPublisher{}
	}

	serverApp.OnShutdown(func() {
		if err := producer.Close(); err != nil {
			cfg.Log.Error("Failed to close Kafka producer", "error", err)
		}
	})

	cfg.Log.Info("Booking event publisher initialized", "topic", events.Topic)
	return events.NewKafkaPublisher(producer, cfg.Log)
}
