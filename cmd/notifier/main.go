package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"classbook/internal/bookings/events"
	"classbook/internal/notifier"
	"classbook/pkg/kafka"
	kafka_config "classbook/pkg/kafka/config"
	"classbook/pkg/logger"
)

const (
	ServiceName   = "classbook-notifier"
	consumerGroup = "classbook-notifier"
	dlqTopic      = "booking-events-dlq"
)

func main() {
	log := logger.New(logger.Config{
		Level:   getEnv("LOG_LEVEL", logger.INFO),
		Format:  logger.JSON,
		Service: ServiceName,
	})

	kafkaCfg, err := kafka_config.Load()
	if err != nil {
		log.Fatal("Invalid Kafka configuration", "error", err)
	}

	worker := notifier.NewWorker(&notifier.LogSender{Log: log}, log)

	consumer, err := kafka.NewConsumer(kafkaCfg, events.Topic, consumerGroup, dlqTopic, worker.Handle)
	if err != nil {
		log.Fatal("Failed to create consumer", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Notifier started",
		"topic", events.Topic,
		"group", consumerGroup,
		"brokers", kafkaCfg.Brokers,
	)

	if err := consumer.Run(ctx); err != nil {
		log.Error("Consumer stopped with error", "error", err)
	}

	if err := consumer.Close(); err != nil {
		log.Error("Failed to close consumer", "error", err)
	}
	log.Info("Notifier stopped")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
