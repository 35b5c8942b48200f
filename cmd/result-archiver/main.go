package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"bulksms/internal/adapters/db"
	"bulksms/internal/adapters/queue/rabbitmq"
	"bulksms/internal/config"
	"bulksms/internal/logging"
	"bulksms/internal/ports"
)

func main() {
	configPath := flag.String("config", "", "YAML config file")
	prefetch := flag.Int("prefetch", 20, "unacknowledged events held at once")
	flag.Parse()

	conf, err := config.Load(config.LoadOptions{ConfigFile: *configPath, NoValidate: true})
	if err == nil {
		err = conf.ValidateArchive()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(1)
	}
	log := logging.New(conf.LogLevel, conf.LogFormat)

	if conf.AMQPURL == "" || conf.ArchiveDriver == config.ArchiveNone {
		log.Error().Msg("result-archiver needs AMQP_URL and ARCHIVE_DRIVER")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Adapters ─────────────────────────────────────────────────────────────
	archive, err := db.OpenArchive(ctx, conf, log)
	if err != nil {
		log.Error().Err(err).Msg("open run archive")
		os.Exit(1)
	}
	defer archive.Close()

	consumer, err := rabbitmq.NewConsumer(conf.AMQPURL, *prefetch, log)
	if err != nil {
		log.Error().Err(err).Msg("connect rabbitmq consumer")
		os.Exit(1)
	}
	defer consumer.Close()

	log.Info().Str("driver", conf.ArchiveDriver).Msg("result-archiver started")

	var stored int
	err = consumer.Consume(ctx, func(ctx context.Context, ev ports.AttemptEvent) error {
		if err := archive.SaveAttempt(context.WithoutCancel(ctx), ev); err != nil {
			return err
		}
		stored++
		if stored%1000 == 0 {
			log.Info().Int("stored", stored).Msg("attempts archived")
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("consumer error")
		os.Exit(1)
	}

	log.Info().Int("stored", stored).Msg("shutting down result-archiver")
}
