package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"bulksms/internal/adapters/db"
	"bulksms/internal/adapters/provider/httpapi"
	"bulksms/internal/adapters/queue/rabbitmq"
	"bulksms/internal/adapters/sink/csvfile"
	"bulksms/internal/app"
	"bulksms/internal/config"
	"bulksms/internal/logging"
	"bulksms/internal/ports"
	"bulksms/internal/progress"
	"bulksms/internal/ratelimit"
	"bulksms/internal/recipients"
	"bulksms/internal/report"
	"bulksms/internal/sender"
	"bulksms/internal/transport"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

func main() {
	os.Exit(run())
}

func run() int {
	csvPath := flag.String("csv", "", "recipient CSV file (required)")
	configPath := flag.String("config", "", "YAML config file")
	template := flag.String("template", "", "message template, overrides MESSAGE_TEMPLATE")
	dryRun := flag.Bool("dry-run", false, "simulate sends without calling the provider")
	flag.Parse()

	overrides := map[string]string{"MESSAGE_TEMPLATE": *template}
	if *dryRun {
		overrides["DRY_RUN"] = strconv.FormatBool(true)
	}

	conf, err := config.Load(config.LoadOptions{ConfigFile: *configPath, Overrides: overrides})
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		return 1
	}
	log := logging.New(conf.LogLevel, conf.LogFormat)

	if *csvPath == "" {
		log.Error().Msg("-csv is required")
		flag.Usage()
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Input ────────────────────────────────────────────────────────────────
	list, stats, err := recipients.ReadFile(*csvPath, recipients.Options{DefaultRegion: conf.DefaultRegion, Log: log})
	if err != nil {
		log.Error().Err(err).Str("csv", *csvPath).Msg("read recipients")
		return 1
	}
	log.Info().
		Int("rows", stats.Rows).
		Int("missing_phone", stats.MissingPhone).
		Int("invalid_phone", stats.InvalidPhone).
		Str("delimiter", strconv.QuoteRune(stats.Delimiter)).
		Msg("recipients loaded")

	// ── Adapters ─────────────────────────────────────────────────────────────
	archive, err := db.OpenArchive(ctx, conf, log)
	if err != nil {
		log.Error().Err(err).Msg("open run archive")
		return 1
	}
	if archive != nil {
		defer archive.Close()
	}

	var events app.EventPublisher
	if conf.AMQPURL != "" {
		pub, err := rabbitmq.NewPublisher(conf.AMQPURL, log)
		if err != nil {
			log.Error().Err(err).Msg("connect rabbitmq publisher")
			return 1
		}
		defer pub.Close()
		events = pub
	}

	var provider ports.SMSProvider
	if !conf.DryRun {
		provider = httpapi.New(httpapi.Options{
			BaseURL:         conf.ProviderURL,
			APIKey:          conf.ProviderAPIKey,
			Timeout:         conf.ProviderTimeout,
			DeliveryReports: conf.EnableDeliveryReports,
			Log:             log,
		})
	}

	// ── Core ─────────────────────────────────────────────────────────────────
	limiter := ratelimit.New(ratelimit.Config{
		MaxConcurrent:       conf.MaxConcurrentRequests,
		RequestsPerMinute:   conf.RequestsPerMinute,
		DelayBetweenBatches: conf.DelayBetweenBatches,
		FailureThreshold:    conf.BreakerFailureThreshold,
		BreakerTimeout:      conf.BreakerTimeout,
		BreakerRetryWait:    conf.RetryDelay,
	}, log)

	gate := sender.New(sender.Options{
		Limiter:       limiter,
		Provider:      provider,
		From:          conf.FromNumber,
		RetryAttempts: conf.RetryAttempts,
		RetryDelay:    conf.RetryDelay,
		DryRun:        conf.DryRun,
		Log:           log,
	})

	dispatcher := app.NewDispatcher(app.DispatcherOptions{
		Sender:    gate,
		Pacer:     limiter,
		BatchSize: conf.BatchSize,
		Log:       log,
	})

	tracker := progress.NewTracker()
	sinks := progress.Fanout(progress.NewConsole(log, 2*time.Second), tracker)

	svc := app.NewBroadcastService(dispatcher, sinks, archive, events, app.RunOptions{
		ResultsDir: conf.ResultsDir,
		Template:   conf.MessageTemplate,
		Sink:       csvfile.Options{QueueSize: conf.SinkQueueSize, CloseTimeout: conf.SinkCloseTimeout},
	}, log)

	if conf.StatusAddr != "" {
		srv := startStatusServer(conf.StatusAddr, tracker, limiter, log)
		defer srv.Shutdown() //nolint:errcheck
	}

	log.Info().
		Bool("dry_run", conf.DryRun).
		Int("recipients", len(list)).
		Int("batch_size", conf.BatchSize).
		Int("rpm", conf.RequestsPerMinute).
		Msg("sms-dispatch starting")

	rep, err := svc.Run(ctx, list)
	if err != nil {
		var initErr *csvfile.InitError
		if errors.As(err, &initErr) {
			log.Error().Err(err).Str("path", initErr.Path).Msg("cannot create results file, nothing was sent")
		} else {
			log.Error().Err(err).Msg("run failed")
		}
		return 1
	}

	fmt.Println(report.Format(rep.State))
	log.Info().
		Str("results", rep.ResultsPath).
		Str("summary", rep.SummaryPath).
		Str("status", string(rep.State.Status)).
		Msg("sms-dispatch finished")
	return 0
}

func startStatusServer(addr string, tracker *progress.Tracker, limiter *ratelimit.Limiter, log zerolog.Logger) *fiber.App {
	srv := transport.NewApp(transport.NewHandler("", tracker, limiter, log))
	go func() {
		log.Info().Str("addr", addr).Msg("status server listening")
		if err := srv.Listen(addr); err != nil {
			log.Error().Err(err).Msg("status server")
		}
	}()
	return srv
}
