package main

import (
	"context"
	"math/rand/v2"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bulksms/internal/adapters/provider/httpapi"
	"bulksms/internal/logging"
	"bulksms/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// mockOptions controls the faults the mock injects.
type mockOptions struct {
	APIKey         string
	QuotaPerMinute int           // per API key; 429 beyond it
	FailureRate    float64       // share of 503 answers
	Latency        time.Duration // added to every accepted request
	MaxPerSecond   float64       // overall throughput, 0 = unlimited
	RejectPrefix   string        // destinations answered with successful=false
}

type sendRequest struct {
	From           string `json:"from"`
	To             string `json:"to"`
	Body           string `json:"body"`
	DeliveryReport bool   `json:"delivery_report"`
}

type sendResponse struct {
	MessageID    string `json:"message_id"`
	Successful   bool   `json:"successful"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func main() {
	_ = godotenv.Load()
	log := logging.New(getenv("LOG_LEVEL", "info"), getenv("LOG_FORMAT", "json"))

	addr := getenv("HTTP_ADDR", ":9090")
	opts := mockOptions{
		APIKey:         getenv("MOCK_API_KEY", "test-key"),
		QuotaPerMinute: getenvInt("MOCK_QUOTA_PER_MINUTE", 600),
		FailureRate:    getenvFloat("MOCK_FAILURE_RATE", 0),
		Latency:        getenvDuration("MOCK_LATENCY", 50*time.Millisecond),
		MaxPerSecond:   getenvFloat("MOCK_MAX_PER_SECOND", 0),
		RejectPrefix:   getenv("MOCK_REJECT_PREFIX", ""),
	}

	quota := middleware.NewRateLimiter(opts.QuotaPerMinute, time.Minute,
		middleware.WithKeyFunc(func(c *fiber.Ctx) string { return c.Get(fiber.HeaderAuthorization) }))
	defer quota.Stop()

	fiberApp := newApp(opts, quota, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", addr).Float64("failure_rate", opts.FailureRate).Msg("mock-sms-provider listening")
		if err := fiberApp.Listen(addr); err != nil {
			log.Error().Err(err).Msg("fiber listen")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down mock-sms-provider")
	_ = fiberApp.Shutdown()
}

func newApp(opts mockOptions, quota *middleware.RateLimiter, log zerolog.Logger) *fiber.App {
	throughput := rate.NewLimiter(rate.Inf, 1)
	if opts.MaxPerSecond > 0 {
		throughput = rate.NewLimiter(rate.Limit(opts.MaxPerSecond), max(1, int(opts.MaxPerSecond)))
	}

	fiberApp := fiber.New(fiber.Config{AppName: "mock-sms-provider", DisableStartupMessage: true})
	fiberApp.Get("/health", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"status": "ok"}) })

	handlers := []fiber.Handler{bearerAuth(opts.APIKey)}
	if quota != nil {
		handlers = append(handlers, quota.Middleware())
	}

	// POST /v1/messages accepts one SMS submission.
	fiberApp.Post(httpapi.MessagesPath, append(handlers, func(c *fiber.Ctx) error {
		var req sendRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
		}
		if req.To == "" || req.Body == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "to and body are required"})
		}

		if err := throughput.Wait(c.UserContext()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "shutting down"})
		}
		if opts.Latency > 0 {
			time.Sleep(opts.Latency)
		}

		if opts.FailureRate > 0 && rand.Float64() < opts.FailureRate {
			log.Warn().Str("to", req.To).Msg("injected provider failure")
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "temporary gateway failure"})
		}

		if opts.RejectPrefix != "" && strings.HasPrefix(req.To, opts.RejectPrefix) {
			return c.Status(fiber.StatusOK).JSON(sendResponse{Successful: false, ErrorMessage: "destination blocked"})
		}

		id := uuid.NewString()
		log.Info().
			Str("message_id", id).
			Str("from", req.From).
			Str("to", req.To).
			Bool("delivery_report", req.DeliveryReport).
			Msg("mock provider accepted message")
		return c.Status(fiber.StatusAccepted).JSON(sendResponse{MessageID: id, Successful: true})
	})...)

	return fiberApp
}

func bearerAuth(key string) fiber.Handler {
	want := "Bearer " + key
	return func(c *fiber.Ctx) error {
		if c.Get(fiber.HeaderAuthorization) != want {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid API key"})
		}
		return c.Next()
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(k)); err == nil {
		return n
	}
	return def
}

func getenvFloat(k string, def float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(k), 64); err == nil {
		return f
	}
	return def
}

func getenvDuration(k string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(k)); err == nil {
		return d
	}
	return def
}
