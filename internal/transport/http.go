package transport

import (
	"time"

	"bulksms/internal/domain"
	"bulksms/internal/middleware"
	"bulksms/internal/ratelimit"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// ProgressSource yields the latest progress report of the running batch.
type ProgressSource interface {
	Latest() (domain.Progress, bool)
}

// LimiterSource yields the current rate limiter state.
type LimiterSource interface {
	Snapshot() ratelimit.State
}

// Handler serves the read-only status API of a running dispatch.
type Handler struct {
	progress ProgressSource
	limiter  LimiterSource // optional
	runID    string
	started  time.Time
	log      zerolog.Logger
}

// NewHandler wires up a Handler with its dependencies.
func NewHandler(runID string, progress ProgressSource, limiter LimiterSource, log zerolog.Logger) *Handler {
	return &Handler{
		progress: progress,
		limiter:  limiter,
		runID:    runID,
		started:  time.Now(),
		log:      log.With().Str("component", "status_http").Logger(),
	}
}

// NewApp builds the fiber app with the security middleware and routes.
func NewApp(h *Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "sms-dispatch-status",
		DisableStartupMessage: true,
	})
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.SecurityHeaders())
	app.Use(middleware.DDoSProtection())
	h.Register(app)
	return app
}

// Register mounts all routes onto the given Fiber router.
func (h *Handler) Register(router fiber.Router) {
	router.Get("/health", h.Health)
	router.Get("/api/progress", h.Progress)
}

type healthResponse struct {
	Status string `json:"status"`
	RunID  string `json:"run_id,omitempty"`
	Uptime string `json:"uptime"`
}

// Health reports liveness.
//
// GET /health
func (h *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(healthResponse{
		Status: "ok",
		RunID:  h.runID,
		Uptime: time.Since(h.started).Round(time.Second).String(),
	})
}

type progressResponse struct {
	RunID     string           `json:"run_id,omitempty"`
	Started   bool             `json:"started"`
	Progress  domain.Progress  `json:"progress"`
	Percent   float64          `json:"percent"`
	ElapsedMS int64            `json:"elapsed_ms"`
	Limiter   *ratelimit.State `json:"limiter,omitempty"`
}

// Progress returns the latest progress report and limiter state.
//
// GET /api/progress
func (h *Handler) Progress(c *fiber.Ctx) error {
	p, ok := h.progress.Latest()
	resp := progressResponse{RunID: h.runID, Started: ok, Progress: p}
	if ok {
		resp.Percent = p.Percent()
		resp.ElapsedMS = p.Elapsed.Milliseconds()
	}
	if h.limiter != nil {
		st := h.limiter.Snapshot()
		resp.Limiter = &st
	}
	return c.JSON(resp)
}
