package http

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-dashboard/internal/observability"
	apperrors "github.com/spec-kit/ticket-dashboard/pkg/util/errorutil"
)

// AppConfig configures NewApp.
type AppConfig struct {
	Name           string
	RequestTimeout time.Duration
	Logger         *zap.Logger
	Metrics        *observability.Metrics
}

// NewApp builds the fiber app with the JSON error envelope and the global
// middleware chain: request logging outermost, then panic recovery, then
// the per-request deadline.
func NewApp(cfg AppConfig) *fiber.App {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	app := fiber.New(fiber.Config{
		AppName:               cfg.Name,
		DisableStartupMessage: true,
		ErrorHandler:          ErrorHandler(logger, cfg.Metrics),
	})

	app.Use(observability.RequestLogger(logger, cfg.Metrics))
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c *fiber.Ctx, r any) {
			logger.Error("panic recovered",
				zap.String("path", c.Path()),
				zap.String("panic", fmt.Sprint(r)),
				zap.ByteString("stack", debug.Stack()))
		},
	}))
	if cfg.RequestTimeout > 0 {
		app.Use(requestDeadline(cfg.RequestTimeout))
	}
	return app
}

// ErrorHandler renders any error returned by the chain as
// {"error":{"code","message","details"}} with the mapped status.
func ErrorHandler(logger *zap.Logger, metrics *observability.Metrics) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		domainErr := apperrors.ToDomainError(err)
		metrics.RecordError(c.Route().Path, c.Method(), domainErr.Code)
		if domainErr.HTTPStatus >= fiber.StatusInternalServerError {
			logger.Error("request failed",
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.Error(domainErr))
		}

		body := fiber.Map{"code": domainErr.Code, "message": domainErr.Message}
		if len(domainErr.Details) > 0 {
			body["details"] = domainErr.Details
		}
		return c.Status(domainErr.HTTPStatus).JSON(fiber.Map{"error": body})
	}
}

func requestDeadline(timeout time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}
