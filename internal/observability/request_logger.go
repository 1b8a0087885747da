package observability

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	apperrors "github.com/spec-kit/ticket-dashboard/pkg/util/errorutil"
)

// RequestLogger logs every request and feeds request counters. It must run
// outside the app error handler: a returned error has not been rendered yet,
// so its status comes from the error itself.
func RequestLogger(logger *zap.Logger, metrics *Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = apperrors.StatusOf(err)
		}
		metrics.RecordRequest(c.Route().Path, c.Method(), status)
		logger.Info("request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.Bool("failed", err != nil))
		return err
	}
}
