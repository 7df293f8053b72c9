package middleware

import (
	"time"

	"stockledger/internal/common"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderActor     = "X-Actor"
)

// RequestContext copies the request id and acting identity onto the request
// context so ledger entries and logs can be correlated.
func RequestContext() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			requestID := req.Header.Get(HeaderRequestID)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			c.Response().Header().Set(HeaderRequestID, requestID)

			ctx := common.WithRequestID(req.Context(), requestID)
			if actor := req.Header.Get(HeaderActor); actor != "" {
				ctx = common.WithActor(ctx, actor)
			}
			c.SetRequest(req.WithContext(ctx))

			return next(c)
		}
	}
}

// RequestLogger logs one structured line per request.
func RequestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	logger = logger.Named("http")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			fields := []zap.Field{
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
				zap.Int("status", c.Response().Status),
				zap.Duration("latency", time.Since(start)),
			}
			if id, ok := common.RequestIDFromContext(c.Request().Context()); ok {
				fields = append(fields, zap.String("request_id", id))
			}
			if err != nil {
				logger.Warn("request failed", append(fields, zap.Error(err))...)
				return nil
			}
			logger.Debug("request", fields...)
			return nil
		}
	}
}
