package logger

import (
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Log is the process-wide logger. Init replaces it; tests use the default.
var Log = logrus.New()

// Init configures the JSON logger for the given service name and level.
func Init(service, level string) *logrus.Entry {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	l.SetOutput(os.Stdout)

	switch level {
	case "debug":
		l.SetLevel(logrus.DebugLevel)
	case "warn":
		l.SetLevel(logrus.WarnLevel)
	case "error":
		l.SetLevel(logrus.ErrorLevel)
	default:
		l.SetLevel(logrus.InfoLevel)
	}

	Log = l
	return l.WithField("service", service)
}

const requestIDKey = "request_id"

// RequestLogger tags every request with an id and logs method, path, status and latency.
func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqID := c.Get(fiber.HeaderXRequestID)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Locals(requestIDKey, reqID)
		c.Set(fiber.HeaderXRequestID, reqID)

		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if e, ok := err.(*fiber.Error); ok {
			status = e.Code
		} else if err != nil {
			status = fiber.StatusInternalServerError
		}

		entry := Log.WithFields(logrus.Fields{
			"request_id": reqID,
			"method":     c.Method(),
			"path":       c.Path(),
			"status":     status,
			"latency_ms": time.Since(start).Milliseconds(),
		})
		if status >= 500 {
			entry.Error("request failed")
		} else {
			entry.Debug("request completed")
		}
		return err
	}
}

// FromCtx returns a logger entry carrying the request id of c.
func FromCtx(c *fiber.Ctx) *logrus.Entry {
	if id, ok := c.Locals(requestIDKey).(string); ok {
		return Log.WithField("request_id", id)
	}
	return logrus.NewEntry(Log)
}
