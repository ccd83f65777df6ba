package log

import (
	"context"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// InitLogs returns the logger used when a component is not handed one.
// An unparsable level leaves the logrus default (info) in place.
func InitLogs(level string) *logrus.Logger {
	log := logrus.New()
	log.SetReportCaller(true)
	if lvl, err := logrus.ParseLevel(level); err == nil {
		log.SetLevel(lvl)
	}
	return log
}

// WithReqIDFromCtx adds the request id stored in ctx by middleware.RequestID.
// Statements executed outside an HTTP request get an empty request_id.
func WithReqIDFromCtx(ctx context.Context, inner logrus.FieldLogger) logrus.FieldLogger {
	if ctx == nil {
		return inner
	}
	return inner.WithField("request_id", middleware.GetReqID(ctx))
}

func WithHistory(inner logrus.FieldLogger, name string) logrus.FieldLogger {
	return inner.WithField("history", name)
}
