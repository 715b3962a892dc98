package provider

import (
	"context"
	"log/slog"
)

// Log is the development provider: events land in the structured log instead
// of a remote backend.
type Log struct{}

// NewLog creates a logging provider.
func NewLog() *Log {
	return &Log{}
}

func (l *Log) Send(_ context.Context, p Payload) error {
	slog.Info("analytics event",
		"event", p.Name,
		"at", p.At,
		"field_count", len(p.Fields),
		"fields", p.Fields,
	)
	return nil
}
