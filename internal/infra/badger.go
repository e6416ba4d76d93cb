package infra

import (
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
)

// OpenBadger opens the embedded wallet journal at dir.
func OpenBadger(dir string, logger *slog.Logger) (*badger.DB, error) {
	if dir == "" {
		return nil, fmt.Errorf("badger path is required")
	}
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{logger})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return db, nil
}

// badgerLogger routes Badger's printf-style logs into slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}
