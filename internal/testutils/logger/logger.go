package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/mutualcredit/mcledger/logger"
)

/*
New returns logger for test "t" on debug level.
*/
func New(t testing.TB) *slog.Logger {
	return NewLvl(t, slog.LevelDebug)
}

/*
NewLvl returns logger for test "t" on given log level.

Log output is written via t.Log so it is shown only for failing tests (or
when tests are run in verbose mode). Log level can be overridden with the
MCL_TEST_LOG_LEVEL environment variable.
*/
func NewLvl(t testing.TB, level slog.Level) *slog.Logger {
	if v := os.Getenv("MCL_TEST_LOG_LEVEL"); v != "" {
		lvl, err := logger.ParseLevel(v)
		if err != nil {
			t.Fatalf("invalid MCL_TEST_LOG_LEVEL: %v", err)
		}
		level = lvl
	}
	cfg := &logger.LogConfiguration{
		Level:        level.String(),
		Format:       logger.FormatText,
		TimeFormat:   "15:04:05.0000",
		PeerIDFormat: "short",
	}
	cfg.SetWriter(testLogWriter{t: t})
	l, err := logger.New(cfg)
	if err != nil {
		t.Fatalf("creating test logger: %v", err)
	}
	return l
}

/*
LoggerBuilder returns logger builder func which ignores the configuration
and returns test logger.
*/
func LoggerBuilder(t testing.TB) func(*logger.LogConfiguration) (*slog.Logger, error) {
	return func(*logger.LogConfiguration) (*slog.Logger, error) {
		return New(t), nil
	}
}

// NOP returns logger which discards everything.
func NOP() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type testLogWriter struct {
	t testing.TB
}

func (w testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}
