package logger

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	p2ptest "github.com/libp2p/go-libp2p/core/test"
	"github.com/stretchr/testify/require"

	"github.com/mutualcredit/mcledger/logger"
)

// recordingTB collects the lines logged via t.Log
type recordingTB struct {
	testing.TB
	lines []string
}

func (r *recordingTB) Log(args ...any) { r.lines = append(r.lines, fmt.Sprint(args...)) }
func (r *recordingTB) Helper()         {}

func TestNew(t *testing.T) {
	t.Setenv("MCL_TEST_LOG_LEVEL", "")
	id, err := p2ptest.RandPeerID()
	require.NoError(t, err)

	rec := &recordingTB{TB: t}
	l := New(rec).With(logger.NodeID(id))
	l.Debug("offer received", logger.TxAddress("8f0c2e6a"))
	require.Len(t, rec.lines, 1)
	line := rec.lines[0]
	require.Contains(t, line, `msg="offer received"`)
	require.Contains(t, line, "tx_address=8f0c2e6a")
	// peer ID is shortened, no trailing newline
	require.Contains(t, line, "node_id="+id.String()[:2]+"*")
	require.NotContains(t, line, id.String())
	require.NotContains(t, line, "\n")
}

func TestNewLvl(t *testing.T) {
	t.Run("level is respected", func(t *testing.T) {
		t.Setenv("MCL_TEST_LOG_LEVEL", "")
		rec := &recordingTB{TB: t}
		l := NewLvl(rec, slog.LevelInfo)
		l.Debug("not logged")
		l.Info("logged")
		require.Len(t, rec.lines, 1)
		require.Contains(t, rec.lines[0], "msg=logged")
	})

	t.Run("level from environment", func(t *testing.T) {
		t.Setenv("MCL_TEST_LOG_LEVEL", "warn")
		rec := &recordingTB{TB: t}
		l := NewLvl(rec, slog.LevelDebug)
		require.False(t, l.Enabled(context.Background(), slog.LevelInfo))
		require.True(t, l.Enabled(context.Background(), slog.LevelWarn))
	})
}

func TestLoggerBuilder(t *testing.T) {
	build := LoggerBuilder(t)
	// configuration is ignored
	l, err := build(&logger.LogConfiguration{Level: "foo"})
	require.NoError(t, err)
	require.True(t, l.Enabled(context.Background(), slog.LevelDebug))
}

func TestNOP(t *testing.T) {
	require.False(t, NOP().Enabled(context.Background(), slog.LevelError))
}
