package cli

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/runnerr0/trail/internal/config"
	"github.com/runnerr0/trail/internal/engine"
	"github.com/runnerr0/trail/internal/history"
)

// captureOutput captures stdout during fn execution and returns it as a string.
func captureOutput(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		done <- buf.String()
	}()

	fn()

	w.Close()
	os.Stdout = old
	return <-done
}

// testConfig returns defaults pointed at a temp directory and a daemon port
// nothing listens on.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.Path = t.TempDir()
	cfg.Daemon.Host = "127.0.0.1"
	cfg.Daemon.Port = freePort(t)
	cfg.Logging.File = ""
	cfg.Logging.Level = "error"
	return cfg
}

// newTestEngine opens an engine on a fresh database with audit logging on.
func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	eng, err := engine.New(engine.Options{
		Path:     filepath.Join(t.TempDir(), "trail.db"),
		AuditLog: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })
	return eng
}

// seedVisit records a visit that happened ago before now.
func seedVisit(t *testing.T, eng *engine.Engine, url, title string, ago time.Duration) history.VisitID {
	t.Helper()
	id, err := eng.RecordVisit(context.Background(), history.Visit{
		URL:       url,
		Title:     title,
		VisitTime: time.Now().Add(-ago).Unix(),
	})
	require.NoError(t, err)
	return id
}

func countVisits(t *testing.T, eng *engine.Engine) int64 {
	t.Helper()
	n, err := eng.CountVisits(context.Background())
	require.NoError(t, err)
	return n
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}
