package web

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mwaldron/kanban/internal/db"
)

func TestSSEShutdownWithConnectedClient(t *testing.T) {
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := NewServer(database, logger)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/api/events")
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("failed to read stream: %v", err)
	}
	if !strings.Contains(line, "connected") {
		t.Fatalf("expected connected event, got %q", line)
	}
	for line != "\n" {
		if line, err = reader.ReadString('\n'); err != nil {
			t.Fatalf("failed to read stream: %v", err)
		}
	}

	// The connected event above guarantees the client is registered.
	srv.Broadcast("board-update")
	if line, err = reader.ReadString('\n'); err != nil {
		t.Fatalf("failed to read broadcast: %v", err)
	}
	if !strings.Contains(line, "board-update") {
		t.Fatalf("expected board-update event, got %q", line)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}

	// The handler returns on shutdown and the stream ends cleanly.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		t.Fatalf("expected clean stream end, got %v", err)
	}

	// A broadcast after shutdown must not send on a closed channel.
	srv.Broadcast("board-update")
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("repeat shutdown failed: %v", err)
	}
}
