package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestFetch_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "try again later", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("dump data"))
	}))
	defer srv.Close()

	ing := New(Config{HTTPClient: srv.Client(), FetchTimeout: 10 * time.Second})
	path, err := ing.fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(path)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "dump data" {
		t.Errorf("got %q, want %q", data, "dump data")
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("got %d requests, want 3", n)
	}
}

func TestFetch_NoRetryOnNotFound(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	ing := New(Config{HTTPClient: srv.Client(), FetchTimeout: 10 * time.Second})
	if _, err := ing.fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error for 404 response")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("got %d requests, want 1", n)
	}
}

func TestFetch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ing := New(Config{HTTPClient: srv.Client(), FetchTimeout: 500 * time.Millisecond})
	start := time.Now()
	if _, err := ing.fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error when the server keeps failing")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("fetch took %v, expected the timeout to cut it short", elapsed)
	}
}

func TestIngest_HTTPSource(t *testing.T) {
	dump := serializeAll(t,
		peerIndexMsg(t, 65001),
		ribMsg(t, 1, "10.0.0.0/24", asPath(65001, 64999)),
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(dump)
	}))
	defer srv.Close()

	dir := testDir(t)
	dbPath := filepath.Join(dir, "topology.db")
	cfg := Config{
		DatabasePath: dbPath,
		HTTPClient:   srv.Client(),
		FetchTimeout: 10 * time.Second,
	}
	stats, err := New(cfg).Run(context.Background(), []string{srv.URL + "/dump.mrt"})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Announcements != 1 {
		t.Errorf("got %d announcements, want 1", stats.Announcements)
	}

	db := openPublished(t, dbPath)
	if diff := cmp.Diff([]uint32{64999}, origins(t, db, "10.0.0.0/24")); diff != "" {
		t.Errorf("origins (-want +got):\n%s", diff)
	}
}
