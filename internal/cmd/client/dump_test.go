package client

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	cfgpkg "github.com/rzbill/ebb/internal/config"
	"github.com/rzbill/ebb/internal/runtime"
	httpserver "github.com/rzbill/ebb/internal/server/http"
	pebblestore "github.com/rzbill/ebb/internal/storage/pebble"
	logpkg "github.com/rzbill/ebb/pkg/log"
)

func startTestAPI(t *testing.T) (BaseURLFunc, *runtime.Runtime) {
	t.Helper()
	logger, _ := logpkg.ApplyConfig(&logpkg.Config{Level: "error", Format: "text"})
	rt, err := runtime.Open(runtime.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever, Config: cfgpkg.Default(), Logger: logger})
	if err != nil {
		t.Fatalf("rt open: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	srv := httptest.NewServer(httpserver.New(rt).Handler())
	t.Cleanup(srv.Close)
	return func() string { return srv.URL }, rt
}

func TestCollectionCreateCommand(t *testing.T) {
	baseURL, _ := startTestAPI(t)

	cmd := NewCollectionCommand(baseURL)
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"create", "--name", "orders"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(buf.String(), "created default/orders") {
		t.Fatalf("unexpected output: %s", buf.String())
	}
}

func TestDocInsertCommand(t *testing.T) {
	baseURL, _ := startTestAPI(t)

	coll := NewCollectionCommand(baseURL)
	coll.SetArgs([]string{"create", "--name", "orders"})
	coll.SetOut(&bytes.Buffer{})
	if err := coll.Execute(); err != nil {
		t.Fatalf("create collection: %v", err)
	}

	cmd := NewDocCommand(baseURL)
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"insert", "--collection", "orders", "--key", "o1", "--data", `{"total":3}`})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(buf.String(), "inserted o1 (rev 1)") {
		t.Fatalf("unexpected output: %s", buf.String())
	}

	// malformed data is rejected client-side
	bad := NewDocCommand(baseURL)
	bad.SetOut(&bytes.Buffer{})
	bad.SetErr(&bytes.Buffer{})
	bad.SetArgs([]string{"insert", "--collection", "orders", "--data", `not json`})
	if err := bad.Execute(); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestDumpCommandWritesShardFiles(t *testing.T) {
	baseURL, rt := startTestAPI(t)

	ctx := context.Background()
	if _, err := rt.CreateCollection(ctx, "default", "orders"); err != nil {
		t.Fatalf("create orders: %v", err)
	}
	if _, err := rt.CreateCollection(ctx, "default", "users"); err != nil {
		t.Fatalf("create users: %v", err)
	}
	for i := 0; i < 7; i++ {
		if _, _, err := rt.Insert(ctx, "default", "orders", "", []byte(`{"kind":"order"}`)); err != nil {
			t.Fatalf("insert order: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		if _, _, err := rt.Insert(ctx, "default", "users", "", []byte(`{"kind":"user"}`)); err != nil {
			t.Fatalf("insert user: %v", err)
		}
	}

	out := filepath.Join(t.TempDir(), "export")
	cmd := NewDumpCommand(baseURL)
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{
		"--shard", "orders", "--shard", "users",
		"--batch-size", "2", "--out", out,
	})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(buf.String(), "dumped 10 rows") {
		t.Fatalf("unexpected output: %s", buf.String())
	}

	orders, err := os.ReadFile(filepath.Join(out, "orders.jsonl"))
	if err != nil {
		t.Fatalf("read orders.jsonl: %v", err)
	}
	if got := strings.Count(string(orders), "\n"); got != 7 {
		t.Fatalf("orders.jsonl has %d lines, want 7", got)
	}
	users, err := os.ReadFile(filepath.Join(out, "users.jsonl"))
	if err != nil {
		t.Fatalf("read users.jsonl: %v", err)
	}
	if got := strings.Count(string(users), "\n"); got != 3 {
		t.Fatalf("users.jsonl has %d lines, want 3", got)
	}

	// the context was dropped when the pull loop finished
	if s := rt.DumpStats(); s.ActiveContexts != 0 {
		t.Fatalf("dump context leaked: %+v", s)
	}
}

func TestDumpCommandUnknownShard(t *testing.T) {
	baseURL, _ := startTestAPI(t)
	cmd := NewDumpCommand(baseURL)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--shard", "ghost", "--out", t.TempDir()})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for unknown shard")
	}
}
