package serverrun

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	cfgpkg "github.com/rzbill/ebb/internal/config"
	pebblestore "github.com/rzbill/ebb/internal/storage/pebble"
)

func TestGetenvDefault(t *testing.T) {
	_ = os.Setenv("EBB_TEST_VAR", "env_value")
	t.Cleanup(func() { _ = os.Unsetenv("EBB_TEST_VAR") })
	if got := getenvDefault("EBB_TEST_VAR", "default"); got != "env_value" {
		t.Fatalf("set var: got %q", got)
	}
	if got := getenvDefault("EBB_TEST_VAR_UNSET", "default"); got != "default" {
		t.Fatalf("unset var: got %q", got)
	}
}

func TestDataDirFallback(t *testing.T) {
	opts := Options{}
	if opts.DataDir == "" {
		opts.DataDir = cfgpkg.DefaultDataDir()
	}
	if opts.DataDir == "" {
		t.Fatal("expected DataDir to be set after fallback")
	}
	if storeDir := filepath.Join(opts.DataDir, "store"); filepath.Base(storeDir) != "store" {
		t.Fatalf("unexpected store dir %s", storeDir)
	}
}

// TestRunIntegration starts a real server and cancels it; a clean return on
// cancellation is the pass condition.
func TestRunIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	opts := Options{
		DataDir:  t.TempDir(),
		HTTPAddr: ":0",
		Fsync:    pebblestore.FsyncModeNever,
		Config:   cfgpkg.Default(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := Run(ctx, opts); err != nil && err != context.DeadlineExceeded && err != context.Canceled {
		t.Fatalf("expected clean shutdown, got %v", err)
	}
}
