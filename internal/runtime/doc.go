// Package runtime wires storage, config, and facades into a single-node
// Ebb instance. It exposes Open/Close, basic health checks, and helpers
// for namespace, collection, and dump-context operations used by
// higher-level services.
//
// Example:
//
//	cfg := config.Default()
//	rt, _ := runtime.Open(runtime.Options{DataDir: "./data", Fsync: pebblestore.FsyncModeAlways, Config: cfg})
//	defer rt.Close()
//	// Health
//	_ = rt.CheckHealth(context.Background())
//	// Create a collection and start a dump
//	_, _ = rt.CreateCollection(context.Background(), "default", "orders")
//	dc, _ := rt.CreateDump(dump.Options{Shards: []string{"orders"}}, "root", "default")
//	defer dc.Close()
package runtime
