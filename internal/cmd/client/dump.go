package client

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// NewDumpCommand constructs the `dump` command: export collections under
// one consistent snapshot into per-shard JSONL files.
func NewDumpCommand(baseURL BaseURLFunc) *cobra.Command {
	dumpCmd := &cobra.Command{
		Use:   "dump",
		Short: "Export collections as JSONL under one consistent snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ns, _ := cmd.Flags().GetString("namespace")
			shards, _ := cmd.Flags().GetStringArray("shard")
			out, _ := cmd.Flags().GetString("out")
			batchSize, _ := cmd.Flags().GetUint64("batch-size")
			parallelism, _ := cmd.Flags().GetUint64("parallelism")
			prefetch, _ := cmd.Flags().GetUint64("prefetch")
			filter, _ := cmd.Flags().GetString("filter")
			user, _ := cmd.Flags().GetString("user")
			if user == "" {
				user = userFromEnv()
			}
			if len(shards) == 0 {
				return fmt.Errorf("at least one --shard is required")
			}
			if err := os.MkdirAll(out, 0o755); err != nil {
				return err
			}

			var created struct {
				ID string `json:"id"`
			}
			_, err := postJSON(cmd.Context(), baseURL()+"/v1/dumps/create", user, map[string]any{
				"namespace": ns,
				"options": map[string]any{
					"batchSize":     batchSize,
					"prefetchCount": prefetch,
					"parallelism":   parallelism,
					"shards":        shards,
					"filter":        filter,
				},
			}, &created)
			if err != nil {
				return fmt.Errorf("create dump: %w", err)
			}
			// best effort: the server reclaims abandoned contexts by TTL
			defer func() {
				_, _ = postJSON(cmd.Context(), baseURL()+"/v1/dumps/drop", user,
					map[string]string{"namespace": ns, "id": created.ID}, nil)
			}()

			files := map[string]*os.File{}
			defer func() {
				for _, f := range files {
					_ = f.Close()
				}
			}()

			var rows, batches uint64
			var lastBatch *uint64
			for {
				req := map[string]any{"namespace": ns, "id": created.ID}
				if lastBatch != nil {
					req["lastBatch"] = *lastBatch
				}
				var resp struct {
					BatchID uint64 `json:"batchId"`
					Shard   string `json:"shard"`
					Rows    uint64 `json:"rows"`
					Content string `json:"content"`
				}
				status, err := postJSON(cmd.Context(), baseURL()+"/v1/dumps/next", user, req, &resp)
				if err != nil {
					return fmt.Errorf("pull batch: %w", err)
				}
				if status == 204 {
					break
				}

				f, ok := files[resp.Shard]
				if !ok {
					f, err = os.Create(filepath.Join(out, resp.Shard+".jsonl"))
					if err != nil {
						return err
					}
					files[resp.Shard] = f
				}
				if _, err := f.WriteString(resp.Content); err != nil {
					return err
				}
				rows += resp.Rows
				batches++
				id := resp.BatchID
				lastBatch = &id
			}

			for shard, f := range files {
				if err := f.Sync(); err != nil {
					return fmt.Errorf("sync %s: %w", shard, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dumped %d rows in %d batches to %s\n", rows, batches, out)
			return nil
		},
	}
	dumpCmd.Flags().StringP("namespace", "n", "default", "Namespace")
	dumpCmd.Flags().StringArray("shard", nil, "Collection to export (repeatable)")
	dumpCmd.Flags().String("out", "./dump", "Output directory")
	dumpCmd.Flags().Uint64("batch-size", 0, "Rows per batch (0 = server default)")
	dumpCmd.Flags().Uint64("parallelism", 0, "Dump workers (0 = server default)")
	dumpCmd.Flags().Uint64("prefetch", 0, "Batches buffered per worker (0 = server default)")
	dumpCmd.Flags().String("filter", "", "CEL filter evaluated per document (server-side)")
	dumpCmd.Flags().String("user", "", "Acting user (default EBB_USER or root)")
	return dumpCmd
}
