// Package client provides the `ebb` command-line client.
//
// The CLI talks to the Ebb HTTP endpoints to perform common collection
// and dump operations from a terminal. It is primarily intended for
// developers and operators.
//
// Installation
//
//	go install github.com/rzbill/ebb/cmd/ebb@latest
//
// # Address configuration
//
// The HTTP base URL is discovered by the application that embeds the
// commands via a BaseURLFunc. When using the standalone binary, it
// defaults to http://127.0.0.1:8080 and can be overridden with EBB_HTTP.
// The acting user is sent in the X-Ebb-User header (default root,
// override with --user or EBB_USER).
//
// Usage
//
//	ebb collection create --namespace default --name orders
//	ebb collection drop --namespace default --name orders
//
//	ebb doc insert --collection orders --key o1 --data '{"total":3}'
//
//	# Export collections under one consistent snapshot into ./out
//	ebb dump --namespace default --shard orders --shard users --out ./out
//	ebb dump --shard orders --batch-size 4096 --parallelism 4 \
//	    --filter 'doc.total >= 10' --out ./out
//
// Notes
//
//   - dump creates a server-side dump context, pulls batches until
//     end-of-stream while releasing each consumed batch, writes one
//     <shard>.jsonl file per collection, and drops the context.
//   - all commands use the HTTP API exposed by the Ebb server.
package client
