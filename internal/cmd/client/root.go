package client

import (
	"github.com/spf13/cobra"
)

// NewRoot constructs a root Cobra command for the Ebb client.
// It registers the collection, doc, and dump command groups.
func NewRoot(baseURL BaseURLFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "ebb",
		Short: "Ebb client commands",
	}
	root.AddCommand(NewCollectionCommand(baseURL))
	root.AddCommand(NewDocCommand(baseURL))
	root.AddCommand(NewDumpCommand(baseURL))
	return root
}
