package client

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// NewCollectionCommand constructs the `collection` command group.
func NewCollectionCommand(baseURL BaseURLFunc) *cobra.Command {
	collCmd := &cobra.Command{Use: "collection", Short: "Collection operations"}
	collCmd.AddCommand(
		newCollectionCreateCommand(baseURL),
		newCollectionDropCommand(baseURL),
	)
	return collCmd
}

func newCollectionCreateCommand(baseURL BaseURLFunc) *cobra.Command {
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create collection",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ns, _ := cmd.Flags().GetString("namespace")
			name, _ := cmd.Flags().GetString("name")
			var meta struct {
				ID uint64 `json:"id"`
			}
			_, err := postJSON(cmd.Context(), baseURL()+"/v1/collections/create", userFromEnv(),
				map[string]string{"namespace": ns, "collection": name}, &meta)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s/%s (id %d)\n", ns, name, meta.ID)
			return nil
		},
	}
	createCmd.Flags().StringP("namespace", "n", "default", "Namespace")
	createCmd.Flags().String("name", "", "Collection name")
	_ = createCmd.MarkFlagRequired("name")
	return createCmd
}

func newCollectionDropCommand(baseURL BaseURLFunc) *cobra.Command {
	dropCmd := &cobra.Command{
		Use:   "drop",
		Short: "Drop collection and its documents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ns, _ := cmd.Flags().GetString("namespace")
			name, _ := cmd.Flags().GetString("name")
			_, err := postJSON(cmd.Context(), baseURL()+"/v1/collections/drop", userFromEnv(),
				map[string]string{"namespace": ns, "collection": name}, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dropped %s/%s\n", ns, name)
			return nil
		},
	}
	dropCmd.Flags().StringP("namespace", "n", "default", "Namespace")
	dropCmd.Flags().String("name", "", "Collection name")
	_ = dropCmd.MarkFlagRequired("name")
	return dropCmd
}

// NewDocCommand constructs the `doc` command group.
func NewDocCommand(baseURL BaseURLFunc) *cobra.Command {
	docCmd := &cobra.Command{Use: "doc", Short: "Document operations"}
	insertCmd := &cobra.Command{
		Use:   "insert",
		Short: "Insert a document",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ns, _ := cmd.Flags().GetString("namespace")
			coll, _ := cmd.Flags().GetString("collection")
			key, _ := cmd.Flags().GetString("key")
			data, _ := cmd.Flags().GetString("data")
			if !json.Valid([]byte(data)) {
				return fmt.Errorf("--data must be valid JSON")
			}
			var resp struct {
				Key string `json:"key"`
				Rev uint64 `json:"rev"`
			}
			_, err := postJSON(cmd.Context(), baseURL()+"/v1/docs/insert", userFromEnv(), map[string]any{
				"namespace":  ns,
				"collection": coll,
				"key":        key,
				"doc":        json.RawMessage(data),
			}, &resp)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "inserted %s (rev %d)\n", resp.Key, resp.Rev)
			return nil
		},
	}
	insertCmd.Flags().StringP("namespace", "n", "default", "Namespace")
	insertCmd.Flags().String("collection", "", "Collection name")
	insertCmd.Flags().String("key", "", "Document key (empty = server-generated)")
	insertCmd.Flags().String("data", "", "Document body as JSON")
	_ = insertCmd.MarkFlagRequired("collection")
	_ = insertCmd.MarkFlagRequired("data")
	docCmd.AddCommand(insertCmd)
	return docCmd
}
