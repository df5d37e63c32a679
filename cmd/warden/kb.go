package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/harunnryd/warden/cmd/warden/runtime"
	"github.com/harunnryd/warden/internal/knowledge"

	"github.com/spf13/cobra"
)

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Manage the knowledge base",
}

var kbIngestCmd = &cobra.Command{
	Use:   "ingest [file...]",
	Short: "Ingest text files into a collection",
	Long:  `Each file becomes one item. The item ID is the file name without its extension unless --id is given for a single file.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		collection, _ := cmd.Flags().GetString("collection")
		id, _ := cmd.Flags().GetString("id")
		if id != "" && len(args) > 1 {
			return fmt.Errorf("--id needs exactly one file")
		}

		items := make([]knowledge.Item, 0, len(args))
		for _, path := range args {
			raw, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			itemID := id
			if itemID == "" {
				itemID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			}
			items = append(items, knowledge.Item{
				ID:       itemID,
				Document: string(raw),
				Metadata: map[string]string{"source": filepath.Base(path)},
			})
		}

		return executeWithRuntime(cmd, runtime.ScopeFull, func(ctx context.Context, c *runtime.Components) error {
			if err := c.Knowledge.Ingest(ctx, collection, items); err != nil {
				return err
			}
			count, _ := c.Knowledge.Count(collection)
			fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d item(s) into %s (%d total)\n", len(items), collection, count)
			return nil
		})
	},
}

var kbQueryCmd = &cobra.Command{
	Use:   "query [text...]",
	Short: "Query a collection by similarity",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		collection, _ := cmd.Flags().GetString("collection")
		k, _ := cmd.Flags().GetInt("k")

		return executeWithRuntime(cmd, runtime.ScopeFull, func(ctx context.Context, c *runtime.Components) error {
			matches, err := c.Knowledge.Query(ctx, collection, strings.Join(args, " "), k)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(matches, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{kbIngestCmd, kbQueryCmd} {
		c.Flags().String("collection", knowledge.CollectionPolicies, "collection (policies, employees, finance, documents)")
	}
	kbIngestCmd.Flags().String("id", "", "item ID for a single file")
	kbQueryCmd.Flags().Int("k", 3, "number of matches")

	kbCmd.AddCommand(kbIngestCmd, kbQueryCmd)
	rootCmd.AddCommand(kbCmd)
}
