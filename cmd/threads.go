package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/killallgit/threadline/pkg/search"
	"github.com/killallgit/threadline/pkg/transport"
	"github.com/spf13/cobra"
)

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "List, show, search and delete saved threads",
}

var threadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List threads, most recently updated first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg, appOptions{out: cmd.OutOrStdout()})
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.manager.Load(cmd.Context()); err != nil {
			return err
		}

		infos := a.manager.ListThreads()
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(infos)
		}
		return a.format.ThreadList(cmd.OutOrStdout(), infos)
	},
}

var threadsShowCmd = &cobra.Command{
	Use:   "show <thread-id>",
	Short: "Print every message of a thread",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg, appOptions{out: cmd.OutOrStdout()})
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.manager.Load(cmd.Context()); err != nil {
			return err
		}
		snap, err := a.manager.Thread(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(snap.Conversation)
		}
		fmt.Fprint(cmd.OutOrStdout(), a.format.Conversation(snap))
		return nil
	},
}

var threadsDeleteCmd = &cobra.Command{
	Use:   "delete <thread-id>...",
	Short: "Delete threads",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg, appOptions{out: cmd.OutOrStdout()})
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.manager.Load(cmd.Context()); err != nil {
			return err
		}
		for _, id := range args {
			if err := a.manager.DeleteThread(cmd.Context(), id); err != nil {
				return fmt.Errorf("failed to delete thread %s: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
		}
		return nil
	},
}

var threadsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every thread",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if force, _ := cmd.Flags().GetBool("force"); !force {
			return fmt.Errorf("refusing to delete every thread without --force")
		}

		a, err := newApp(cfg, appOptions{out: cmd.OutOrStdout()})
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.manager.Load(cmd.Context()); err != nil {
			return err
		}
		if err := a.manager.ClearHistory(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "History cleared")
		return nil
	},
}

var threadsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find threads by what was said in them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		embedder, err := transport.NewEmbedder(cfg)
		if err != nil {
			return err
		}

		a, err := newApp(cfg, appOptions{out: cmd.OutOrStdout()})
		if err != nil {
			return err
		}
		defer a.Close()

		index, err := search.NewIndex(embedder)
		if err != nil {
			return err
		}
		if err := index.Build(cmd.Context(), a.store); err != nil {
			return err
		}

		limit, _ := cmd.Flags().GetInt("limit")
		if limit <= 0 {
			limit = cfg.Search.Limit
		}

		hits, err := index.Search(cmd.Context(), strings.Join(args, " "), limit)
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(hits)
		}
		return a.format.SearchHits(cmd.OutOrStdout(), hits)
	},
}

func init() {
	threadsListCmd.Flags().Bool("json", false, "print as JSON")
	threadsShowCmd.Flags().Bool("json", false, "print as JSON")
	threadsClearCmd.Flags().Bool("force", false, "confirm deleting every thread")
	threadsSearchCmd.Flags().Int("limit", 0, "maximum number of threads (default search.limit)")
	threadsSearchCmd.Flags().Bool("json", false, "print as JSON")

	threadsCmd.AddCommand(threadsListCmd, threadsShowCmd, threadsDeleteCmd, threadsClearCmd, threadsSearchCmd)
	rootCmd.AddCommand(threadsCmd)
}
