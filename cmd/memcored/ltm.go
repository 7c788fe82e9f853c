package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opencoder-agent/memcore/pkg/ltm"
)

var ltmCmd = &cobra.Command{
	Use:   "ltm",
	Short: "Inspect the LTM tree of a memcore store",
}

var ltmReadCmd = &cobra.Command{
	Use:   "read <slug>",
	Short: "Print one LTM entry's body",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		entry, err := ltm.New(s).Read(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("# %s (v%d)\n\n%s\n", entry.Title, entry.Version, entry.Body)
		return nil
	},
}

var ltmGlobCmd = &cobra.Command{
	Use:   "glob <pattern>",
	Short: "List LTM entries whose path matches a doublestar glob",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		entries, err := ltm.New(s).Glob(ctx, args[0])
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%s\t%s\n", e.Path, e.Title)
		}
		return nil
	},
}

var ltmSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search LTM entry titles and bodies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		pathPrefix, _ := cmd.Flags().GetString("under")
		limit, _ := cmd.Flags().GetInt("limit")
		hits, err := ltm.New(s).Search(ctx, args[0], pathPrefix, limit)
		if err != nil {
			return err
		}
		for _, h := range hits {
			fmt.Printf("%s: %s\n", h.Slug, h.Snippet)
		}
		return nil
	},
}

func init() {
	ltmSearchCmd.Flags().String("under", "", "restrict results to entries under this path prefix")
	ltmSearchCmd.Flags().Int("limit", 20, "maximum number of results")
	ltmCmd.AddCommand(ltmReadCmd, ltmGlobCmd, ltmSearchCmd)
}
