package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var assumeYes bool

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete reports of months that already have an average",
	Long: `Delete the stored reports of past months once their monthly average has
been calculated. The averages shown by "list" are kept; "history" no longer
shows the deleted reports. The current month is never pruned.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDB(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("error connecting to database: %w", err)
		}
		defer database.Close()

		out := cmd.OutOrStdout()
		if !assumeYes && !confirmPrune(cmd.InOrStdin(), out) {
			fmt.Fprintln(out, "Nothing deleted.")
			return nil
		}

		deleted, err := database.PruneOldData(time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Deleted %d reports.\n", deleted)
		return nil
	},
}

// confirmPrune asks for confirmation and reports whether the answer was yes
func confirmPrune(in io.Reader, out io.Writer) bool {
	fmt.Fprint(out, "Delete reports of past months that have a monthly average? [y/N] ")
	answer, _ := bufio.NewReader(in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

func init() {
	rootCmd.AddCommand(pruneCmd)

	pruneCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "delete without asking for confirmation")
}
