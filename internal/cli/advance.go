package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var advanceCmd = &cobra.Command{
	Use:   "advance",
	Short: "Advance the migration to the next phase",
	Long: `Advance the migration to the next phase via the running coordinator.

Phase order: preparing -> dual-write -> backfilling -> cutover-pending
-> cutover -> complete. Backfilling advances only after a reconciled
backfill; advancing out of backfilling releases the fenced deletes.`,
	Run: runAdvanceCmd,
}

func runAdvanceCmd(cmd *cobra.Command, args []string) {
	cfg := initConfig()

	client := newCoordClient(cfg.Listen)
	if !client.reachable() {
		exitError("coordinator not reachable on %s, start it with 'swivel run'", cfg.Listen)
	}

	var resp struct {
		Phase string `json:"phase"`
	}
	if err := client.post("/v1/phase/advance", &resp); err != nil {
		exitError("advance rejected: %v", err)
	}
	fmt.Printf("Phase advanced to %s\n", resp.Phase)
}
