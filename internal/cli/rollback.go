package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Roll the migration back to dual-write",
	Long: `Roll the migration back from cutover-pending to dual-write via the
running coordinator. Rollback is only legal from cutover-pending;
already-released deletes are not re-fenced, and the next backfill
starts reconciliation from scratch.`,
	Run: runRollbackCmd,
}

func runRollbackCmd(cmd *cobra.Command, args []string) {
	cfg := initConfig()

	client := newCoordClient(cfg.Listen)
	if !client.reachable() {
		exitError("coordinator not reachable on %s, start it with 'swivel run'", cfg.Listen)
	}

	var resp struct {
		Phase string `json:"phase"`
	}
	if err := client.post("/v1/phase/rollback", &resp); err != nil {
		exitError("rollback rejected: %v", err)
	}
	fmt.Printf("Phase rolled back to %s\n", resp.Phase)
}
