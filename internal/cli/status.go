package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/kilupskalvis/swivel/internal/models"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the migration status",
	Long: `Show the current phase of the migration, backfill progress and the
number of fenced deletes. Queries the running coordinator when one is
reachable, otherwise reads the local metastore directly.`,
	Run: runStatusCmd,
}

// statusInfo is the merged view rendered by swivel status, filled from
// either the control surface or the local stores.
type statusInfo struct {
	Phase          models.MigrationPhase
	BackfillActive bool
	Cursor         models.BackfillCursor
	PendingDeletes int
	Live           bool
}

func runStatusCmd(cmd *cobra.Command, args []string) {
	cfg := initConfig()

	var info statusInfo
	client := newCoordClient(cfg.Listen)
	if client.reachable() {
		info = remoteStatus(client)
	} else {
		info = localStatus()
	}

	bold := color.New(color.Bold)
	bold.Printf("Migration: %s/%s -> %s/%s\n",
		cfg.Legacy.Endpoint, cfg.Legacy.Class,
		cfg.Target.Endpoint, cfg.Target.Class)

	fmt.Printf("Phase: ")
	phaseColor(info.Phase).Println(info.Phase.String())
	if info.Live {
		fmt.Printf("Coordinator: running on %s\n", cfg.Listen)
	} else {
		fmt.Printf("Coordinator: not running\n")
	}

	fmt.Println()
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Backfill", "Position", "Seen", "Total", "Rejected", "Progress"})
	if info.BackfillActive {
		progress := "-"
		switch {
		case info.Cursor.Done():
			progress = "done"
		case info.Cursor.DocumentsTotal > 0:
			progress = fmt.Sprintf("%.1f%%", 100*float64(info.Cursor.Position)/float64(info.Cursor.DocumentsTotal))
		}
		t.AppendRow(table.Row{
			shortID(info.Cursor.RunID), info.Cursor.Position, info.Cursor.DocumentsSeen,
			info.Cursor.DocumentsTotal, info.Cursor.Rejected, progress,
		})
	} else {
		t.AppendRow(table.Row{"(no active run)", "-", "-", "-", "-", "-"})
	}
	t.Render()

	fmt.Println()
	if info.PendingDeletes > 0 {
		color.New(color.FgYellow).Printf("Fenced deletes pending: %d\n", info.PendingDeletes)
	} else {
		fmt.Printf("Fenced deletes pending: 0\n")
	}
}

func phaseColor(p models.MigrationPhase) *color.Color {
	switch p {
	case models.PhasePreparing:
		return color.New(color.FgCyan)
	case models.PhaseDualWrite, models.PhaseBackfilling:
		return color.New(color.FgYellow)
	case models.PhaseCutoverPending:
		return color.New(color.FgMagenta)
	case models.PhaseCutover, models.PhaseComplete:
		return color.New(color.FgGreen)
	}
	return color.New(color.Reset)
}

func remoteStatus(client *coordClient) statusInfo {
	info := statusInfo{Live: true}

	var phase struct {
		Phase string `json:"phase"`
	}
	if err := client.get("/v1/phase", &phase); err != nil {
		exitError("failed to query coordinator: %v", err)
	}
	p, err := models.ParsePhase(phase.Phase)
	if err != nil {
		exitError("coordinator reported unknown phase %q", phase.Phase)
	}
	info.Phase = p

	var backfill struct {
		Active         bool   `json:"active"`
		RunID          string `json:"run_id"`
		Position       int    `json:"position"`
		DocumentsSeen  int    `json:"documents_seen"`
		DocumentsTotal int    `json:"documents_total"`
		Rejected       int    `json:"rejected"`
	}
	if err := client.get("/v1/backfill", &backfill); err != nil {
		exitError("failed to query backfill progress: %v", err)
	}
	info.BackfillActive = backfill.Active
	info.Cursor = models.BackfillCursor{
		RunID:          backfill.RunID,
		Position:       backfill.Position,
		DocumentsSeen:  backfill.DocumentsSeen,
		DocumentsTotal: backfill.DocumentsTotal,
		Rejected:       backfill.Rejected,
	}

	var deletes struct {
		Pending int `json:"pending"`
	}
	if err := client.get("/v1/deletes", &deletes); err != nil {
		exitError("failed to query pending deletes: %v", err)
	}
	info.PendingDeletes = deletes.Pending

	return info
}

func localStatus() statusInfo {
	c := initContext()
	defer c.Close()

	var info statusInfo

	phase, err := c.Meta.GetPhase()
	if err != nil {
		exitError("failed to read phase: %v", err)
	}
	info.Phase = phase

	cursor, err := c.Meta.ActiveCursor()
	if err != nil {
		exitError("failed to read backfill cursor: %v", err)
	}
	if cursor != nil {
		info.BackfillActive = true
		info.Cursor = *cursor
	}

	pending, err := c.Meta.PendingDeleteCount()
	if err != nil {
		exitError("failed to count pending deletes: %v", err)
	}
	info.PendingDeletes = pending

	return info
}

// shortID returns first 8 characters of an ID
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
