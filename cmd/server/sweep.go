package main

import (
	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/filedrop/internal/core"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one janitor pass over abandoned upload sessions",
	Long: `sweep removes scratch files and session records of chunked uploads
that received no chunk within SESSION_IDLE_TIMEOUT, plus leftover finished
files and expired tombstones. Useful as a cron job when the server runs with a
long SESSION_SWEEP_INTERVAL.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		app, err := build(ctx, cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		stats, err := core.NewJanitor(app.assembler, cfg.Session.IdleTimeout).Sweep(ctx)
		if err != nil {
			return err
		}

		cmd.Printf("removed %d sessions, %d leftovers, %d tombstones (idle timeout %s, scratch %s)\n",
			stats.Sessions, stats.Leftovers, stats.Tombstones,
			units.HumanDuration(cfg.Session.IdleTimeout), app.assembler.ScratchDir())
		return nil
	},
}
