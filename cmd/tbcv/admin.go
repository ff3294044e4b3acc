package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tbcv/engine/pkg/console"
	"github.com/tbcv/engine/pkg/styles"
)

func newAdminCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Operational commands: cache, maintenance mode, status",
	}
	cmd.AddCommand(newAdminStatusCommand())
	cmd.AddCommand(newAdminClearCacheCommand())
	cmd.AddCommand(newAdminCacheStatsCommand())
	cmd.AddCommand(newAdminMaintenanceCommand())
	cmd.AddCommand(newAdminValidatorsCommand())
	cmd.AddCommand(newAdminHealthCommand())
	return cmd
}

func newAdminHealthCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Render a health report, as a struct dump or JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := current.boundary.GetHealthReport(cmd.Context())
			if err != nil {
				return err
			}
			return console.OutputStructOrJSON(report, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit machine-readable JSON instead of a struct dump")
	return cmd
}

func newAdminValidatorsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validators",
		Short: "List every registered validator, its tier, and whether it is enabled",
		RunE: func(cmd *cobra.Command, args []string) error {
			regs, err := current.boundary.GetAvailableValidators(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(regs))
			for _, r := range regs {
				enabled := "yes"
				if !r.Enabled {
					enabled = "no"
				}
				rows = append(rows, []string{
					styles.ValidatorName.Render(r.ID),
					styles.ValidatorTier.Render(fmt.Sprintf("%d", r.Tier)),
					enabled,
				})
			}
			fmt.Println(console.RenderTable(console.TableConfig{
				Title:   fmt.Sprintf("%d validator(s)", len(regs)),
				Headers: []string{"ID", "Tier", "Enabled"},
				Rows:    rows,
			}))
			return nil
		},
	}
}

func newAdminStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show maintenance mode, cache health, and running workflow count",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := current.boundary.GetSystemStatus(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(console.RenderTable(console.TableConfig{
				Headers: []string{"Maintenance Mode", "Running Workflows", "Cache L1 Hits", "Cache L2 Hits", "Cache Misses"},
				Rows: [][]string{{
					fmt.Sprintf("%v", status.MaintenanceMode),
					fmt.Sprintf("%d", status.RunningWorkflows),
					fmt.Sprintf("%d", status.Cache.L1Hits),
					fmt.Sprintf("%d", status.Cache.L2Hits),
					fmt.Sprintf("%d", status.Cache.Misses),
				}},
			}))
			return nil
		},
	}
}

func newAdminClearCacheCommand() *cobra.Command {
	var scope string
	cmd := &cobra.Command{
		Use:   "clear-cache",
		Short: "Invalidate cached entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := current.boundary.ClearCache(cmd.Context(), caller, scope)
			if err != nil {
				return err
			}
			fmt.Println(console.FormatSuccessMessage(fmt.Sprintf("cleared %d cache entr(y/ies)", n)))
			return nil
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "all", "l1 | l2 | all")
	return cmd
}

func newAdminCacheStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cache-stats",
		Short: "Show cumulative cache counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			stats := current.boundary.GetCacheStats()
			fmt.Println(console.RenderTable(console.TableConfig{
				Headers: []string{"L1 Hits", "L2 Hits", "Misses", "Puts", "Evictions", "Swept"},
				Rows: [][]string{{
					fmt.Sprintf("%d", stats.L1Hits),
					fmt.Sprintf("%d", stats.L2Hits),
					fmt.Sprintf("%d", stats.Misses),
					fmt.Sprintf("%d", stats.Puts),
					fmt.Sprintf("%d", stats.Evictions),
					fmt.Sprintf("%d", stats.SweepRemoved),
				}},
			}))
			return nil
		},
	}
}

func newAdminMaintenanceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Enable or disable maintenance mode",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "enable",
		Short: "Reject every subsequent mutating call",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := current.boundary.EnableMaintenanceMode(caller); err != nil {
				return err
			}
			fmt.Println(console.FormatWarningMessage("maintenance mode enabled"))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "disable",
		Short: "Re-admit mutating calls",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := current.boundary.DisableMaintenanceMode(caller); err != nil {
				return err
			}
			fmt.Println(console.FormatSuccessMessage("maintenance mode disabled"))
			return nil
		},
	})
	return cmd
}
