// Command tbcv is the command-line front end for the technical
// documentation validation-and-enhancement engine. It wires a Boundary
// over a SQLite-backed store and dispatches every subcommand through it,
// never touching the core packages directly.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tbcv/engine/pkg/console"
)

var (
	configDir string
	current   *app
)

var rootCmd = &cobra.Command{
	Use:   "tbcv",
	Short: "Technical Markdown documentation validation and enhancement engine",
	Long: `tbcv validates technical Markdown documentation against a family's truth
index and style rules, proposes scored recommendations, and applies
approved automated fixes.

Common Tasks:
  tbcv validate docs/en/guide.md     # Validate one file
  tbcv validate-folder docs/en       # Validate a whole tree
  tbcv recommend <validation-id>     # Generate recommendations
  tbcv approve <recommendation-id>   # Approve a recommendation
  tbcv enhance <validation-id>       # Apply approved recommendations
  tbcv workflow status <id>          # Inspect a running workflow`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		cfg, err := loadConfig(configDir)
		if err != nil {
			return err
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		current = a
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if current != nil {
			current.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "", "directory holding root.toml and validators/*.toml")

	rootCmd.AddGroup(&cobra.Group{ID: "validation", Title: "Validation Commands:"})
	rootCmd.AddGroup(&cobra.Group{ID: "recommendation", Title: "Recommendation Commands:"})
	rootCmd.AddGroup(&cobra.Group{ID: "enhancement", Title: "Enhancement Commands:"})
	rootCmd.AddGroup(&cobra.Group{ID: "workflow", Title: "Workflow Commands:"})
	rootCmd.AddGroup(&cobra.Group{ID: "admin", Title: "Admin Commands:"})

	validateCmd := newValidateCommand()
	validateCmd.GroupID = "validation"
	validateFolderCmd := newValidateFolderCommand()
	validateFolderCmd.GroupID = "validation"

	recommendCmd := newRecommendCommand()
	recommendCmd.GroupID = "recommendation"
	approveCmd := newApproveCommand()
	approveCmd.GroupID = "recommendation"
	rejectCmd := newRejectCommand()
	rejectCmd.GroupID = "recommendation"

	enhanceCmd := newEnhanceCommand()
	enhanceCmd.GroupID = "enhancement"
	enhanceBatchCmd := newEnhanceBatchCommand()
	enhanceBatchCmd.GroupID = "enhancement"

	workflowCmd := newWorkflowCommand()
	workflowCmd.GroupID = "workflow"

	adminCmd := newAdminCommand()
	adminCmd.GroupID = "admin"

	rootCmd.AddCommand(
		validateCmd,
		validateFolderCmd,
		recommendCmd,
		approveCmd,
		rejectCmd,
		enhanceCmd,
		enhanceBatchCmd,
		workflowCmd,
		adminCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, console.FormatErrorMessage(err.Error()))
		os.Exit(1)
	}
}
