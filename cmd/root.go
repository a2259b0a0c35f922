package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the inspect-sandbox application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "inspect-sandbox",
	Short: "Kubernetes sandbox provider for Inspect agent evaluations",
	Long: `inspect-sandbox materializes ephemeral, isolated Kubernetes pods via Helm and
exposes them as remote shell and file-transfer endpoints for an agent
evaluation harness. Sandboxes are normally created and torn down
automatically by the harness; this binary exists for out-of-band cleanup
and diagnostics when that automatic teardown didn't run to completion
(for example after a crashed evaluation process).`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application.
// It initializes and executes the root command, which in turn handles subcommands and flags.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "inspect-sandbox version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		// Cobra itself usually prints the error. Exiting with a non-zero status code
		// indicates that an error occurred during execution.
		os.Exit(1)
	}
}

// init is a special Go function that is executed when the package is initialized.
// It is used here to add subcommands to the root command.
func init() {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newCleanupCmd())
}
