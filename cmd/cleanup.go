package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/UKGovernmentBEIS/inspect_k8s_sandbox/internal/cluster"
	"github.com/UKGovernmentBEIS/inspect_k8s_sandbox/internal/sandbox"
	"github.com/spf13/cobra"
)

// newCleanupCmd creates the Cobra command for `cleanup k8s [<id>]`, which
// removes sandbox Helm releases left behind by an evaluation process that
// did not run its own teardown to completion.
func newCleanupCmd() *cobra.Command {
	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove sandbox resources left behind by an evaluation process",
	}
	cleanupCmd.AddCommand(newCleanupK8sCmd())
	return cleanupCmd
}

func newCleanupK8sCmd() *cobra.Command {
	var (
		contextName string
		namespace   string
		yes         bool
	)

	k8sCmd := &cobra.Command{
		Use:   "k8s [id]",
		Short: "Uninstall sandbox Helm releases on the current cluster",
		Long: `Without an id, enumerates every release labelled inspectSandbox=true in
the target namespace and, after interactive confirmation, uninstalls them
concurrently. With an id, uninstalls that one release only.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ns := namespace
			if ns == "" {
				resolved, err := cluster.DefaultNamespace(contextName)
				if err != nil {
					return err
				}
				ns = resolved
			}

			f := sandbox.NewFacade(nil, nil)
			ctx := cmd.Context()

			if len(args) == 1 {
				return f.CliCleanupOne(ctx, args[0], ns, contextName)
			}

			failures, err := f.CliCleanupAll(ctx, ns, contextName, func(names []string) bool {
				if yes {
					return true
				}
				return confirmCleanup(cmd, names)
			})
			if err != nil {
				return err
			}
			for _, failure := range failures {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", failure)
			}
			return nil
		},
	}

	k8sCmd.Flags().StringVar(&contextName, "context", "", "kubeconfig context to target (default: current context)")
	k8sCmd.Flags().StringVar(&namespace, "namespace", "", "namespace to target (default: the context's default namespace)")
	k8sCmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip interactive confirmation")

	return k8sCmd
}

func confirmCleanup(cmd *cobra.Command, names []string) bool {
	fmt.Fprintf(cmd.OutOrStdout(), "The following sandbox releases will be uninstalled:\n")
	for _, name := range names {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", name)
	}
	fmt.Fprint(cmd.OutOrStdout(), "Continue? [y/N] ")

	reader := bufio.NewReader(cmd.InOrStdin())
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
