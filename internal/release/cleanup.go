package release

import "fmt"

// PrintCleanupInstructions prints the `helm uninstall` commands an operator
// would need to run by hand to remove each of the given releases. Used by
// the CLI's --print-only cleanup path, where the caller has opted out of
// Inspect performing the uninstall itself.
func PrintCleanupInstructions(releases []*Release) {
	if len(releases) == 0 {
		fmt.Println("No sandbox releases to clean up.")
		return
	}
	fmt.Println("The following sandbox releases were left running. To remove them, run:")
	for _, r := range releases {
		args := fmt.Sprintf("helm uninstall %s --namespace %s", r.ReleaseName, r.Namespace)
		if r.ContextName != "" {
			args += fmt.Sprintf(" --kube-context %s", r.ContextName)
		}
		fmt.Printf("  %s\n", args)
	}
}
