package cmd

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"
)

func newToolCmd() *cobra.Command {
	toolCmd := &cobra.Command{
		Use:   "tool",
		Short: "Manage external tools",
	}

	toolCmd.AddCommand(&cobra.Command{
		Use:   "path [name]",
		Short: "Print the directory of a tool, bootstrapping it if needed",
		Long: fmt.Sprintf(`Resolves the named tool (%v) the way a download or scan
would: SRCSCAN_<NAME>_PATH, then a suitable executable on PATH, then a
bootstrapped install. Prints the directory holding the executable.`, toolNames),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newServices(Env)
			if err != nil {
				return err
			}
			t, err := svc.tool(args[0])
			if err != nil {
				return err
			}
			dir, err := t.ResolvePath(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), dir)
			return nil
		},
	})

	toolCmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Check the versions of all tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newServices(Env)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			failed := 0
			for _, name := range toolNames {
				t, err := svc.tool(name)
				if err != nil {
					return err
				}
				ignore := Env.Config.Tool(name).IgnoreVersion
				if err := t.CheckVersion(cmd.Context(), ignore); err != nil {
					printError(w, "%s: %v", name, err)
					failed++
					continue
				}
				version, err := t.Version(cmd.Context())
				if err != nil {
					version = "unknown version"
				}
				printSuccess(w, "%s %s", name, styleHighlight.Render(version))
			}
			if failed > 0 {
				return fmt.Errorf("%d tools unavailable", failed)
			}
			return nil
		},
	})

	toolCmd.AddCommand(&cobra.Command{
		Use:   "clean [name]",
		Short: "Remove bootstrapped tool installs",
		Long:  "Deletes the bootstrapped versions of the named tool, or of all tools when no name is given. Tools found on PATH are not touched.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			names := toolNames
			if len(args) == 1 {
				name := strings.ToLower(args[0])
				if !slices.Contains(toolNames, name) {
					return fmt.Errorf("unknown tool %q (known: %s)", args[0], strings.Join(toolNames, ", "))
				}
				names = []string{name}
			}
			w := cmd.OutOrStdout()
			for _, name := range names {
				ok, err := Env.Store.Exists(name, "bootstrap")
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
				if err := Env.Store.Remove(name, "bootstrap"); err != nil {
					return fmt.Errorf("removing %s: %w", name, err)
				}
				printSuccess(w, "Removed %s", Env.Store.BootstrapDir(name))
			}
			return nil
		},
	})

	return toolCmd
}
