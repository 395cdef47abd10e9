package cmd

import (
	"github.com/spf13/cobra"

	"github.com/srcscan/srcscan/pkg/config"
	"github.com/srcscan/srcscan/pkg/consolidate"
)

func newConsolidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "consolidate [project-set]",
		Short: "Show which projects share a working tree",
		Long:  "Groups the projects of a project set by the VCS working tree they live in, without downloading anything.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := config.LoadProjectSet(args[0])
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			groups := consolidate.Consolidate(set.Projects)
			for _, g := range groups {
				v := g.Reference.VcsProcessed
				if v.URL == "" {
					printTitle(w, "(no VCS)")
				} else {
					printTitle(w, v.Type+" "+v.URL+"@"+v.Revision)
				}
				for i, m := range g.Members() {
					if i == 0 {
						printSuccess(w, "%s %s", styleHighlight.Render(m.ID.String()), styleDim.Render("reference"))
						continue
					}
					printInfo(w, "%s %s", m.ID, styleDim.Render("path "+m.VcsProcessed.Path))
				}
			}
			printInfo(w, "%d projects in %d working trees", len(set.Projects), len(groups))
			return nil
		},
	}
}
