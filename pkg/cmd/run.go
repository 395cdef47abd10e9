package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/srcscan/srcscan/pkg/config"
	"github.com/srcscan/srcscan/pkg/pipeline"
	"github.com/srcscan/srcscan/pkg/scanner"
)

func newDownloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download [project-set]",
		Short: "Download the sources of a project set",
		Long: `Reads the projects and packages listed in a YAML or JSON project set and
downloads their sources, checking out version control first and falling back
to published source archives.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, args[0], false)
		},
	}
	addPipelineFlags(cmd)
	return cmd
}

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan [project-set]",
		Short: "Download and scan the sources of a project set",
		Long: `Downloads the sources of a project set like "download" and runs the enabled
scanners over every source tree. Results are stored below the storage root and
reused while the sources they were computed from do not change.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, args[0], true)
		},
	}
	addPipelineFlags(cmd)
	cmd.Flags().StringSlice("scanners", nil, "scanners to run (e.g. FileCounter,Askalono)")
	cmd.Flags().Bool("skip-existing", true, "reuse stored results of unchanged sources")
	return cmd
}

func addPipelineFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "o", "", "directory to write sources to (default <storage-root>/downloads)")
	cmd.Flags().Bool("allow-moving-revisions", false, "allow checking out branches and other moving revisions")
	cmd.Flags().IntP("parallelism", "j", config.DefaultParallelism, "number of working trees processed concurrently")
	cmd.Flags().Duration("http-timeout", config.DefaultHTTPTimeout, "timeout of a single HTTP download")
	cmd.Flags().String("proxy", "", "HTTP proxy URL")
}

func runPipeline(cmd *cobra.Command, setFile string, scan bool) error {
	ctx := cmd.Context()
	logger := loggerFromContext(ctx)
	cfg := Env.Config

	set, err := config.LoadProjectSet(setFile)
	if err != nil {
		return err
	}

	svc, err := newServices(Env)
	if err != nil {
		return err
	}
	dl, err := svc.downloader()
	if err != nil {
		return err
	}

	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}

	runner := &pipeline.Runner{
		Acquirer:             dl,
		Store:                Env.Store,
		Logger:               logger,
		OutputRoot:           output,
		AllowMovingRevisions: cfg.Download.AllowMovingRevisions,
		Parallelism:          cfg.Download.Parallelism,
	}
	if scan {
		if runner.Scanners, err = svc.enabledScanners(); err != nil {
			return err
		}
		runner.ScanRunner = &scanner.Runner{
			SkipExisting: cfg.Scanner.SkipExisting,
			Logger:       logger,
			Metrics:      Env.Metrics,
		}
	}

	summary, runErr := runner.Run(ctx, set.Projects, set.Packages)
	if summary != nil {
		path, err := pipeline.WriteSummary(Env.Store, summary)
		if err != nil {
			logger.Warn("writing run summary failed", "err", err)
		}
		printSummary(cmd.OutOrStdout(), summary, path)
	}
	if runErr != nil {
		return runErr
	}
	if n := summary.Failed(); n > 0 {
		return fmt.Errorf("%d of %d entries failed", n, len(summary.Packages))
	}
	return nil
}

func printSummary(w io.Writer, s *pipeline.Summary, path string) {
	printTitle(w, fmt.Sprintf("Run %s", s.RunID))
	for _, p := range s.Packages {
		name := styleHighlight.Render(p.ID.String())
		if p.Error != "" {
			printError(w, "%s", name)
			printDetail(w, "%s", p.Error)
			continue
		}

		origin := describeOrigin(p)
		if p.ConsolidatedWith != nil {
			printSuccess(w, "%s %s shares %s", name, iconArrow, p.ConsolidatedWith)
		} else {
			printSuccess(w, "%s %s %s", name, iconArrow, origin)
		}
		for _, sc := range p.Scans {
			switch {
			case sc.Error != "":
				printWarning(w, "  %s failed: %s", sc.Scanner, sc.Error)
			case sc.Cached:
				printDetail(w, "%s: %d files, licenses [%s] %s", sc.Scanner, sc.FileCount, strings.Join(sc.Licenses, ", "), styleCached.Render("cached"))
			default:
				printDetail(w, "%s: %d files, licenses [%s]", sc.Scanner, sc.FileCount, strings.Join(sc.Licenses, ", "))
			}
		}
	}

	took := s.EndTime.Sub(s.StartTime).Round(time.Millisecond)
	if n := s.Failed(); n > 0 {
		printWarning(w, "%d of %d entries failed (%s)", n, len(s.Packages), took)
	} else {
		printSuccess(w, "%d entries done (%s)", len(s.Packages), took)
	}
	if path != "" {
		printInfo(w, "Summary written to %s", path)
	}
}

func describeOrigin(p pipeline.PackageReport) string {
	if p.Download == nil {
		return p.SourceDir
	}
	if v := p.Download.VcsInfo; v != nil {
		return fmt.Sprintf("%s %s@%s", v.Type, v.URL, v.ResolvedRevision)
	}
	if a := p.Download.SourceArtifact; a != nil {
		return a.URL
	}
	return p.SourceDir
}
