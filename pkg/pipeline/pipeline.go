// Package pipeline drives a project set through consolidation, source
// acquisition and scanning.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/srcscan/srcscan/pkg/consolidate"
	"github.com/srcscan/srcscan/pkg/model"
	"github.com/srcscan/srcscan/pkg/scanner"
	"github.com/srcscan/srcscan/pkg/store"
)

// RunsDir is the store directory run summaries are written to.
const RunsDir = "runs"

// Acquirer downloads the sources of a package. *downloader.Downloader
// implements it.
type Acquirer interface {
	Download(ctx context.Context, pkg model.Package, outputRoot string, allowMovingRevisions bool) (*model.DownloadResult, error)
}

// Runner processes project sets. Scanners may be empty, in which case only
// sources are acquired.
type Runner struct {
	Acquirer   Acquirer
	Scanners   []scanner.Scanner
	ScanRunner *scanner.Runner
	Store      store.Store
	Logger     *log.Logger

	// OutputRoot defaults to the store's download directory.
	OutputRoot           string
	AllowMovingRevisions bool
	// Parallelism bounds the number of working trees processed at once.
	Parallelism int
}

// Summary is the outcome of one run.
type Summary struct {
	RunID     string          `json:"run_id"`
	StartTime time.Time       `json:"start_time"`
	EndTime   time.Time       `json:"end_time"`
	Packages  []PackageReport `json:"packages"`
}

// PackageReport is the outcome for one input project or package.
type PackageReport struct {
	ID      model.Identifier `json:"id"`
	Project bool             `json:"project,omitempty"`
	// ConsolidatedWith names the project whose working tree this project
	// shares.
	ConsolidatedWith *model.Identifier `json:"consolidated_with,omitempty"`
	// SourceDir is where this entry's sources are on disk.
	SourceDir string                `json:"source_dir,omitempty"`
	Download  *model.DownloadResult `json:"download,omitempty"`
	TreeHash  string                `json:"tree_hash,omitempty"`
	Scans     []ScanReport          `json:"scans,omitempty"`
	Error     string                `json:"error,omitempty"`
}

// Failed reports whether acquisition or any scan failed.
func (r PackageReport) Failed() bool {
	if r.Error != "" {
		return true
	}
	for _, s := range r.Scans {
		if s.Error != "" {
			return true
		}
	}
	return false
}

// ScanReport is the outcome of one scanner on one working tree.
type ScanReport struct {
	Scanner    string   `json:"scanner"`
	ResultFile string   `json:"result_file,omitempty"`
	Cached     bool     `json:"cached,omitempty"`
	FileCount  int      `json:"file_count"`
	Licenses   []string `json:"licenses,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// Failed returns the number of failed entries.
func (s *Summary) Failed() int {
	n := 0
	for _, p := range s.Packages {
		if p.Failed() {
			n++
		}
	}
	return n
}

// unit is one working tree to acquire: a consolidated project group or a
// standalone package.
type unit struct {
	reference model.Package
	project   bool
	others    []model.Package
}

// Run consolidates projects, then acquires and scans every working tree
// concurrently. Failures are recorded per entry and do not stop other
// entries; the returned error is non-nil only if ctx was cancelled before
// all entries were processed. Reports are ordered like the input, projects
// first.
func (r *Runner) Run(ctx context.Context, projects []model.Project, packages []model.Package) (*Summary, error) {
	logger := r.Logger
	if logger == nil {
		logger = log.Default()
	}
	outputRoot := r.OutputRoot
	if outputRoot == "" {
		outputRoot = r.Store.DownloadDir()
	}
	parallelism := r.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}

	summary := &Summary{RunID: uuid.NewString(), StartTime: time.Now()}
	logger = logger.With("run", summary.RunID)

	// Grouping completes before any acquisition starts.
	groups := consolidate.Consolidate(projects)
	units := make([]unit, 0, len(groups)+len(packages))
	for _, g := range groups {
		units = append(units, unit{reference: g.Reference, project: true, others: g.Others})
	}
	for _, p := range packages {
		units = append(units, unit{reference: p})
	}
	logger.Info("starting run", "projects", len(projects), "working_trees", len(groups), "packages", len(packages))

	reports := make([][]PackageReport, len(units))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, u := range units {
		if gctx.Err() != nil {
			reports[i] = u.failed(gctx.Err())
			continue
		}
		g.Go(func() error {
			reports[i] = r.process(gctx, logger, outputRoot, u)
			return nil
		})
	}
	_ = g.Wait()

	for _, rs := range reports {
		summary.Packages = append(summary.Packages, rs...)
	}
	summary.EndTime = time.Now()
	logger.Info("run finished", "entries", len(summary.Packages), "failed", summary.Failed(), "took", summary.EndTime.Sub(summary.StartTime).Round(time.Millisecond))
	return summary, ctx.Err()
}

func (r *Runner) process(ctx context.Context, logger *log.Logger, outputRoot string, u unit) []PackageReport {
	if err := ctx.Err(); err != nil {
		return u.failed(err)
	}
	logger = logger.With("package", u.reference.ID)

	ref := PackageReport{ID: u.reference.ID, Project: u.project}
	result, err := r.Acquirer.Download(ctx, u.reference, outputRoot, r.AllowMovingRevisions)
	if err != nil {
		logger.Error("acquisition failed", "err", err)
		return u.failed(err)
	}
	ref.Download = result
	ref.SourceDir = result.OutputDirectory

	if ref.TreeHash, err = store.HashTree(result.OutputDirectory); err != nil {
		logger.Warn("hashing source tree failed", "err", err)
	}

	for _, s := range r.Scanners {
		ref.Scans = append(ref.Scans, r.scan(ctx, s, u.reference.ID, result))
	}

	reports := []PackageReport{ref}
	for _, o := range u.others {
		id := u.reference.ID
		shared := ref
		shared.ID = o.ID
		shared.ConsolidatedWith = &id
		shared.SourceDir = memberDir(result.OutputDirectory, o.VcsProcessed)
		reports = append(reports, shared)
	}
	return reports
}

func (r *Runner) scan(ctx context.Context, s scanner.Scanner, id model.Identifier, result *model.DownloadResult) ScanReport {
	rep := ScanReport{Scanner: s.Name(), ResultFile: r.Store.ScanResultFile(id, s.Name())}
	runner := r.ScanRunner
	if runner == nil {
		runner = &scanner.Runner{Logger: r.Logger}
	}

	res, cached, err := runner.Run(ctx, s, result.OutputDirectory, result.Provenance(), rep.ResultFile)
	if err != nil {
		rep.ResultFile = ""
		rep.Error = err.Error()
		return rep
	}
	rep.Cached = cached
	rep.FileCount = res.FileCount
	rep.Licenses = res.Licenses()
	return rep
}

// memberDir is the directory a consolidated member's sources live in within
// the shared working tree. GitRepo paths name manifests, not directories.
func memberDir(treeDir string, v model.VcsInfo) string {
	if v.Path == "" || v.PathIsManifest() {
		return treeDir
	}
	return filepath.Join(treeDir, filepath.FromSlash(v.Path))
}

func (u unit) failed(err error) []PackageReport {
	msg := err.Error()
	reports := []PackageReport{{ID: u.reference.ID, Project: u.project, Error: msg}}
	for _, o := range u.others {
		id := u.reference.ID
		reports = append(reports, PackageReport{
			ID:               o.ID,
			Project:          true,
			ConsolidatedWith: &id,
			Error:            msg,
		})
	}
	return reports
}

// WriteSummary stores s below the store's runs directory and returns the
// file path.
func WriteSummary(st store.Store, s *Summary) (string, error) {
	if s.RunID == "" {
		return "", errors.New("summary has no run id")
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling summary: %w", err)
	}
	name := s.RunID + ".json"
	if err := st.WriteFile(append(data, '\n'), 0o644, RunsDir, name); err != nil {
		return "", fmt.Errorf("writing summary: %w", err)
	}
	return st.Path(RunsDir, name), nil
}
