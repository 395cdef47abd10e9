package scanner

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/srcscan/srcscan/pkg/metrics"
	"github.com/srcscan/srcscan/pkg/model"
)

// Runner runs scanners, reusing earlier result files whose provenance matches.
type Runner struct {
	SkipExisting bool
	Logger       *log.Logger
	Metrics      *metrics.Metrics
}

// Run scans dir with s and writes the result to resultFile. With
// SkipExisting, an existing result file for the same provenance is returned
// instead; the second return value reports whether that happened.
func (r *Runner) Run(ctx context.Context, s Scanner, dir string, provenance model.Provenance, resultFile string) (*Result, bool, error) {
	logger := r.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.With("scanner", s.Name())

	if r.SkipExisting {
		existing, err := s.ParseResult(resultFile)
		switch {
		case err == nil && existing.Provenance.Equal(provenance):
			logger.Debug("reusing scan result", "file", resultFile)
			r.Metrics.ObserveScan(s.Name(), true, nil)
			return existing, true, nil
		case err == nil:
			logger.Debug("stored scan result has different provenance, rescanning", "file", resultFile)
		case !errors.Is(err, os.ErrNotExist):
			logger.Warn("ignoring unreadable scan result", "file", resultFile, "err", err)
		}
	}

	start := time.Now()
	result, err := s.Scan(ctx, dir, provenance, resultFile)
	r.Metrics.ObserveScan(s.Name(), false, err)
	if err != nil {
		return nil, false, err
	}
	logger.Info("scanned", "dir", dir, "files", result.FileCount, "findings", len(result.Findings), "took", time.Since(start).Round(time.Millisecond))
	return result, false, nil
}
