// Package filecount is an in-process scanner that counts the files of a
// source tree.
package filecount

import (
	"context"
	"encoding/json"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/srcscan/srcscan/pkg/model"
	"github.com/srcscan/srcscan/pkg/scanner"
)

const (
	Name    = "FileCounter"
	version = "1.0.0"
)

// vcsDirs are metadata directories that are not part of the sources.
var vcsDirs = map[string]bool{".git": true, ".hg": true, ".svn": true, ".repo": true}

// Scanner counts regular files.
type Scanner struct{}

var _ scanner.Scanner = Scanner{}

func (Scanner) Name() string { return Name }

func (s Scanner) Scan(ctx context.Context, dir string, provenance model.Provenance, resultFile string) (*scanner.Result, error) {
	start := time.Now()

	count := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() && vcsDirs[d.Name()] && path != dir {
			return filepath.SkipDir
		}
		if d.Type().IsRegular() {
			count++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(map[string]int{"file_count": count})
	if err != nil {
		return nil, err
	}

	result := &scanner.Result{
		ID:             uuid.NewString(),
		Scanner:        Name,
		ScannerVersion: version,
		StartTime:      start,
		EndTime:        time.Now(),
		FileCount:      count,
		Provenance:     provenance,
		RawOutput:      raw,
	}
	if err := scanner.WriteResultFile(resultFile, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (Scanner) ParseResult(resultFile string) (*scanner.Result, error) {
	return scanner.ParseResultFile(resultFile, Name)
}
