// Package askalono scans source trees for license texts with the askalono
// command line tool.
package askalono

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/srcscan/srcscan/pkg/httpcache"
	"github.com/srcscan/srcscan/pkg/model"
	"github.com/srcscan/srcscan/pkg/scanner"
	"github.com/srcscan/srcscan/pkg/tool"
)

const (
	Name = "Askalono"

	DefaultVersion     = "0.5.0"
	DefaultRequirement = ">=0.4"
	DefaultURLTemplate = "https://github.com/jpeddicord/askalono/releases/download/{version}/askalono-{os}.zip"

	defaultConfidence   = 0.9
	defaultOutputFormat = "json"
)

// Options are the askalono specific settings under tools.askalono.options.
type Options struct {
	// Confidence is the minimum score for a match to be reported.
	Confidence float64
	// OutputFormat is the crawl output format; only "json" is supported.
	OutputFormat string
}

// ParseOptions reads Options from an opaque configuration map.
func ParseOptions(raw map[string]any) (Options, error) {
	opts := Options{Confidence: defaultConfidence, OutputFormat: defaultOutputFormat}

	for key, value := range raw {
		switch strings.ToLower(key) {
		case "confidence":
			switch v := value.(type) {
			case float64:
				opts.Confidence = v
			case int64:
				opts.Confidence = float64(v)
			case int:
				opts.Confidence = float64(v)
			default:
				return opts, fmt.Errorf("askalono option confidence: expected a number, got %T", value)
			}
		case "output_format", "outputformat":
			s, ok := value.(string)
			if !ok {
				return opts, fmt.Errorf("askalono option output_format: expected a string, got %T", value)
			}
			opts.OutputFormat = strings.ToLower(s)
		default:
			return opts, fmt.Errorf("unknown askalono option %q", key)
		}
	}

	if opts.Confidence < 0 || opts.Confidence > 1 {
		return opts, fmt.Errorf("askalono option confidence must be between 0 and 1, got %v", opts.Confidence)
	}
	if opts.OutputFormat != defaultOutputFormat {
		return opts, fmt.Errorf("askalono output format %q is not supported", opts.OutputFormat)
	}
	return opts, nil
}

// ToolConfig returns the managed tool configuration for askalono. Release
// archives are downloaded through client into installRoot.
func ToolConfig(client *httpcache.Client, installRoot, version, urlTemplate string) tool.Config {
	if version == "" {
		version = DefaultVersion
	}
	if urlTemplate == "" {
		urlTemplate = DefaultURLTemplate
	}
	platform := tool.CurrentPlatform()

	return tool.Config{
		Name:        "askalono",
		Command:     "askalono",
		Requirement: DefaultRequirement,
		Version:     version,
		InstallRoot: installRoot,
		Platform:    platform,
		Bootstrapper: &tool.ArchiveBootstrapper{
			Client:      client,
			URLTemplate: strings.ReplaceAll(urlTemplate, "{os}", releaseOS(platform)),
			Version:     version,
		},
	}
}

// releaseOS maps a platform to the OS name used in askalono release assets.
func releaseOS(p tool.Platform) string {
	switch p.OS {
	case "darwin":
		return "macOS"
	case "windows":
		return "Windows"
	default:
		return "Linux"
	}
}

// Scanner runs askalono crawl.
type Scanner struct {
	tool          *tool.Tool
	opts          Options
	ignoreVersion bool
	logger        *log.Logger
}

var _ scanner.Scanner = &Scanner{}

// New returns an askalono scanner. With ignoreVersion, an installed askalono
// outside the required version range only produces a warning.
func New(t *tool.Tool, opts Options, ignoreVersion bool, logger *log.Logger) *Scanner {
	if logger == nil {
		logger = log.Default()
	}
	return &Scanner{tool: t, opts: opts, ignoreVersion: ignoreVersion, logger: logger}
}

func (s *Scanner) Name() string { return Name }

func (s *Scanner) Scan(ctx context.Context, dir string, provenance model.Provenance, resultFile string) (*scanner.Result, error) {
	if err := s.tool.CheckVersion(ctx, s.ignoreVersion); err != nil {
		return nil, err
	}
	version, err := s.tool.Version(ctx)
	if err != nil {
		s.logger.Warn("could not determine askalono version", "err", err)
	}

	start := time.Now()
	capture, err := s.tool.Run(ctx, tool.RunOptions{Dir: dir}, "--format", s.opts.OutputFormat, "crawl", dir)
	if err != nil {
		return nil, err
	}
	if err := capture.Err(); err != nil {
		return nil, err
	}
	end := time.Now()

	findings, files, raw, err := s.parseCrawl(dir, capture.Stdout)
	if err != nil {
		return nil, err
	}

	result := &scanner.Result{
		ID:             uuid.NewString(),
		Scanner:        Name,
		ScannerVersion: version,
		StartTime:      start,
		EndTime:        end,
		FileCount:      files,
		Findings:       findings,
		Provenance:     provenance,
		RawOutput:      raw,
	}
	if err := scanner.WriteResultFile(resultFile, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Scanner) ParseResult(resultFile string) (*scanner.Result, error) {
	return scanner.ParseResultFile(resultFile, Name)
}

// crawlLine is one line of askalono's JSON crawl output.
type crawlLine struct {
	Path   string `json:"path"`
	Result *struct {
		Score   float64 `json:"score"`
		License *struct {
			Name string `json:"name"`
		} `json:"license"`
	} `json:"result"`
	Error string `json:"error"`
}

// parseCrawl turns newline delimited crawl output into findings at or above
// the configured confidence. It also returns the number of files inspected
// and the output as a JSON array.
func (s *Scanner) parseCrawl(dir, out string) ([]scanner.LicenseFinding, int, json.RawMessage, error) {
	var (
		findings []scanner.LicenseFinding
		lines    []json.RawMessage
	)

	sc := bufio.NewScanner(strings.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}

		var line crawlLine
		if err := json.Unmarshal([]byte(text), &line); err != nil {
			return nil, 0, nil, fmt.Errorf("parsing askalono output %q: %w", text, err)
		}
		lines = append(lines, json.RawMessage(text))

		if line.Error != "" {
			s.logger.Debug("askalono could not analyze file", "path", line.Path, "err", line.Error)
			continue
		}
		if line.Result == nil || line.Result.License == nil || line.Result.Score < s.opts.Confidence {
			continue
		}

		path := line.Path
		if rel, err := filepath.Rel(dir, path); err == nil && !strings.HasPrefix(rel, "..") {
			path = rel
		}
		findings = append(findings, scanner.LicenseFinding{
			License: line.Result.License.Name,
			Path:    filepath.ToSlash(path),
			Score:   line.Result.Score,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, 0, nil, err
	}

	raw, err := json.Marshal(lines)
	if err != nil {
		return nil, 0, nil, err
	}
	return findings, len(lines), raw, nil
}
