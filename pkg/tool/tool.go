// Package tool wraps external command line tools that scanners and VCS
// backends shell out to.
//
// A [Tool] finds its executable on PATH, checks the reported version against
// a semantic version range, and when no acceptable executable is installed
// bootstraps a pinned version into a private install directory. Resolution
// happens at most once per Tool; bootstraps of the same tool name are
// serialized process-wide while different tools bootstrap independently.
package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/charmbracelet/log"

	"github.com/srcscan/srcscan/pkg/metrics"
)

const (
	waitDelay     = 5 * time.Second
	markerFile    = ".srcscan-bootstrap"
	latestVersion = "latest"
)

var (
	versionPattern = regexp.MustCompile(`\d+(\.\d+){0,2}([-+][0-9A-Za-z.-]+)?`)
	envNameReplace = regexp.MustCompile(`[^A-Z0-9]+`)

	// bootstrapLocks serializes bootstraps per tool name across Tool values.
	bootstrapLocks sync.Map
)

// Bootstrapper installs a pinned version of a tool into installDir and returns
// the directory inside installDir that contains the executable.
type Bootstrapper interface {
	Bootstrap(ctx context.Context, installDir string, platform Platform) (string, error)
}

// BootstrapFunc adapts a function to the Bootstrapper interface.
type BootstrapFunc func(ctx context.Context, installDir string, platform Platform) (string, error)

func (f BootstrapFunc) Bootstrap(ctx context.Context, installDir string, platform Platform) (string, error) {
	return f(ctx, installDir, platform)
}

// Config describes an external tool.
type Config struct {
	// Name identifies the tool in logs, errors, metrics and the
	// SRCSCAN_<NAME>_PATH override.
	Name string
	// Command is the executable's base name, without ".exe".
	Command string
	// VersionArgs are passed to probe the version. Defaults to --version.
	VersionArgs []string
	// ExtractVersion pulls the version out of the probe output. Defaults to
	// the first dotted number.
	ExtractVersion func(output string) string
	// Requirement is a semantic version range such as ">=2.0"; blank accepts
	// any version.
	Requirement string
	// Version is the version installed by the Bootstrapper.
	Version string
	// Bootstrapper installs Version; nil means the tool cannot be bootstrapped.
	Bootstrapper Bootstrapper
	// InstallRoot holds one directory per bootstrapped version.
	InstallRoot string
	// Timeout bounds every invocation; zero means no timeout.
	Timeout  time.Duration
	Platform Platform
	Logger   *log.Logger
	Metrics  *metrics.Metrics
}

// Tool is a resolved-on-demand external executable. A Tool must not be copied.
type Tool struct {
	cfg         Config
	requirement *semver.Constraints

	mu  sync.Mutex
	exe string
}

// New validates cfg and returns a Tool.
func New(cfg Config) (*Tool, error) {
	if cfg.Command == "" {
		return nil, errors.New("tool command must not be empty")
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Command
	}
	if len(cfg.VersionArgs) == 0 {
		cfg.VersionArgs = []string{"--version"}
	}
	if cfg.ExtractVersion == nil {
		cfg.ExtractVersion = FirstVersion
	}
	if cfg.Platform == (Platform{}) {
		cfg.Platform = CurrentPlatform()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	t := &Tool{cfg: cfg}
	if strings.TrimSpace(cfg.Requirement) != "" {
		c, err := semver.NewConstraint(cfg.Requirement)
		if err != nil {
			return nil, fmt.Errorf("parsing %s version requirement %q: %w", cfg.Name, cfg.Requirement, err)
		}
		t.requirement = c
	}
	return t, nil
}

// Name returns the tool's name.
func (t *Tool) Name() string { return t.cfg.Name }

// Requirement returns the configured version range, possibly blank.
func (t *Tool) Requirement() string { return t.cfg.Requirement }

// FirstVersion returns the first dotted version number found in output.
func FirstVersion(output string) string {
	return versionPattern.FindString(output)
}

// ResolvePath returns the directory containing the tool's executable,
// bootstrapping the tool if necessary.
func (t *Tool) ResolvePath(ctx context.Context) (string, error) {
	exe, err := t.Executable(ctx)
	if err != nil {
		return "", err
	}
	return filepath.Dir(exe), nil
}

// Executable returns the path of the tool's executable. The first successful
// call is memoized; failed resolutions are retried on the next call.
func (t *Tool) Executable(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.exe != "" {
		return t.exe, nil
	}

	exe, err := t.resolve(ctx)
	if err != nil {
		return "", &ToolResolutionError{Tool: t.cfg.Name, Err: err}
	}
	t.exe = exe
	return exe, nil
}

func (t *Tool) resolve(ctx context.Context) (string, error) {
	logger := t.cfg.Logger.With("tool", t.cfg.Name)

	if env := t.envOverride(); os.Getenv(env) != "" {
		override := os.Getenv(env)
		path, err := exec.LookPath(override)
		if err != nil {
			return "", fmt.Errorf("%s=%q is not executable: %w", env, override, err)
		}
		logger.Debug("using executable from environment", "path", path)
		return path, nil
	}

	installed, err := exec.LookPath(t.cfg.Platform.ExecutableName(t.cfg.Command))
	if err == nil && t.requirement == nil {
		logger.Debug("using installed executable", "path", installed)
		return installed, nil
	}
	if err == nil {
		v, raw, err := t.probeVersion(ctx, installed)
		switch {
		case err != nil:
			logger.Warn("could not determine installed version", "path", installed, "err", err)
		case t.satisfies(v):
			logger.Debug("using installed executable", "path", installed, "version", raw)
			return installed, nil
		default:
			logger.Info("installed version does not satisfy requirement",
				"path", installed, "version", raw, "requirement", t.cfg.Requirement)
		}
	} else {
		logger.Debug("executable not found on PATH", "command", t.cfg.Command)
	}

	exe, err := t.bootstrap(ctx)
	if errors.Is(err, ErrBootstrapUnsupported) && installed != "" {
		logger.Warn("using installed executable that cannot be verified", "path", installed)
		return installed, nil
	}
	return exe, err
}

func (t *Tool) envOverride() string {
	return "SRCSCAN_" + envNameReplace.ReplaceAllString(strings.ToUpper(t.cfg.Name), "_") + "_PATH"
}

func (t *Tool) satisfies(v *semver.Version) bool {
	return t.requirement == nil || t.requirement.Check(v)
}

func (t *Tool) probeVersion(ctx context.Context, exe string) (*semver.Version, string, error) {
	capture, err := t.exec(ctx, exe, RunOptions{}, t.cfg.VersionArgs...)
	if err != nil {
		return nil, "", err
	}

	out := strings.TrimSpace(capture.Stdout)
	if out == "" {
		out = strings.TrimSpace(capture.Stderr)
	}

	raw := t.cfg.ExtractVersion(out)
	v, err := semver.NewVersion(raw)
	if err != nil {
		return nil, raw, fmt.Errorf("parsing version from %q: %w", out, err)
	}
	return v, raw, nil
}

// Version runs the version probe and returns the reported version.
func (t *Tool) Version(ctx context.Context) (string, error) {
	exe, err := t.Executable(ctx)
	if err != nil {
		return "", err
	}
	v, _, err := t.probeVersion(ctx, exe)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

// CheckVersion verifies the resolved executable against the requirement.
// With ignoreActualVersion a mismatch is only logged.
func (t *Tool) CheckVersion(ctx context.Context, ignoreActualVersion bool) error {
	exe, err := t.Executable(ctx)
	if err != nil {
		return err
	}
	if t.requirement == nil {
		return nil
	}

	v, raw, err := t.probeVersion(ctx, exe)
	if err != nil {
		return fmt.Errorf("determining %s version: %w", t.cfg.Name, err)
	}
	if t.requirement.Check(v) {
		return nil
	}

	mismatch := &VersionMismatchError{Tool: t.cfg.Name, Actual: raw, Required: t.cfg.Requirement}
	if ignoreActualVersion {
		t.cfg.Logger.Warn("ignoring version mismatch", "tool", t.cfg.Name, "err", mismatch)
		return nil
	}
	return mismatch
}

// RunOptions configures a single invocation.
type RunOptions struct {
	// Dir is the working directory; blank uses the current directory.
	Dir string
	// Env is overlaid on the current environment.
	Env map[string]string
}

// ProcessCapture is the fully captured outcome of an invocation.
type ProcessCapture struct {
	Command  string
	Stdout   string
	Stderr   string
	ExitCode int
}

// IsSuccess reports whether the process exited with code 0.
func (p *ProcessCapture) IsSuccess() bool { return p.ExitCode == 0 }

// Err returns nil on success, otherwise an error carrying the exit code and
// the process's error output.
func (p *ProcessCapture) Err() error {
	if p.IsSuccess() {
		return nil
	}
	msg := strings.TrimSpace(p.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(p.Stdout)
	}
	return fmt.Errorf("%s exited with code %d: %s", p.Command, p.ExitCode, msg)
}

// Run executes the tool with args. A non-zero exit code is not an error;
// callers inspect the capture. Errors are returned for resolution failures,
// processes that could not be started, and timeouts or cancellation.
func (t *Tool) Run(ctx context.Context, opts RunOptions, args ...string) (*ProcessCapture, error) {
	exe, err := t.Executable(ctx)
	if err != nil {
		return nil, err
	}
	return t.exec(ctx, exe, opts, args...)
}

func (t *Tool) exec(ctx context.Context, exe string, opts RunOptions, args ...string) (*ProcessCapture, error) {
	if t.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, exe, args...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), envList(opts.Env)...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	configureProcessGroup(cmd)
	cmd.WaitDelay = waitDelay

	capture := &ProcessCapture{Command: strings.Join(append([]string{t.cfg.Command}, args...), " ")}
	err := cmd.Run()
	capture.Stdout = stdout.String()
	capture.Stderr = stderr.String()

	if err != nil {
		if ctx.Err() != nil {
			return capture, fmt.Errorf("running %s: %w", t.cfg.Name, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			capture.ExitCode = exitErr.ExitCode()
			return capture, nil
		}
		return nil, fmt.Errorf("running %s: %w", t.cfg.Name, err)
	}
	return capture, nil
}

func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	list := make([]string, 0, len(keys))
	for _, k := range keys {
		list = append(list, k+"="+env[k])
	}
	return list
}

func (t *Tool) bootstrap(ctx context.Context) (string, error) {
	if t.cfg.Bootstrapper == nil {
		return "", ErrBootstrapUnsupported
	}
	if t.cfg.InstallRoot == "" {
		return "", errors.New("no install root configured for bootstrapping")
	}

	mu, _ := bootstrapLocks.LoadOrStore(t.cfg.Name, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	defer mu.(*sync.Mutex).Unlock()

	version := t.cfg.Version
	if version == "" {
		version = latestVersion
	}
	installDir := filepath.Join(t.cfg.InstallRoot, version)

	if exe, ok := t.installed(installDir); ok {
		t.cfg.Logger.Debug("reusing bootstrapped executable", "tool", t.cfg.Name, "path", exe)
		return exe, nil
	}

	t.cfg.Logger.Info("bootstrapping tool", "tool", t.cfg.Name, "version", version)
	exe, err := t.install(ctx, installDir)
	t.cfg.Metrics.ObserveBootstrap(t.cfg.Name, err)
	if err != nil {
		return "", fmt.Errorf("bootstrapping version %s: %w", version, err)
	}
	return exe, nil
}

// installed reports the executable of a completed bootstrap in installDir.
func (t *Tool) installed(installDir string) (string, bool) {
	rel, err := os.ReadFile(filepath.Join(installDir, markerFile))
	if err != nil {
		return "", false
	}
	exe := filepath.Join(installDir, strings.TrimSpace(string(rel)), t.cfg.Platform.ExecutableName(t.cfg.Command))
	if _, err := os.Stat(exe); err != nil {
		return "", false
	}
	return exe, true
}

func (t *Tool) install(ctx context.Context, installDir string) (string, error) {
	if err := os.MkdirAll(t.cfg.InstallRoot, 0o755); err != nil {
		return "", err
	}
	tmp, err := os.MkdirTemp(t.cfg.InstallRoot, ".bootstrap-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(tmp)

	exeDir, err := t.cfg.Bootstrapper.Bootstrap(ctx, tmp, t.cfg.Platform)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(tmp, exeDir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("executable directory %q is outside the install directory", exeDir)
	}

	name := t.cfg.Platform.ExecutableName(t.cfg.Command)
	if _, err := os.Stat(filepath.Join(exeDir, name)); err != nil {
		return "", fmt.Errorf("bootstrap did not produce %s: %w", name, err)
	}
	if !t.cfg.Platform.IsWindows() {
		if err := os.Chmod(filepath.Join(exeDir, name), 0o755); err != nil {
			return "", err
		}
	}

	if err := os.WriteFile(filepath.Join(tmp, markerFile), []byte(filepath.ToSlash(rel)), 0o644); err != nil {
		return "", err
	}
	if err := os.RemoveAll(installDir); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, installDir); err != nil {
		return "", err
	}
	return filepath.Join(installDir, rel, name), nil
}
