package tool

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/srcscan/srcscan/pkg/httpcache"
)

// requireUnix skips tests that rely on shell script executables.
func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script tools are not executable on windows")
	}
}

// writeScript writes an executable shell script named name into dir.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

// stubBootstrapper installs a fake tool reporting version and counts calls.
type stubBootstrapper struct {
	version string
	fail    int32
	calls   atomic.Int32
}

func (s *stubBootstrapper) Bootstrap(_ context.Context, installDir string, _ Platform) (string, error) {
	n := s.calls.Add(1)
	if n <= s.fail {
		return "", errors.New("download failed")
	}
	bin := filepath.Join(installDir, "bin")
	if err := os.MkdirAll(bin, 0o755); err != nil {
		return "", err
	}
	script := "#!/bin/sh\necho \"fake version " + s.version + "\"\n"
	return bin, os.WriteFile(filepath.Join(bin, "fake"), []byte(script), 0o644)
}

func TestFirstVersion(t *testing.T) {
	tests := map[string]struct {
		input string
		want  string
	}{
		"git":             {input: "git version 2.39.2", want: "2.39.2"},
		"git for windows": {input: "git version 2.41.0.windows.1", want: "2.41.0"},
		"prerelease":      {input: "askalono 0.5.0-beta.1", want: "0.5.0-beta.1"},
		"two components":  {input: "Mercurial Distributed SCM (version 6.5)", want: "6.5"},
		"none":            {input: "unknown", want: ""},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			if got := FirstVersion(tc.input); got != tc.want {
				t.Errorf("FirstVersion(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestNewRejectsBadRequirement(t *testing.T) {
	if _, err := New(Config{Command: "fake", Requirement: "not a range"}); err == nil {
		t.Fatal("expected error for invalid requirement")
	}
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestResolvePathUsesInstalledExecutable(t *testing.T) {
	requireUnix(t)

	bin := t.TempDir()
	writeScript(t, bin, "fake", `echo "fake version 1.4.2"`)
	t.Setenv("PATH", bin)

	boot := &stubBootstrapper{version: "2.0.0"}
	tl, err := New(Config{
		Name:         "fake",
		Command:      "fake",
		Requirement:  ">=1.0",
		Version:      "2.0.0",
		Bootstrapper: boot,
		InstallRoot:  t.TempDir(),
	})
	if err != nil {
		t.Fatal(err)
	}

	dir, err := tl.ResolvePath(context.Background())
	if err != nil {
		t.Fatalf("ResolvePath: %v", err)
	}
	if dir != bin {
		t.Errorf("ResolvePath = %q, want %q", dir, bin)
	}
	if n := boot.calls.Load(); n != 0 {
		t.Errorf("bootstrap called %d times, want 0", n)
	}
}

func TestResolvePathBootstrapsOnce(t *testing.T) {
	requireUnix(t)

	bin := t.TempDir()
	writeScript(t, bin, "fake", `echo "fake version 0.9.0"`)
	t.Setenv("PATH", bin)

	root := t.TempDir()
	boot := &stubBootstrapper{version: "1.2.0"}
	newTool := func() *Tool {
		tl, err := New(Config{
			Name:         "fake-once",
			Command:      "fake",
			Requirement:  ">=1.0",
			Version:      "1.2.0",
			Bootstrapper: boot,
			InstallRoot:  root,
		})
		if err != nil {
			t.Fatal(err)
		}
		return tl
	}

	want := filepath.Join(root, "1.2.0", "bin")
	for i := range 2 {
		dir, err := newTool().ResolvePath(context.Background())
		if err != nil {
			t.Fatalf("ResolvePath #%d: %v", i, err)
		}
		if dir != want {
			t.Errorf("ResolvePath #%d = %q, want %q", i, dir, want)
		}
	}

	if n := boot.calls.Load(); n != 1 {
		t.Errorf("bootstrap called %d times, want 1", n)
	}

	v, err := newTool().Version(context.Background())
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if v != "1.2.0" {
		t.Errorf("Version = %q, want 1.2.0", v)
	}
}

func TestResolvePathConcurrent(t *testing.T) {
	requireUnix(t)
	t.Setenv("PATH", t.TempDir())

	root := t.TempDir()
	boot := &stubBootstrapper{version: "1.0.0"}
	newTool := func() *Tool {
		tl, err := New(Config{
			Name:         "fake-concurrent",
			Command:      "fake",
			Version:      "1.0.0",
			Bootstrapper: boot,
			InstallRoot:  root,
		})
		if err != nil {
			t.Fatal(err)
		}
		return tl
	}

	// Half the callers share one Tool, the rest use separate Tools of the
	// same name.
	shared := newTool()
	tools := []*Tool{shared, shared, shared, shared, newTool(), newTool(), newTool(), newTool()}

	const callsPerTool = 4
	var wg sync.WaitGroup
	dirs := make(chan string, len(tools)*callsPerTool)
	errs := make(chan error, len(tools)*callsPerTool)
	for _, tl := range tools {
		for range callsPerTool {
			wg.Add(1)
			go func() {
				defer wg.Done()
				dir, err := tl.ResolvePath(context.Background())
				if err != nil {
					errs <- err
					return
				}
				dirs <- dir
			}()
		}
	}
	wg.Wait()
	close(errs)
	close(dirs)

	for err := range errs {
		t.Errorf("ResolvePath: %v", err)
	}
	want := filepath.Join(root, "1.0.0", "bin")
	for dir := range dirs {
		if dir != want {
			t.Errorf("ResolvePath = %q, want %q", dir, want)
		}
	}
	if n := boot.calls.Load(); n != 1 {
		t.Errorf("bootstrap called %d times, want 1", n)
	}
}

func TestBootstrapDifferentToolsIndependently(t *testing.T) {
	requireUnix(t)
	t.Setenv("PATH", t.TempDir())

	started := make(chan struct{})
	release := make(chan struct{})
	blocked := BootstrapFunc(func(ctx context.Context, installDir string, p Platform) (string, error) {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		return (&stubBootstrapper{version: "1.0.0"}).Bootstrap(ctx, installDir, p)
	})

	slow, err := New(Config{Name: "fake-slow", Command: "fake", Version: "1.0.0", Bootstrapper: blocked, InstallRoot: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	fastBoot := &stubBootstrapper{version: "2.0.0"}
	fast, err := New(Config{Name: "fake-fast", Command: "fake", Version: "2.0.0", Bootstrapper: fastBoot, InstallRoot: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}

	slowDone := make(chan error, 1)
	go func() {
		_, err := slow.ResolvePath(context.Background())
		slowDone <- err
	}()
	<-started

	fastDone := make(chan error, 1)
	go func() {
		_, err := fast.ResolvePath(context.Background())
		fastDone <- err
	}()

	select {
	case err := <-fastDone:
		if err != nil {
			t.Errorf("fake-fast ResolvePath: %v", err)
		}
	case <-time.After(5 * time.Second):
		close(release)
		t.Fatal("bootstrap of fake-fast waited for fake-slow")
	}
	if n := fastBoot.calls.Load(); n != 1 {
		t.Errorf("fake-fast bootstrapped %d times, want 1", n)
	}

	close(release)
	if err := <-slowDone; err != nil {
		t.Errorf("fake-slow ResolvePath: %v", err)
	}
}

func TestBootstrapFailureIsRetried(t *testing.T) {
	requireUnix(t)
	t.Setenv("PATH", t.TempDir())

	boot := &stubBootstrapper{version: "1.0.0", fail: 1}
	tl, err := New(Config{
		Name:         "fake-retry",
		Command:      "fake",
		Version:      "1.0.0",
		Bootstrapper: boot,
		InstallRoot:  t.TempDir(),
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = tl.ResolvePath(context.Background())
	var resErr *ToolResolutionError
	if !errors.As(err, &resErr) {
		t.Fatalf("first ResolvePath error = %v, want ToolResolutionError", err)
	}

	if _, err := tl.ResolvePath(context.Background()); err != nil {
		t.Fatalf("second ResolvePath: %v", err)
	}
	if n := boot.calls.Load(); n != 2 {
		t.Errorf("bootstrap called %d times, want 2", n)
	}
}

func TestResolvePathWithoutBootstrapper(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	tl, err := New(Config{Name: "missing", Command: "srcscan-missing-tool-abc123"})
	if err != nil {
		t.Fatal(err)
	}

	_, err = tl.ResolvePath(context.Background())
	if !errors.Is(err, ErrBootstrapUnsupported) {
		t.Fatalf("error = %v, want ErrBootstrapUnsupported", err)
	}
	var resErr *ToolResolutionError
	if !errors.As(err, &resErr) || resErr.Tool != "missing" {
		t.Errorf("error = %v, want ToolResolutionError for missing", err)
	}
}

func TestResolvePathEnvOverride(t *testing.T) {
	requireUnix(t)

	exe := writeScript(t, t.TempDir(), "custom-fake", `echo "fake version 0.1.0"`)
	t.Setenv("SRCSCAN_MY_FAKE_PATH", exe)
	t.Setenv("PATH", t.TempDir())

	tl, err := New(Config{Name: "my-fake", Command: "fake", Requirement: ">=1.0"})
	if err != nil {
		t.Fatal(err)
	}

	dir, err := tl.ResolvePath(context.Background())
	if err != nil {
		t.Fatalf("ResolvePath: %v", err)
	}
	if dir != filepath.Dir(exe) {
		t.Errorf("ResolvePath = %q, want %q", dir, filepath.Dir(exe))
	}
}

func TestCheckVersion(t *testing.T) {
	requireUnix(t)

	exe := writeScript(t, t.TempDir(), "fake", `echo "fake version 0.5.0"`)
	t.Setenv("SRCSCAN_FAKE_PATH", exe)

	tests := map[string]struct {
		requirement string
		ignore      bool
		wantErr     bool
	}{
		"satisfied":          {requirement: ">=0.5"},
		"no requirement":     {},
		"mismatch":           {requirement: ">=1.0", wantErr: true},
		"mismatch ignored":   {requirement: ">=1.0", ignore: true},
		"upper bound exceed": {requirement: "<0.5", wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			tl, err := New(Config{Name: "fake", Command: "fake", Requirement: tc.requirement})
			if err != nil {
				t.Fatal(err)
			}

			err = tl.CheckVersion(context.Background(), tc.ignore)
			if !tc.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var mismatch *VersionMismatchError
			if !errors.As(err, &mismatch) {
				t.Fatalf("error = %v, want VersionMismatchError", err)
			}
			if mismatch.Actual != "0.5.0" {
				t.Errorf("Actual = %q, want 0.5.0", mismatch.Actual)
			}
		})
	}
}

func TestRunCapturesOutput(t *testing.T) {
	requireUnix(t)

	exe := writeScript(t, t.TempDir(), "fake", `echo "out $GREETING"; echo "err" >&2; pwd; exit 3`)
	t.Setenv("SRCSCAN_FAKE_PATH", exe)

	tl, err := New(Config{Name: "fake", Command: "fake"})
	if err != nil {
		t.Fatal(err)
	}

	workDir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	capture, err := tl.Run(context.Background(), RunOptions{
		Dir: workDir,
		Env: map[string]string{"GREETING": "hello"},
	}, "scan")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if capture.IsSuccess() {
		t.Error("IsSuccess = true, want false")
	}
	if capture.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", capture.ExitCode)
	}
	if !strings.HasPrefix(capture.Stdout, "out hello\n") {
		t.Errorf("Stdout = %q, want prefix %q", capture.Stdout, "out hello\n")
	}
	if !strings.Contains(capture.Stdout, workDir) {
		t.Errorf("Stdout = %q, want working directory %q", capture.Stdout, workDir)
	}
	if strings.TrimSpace(capture.Stderr) != "err" {
		t.Errorf("Stderr = %q, want err", capture.Stderr)
	}
	if err := capture.Err(); err == nil || !strings.Contains(err.Error(), "code 3: err") {
		t.Errorf("Err() = %v, want exit code and stderr", err)
	}
}

func TestRunTimeout(t *testing.T) {
	requireUnix(t)

	exe := writeScript(t, t.TempDir(), "fake", `sleep 10`)
	t.Setenv("SRCSCAN_FAKE_PATH", exe)

	tl, err := New(Config{Name: "fake", Command: "fake", Timeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	_, err = tl.Run(context.Background(), RunOptions{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Run took %v after timeout", elapsed)
	}
}

func TestExpandURL(t *testing.T) {
	got := ExpandURL("https://example.com/{version}/tool-{os}-{arch}.tar.gz", "1.2.3", Platform{OS: "linux", Arch: "amd64"})
	want := "https://example.com/1.2.3/tool-linux-amd64.tar.gz"
	if got != want {
		t.Errorf("ExpandURL = %q, want %q", got, want)
	}
}

func TestArchiveBootstrapper(t *testing.T) {
	requireUnix(t)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	script := []byte("#!/bin/sh\necho \"fake 3.1.0\"\n")
	if err := tw.WriteHeader(&tar.Header{Name: "fake-3.1.0/bin/fake", Mode: 0o755, Size: int64(len(script))}); err != nil {
		t.Fatal(err)
	}
	tw.Write(script)
	tw.Close()
	gz.Close()

	var requested string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = r.URL.Path
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	cache, err := httpcache.New(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	client, err := httpcache.NewClient(cache, httpcache.Options{})
	if err != nil {
		t.Fatal(err)
	}

	t.Setenv("PATH", t.TempDir())
	root := t.TempDir()
	tl, err := New(Config{
		Name:        "fake-archive",
		Command:     "fake",
		Version:     "3.1.0",
		InstallRoot: root,
		Platform:    Platform{OS: "linux", Arch: "amd64"},
		Bootstrapper: &ArchiveBootstrapper{
			Client:      client,
			URLTemplate: srv.URL + "/fake-{version}-{os}-{arch}.tar.gz",
			Version:     "3.1.0",
			ExeDir:      "fake-3.1.0/bin",
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	dir, err := tl.ResolvePath(context.Background())
	if err != nil {
		t.Fatalf("ResolvePath: %v", err)
	}
	if want := filepath.Join(root, "3.1.0", "fake-3.1.0", "bin"); dir != want {
		t.Errorf("ResolvePath = %q, want %q", dir, want)
	}
	if requested != "/fake-3.1.0-linux-amd64.tar.gz" {
		t.Errorf("requested %q", requested)
	}

	capture, err := tl.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(capture.Stdout) != "fake 3.1.0" {
		t.Errorf("Stdout = %q", capture.Stdout)
	}
}
