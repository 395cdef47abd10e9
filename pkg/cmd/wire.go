package cmd

import (
	"fmt"
	"strings"

	"github.com/srcscan/srcscan/pkg/downloader"
	"github.com/srcscan/srcscan/pkg/httpcache"
	"github.com/srcscan/srcscan/pkg/scanner"
	"github.com/srcscan/srcscan/pkg/scanner/askalono"
	"github.com/srcscan/srcscan/pkg/scanner/filecount"
	"github.com/srcscan/srcscan/pkg/tool"
	"github.com/srcscan/srcscan/pkg/vcs"
	"github.com/srcscan/srcscan/pkg/vcs/git"
	"github.com/srcscan/srcscan/pkg/vcs/gitrepo"
	"github.com/srcscan/srcscan/pkg/vcs/mercurial"
	"github.com/srcscan/srcscan/pkg/vcs/subversion"
)

// httpCacheOwner names the shared response cache below the store root.
const httpCacheOwner = "srcscan"

// services builds the components a command needs from Env. Tools are
// created once and shared, so each is resolved or bootstrapped at most once
// per process.
type services struct {
	env   *Environment
	cache *httpcache.Cache
	tools map[string]*tool.Tool
}

func newServices(env *Environment) (*services, error) {
	cache, err := httpcache.New(env.Store.HTTPCacheDir(httpCacheOwner), env.Config.HTTP.CacheTTL)
	if err != nil {
		return nil, err
	}
	return &services{env: env, cache: cache, tools: map[string]*tool.Tool{}}, nil
}

// client returns an HTTP client storing responses in namespace ns.
func (s *services) client(ns string) (*httpcache.Client, error) {
	return httpcache.NewClient(s.cache.Namespace(ns), httpcache.Options{
		Timeout: s.env.Config.HTTP.Timeout,
		Proxy:   s.env.Config.HTTP.Proxy,
		Retries: s.env.Config.HTTP.Retries,
		Logger:  s.env.Logger,
	})
}

// toolNames lists every managed tool srcscan knows.
var toolNames = []string{"git", "repo", "mercurial", "subversion", "askalono"}

// tool returns the managed tool called name, applying its configured
// overrides.
func (s *services) tool(name string) (*tool.Tool, error) {
	name = strings.ToLower(name)
	if t, ok := s.tools[name]; ok {
		return t, nil
	}

	settings := s.env.Config.Tool(name)
	installRoot := s.env.Store.BootstrapDir(name)

	var cfg tool.Config
	switch name {
	case "git":
		cfg = git.ToolConfig()
	case "mercurial":
		cfg = mercurial.ToolConfig()
	case "subversion":
		cfg = subversion.ToolConfig()
	case "repo":
		client, err := s.client(name)
		if err != nil {
			return nil, err
		}
		cfg = gitrepo.ToolConfig(client, installRoot)
	case "askalono":
		client, err := s.client(name)
		if err != nil {
			return nil, err
		}
		cfg = askalono.ToolConfig(client, installRoot, settings.Version, settings.URL)
	default:
		return nil, fmt.Errorf("unknown tool %q (known: %s)", name, strings.Join(toolNames, ", "))
	}

	if settings.Requirement != "" {
		cfg.Requirement = settings.Requirement
	}
	if settings.Version != "" {
		cfg.Version = settings.Version
		if b, ok := cfg.Bootstrapper.(*tool.FileBootstrapper); ok {
			b.Version = settings.Version
		}
	}
	cfg.Timeout = settings.Timeout
	cfg.InstallRoot = installRoot
	cfg.Logger = s.env.Logger
	cfg.Metrics = s.env.Metrics

	t, err := tool.New(cfg)
	if err != nil {
		return nil, err
	}
	s.tools[name] = t
	return t, nil
}

// vcsRegistry registers every VCS backend.
func (s *services) vcsRegistry() (*vcs.Registry, error) {
	gitTool, err := s.tool("git")
	if err != nil {
		return nil, err
	}
	repoTool, err := s.tool("repo")
	if err != nil {
		return nil, err
	}
	hgTool, err := s.tool("mercurial")
	if err != nil {
		return nil, err
	}
	svnTool, err := s.tool("subversion")
	if err != nil {
		return nil, err
	}

	logger := s.env.Logger
	return vcs.NewRegistry(
		gitrepo.New(repoTool, gitTool, logger.With("vcs", "GitRepo")),
		git.New(gitTool, logger.With("vcs", "Git")),
		mercurial.New(hgTool, logger.With("vcs", "Mercurial")),
		subversion.New(svnTool, logger.With("vcs", "Subversion")),
	)
}

func (s *services) downloader() (*downloader.Downloader, error) {
	reg, err := s.vcsRegistry()
	if err != nil {
		return nil, err
	}
	client, err := s.client(downloader.HTTPCacheNamespace)
	if err != nil {
		return nil, err
	}
	return downloader.New(reg, client, s.env.Logger, s.env.Metrics), nil
}

// scanners returns the registry of all available scanners.
func (s *services) scanners() (scanner.Registry, error) {
	reg := scanner.Registry{}
	if err := reg.Register(filecount.Scanner{}); err != nil {
		return nil, err
	}

	settings := s.env.Config.Tool("askalono")
	opts, err := askalono.ParseOptions(settings.Options)
	if err != nil {
		return nil, fmt.Errorf("tools.askalono.options: %w", err)
	}
	t, err := s.tool("askalono")
	if err != nil {
		return nil, err
	}
	if err := reg.Register(askalono.New(t, opts, settings.IgnoreVersion, s.env.Logger.With("scanner", askalono.Name))); err != nil {
		return nil, err
	}
	return reg, nil
}

// enabledScanners returns the configured scanners, in configured order.
func (s *services) enabledScanners() ([]scanner.Scanner, error) {
	reg, err := s.scanners()
	if err != nil {
		return nil, err
	}
	return reg.Select(s.env.Config.Scanner.Enabled)
}
