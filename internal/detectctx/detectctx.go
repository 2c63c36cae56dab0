// Package detectctx holds the Detection Context Cache of spec.md §4.12: a
// permanent-for-process-lifetime spinner-verb override cache and a 10s-TTL
// git-info cache, both keyed by working directory. Grounded on the teacher's
// per-directory cache-entry-with-expiry idiom used throughout
// internal/plugins/workspace, and its git subprocess invocation style in
// internal/app/git.go.
package detectctx

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// SpinnerMode controls whether a project's custom verbs replace or append to
// the built-in spinner-verb list.
type SpinnerMode int

const (
	SpinnerAppend SpinnerMode = iota
	SpinnerReplace
)

// SpinnerSettings is the resolved spinner-verb configuration for one cwd.
type SpinnerSettings struct {
	Mode  SpinnerMode
	Verbs []string
}

// settingsFile is the slice of Claude Code's settings JSON this cache cares
// about: {"spinnerVerbs": {"mode": "replace"|"append", "verbs": [...]}}.
type settingsFile struct {
	SpinnerVerbs *struct {
		Mode  string   `json:"mode"`
		Verbs []string `json:"verbs"`
	} `json:"spinnerVerbs"`
}

// SettingsCache resolves, per working directory, the agent's own settings
// files — project-local override, project-shared, then user-global (higher
// priority wins when spinnerVerbs is present) — caching the result forever
// (the agent itself requires a restart to alter these settings).
type SettingsCache struct {
	mu      sync.Mutex
	entries map[string]*SpinnerSettings

	localName   string
	projectName string
	globalPath  string
}

const (
	localOverrideFile = ".claude/settings.local.json"
	projectSharedFile = ".claude/settings.json"
	globalFileName    = ".claude/settings.json"
)

// NewSettingsCache builds a cache over the conventional settings locations,
// with the user-global file resolved under $HOME.
func NewSettingsCache() *SettingsCache {
	global := ""
	if home, err := os.UserHomeDir(); err == nil {
		global = filepath.Join(home, globalFileName)
	}
	return &SettingsCache{
		entries:     make(map[string]*SpinnerSettings),
		localName:   localOverrideFile,
		projectName: projectSharedFile,
		globalPath:  global,
	}
}

// Get resolves (and memoizes) the spinner settings for cwd. Returns nil if
// none of the three files exist or parse.
func (c *SettingsCache) Get(cwd string) *SpinnerSettings {
	c.mu.Lock()
	if s, ok := c.entries[cwd]; ok {
		c.mu.Unlock()
		return s
	}
	c.mu.Unlock()

	s := c.resolve(cwd)

	c.mu.Lock()
	c.entries[cwd] = s
	c.mu.Unlock()
	return s
}

func (c *SettingsCache) resolve(cwd string) *SpinnerSettings {
	// Priority: local override > project-shared > user-global. The higher
	// priority file's spinner_verbs supersedes the lower's when present.
	candidates := []string{
		filepath.Join(cwd, c.localName),
		filepath.Join(cwd, c.projectName),
		c.globalPath,
	}
	for _, path := range candidates {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var raw settingsFile
		if err := json.Unmarshal(data, &raw); err != nil {
			continue
		}
		if raw.SpinnerVerbs == nil {
			continue
		}
		mode := SpinnerAppend
		if strings.EqualFold(raw.SpinnerVerbs.Mode, "replace") {
			mode = SpinnerReplace
		}
		return &SpinnerSettings{Mode: mode, Verbs: raw.SpinnerVerbs.Verbs}
	}
	return nil
}

// GitInfo is the resolved branch/dirty/worktree/common-dir state for a
// directory.
type GitInfo struct {
	Branch     string
	Dirty      bool
	Worktree   string // non-empty when workdir is a linked worktree
	CommonDir  string
	IsRepo     bool
}

type gitEntry struct {
	info    GitInfo
	expires time.Time
}

// GitCache fans out `git` subprocess calls per directory with a 10s TTL and
// a 5s per-call timeout, mirroring the teacher's per-directory
// cache-with-expiry idiom.
type GitCache struct {
	mu      sync.Mutex
	entries map[string]gitEntry
	ttl     time.Duration

	// runner is overridable for tests.
	runner func(ctx context.Context, dir string, args ...string) (string, error)
}

const (
	gitCacheTTL  = 10 * time.Second
	gitCallTimeout = 5 * time.Second
)

func NewGitCache() *GitCache {
	return &GitCache{
		entries: make(map[string]gitEntry),
		ttl:     gitCacheTTL,
		runner:  runGit,
	}
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, gitCallTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	return strings.TrimSpace(string(out)), err
}

// Get resolves (and caches for 10s) the git info for dir.
func (c *GitCache) Get(ctx context.Context, dir string) GitInfo {
	now := time.Now()
	c.mu.Lock()
	if e, ok := c.entries[dir]; ok && now.Before(e.expires) {
		c.mu.Unlock()
		return e.info
	}
	c.mu.Unlock()

	info := c.fetch(ctx, dir)

	c.mu.Lock()
	c.entries[dir] = gitEntry{info: info, expires: now.Add(c.ttl)}
	c.mu.Unlock()
	return info
}

func (c *GitCache) fetch(ctx context.Context, dir string) GitInfo {
	var info GitInfo
	var wg sync.WaitGroup
	var mu sync.Mutex

	if _, err := c.runner(ctx, dir, "rev-parse", "--git-dir"); err != nil {
		return GitInfo{}
	}
	info.IsRepo = true

	wg.Add(3)
	go func() {
		defer wg.Done()
		if out, err := c.runner(ctx, dir, "branch", "--show-current"); err == nil {
			mu.Lock()
			info.Branch = out
			mu.Unlock()
		}
	}()
	go func() {
		defer wg.Done()
		if out, err := c.runner(ctx, dir, "status", "--porcelain"); err == nil {
			mu.Lock()
			info.Dirty = strings.TrimSpace(out) != ""
			mu.Unlock()
		}
	}()
	go func() {
		defer wg.Done()
		if out, err := c.runner(ctx, dir, "rev-parse", "--git-common-dir"); err == nil {
			mu.Lock()
			info.CommonDir = out
			mu.Unlock()
		}
	}()
	wg.Wait()

	if gitDirOut, err := c.runner(ctx, dir, "rev-parse", "--git-dir"); err == nil {
		if info.CommonDir != "" && filepath.Clean(gitDirOut) != filepath.Clean(info.CommonDir) {
			info.Worktree = filepath.Base(dir)
		}
	}
	return info
}
