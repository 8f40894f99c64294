// Package gitio wraps the git CLI behind the narrow reader interface the
// indexing core consumes, plus the pass-through commands the HTTP layer
// exposes.
package gitio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrNotFound is returned when a file does not exist at the requested
// revision.
var ErrNotFound = errors.New("file not found at revision")

// ErrRepoNotFound is returned when the named repository does not exist
// under the configured root.
var ErrRepoNotFound = errors.New("repository not found")

// Changes is a file-level delta between two revisions. Renames are
// reported conservatively as a removal of the old path plus an addition
// of the new path, because vector record identity is path-bound.
type Changes struct {
	AddedOrModified []string
	Removed         []string
}

// Git executes git commands against repositories under a root directory.
type Git struct {
	root string
}

// New creates a Git adapter rooted at the given directory. Repositories
// are subdirectories of root, addressed by name.
func New(root string) *Git {
	return &Git{root: root}
}

// Root returns the repository root directory.
func (g *Git) Root() string { return g.root }

// Dir resolves a repository name to its working-tree directory, rejecting
// names that escape the root.
func (g *Git) Dir(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrRepoNotFound)
	}
	dir := filepath.Join(g.root, filepath.Clean("/"+name))
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrRepoNotFound, name)
	}
	return dir, nil
}

// ListRepos returns the names of all repositories under the root.
func (g *Git) ListRepos() ([]string, error) {
	entries, err := os.ReadDir(g.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list repos: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Clone clones url under the root and returns the repository name. An
// existing repository of the same name is left untouched.
func (g *Git) Clone(ctx context.Context, url string) (string, error) {
	name := RepoNameFromURL(url)
	if name == "" {
		return "", fmt.Errorf("cannot derive repository name from %q", url)
	}
	dest := filepath.Join(g.root, name)
	if _, err := os.Stat(dest); err == nil {
		return name, nil
	}
	if err := os.MkdirAll(g.root, 0o755); err != nil {
		return "", fmt.Errorf("create repo root: %w", err)
	}
	if _, err := runGit(ctx, "", "clone", url, dest); err != nil {
		return "", fmt.Errorf("git clone %s: %w", url, err)
	}
	return name, nil
}

// RepoNameFromURL derives a repository name from a clone URL.
func RepoNameFromURL(url string) string {
	name := strings.TrimSuffix(strings.TrimRight(url, "/"), ".git")
	if i := strings.LastIndexAny(name, "/:"); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// Pull fast-forwards the repository from its origin.
func (g *Git) Pull(ctx context.Context, name string) error {
	dir, err := g.Dir(name)
	if err != nil {
		return err
	}
	if _, err := runGit(ctx, dir, "pull", "--ff-only"); err != nil {
		return fmt.Errorf("git pull %s: %w", name, err)
	}
	return nil
}

// CurrentRevision returns the commit hash HEAD points at.
func (g *Git) CurrentRevision(ctx context.Context, name string) (string, error) {
	dir, err := g.Dir(name)
	if err != nil {
		return "", err
	}
	out, err := runGit(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git rev-parse %s: %w", name, err)
	}
	return strings.TrimSpace(out), nil
}

// TrackedFiles lists all paths tracked at the given revision.
func (g *Git) TrackedFiles(ctx context.Context, name, rev string) ([]string, error) {
	dir, err := g.Dir(name)
	if err != nil {
		return nil, err
	}
	out, err := runGit(ctx, dir, "ls-tree", "-r", "--name-only", rev)
	if err != nil {
		return nil, fmt.Errorf("git ls-tree %s %s: %w", name, rev, err)
	}
	return splitLines(out), nil
}

// ChangedPaths computes the file-level delta between two revisions.
func (g *Git) ChangedPaths(ctx context.Context, name, from, to string) (Changes, error) {
	dir, err := g.Dir(name)
	if err != nil {
		return Changes{}, err
	}
	// --no-renames keeps renames as delete+add pairs.
	out, err := runGit(ctx, dir, "diff", "--name-status", "--no-renames", from, to)
	if err != nil {
		return Changes{}, fmt.Errorf("git diff %s %s..%s: %w", name, from, to, err)
	}
	return parseNameStatus(out), nil
}

// parseNameStatus parses `git diff --name-status` output. Status letters:
// A added, M modified, T type change, D deleted, Rnnn rename, Cnnn copy.
func parseNameStatus(out string) Changes {
	var ch Changes
	for _, line := range splitLines(out) {
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			continue
		}
		status := fields[0]
		switch status[0] {
		case 'A', 'M', 'T':
			ch.AddedOrModified = append(ch.AddedOrModified, fields[1])
		case 'D':
			ch.Removed = append(ch.Removed, fields[1])
		case 'R':
			if len(fields) >= 3 {
				ch.Removed = append(ch.Removed, fields[1])
				ch.AddedOrModified = append(ch.AddedOrModified, fields[2])
			}
		case 'C':
			if len(fields) >= 3 {
				ch.AddedOrModified = append(ch.AddedOrModified, fields[2])
			}
		}
	}
	return ch
}

// ReadFileAt returns the file content at a specific revision, or
// ErrNotFound when the path does not exist there.
func (g *Git) ReadFileAt(ctx context.Context, name, rev, path string) ([]byte, error) {
	dir, err := g.Dir(name)
	if err != nil {
		return nil, err
	}
	out, stderr, err := runGitRaw(ctx, dir, "show", rev+":"+path)
	if err != nil {
		if strings.Contains(stderr, "does not exist") ||
			strings.Contains(stderr, "exists on disk, but not in") ||
			strings.Contains(stderr, "invalid object name") {
			return nil, fmt.Errorf("%w: %s at %s", ErrNotFound, path, rev)
		}
		return nil, fmt.Errorf("git show %s:%s: %w", rev, path, err)
	}
	return out, nil
}

// ReadWorkingFile reads a file from the working tree, rejecting paths
// that escape the repository directory.
func (g *Git) ReadWorkingFile(name, path string) ([]byte, error) {
	dir, err := g.Dir(name)
	if err != nil {
		return nil, err
	}
	full := filepath.Join(dir, filepath.Clean("/"+path))
	if !strings.HasPrefix(full, dir+string(filepath.Separator)) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	return data, nil
}

// Pass-through commands for the HTTP layer. These are stateless wrappers
// with no interpretation of the output.

func (g *Git) Status(ctx context.Context, name string) (string, error) {
	return g.passthrough(ctx, name, "status")
}

func (g *Git) Diff(ctx context.Context, name string) (string, error) {
	return g.passthrough(ctx, name, "diff")
}

func (g *Git) Log(ctx context.Context, name string, limit int) (string, error) {
	args := []string{"log", "--oneline"}
	if limit > 0 {
		args = append(args, "-n"+strconv.Itoa(limit))
	}
	return g.passthrough(ctx, name, args...)
}

func (g *Git) Checkout(ctx context.Context, name, ref string) (string, error) {
	return g.passthrough(ctx, name, "checkout", ref)
}

func (g *Git) Show(ctx context.Context, name, ref string) (string, error) {
	if ref == "" {
		ref = "HEAD"
	}
	return g.passthrough(ctx, name, "show", ref)
}

func (g *Git) passthrough(ctx context.Context, name string, args ...string) (string, error) {
	dir, err := g.Dir(name)
	if err != nil {
		return "", err
	}
	out, err := runGit(ctx, dir, args...)
	if err != nil {
		return "", fmt.Errorf("git %s %s: %w", args[0], name, err)
	}
	return out, nil
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	out, stderr, err := runGitRaw(ctx, dir, args...)
	if err != nil {
		return "", fmt.Errorf("%v: %s", err, strings.TrimSpace(stderr))
	}
	return string(out), nil
}

func runGitRaw(ctx context.Context, dir string, args ...string) ([]byte, string, error) {
	if dir != "" {
		args = append([]string{"-C", dir}, args...)
	}
	cmd := exec.CommandContext(ctx, "git", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	return out, stderr.String(), err
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
