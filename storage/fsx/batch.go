package fsx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
)

var (
	ErrOutsideRoot       = errors.New("path is outside the permitted root")
	ErrSuffixNotAllowed  = errors.New("file suffix is not allowed")
	ErrEmptyPath         = errors.New("empty path")
	ErrTargetIsDirectory = errors.New("target is a directory")
)

// Target is one file of a write batch.
type Target struct {
	Path string
	Data []byte
}

// Staged pairs a validated target with the temporary file holding its new
// content.
type Staged struct {
	Path string
	Temp string
}

// PartialCommitError reports a rename failure in the middle of a batch.
// Committed targets already hold their new content; the failed and pending
// ones are untouched and their temporary files are left on disk.
type PartialCommitError struct {
	Committed []string
	Failed    Staged
	Pending   []Staged
	Err       error
}

func (e *PartialCommitError) Error() string {
	return fmt.Sprintf("commit %s: %v (%d committed, %d pending)",
		e.Failed.Path, e.Err, len(e.Committed), len(e.Pending))
}

func (e *PartialCommitError) Unwrap() error { return e.Err }

// Batch writes several files under Root. Every target must resolve inside
// Root and end with one of Suffixes.
type Batch struct {
	Root     string
	Suffixes []string
}

// Resolve validates p and returns the path the batch would write to.
// Relative paths are taken relative to Root. Symlinks and ".." components
// are resolved before the containment check.
func (b Batch) Resolve(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", ErrEmptyPath
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(b.Root, p)
	}

	root, err := resolveExisting(b.Root)
	if err != nil {
		return "", fmt.Errorf("resolve root %q: %w", b.Root, err)
	}
	resolved, err := resolveExisting(p)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", p, err)
	}

	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, p)
	}

	if !b.allowed(resolved) {
		return "", fmt.Errorf("%w: %q", ErrSuffixNotAllowed, p)
	}

	if fi, err := os.Stat(resolved); err == nil && fi.IsDir() {
		return "", fmt.Errorf("%w: %q", ErrTargetIsDirectory, p)
	}

	return resolved, nil
}

func (b Batch) allowed(p string) bool {
	if len(b.Suffixes) == 0 {
		return true
	}
	name := filepath.Base(p)
	for _, s := range b.Suffixes {
		if strings.HasSuffix(name, s) && len(name) > len(s) {
			return true
		}
	}
	return false
}

// Write validates all targets, stages them and commits them in order. No
// file is touched when validation fails.
func (b Batch) Write(ctx context.Context, targets []Target) error {
	resolved := make([]Target, len(targets))
	for i, t := range targets {
		p, err := b.Resolve(t.Path)
		if err != nil {
			return err
		}
		resolved[i] = Target{Path: p, Data: t.Data}
	}

	staged, err := Stage(ctx, resolved)
	if err != nil {
		return err
	}
	return Commit(staged)
}

// Stage writes every target to a temporary sibling in parallel. If any write
// fails the temporary files created so far are removed and no target is
// modified.
func Stage(ctx context.Context, targets []Target) ([]Staged, error) {
	staged := make([]Staged, len(targets))

	g, _ := errgroup.WithContext(ctx)
	for i, t := range targets {
		i, t := i, t
		g.Go(func() error {
			data := t.Data
			tmp, err := stage(t.Path, func(w io.Writer) error {
				return writeAll(w, data)
			})
			if err != nil {
				return fmt.Errorf("stage %s: %w", t.Path, err)
			}
			staged[i] = Staged{Path: t.Path, Temp: tmp}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		Discard(staged)
		return nil, err
	}
	return staged, nil
}

// Commit renames staged files onto their targets in order.
func Commit(staged []Staged) error {
	committed := make([]string, 0, len(staged))
	for i, s := range staged {
		if err := renameFunc(s.Temp, s.Path); err != nil {
			return &PartialCommitError{
				Committed: committed,
				Failed:    s,
				Pending:   append([]Staged(nil), staged[i+1:]...),
				Err:       err,
			}
		}
		committed = append(committed, s.Path)
	}

	dirs := make(map[string]struct{})
	for _, s := range staged {
		dirs[filepath.Dir(s.Path)] = struct{}{}
	}
	for d := range dirs {
		_ = syncDirBestEffort(d)
	}
	return nil
}

// Discard removes the temporary files of staged entries.
func Discard(staged []Staged) {
	for _, s := range staged {
		if s.Temp != "" {
			_ = os.Remove(s.Temp)
		}
	}
}

// resolveExisting evaluates symlinks on the longest existing prefix of p and
// re-attaches the remaining components.
func resolveExisting(p string) (string, error) {
	p, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}

	var rest []string
	cur := p
	for {
		r, err := filepath.EvalSymlinks(cur)
		if err == nil {
			parts := append([]string{r}, rest...)
			return filepath.Join(parts...), nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p, nil
		}
		rest = append([]string{filepath.Base(cur)}, rest...)
		cur = parent
	}
}
