// Package sidecar maintains the per-label-file queue of frames that still
// need labeling. The queue lives next to the label CSV as
// <name>.unlabeled.jsonl with one Entry per line and no duplicate frame_path.
package sidecar

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"videoLabeler/storage/fsx"
)

const (
	Suffix       = ".unlabeled.jsonl"
	LegacySuffix = ".unlabeled"
)

// Entry is one queued frame. Predictions is kept verbatim; a missing value
// is encoded as null.
type Entry struct {
	FramePath   string          `json:"frame_path"`
	Predictions json.RawMessage `json:"predictions"`
}

// PathFor returns the sidecar path of a label CSV.
func PathFor(csvPath string) string {
	return strings.TrimSuffix(csvPath, filepath.Ext(csvPath)) + Suffix
}

// Load reads a sidecar file. A missing file is an empty queue.
func Load(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return Decode(data)
}

func Decode(data []byte) ([]Entry, error) {
	var entries []Entry

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(text, &e); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func Encode(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	for _, e := range entries {
		if len(e.Predictions) == 0 {
			e.Predictions = json.RawMessage("null")
		}
		line, err := json.Marshal(e)
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// Merge returns existing extended by the entries of add whose frame_path is
// not yet queued, and whether anything was added.
func Merge(existing, add []Entry) ([]Entry, bool) {
	seen := make(map[string]struct{}, len(existing)+len(add))
	for _, e := range existing {
		seen[e.FramePath] = struct{}{}
	}

	out := existing
	changed := false
	for _, e := range add {
		if _, ok := seen[e.FramePath]; ok {
			continue
		}
		seen[e.FramePath] = struct{}{}
		out = append(out, e)
		changed = true
	}
	return out, changed
}

// Batch is the set of frames to queue for one label file.
type Batch struct {
	CSVPath string
	Entries []Entry
}

// Append queues frames for several label files concurrently. Each sidecar is
// rewritten atomically and only when its content changes, so repeating a
// call is a no-op.
func Append(ctx context.Context, batches []Batch) error {
	g, _ := errgroup.WithContext(ctx)
	for _, b := range batches {
		b := b
		g.Go(func() error {
			return appendOne(PathFor(b.CSVPath), b.Entries)
		})
	}
	return g.Wait()
}

func appendOne(path string, add []Entry) error {
	existing, err := Load(path)
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}

	_, statErr := os.Stat(path)
	missing := errors.Is(statErr, os.ErrNotExist)

	merged, changed := Merge(existing, add)
	if !changed && !missing {
		return nil
	}

	data, err := Encode(merged)
	if err != nil {
		return err
	}
	if err := fsx.WriteFileAtomic(path, data); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Remove drops every entry whose frame_path is in framePaths. The file is
// rewritten atomically only if something was removed; a missing file is left
// alone.
func Remove(path string, framePaths ...string) (bool, error) {
	entries, err := Load(path)
	if err != nil {
		return false, fmt.Errorf("load %s: %w", path, err)
	}
	if len(entries) == 0 {
		return false, nil
	}

	drop := make(map[string]struct{}, len(framePaths))
	for _, p := range framePaths {
		drop[p] = struct{}{}
	}

	kept := entries[:0:0]
	for _, e := range entries {
		if _, ok := drop[e.FramePath]; !ok {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(entries) {
		return false, nil
	}

	data, err := Encode(kept)
	if err != nil {
		return false, err
	}
	if err := fsx.WriteFileAtomic(path, data); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
