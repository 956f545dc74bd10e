// Package labels edits multiview keypoint label files. All edits go through
// one Editor whose mutex serializes the whole read-modify-write-commit cycle,
// so concurrent saves touching the same files cannot lose updates.
package labels

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"videoLabeler/storage/fsx"
	"videoLabeler/storage/sidecar"
)

var labelSuffixes = []string{".csv"}

// ViewEdit is the change to one view's label file: the keypoints to set in
// the row keyed by IndexToChange (the frame path).
type ViewEdit struct {
	CSVPath       string
	IndexToChange string
	Changed       []Keypoint
}

type Editor struct {
	mu     sync.Mutex
	logger *zap.Logger
}

func NewEditor(logger *zap.Logger) *Editor {
	return &Editor{logger: logger}
}

// fileEdit groups the edits that target the same resolved file.
type fileEdit struct {
	path  string
	edits []ViewEdit
}

// SaveFrame applies edits to the label files under root. Views without
// changed keypoints are skipped entirely. Files are read and staged in
// parallel and renamed one after the other; afterwards the edited frames are
// dropped from each file's unlabeled sidecar.
func (e *Editor) SaveFrame(ctx context.Context, root string, edits []ViewEdit) error {
	files, err := groupEdits(root, edits)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	targets := make([]fsx.Target, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := applyEdits(f)
			if err != nil {
				return err
			}
			targets[i] = fsx.Target{Path: f.path, Data: data}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	staged, err := fsx.Stage(ctx, targets)
	if err != nil {
		return err
	}
	if err := fsx.Commit(staged); err != nil {
		e.logger.Error("Label commit interrupted",
			zap.Error(err),
		)
		return err
	}

	for _, f := range files {
		keys := make([]string, 0, len(f.edits))
		for _, ed := range f.edits {
			keys = append(keys, ed.IndexToChange)
		}
		if _, err := sidecar.Remove(sidecar.PathFor(f.path), keys...); err != nil {
			return fmt.Errorf("update sidecar of %s: %w", f.path, err)
		}
	}

	e.logger.Info("Saved multiview frame",
		zap.Int("files", len(files)),
	)
	return nil
}

// AppendUnlabeled queues frames in the sidecars of the given label files.
// It shares the edit lock so it cannot interleave with SaveFrame's sidecar
// cleanup.
func (e *Editor) AppendUnlabeled(ctx context.Context, root string, batches []sidecar.Batch) error {
	b := fsx.Batch{Root: root, Suffixes: labelSuffixes}
	resolved := make([]sidecar.Batch, len(batches))
	for i, batch := range batches {
		p, err := b.Resolve(batch.CSVPath)
		if err != nil {
			return err
		}
		resolved[i] = sidecar.Batch{CSVPath: p, Entries: batch.Entries}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return sidecar.Append(ctx, resolved)
}

// WriteFiles commits a client-provided multi-file batch under the edit lock
// so it cannot interleave with SaveFrame on the same label files.
func (e *Editor) WriteFiles(ctx context.Context, b fsx.Batch, targets []fsx.Target) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := b.Write(ctx, targets); err != nil {
		return err
	}
	e.logger.Info("Wrote multi-file batch",
		zap.Int("files", len(targets)),
	)
	return nil
}

func groupEdits(root string, edits []ViewEdit) ([]fileEdit, error) {
	b := fsx.Batch{Root: root, Suffixes: labelSuffixes}

	var files []fileEdit
	index := make(map[string]int)
	for _, ed := range edits {
		if len(ed.Changed) == 0 {
			continue
		}
		if ed.IndexToChange == "" {
			return nil, fmt.Errorf("%w: empty row key for %s", ErrInvalidEdit, ed.CSVPath)
		}
		p, err := b.Resolve(ed.CSVPath)
		if err != nil {
			return nil, err
		}
		if i, ok := index[p]; ok {
			files[i].edits = append(files[i].edits, ed)
			continue
		}
		index[p] = len(files)
		files = append(files, fileEdit{path: p, edits: []ViewEdit{ed}})
	}
	return files, nil
}

func applyEdits(f fileEdit) ([]byte, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	table, err := Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.path, err)
	}
	for _, ed := range f.edits {
		table.Upsert(ed.IndexToChange, ed.Changed)
	}
	return table.Encode()
}
