package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"videoLabeler/api/dto"
	"videoLabeler/api/validation"
	"videoLabeler/metrics"
	"videoLabeler/storage/fsx"
	"videoLabeler/storage/labels"
	"videoLabeler/storage/sidecar"
)

// multifileSuffixes are the files a client may overwrite wholesale.
var multifileSuffixes = []string{".csv", sidecar.LegacySuffix, sidecar.Suffix}

type LabelService struct {
	projects ProjectResolver
	editor   *labels.Editor
	logger   *zap.Logger
}

func NewLabelService(projects ProjectResolver, editor *labels.Editor, logger *zap.Logger) *LabelService {
	return &LabelService{projects: projects, editor: editor, logger: logger}
}

// WriteMultifile replaces several files of a project in one batch. Paths
// are validated before anything is written.
func (s *LabelService) WriteMultifile(ctx context.Context, req *dto.WriteMultifileRequest) error {
	if len(req.Views) == 0 {
		return fmt.Errorf("%w: views", validation.ErrMissingField)
	}
	proj, err := s.projects.Resolve(req.ProjectKey)
	if err != nil {
		return err
	}

	targets := make([]fsx.Target, len(req.Views))
	for i, v := range req.Views {
		targets[i] = fsx.Target{Path: v.Filename, Data: []byte(v.Contents)}
	}

	b := fsx.Batch{Root: proj.DataDir, Suffixes: multifileSuffixes}
	err = s.editor.WriteFiles(ctx, b, targets)
	recordCommit("write_multifile", err)
	return err
}

func (s *LabelService) SaveFrame(ctx context.Context, req *dto.SaveMvFrameRequest) error {
	proj, err := s.projects.Resolve(req.ProjectKey)
	if err != nil {
		return err
	}
	err = s.editor.SaveFrame(ctx, proj.DataDir, req.ToViewEdits())
	recordCommit("save_mvframe", err)
	return err
}

func (s *LabelService) AddToUnlabeled(ctx context.Context, req *dto.AddToUnlabeledRequest) error {
	proj, err := s.projects.Resolve(req.ProjectKey)
	if err != nil {
		return err
	}

	batches := make([]sidecar.Batch, 0, len(req.Views))
	for _, v := range req.Views {
		entries := make([]sidecar.Entry, 0, len(v.Entries))
		for _, e := range v.Entries {
			if e.FramePath == "" {
				return fmt.Errorf("%w: frame_path", validation.ErrMissingField)
			}
			entries = append(entries, sidecar.Entry{FramePath: e.FramePath, Predictions: e.Predictions})
		}
		batches = append(batches, sidecar.Batch{CSVPath: v.CSVPath, Entries: entries})
	}

	err = s.editor.AppendUnlabeled(ctx, proj.DataDir, batches)
	recordCommit("add_unlabeled", err)
	return err
}

func recordCommit(op string, err error) {
	var partial *fsx.PartialCommitError
	switch {
	case err == nil:
		metrics.FileCommits.WithLabelValues(op, "ok").Inc()
	case errors.As(err, &partial):
		metrics.FileCommits.WithLabelValues(op, "partial").Inc()
	default:
		metrics.FileCommits.WithLabelValues(op, "error").Inc()
	}
}
