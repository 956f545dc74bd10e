package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"videoLabeler/api/dto"
	"videoLabeler/api/project"
	"videoLabeler/api/validation"
	"videoLabeler/storage/fsx"
	"videoLabeler/worker/registry"
	"videoLabeler/worker/transcoder"
)

var (
	ErrAlreadyExists  = errors.New("file already exists")
	ErrUploadNotFound = errors.New("uploaded file not found")

	errOutputPresent = errors.New("transcode output already present")
)

type ProjectResolver interface {
	Get(key string) (*project.Project, error)
	Resolve(key string) (*project.Project, error)
}

type VideoService struct {
	projects   ProjectResolver
	registry   *registry.Registry
	transcoder *transcoder.Transcoder
	stream     *ProgressStream
	uploadsDir string
	logger     *zap.Logger
}

func NewVideoService(projects ProjectResolver, reg *registry.Registry, tr *transcoder.Transcoder, stream *ProgressStream, uploadsDir string, logger *zap.Logger) *VideoService {
	return &VideoService{
		projects:   projects,
		registry:   reg,
		transcoder: tr,
		stream:     stream,
		uploadsDir: uploadsDir,
		logger:     logger,
	}
}

func (s *VideoService) uploadPath(filename string) string {
	return filepath.Join(s.uploadsDir, filename)
}

// Upload stages a video in the uploads directory. The content is streamed to
// a temporary sibling and renamed into place, so readers never observe a
// partial upload.
func (s *VideoService) Upload(ctx context.Context, req *dto.UploadVideoRequest, file io.ReadSeeker) error {
	if _, err := validation.ParseSessionView(req.Filename); err != nil {
		return err
	}
	if _, err := s.projects.Get(req.ProjectKey); err != nil {
		return err
	}
	if _, err := validation.DetectVideoType(file); err != nil {
		return err
	}

	dst := s.uploadPath(req.Filename)
	if s.registry.Active(req.Filename) != nil {
		return fmt.Errorf("%w: %s is being transcoded", ErrAlreadyExists, req.Filename)
	}
	if !req.ShouldOverwrite {
		if _, err := os.Stat(dst); err == nil {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, req.Filename)
		}
	}

	if err := os.MkdirAll(s.uploadsDir, 0o755); err != nil {
		return fmt.Errorf("create uploads dir: %w", err)
	}
	n, err := fsx.WriteStreamAtomic(dst, file)
	if err != nil {
		return fmt.Errorf("stage upload: %w", err)
	}

	s.registry.Update(req.Filename, func(st *registry.TaskStatus) {
		st.UploadStatus = registry.UploadDone
	})

	s.logger.Info("Video staged",
		zap.String("filename", req.Filename),
		zap.String("project", req.ProjectKey),
		zap.Int64("bytes", n),
	)
	return nil
}

// Status returns the current snapshot for filename.
func (s *VideoService) Status(filename string) (registry.TaskStatus, error) {
	if filename == "" {
		return registry.TaskStatus{}, fmt.Errorf("%w: filename", validation.ErrMissingField)
	}
	return s.registry.GetOrCreate(filename), nil
}

// Transcode starts or attaches to the transcode of an uploaded file and
// streams its status through emit until the job is terminal or ctx ends.
// Errors returned before the first emit leave the response untouched.
func (s *VideoService) Transcode(ctx context.Context, req *dto.TranscodeRequest, emit func(registry.TaskStatus) error) error {
	if _, err := validation.ParseSessionView(req.Filename); err != nil {
		return err
	}
	proj, err := s.projects.Get(req.ProjectKey)
	if err != nil {
		return err
	}

	input := s.uploadPath(req.Filename)
	output := filepath.Join(proj.VideosDir, req.Filename)

	// A live job is attached to without looking at the disk. Otherwise the
	// output and input checks decide, under the registry lock, between the
	// short-circuit, a 404 and a new job.
	var present registry.TaskStatus
	_, created, err := s.transcoder.StartIf(req.Filename, input, output, func(st *registry.TaskStatus) error {
		if !req.ShouldOverwrite && fileExists(output) {
			st.UploadStatus = registry.UploadDone
			st.TranscodeStatus = registry.TranscodeDone
			present = *st
			return errOutputPresent
		}
		if !fileExists(input) {
			return fmt.Errorf("%w: %s", ErrUploadNotFound, req.Filename)
		}
		return nil
	})
	switch {
	case errors.Is(err, errOutputPresent):
		s.logger.Debug("Transcode output already present",
			zap.String("filename", req.Filename),
		)
		return emit(present)
	case err != nil:
		return err
	case !created:
		s.logger.Info("Attached to running transcode",
			zap.String("filename", req.Filename),
		)
	}

	return s.stream.Run(ctx, req.Filename, emit)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
