package validation

import "errors"

var (
	ErrInvalidFilename = errors.New("invalid filename")
	ErrNotVideo        = errors.New("file is not a supported video container")
	ErrFileTooLarge    = errors.New("file size exceeds the upload limit")
	ErrMissingField    = errors.New("missing required field")
)
