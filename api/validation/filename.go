package validation

import (
	"fmt"
	"regexp"
	"strings"
)

var filenameRe = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

// SessionView is a parsed "<session>_<view>.<ext>" video filename.
type SessionView struct {
	Session string
	View    string
	Ext     string
}

// ParseSessionView validates a video filename. The session is everything
// before the first underscore; the view may not contain one.
func ParseSessionView(filename string) (SessionView, error) {
	if !filenameRe.MatchString(filename) {
		return SessionView{}, fmt.Errorf("%w: invalid characters", ErrInvalidFilename)
	}
	if strings.Contains(filename, "..") {
		return SessionView{}, fmt.Errorf("%w: path components are not allowed", ErrInvalidFilename)
	}

	dot := strings.LastIndexByte(filename, '.')
	if dot < 0 {
		return SessionView{}, fmt.Errorf("%w: missing extension", ErrInvalidFilename)
	}
	stem, ext := filename[:dot], filename[dot+1:]

	session, view, ok := strings.Cut(stem, "_")
	if !ok {
		return SessionView{}, fmt.Errorf("%w: expected session_view.ext", ErrInvalidFilename)
	}
	if session == "" || view == "" {
		return SessionView{}, fmt.Errorf("%w: empty session or view", ErrInvalidFilename)
	}
	if strings.Contains(view, "_") {
		return SessionView{}, fmt.Errorf("%w: view must not contain an underscore", ErrInvalidFilename)
	}
	return SessionView{Session: session, View: view, Ext: ext}, nil
}
