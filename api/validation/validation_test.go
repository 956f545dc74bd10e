package validation

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestParseSessionView(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		want     SessionView
		wantErr  bool
	}{
		{"simple", "sess1_camA.mp4", SessionView{"sess1", "camA", "mp4"}, false},
		{"session with underscore split on first", "mouse.day1_top.avi", SessionView{"mouse.day1", "top", "avi"}, false},
		{"view with underscore", "sess_cam_A.mp4", SessionView{}, true},
		{"no underscore", "sessioncam.mp4", SessionView{}, true},
		{"no extension", "sess_cam", SessionView{}, true},
		{"empty session", "_cam.mp4", SessionView{}, true},
		{"empty view", "sess_.mp4", SessionView{}, true},
		{"slash", "a/b_c.mp4", SessionView{}, true},
		{"dotdot", "..sess_cam.mp4", SessionView{}, true},
		{"space", "sess 1_cam.mp4", SessionView{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSessionView(tt.filename)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidFilename) {
					t.Errorf("Expected ErrInvalidFilename, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestDetectVideoType(t *testing.T) {
	tests := []struct {
		name    string
		head    []byte
		want    FileType
		wantErr bool
	}{
		{"mp4", append([]byte{0, 0, 0, 0x18}, []byte("ftypisom")...), FileTypeMP4, false},
		{"matroska", []byte{0x1A, 0x45, 0xDF, 0xA3, 0x01}, FileTypeMatroska, false},
		{"avi", []byte("RIFF\x00\x00\x00\x00AVI LIST"), FileTypeAVI, false},
		{"png", []byte{0x89, 0x50, 0x4E, 0x47}, "", true},
		{"empty", nil, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := bytes.NewReader(tt.head)
			got, err := DetectVideoType(r)
			if tt.wantErr {
				if !errors.Is(err, ErrNotVideo) {
					t.Errorf("Expected ErrNotVideo, got %v", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("Expected %s, got %s (%v)", tt.want, got, err)
			}
			if pos, _ := r.Seek(0, io.SeekCurrent); pos != 0 {
				t.Errorf("Expected reader rewound, at %d", pos)
			}
		})
	}
}
