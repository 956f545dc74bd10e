package validation

import (
	"bytes"
	"io"
)

type FileType string

const (
	FileTypeMP4      FileType = "mp4"
	FileTypeMatroska FileType = "matroska"
	FileTypeAVI      FileType = "avi"
)

var (
	ebmlMagic = []byte{0x1A, 0x45, 0xDF, 0xA3}
	riffMagic = []byte("RIFF")
	aviMagic  = []byte("AVI ")
	ftypBox   = []byte("ftyp")
)

// DetectVideoType sniffs the container from the first bytes of r and
// rewinds it.
func DetectVideoType(r io.ReadSeeker) (FileType, error) {
	buffer := make([]byte, 512)
	n, err := io.ReadFull(r, buffer)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	head := buffer[:n]

	switch {
	case len(head) >= 8 && bytes.Equal(head[4:8], ftypBox):
		// ISO base media: mp4, mov, m4v
		return FileTypeMP4, nil
	case bytes.HasPrefix(head, ebmlMagic):
		return FileTypeMatroska, nil
	case len(head) >= 12 && bytes.HasPrefix(head, riffMagic) && bytes.Equal(head[8:12], aviMagic):
		return FileTypeAVI, nil
	}
	return "", ErrNotVideo
}
