package transcoder

import (
	"bufio"
	"bytes"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// ProgressParser extracts the frame counter from ffmpeg's stats output.
type ProgressParser struct {
	// Match both "frame=123" and "frame= 123" formats
	frameRegex *regexp.Regexp

	last     int
	seen     bool
	lastLine string
}

func NewProgressParser() *ProgressParser {
	return &ProgressParser{
		frameRegex: regexp.MustCompile(`frame=\s*(\d+)`),
	}
}

// ParseLine returns the frame counter of line if it advanced past the last
// reported value. Counters that go backwards are ignored so published
// progress never decreases.
func (pp *ProgressParser) ParseLine(line string) (int, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return 0, false
	}
	pp.lastLine = line

	matches := pp.frameRegex.FindStringSubmatch(line)
	if len(matches) < 2 {
		return 0, false
	}
	frame, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, false
	}
	if pp.seen && frame <= pp.last {
		return 0, false
	}
	pp.last = frame
	pp.seen = true
	return frame, true
}

// Frames returns the last reported frame counter.
func (pp *ProgressParser) Frames() (int, bool) {
	return pp.last, pp.seen
}

// LastLine returns the last non-empty line seen, used for diagnostics.
func (pp *ProgressParser) LastLine() string {
	return pp.lastLine
}

// Stream reads r until EOF and calls onFrame for every advancing counter.
func (pp *ProgressParser) Stream(r io.Reader, onFrame func(int)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	// ffmpeg rewrites its stats line in place with \r
	scanner.Split(scanLinesOrCR)

	for scanner.Scan() {
		if frame, ok := pp.ParseLine(scanner.Text()); ok && onFrame != nil {
			onFrame(frame)
		}
	}
	return scanner.Err()
}

func scanLinesOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
