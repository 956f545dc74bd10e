package transcoder

import (
	"context"
	"strconv"
	"strings"
)

// probeTotalFrames counts the decoded video frames of path with ffprobe. It
// returns nil when the count is unavailable; progress is then reported
// without a total.
func (t *Transcoder) probeTotalFrames(ctx context.Context, path string) *int {
	cmd := t.command(ctx, t.cfg.FFprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-count_frames",
		"-show_entries", "stream=nb_read_frames",
		"-of", "default=nokey=1:noprint_wrappers=1",
		path,
	)

	out, err := cmd.Output()
	if err != nil {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil || n < 0 {
		return nil
	}
	return &n
}
