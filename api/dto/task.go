package dto

import (
	"encoding/json"

	"videoLabeler/storage/labels"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

// UploadVideoRequest carries the form fields of an upload; the file itself
// is streamed separately.
type UploadVideoRequest struct {
	ProjectKey      string
	Filename        string
	ShouldOverwrite bool
}

type GetVideoStatusRequest struct {
	Filename string `json:"filename"`
}

type TranscodeRequest struct {
	ProjectKey      string
	Filename        string
	ShouldOverwrite bool
}

type FileContents struct {
	Filename string `json:"filename"`
	Contents string `json:"contents"`
}

type WriteMultifileRequest struct {
	ProjectKey string         `json:"projectKey,omitempty"`
	Views      []FileContents `json:"views"`
}

type ChangedKeypoint struct {
	Name string   `json:"name"`
	X    *float64 `json:"x"`
	Y    *float64 `json:"y"`
}

type SaveFrameView struct {
	CSVPath          string            `json:"csvPath"`
	IndexToChange    string            `json:"indexToChange"`
	ChangedKeypoints []ChangedKeypoint `json:"changedKeypoints"`
}

type SaveMvFrameRequest struct {
	ProjectKey string          `json:"projectKey,omitempty"`
	Views      []SaveFrameView `json:"views"`
}

// ToViewEdits converts the request into editor input.
func (r *SaveMvFrameRequest) ToViewEdits() []labels.ViewEdit {
	edits := make([]labels.ViewEdit, len(r.Views))
	for i, v := range r.Views {
		kps := make([]labels.Keypoint, len(v.ChangedKeypoints))
		for j, kp := range v.ChangedKeypoints {
			kps[j] = labels.Keypoint{Name: kp.Name, X: kp.X, Y: kp.Y}
		}
		edits[i] = labels.ViewEdit{CSVPath: v.CSVPath, IndexToChange: v.IndexToChange, Changed: kps}
	}
	return edits
}

type UnlabeledEntry struct {
	FramePath   string          `json:"frame_path"`
	Predictions json.RawMessage `json:"predictions,omitempty"`
}

type UnlabeledView struct {
	CSVPath string           `json:"csvPath"`
	Entries []UnlabeledEntry `json:"entries"`
}

type AddToUnlabeledRequest struct {
	ProjectKey string          `json:"projectKey,omitempty"`
	Views      []UnlabeledView `json:"views"`
}

type SystemStats struct {
	NumGoroutine   int     `json:"num_goroutine"`
	CPUCores       int     `json:"cpu_cores"`
	TotalRAM       uint64  `json:"total_ram"`
	AvailableRAM   uint64  `json:"available_ram"`
	UsedRAMPercent float64 `json:"used_ram_percent"`
}

type HealthResponse struct {
	Status     string            `json:"status"`
	Statuses   int               `json:"statuses"`
	ActiveJobs int               `json:"activeJobs"`
	Workers    int               `json:"workers"`
	Sinks      map[string]string `json:"sinks,omitempty"`
	System     SystemStats       `json:"system"`
}
