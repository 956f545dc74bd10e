package registry

type UploadStatus string

const (
	UploadNotDone UploadStatus = "NOT_DONE"
	UploadDone    UploadStatus = "DONE"
)

type TranscodeStatus string

const (
	TranscodePending TranscodeStatus = "PENDING"
	TranscodeActive  TranscodeStatus = "ACTIVE"
	TranscodeDone    TranscodeStatus = "DONE"
	TranscodeError   TranscodeStatus = "ERROR"
)

// Terminal reports whether no further progress will be published.
func (s TranscodeStatus) Terminal() bool {
	return s == TranscodeDone || s == TranscodeError
}

// TaskStatus is the shared upload/transcode state of one file. Values handed
// out by the registry are snapshots; pointer fields are replaced, never
// mutated in place, so a snapshot stays stable after the lock is released.
type TaskStatus struct {
	Filename        string          `json:"filename"`
	UploadStatus    UploadStatus    `json:"uploadStatus"`
	TranscodeStatus TranscodeStatus `json:"transcodeStatus"`
	FramesDone      *int            `json:"framesDone"`
	TotalFrames     *int            `json:"totalFrames"`
	Error           *string         `json:"error"`
}

func newTaskStatus(filename string) *TaskStatus {
	return &TaskStatus{
		Filename:        filename,
		UploadStatus:    UploadNotDone,
		TranscodeStatus: TranscodePending,
	}
}

func IntPtr(v int) *int { return &v }

func StringPtr(v string) *string { return &v }
