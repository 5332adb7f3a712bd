package domain

// Status is the lifecycle state of a download job.
type Status string

const (
	StatusStarting    Status = "starting"
	StatusDownloading Status = "downloading"
	StatusProcessing  Status = "processing"
	StatusFinished    Status = "finished"
	StatusError       Status = "error"
)

// String returns the string representation of Status
func (s Status) String() string {
	return string(s)
}

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusError
}

// Format selects the kind of media the job produces.
type Format string

const (
	FormatVideo Format = "video"
	FormatAudio Format = "audio"
)

// Valid reports whether f is a recognized format.
func (f Format) Valid() bool {
	return f == FormatVideo || f == FormatAudio
}

// Quality constrains video resolution. Audio jobs ignore it and always
// target the highest-quality audio stream.
type Quality string

const (
	QualityBest  Quality = "best"
	Quality1080p Quality = "1080p"
	Quality720p  Quality = "720p"
)

// Valid reports whether q is a recognized quality.
func (q Quality) Valid() bool {
	return q == QualityBest || q == Quality1080p || q == Quality720p
}

// Job is the full state of one download request. Handlers and stream
// consumers only ever see value copies (snapshots), never the live record.
type Job struct {
	ID             string  `json:"job_id"`
	Status         Status  `json:"status"`
	Progress       float64 `json:"progress"`
	Speed          string  `json:"speed,omitempty"`
	ETA            string  `json:"eta,omitempty"`
	SizeInfo       string  `json:"size_info,omitempty"`
	ProcessingStep string  `json:"processing_step,omitempty"`
	Filename       string  `json:"filename,omitempty"`
	Error          string  `json:"error,omitempty"`
	ErrorWarning   string  `json:"error_warning,omitempty"`
}

// DownloadRequest is a validated job submission.
type DownloadRequest struct {
	URL     string
	Format  Format
	Quality Quality
}

// SourceInfo is the metadata returned by probing a URL without downloading.
type SourceInfo struct {
	Title     string `json:"title"`
	Thumbnail string `json:"thumbnail"`
	Duration  string `json:"duration"`
	Uploader  string `json:"uploader"`
	SourceID  string `json:"id"`
}

// FetchPhase tags progress callbacks from the fetch engine.
type FetchPhase string

const (
	// FetchPhaseDownloading means bytes are still being transferred.
	FetchPhaseDownloading FetchPhase = "downloading"
	// FetchPhaseFinished means the transfer is complete and any
	// container muxing or audio extraction is about to run.
	FetchPhaseFinished FetchPhase = "finished"
)

// FetchProgress is one progress tick from the fetch engine. Percent is
// 0-100, negative when unknown. The string fields are human-readable and
// may be empty until first populated.
type FetchProgress struct {
	Phase    FetchPhase
	Percent  float64
	Speed    string
	ETA      string
	SizeInfo string
}
