package dto

// CheckSourceRequest asks for metadata about a media URL.
type CheckSourceRequest struct {
	URL string `json:"url" binding:"required"`
}

// CreateDownloadRequest submits a new download job. Format defaults to
// video and quality to best when omitted.
type CreateDownloadRequest struct {
	URL     string `json:"url" binding:"required"`
	Format  string `json:"format"`
	Quality string `json:"quality"`
}

// CreateDownloadResponse carries the identifier of the launched job.
type CreateDownloadResponse struct {
	JobID string `json:"job_id"`
}
