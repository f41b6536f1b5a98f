package domain

import "strings"

// JobStatus is the normalized lifecycle state of a render job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// NormalizeJobStatus maps the renderer's vocabulary onto the three known
// states. Anything that is not terminal counts as pending.
func NormalizeJobStatus(raw string) JobStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "completed":
		return JobStatusCompleted
	case "failed":
		return JobStatusFailed
	default:
		return JobStatusPending
	}
}

// ImageJob is one render request and its polling state. ResultURL is only
// set once Status is completed.
type ImageJob struct {
	UID       string    `json:"uid"`
	Status    JobStatus `json:"status"`
	ResultURL string    `json:"result_url,omitempty"`
	SelfLink  string    `json:"self"`
}

// Terminal reports whether the job will not change any more.
func (j *ImageJob) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// Template is one entry of the renderer's template catalog.
type Template struct {
	ID     string   `json:"uid"`
	Name   string   `json:"name"`
	Layers []string `json:"layers"`
}
