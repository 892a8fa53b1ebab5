package integrity

import "time"

// Issue types found by scans.
const (
	IssueTranscriptFlagDrift = "transcript_flag_drift"
	IssueVectorFlagDrift     = "vector_flag_drift"
	IssueMissingVectors      = "missing_vectors"
	IssueOrphanVectors       = "orphan_vectors"
	IssueOrphanRows          = "orphan_rows"
	IssueDuplicateVectors    = "duplicate_vectors"
	IssueIncompleteContent   = "incomplete_content"
)

// Issue is one inconsistency found during a scan.
type Issue struct {
	Type        string `json:"type"`
	ContentID   int64  `json:"contentId,omitempty"`
	Collection  string `json:"collection,omitempty"`
	Description string `json:"description"`
	Fixed       bool   `json:"fixed"`
}

// Report summarizes one full scan.
type Report struct {
	StartedAt      time.Time     `json:"startedAt"`
	FinishedAt     time.Time     `json:"finishedAt"`
	ScannedContent int           `json:"scannedContent"`
	IssuesFound    int           `json:"issuesFound"`
	IssuesFixed    int           `json:"issuesFixed"`
	Details        []Issue       `json:"details"`
	Duration       time.Duration `json:"-"`
}

func (r *Report) record(issue Issue) {
	r.IssuesFound++
	if issue.Fixed {
		r.IssuesFixed++
	}
	r.Details = append(r.Details, issue)
}

// Clean reports whether the scan found nothing wrong.
func (r *Report) Clean() bool {
	return r.IssuesFound == 0
}
