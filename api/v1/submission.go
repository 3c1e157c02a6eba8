package v1

// RetrySubmissionRequest retries a DHIS2 submission. Force resubmits even
// when an earlier attempt already succeeded.
type RetrySubmissionRequest struct {
	Force bool `json:"force"`
}
