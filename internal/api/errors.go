package api

import (
	"errors"
	"fmt"
)

// ErrConfigNotFound is returned when no DHIS2 instance is configured under
// the requested key. Callers that check readiness first treat this as
// "feature not applicable", not as a fault.
var ErrConfigNotFound = errors.New("dhis2 instance config not found")

// RemoteAPIError is a non-2xx answer from DHIS2. The raw body is preserved
// for diagnostics and for the submission log.
type RemoteAPIError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *RemoteAPIError) Error() string {
	return fmt.Sprintf("dhis2 api error: %s returned HTTP %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// IsRemoteAPIError reports whether err wraps a RemoteAPIError and returns it.
func IsRemoteAPIError(err error) (*RemoteAPIError, bool) {
	var apiErr *RemoteAPIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
