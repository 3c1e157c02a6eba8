package v1

var (
	// common errors
	ErrSuccess             = newError(0, "ok")
	ErrBadRequest          = newError(400, "bad request")
	ErrNotFound            = newError(404, "not found")
	ErrInternalServerError = newError(500, "internal server error")

	// instance errors
	ErrInstanceNotFound = newError(1001, "dhis2 instance not found")
	ErrInstanceKeyInUse = newError(1002, "instance key already in use")
	ErrConnectionFailed = newError(1003, "could not connect to DHIS2 instance")

	// sync errors
	ErrJobNotFound = newError(2001, "sync job not found")

	// submission errors
	ErrSubmissionNotFound = newError(3001, "submission not found")
	ErrSurveyNotMapped    = newError(3002, "survey has no DHIS2 mapping")
)
