package query

import "errors"

var (
	// ErrEmptyQuestion indicates the natural-language question was blank.
	ErrEmptyQuestion = errors.New("question is empty")

	// ErrSelectionFailed indicates the model could not name any usable tables.
	ErrSelectionFailed = errors.New("table selection failed")

	// ErrSynthesisFailed indicates the model response contained no usable
	// SELECT statement.
	ErrSynthesisFailed = errors.New("sql synthesis failed")

	// ErrAttemptNotFound indicates no attempt exists with the given ID.
	ErrAttemptNotFound = errors.New("attempt not found")

	// ErrAlreadyExecuted indicates the attempt left the not_executed state;
	// results are immutable, rerun instead.
	ErrAlreadyExecuted = errors.New("attempt already executed")

	// ErrNotExecuted indicates results were requested before a successful
	// execution produced any.
	ErrNotExecuted = errors.New("attempt has no results")

	// ErrPageOutOfRange indicates the requested page does not exist.
	ErrPageOutOfRange = errors.New("page out of range")
)

// RejectionError reports generated SQL that failed safety validation.
// The reason is safe to surface to API clients.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return "sql rejected: " + e.Reason
}
