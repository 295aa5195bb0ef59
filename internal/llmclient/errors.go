package llmclient

import "errors"

var (
	ErrEmptyResponse = errors.New("empty response from LLM")
	ErrMissingAPIKey = errors.New("llm api key is not configured")
)

// PermanentError marks a provider rejection that the same request will
// always hit, such as an oversized context.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err wraps a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
