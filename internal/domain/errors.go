package domain

// UpstreamError wraps a fetch-engine failure. The upstream message is
// preserved verbatim for diagnostics.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string {
	return "upstream error: " + e.Err.Error()
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// NewUpstreamError wraps err as an upstream failure.
func NewUpstreamError(err error) error {
	return &UpstreamError{Err: err}
}

// TransformError wraps a transform-engine failure. Transform failures are
// non-fatal: the worker falls back to the untransformed artifact.
type TransformError struct {
	Err error
}

func (e *TransformError) Error() string {
	return "transform error: " + e.Err.Error()
}

func (e *TransformError) Unwrap() error {
	return e.Err
}

// NewTransformError wraps err as a transform failure.
func NewTransformError(err error) error {
	return &TransformError{Err: err}
}
