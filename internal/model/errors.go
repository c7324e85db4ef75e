package model

import "errors"

// Sentinel errors shared by every layer. Callers compare with errors.Is and
// wrap with fmt.Errorf("...: %w", err) to add context.
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrNotFound         = errors.New("not found")
	ErrDocumentNotReady = errors.New("document not ready")
	ErrUpstream         = errors.New("upstream failure")
)

// Upstream subtypes. Each wraps ErrUpstream so errors.Is(err, ErrUpstream)
// holds for any of them.
var (
	ErrExtraction = upstream("extraction failed")
	ErrEmbedding  = upstream("embedding failed")
	ErrGeneration = upstream("generation failed")
	ErrIndex      = upstream("vector index failed")
)

type upstreamError struct {
	msg string
}

func upstream(msg string) error {
	return &upstreamError{msg: msg}
}

func (e *upstreamError) Error() string { return e.msg }

func (e *upstreamError) Unwrap() error { return ErrUpstream }

// Kind is the name of an error category as exposed to clients.
type Kind string

const (
	KindInvalidInput     Kind = "InvalidInput"
	KindNotFound         Kind = "NotFound"
	KindDocumentNotReady Kind = "DocumentNotReady"
	KindUpstreamFailure  Kind = "UpstreamFailure"
	KindInternal         Kind = "Internal"
)

// KindOf classifies err. Errors outside the taxonomy are Internal.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrDocumentNotReady):
		return KindDocumentNotReady
	case errors.Is(err, ErrUpstream):
		return KindUpstreamFailure
	default:
		return KindInternal
	}
}
