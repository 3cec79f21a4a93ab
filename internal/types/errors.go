package types

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	KindInvalidInput             Kind = "invalid_input_kind"
	KindExtractionFailed         Kind = "extraction_failed"
	KindUnsupportedEnvironment   Kind = "unsupported_environment"
	KindCapabilityUnavailable    Kind = "capability_unavailable"
	KindEmptyTranscript          Kind = "empty_transcript"
	KindQuotaExceeded            Kind = "quota_exceeded"
	KindRateLimited              Kind = "rate_limited"
	KindTranscriptionFailed      Kind = "transcription_failed"
	KindInsufficientContent      Kind = "insufficient_content"
	KindSynthesisResponseInvalid Kind = "synthesis_response_invalid"
	KindSynthesisFailed          Kind = "synthesis_failed"
	KindCanceled                 Kind = "canceled"
)

// Recoverable reports whether the kind only triggers the remote tier of the
// same stage instead of ending the run.
func (k Kind) Recoverable() bool {
	switch k {
	case KindCapabilityUnavailable, KindEmptyTranscript, KindInsufficientContent:
		return true
	}
	return false
}

// Error is the error type every stage returns.
type Error struct {
	Kind    Kind
	Stage   Stage
	Message string
	Err     error
}

func NewError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	prefix := string(e.Kind)
	if e.Stage != "" {
		prefix = string(e.Stage) + ": " + prefix
	}
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	case e.Message != "":
		return prefix + ": " + e.Message
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", prefix, e.Err)
	}
	return prefix
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func (e *Error) Recoverable() bool { return e.Kind.Recoverable() }

// UserMessage is the single message shown to an end user for a failed run.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindInvalidInput:
		return "The uploaded file is not a video. Please upload a video file."
	case KindExtractionFailed:
		return "We could not read the audio track of this video."
	case KindUnsupportedEnvironment:
		return "Audio extraction is not available on this server."
	case KindQuotaExceeded:
		return "Your API key has run out of quota. Check your plan and billing details, then try again."
	case KindRateLimited:
		return "The speech or language service is rate limiting requests. Wait a minute and try again."
	case KindTranscriptionFailed:
		return "We could not transcribe the audio of this video."
	case KindSynthesisResponseInvalid:
		return "The language model returned notes we could not read."
	case KindSynthesisFailed:
		return "We could not generate notes from the transcript."
	case KindCanceled:
		return "Note generation was canceled."
	}
	return "Note generation failed."
}

// KindOf returns the kind carried by err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries kind k.
func IsKind(err error, k Kind) bool {
	return errors.Is(err, &Error{Kind: k})
}
