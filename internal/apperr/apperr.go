// Package apperr classifies domain failures so transports can decide how to surface them.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the broad failure class of an error.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindInvalidInput
	KindConflict
	KindUnauthorized
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidInput:
		return "invalid_input"
	case KindConflict:
		return "conflict"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Code is a machine-readable error code.
type Code string

const (
	CodeUnknown Code = "UNKNOWN"

	// Directory
	CodeUserNotFound       Code = "USER_NOT_FOUND"
	CodeUsernameTaken      Code = "USERNAME_TAKEN"
	CodeEmailTaken         Code = "EMAIL_TAKEN"
	CodeMissingFields      Code = "MISSING_FIELDS"
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"
	CodeUserInactive       Code = "USER_INACTIVE"

	// Catalog
	CodeCategoryInvalid  Code = "CATEGORY_INVALID"
	CodeNoQuestions      Code = "NO_QUESTIONS"
	CodeQuestionNotFound Code = "QUESTION_NOT_FOUND"
	CodeQuestionInvalid  Code = "QUESTION_INVALID"
	CodeAnswersInvalid   Code = "ANSWERS_INVALID"

	// Groups
	CodeGroupNotFound     Code = "GROUP_NOT_FOUND"
	CodeNotInGroup        Code = "NOT_IN_GROUP"
	CodeInvalidTransition Code = "INVALID_TRANSITION"

	// Channel and routing
	CodeMessageEmpty   Code = "MESSAGE_EMPTY"
	CodeNotBound       Code = "NOT_BOUND"
	CodeUnknownConn    Code = "UNKNOWN_CONNECTION"
	CodeOutboxFull     Code = "OUTBOX_FULL"
	CodeInvalidPayload Code = "INVALID_PAYLOAD"
	CodeRateLimited    Code = "RATE_LIMITED"

	// Archive
	CodeArchiveDisabled Code = "ARCHIVE_DISABLED"
)

// Error is a classified domain error. Its text follows the "CODE: message" convention.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(kind Kind, code Code, format string, args ...any) error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func NotFound(code Code, format string, args ...any) error {
	return newError(KindNotFound, code, format, args...)
}

func InvalidInput(code Code, format string, args ...any) error {
	return newError(KindInvalidInput, code, format, args...)
}

func Conflict(code Code, format string, args ...any) error {
	return newError(KindConflict, code, format, args...)
}

func Unauthorized(code Code, format string, args ...any) error {
	return newError(KindUnauthorized, code, format, args...)
}

func Forbidden(code Code, format string, args ...any) error {
	return newError(KindForbidden, code, format, args...)
}

// KindOf reports the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf reports the Code of the first *Error in err's chain.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

func IsNotFound(err error) bool     { return KindOf(err) == KindNotFound }
func IsInvalidInput(err error) bool { return KindOf(err) == KindInvalidInput }
func IsConflict(err error) bool     { return KindOf(err) == KindConflict }
