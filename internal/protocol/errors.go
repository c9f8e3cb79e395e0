package protocol

import (
	"errors"
	"fmt"
)

// Code is a protocol error code. The same set travels in the
// error_code tag of status events and is used internally.
type Code string

const (
	CodeFileTooLarge     Code = "FILE_TOO_LARGE"
	CodeInvalidHash      Code = "INVALID_HASH"
	CodeFileNotFound     Code = "FILE_NOT_FOUND"
	CodeChunkMissing     Code = "CHUNK_MISSING"
	CodeIntegrityFailed  Code = "INTEGRITY_FAILED"
	CodeStorageFull      Code = "STORAGE_FULL"
	CodeResponseTimeout  Code = "RESPONSE_TIMEOUT"
	CodeMalformedRequest Code = "MALFORMED_REQUEST"
	CodeInternalError    Code = "INTERNAL_ERROR"
)

var codeMessages = map[Code]string{
	CodeFileTooLarge:     "File exceeds maximum size limit",
	CodeInvalidHash:      "Invalid SHA256 hash format",
	CodeFileNotFound:     "Requested file not found",
	CodeChunkMissing:     "One or more chunks missing",
	CodeIntegrityFailed:  "File integrity verification failed",
	CodeStorageFull:      "Storage capacity exceeded",
	CodeResponseTimeout:  "No response before deadline",
	CodeMalformedRequest: "Malformed request payload",
	CodeInternalError:    "Internal server error",
}

// Message returns the human-readable description for the code.
func (c Code) Message() string {
	if msg, ok := codeMessages[c]; ok {
		return msg
	}
	return string(c)
}

// Error carries a protocol error code plus detail for logs.
type Error struct {
	Code   Code
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Code.Message())
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

// Errf builds a protocol error with formatted detail.
func Errf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the protocol code from err, defaulting to
// INTERNAL_ERROR for unclassified failures.
func CodeOf(err error) Code {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeInternalError
}
