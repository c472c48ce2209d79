// Package apperr is the uniform error envelope of §6/§7: every API error
// response is `{requestId, timestamp, status:"ERROR", errors:[...]}`,
// never a bare stack trace or ad-hoc shape. It lives above internal/api
// (not under it) because non-HTTP packages — the executor, the lock
// manager, the configversioning manager — construct apperr.Error values
// directly; only the HTTP boundary translates them to bytes.
package apperr

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// Level is the severity of one error item.
type Level string

const (
	LevelError Level = "ERROR"
	LevelWarn  Level = "WARN"
)

// Well-known error codes, grouped by the family suffix/prefix rules in
// §6: `*_NOT_FOUND`, `*_ALREADY_EXISTS`, `VALIDATION_*`,
// `*_CONNECTION_ERROR` each map to a fixed HTTP status regardless of
// which entity they're about.
const (
	CodeLoaderNotFound         = "LOADER_NOT_FOUND"
	CodeSourceDatabaseNotFound = "SOURCE_DATABASE_NOT_FOUND"
	CodeBackfillJobNotFound    = "BACKFILL_JOB_NOT_FOUND"
	CodeDraftNotFound          = "DRAFT_NOT_FOUND"
	CodeUserNotFound           = "USER_NOT_FOUND"

	CodeLoaderAlreadyExists = "LOADER_ALREADY_EXISTS"
	CodeDraftAlreadyExists  = "DRAFT_ALREADY_EXISTS"

	CodeValidationRequiredField = "VALIDATION_REQUIRED_FIELD"
	CodeValidationInvalidRange  = "VALIDATION_INVALID_RANGE"
	CodeValidationInvalidState  = "VALIDATION_INVALID_STATE"
	CodeValidationDuplicateCode = "VALIDATION_DUPLICATE_CODE"

	CodeSourceConnectionError = "SOURCE_CONNECTION_ERROR"
	CodeStorageConnectionError = "STORAGE_CONNECTION_ERROR"

	CodePermissionDenied     = "PERMISSION_DENIED"
	CodeAuthenticationFailed = "AUTHENTICATION_FAILED"
	CodeLoaderBusy           = "LOADER_BUSY"
	CodeIngestConflict       = "INGEST_CONFLICT"
	CodeInternal             = "INTERNAL_ERROR"
)

// Item is one entry in the `errors` array of an error response.
type Item struct {
	Level        Level  `json:"level"`
	ErrorCode    string `json:"errorCode"`
	CodeName     string `json:"codeName"`
	ErrorMessage string `json:"errorMessage"`
	Field        string `json:"field,omitempty"`
}

// Error is the uniform envelope. A single API error usually carries one
// Item; validation failures accumulate one Item per invalid field.
type Error struct {
	RequestID string
	Items     []Item
}

// Response is the wire shape of Error, per §6.
type Response struct {
	RequestID string `json:"requestId"`
	Timestamp string `json:"timestamp"`
	Status    string `json:"status"`
	Errors    []Item `json:"errors"`
}

// New starts an Error with one item at LevelError.
func New(code, message string) *Error {
	return &Error{Items: []Item{{Level: LevelError, ErrorCode: code, CodeName: codeName(code), ErrorMessage: message}}}
}

// Add appends another item, for batching multiple validation failures
// into one response.
func (e *Error) Add(code, message string) *Error {
	e.Items = append(e.Items, Item{Level: LevelError, ErrorCode: code, CodeName: codeName(code), ErrorMessage: message})
	return e
}

// WithField sets the field name on the most recently added item.
func (e *Error) WithField(field string) *Error {
	if len(e.Items) > 0 {
		e.Items[len(e.Items)-1].Field = field
	}
	return e
}

// WithRequestID attaches the request correlation id.
func (e *Error) WithRequestID(id string) *Error {
	e.RequestID = id
	return e
}

// Error implements the error interface using the first item.
func (e *Error) Error() string {
	if len(e.Items) == 0 {
		return "apperr: empty error"
	}
	return e.Items[0].ErrorCode + ": " + e.Items[0].ErrorMessage
}

// StatusCode maps the first item's error code to an HTTP status per §6's
// family rules; an unrecognized code falls through to 500, matching
// "uncaught → 500".
func (e *Error) StatusCode() int {
	if len(e.Items) == 0 {
		return http.StatusInternalServerError
	}
	return statusForCode(e.Items[0].ErrorCode)
}

func statusForCode(code string) int {
	switch {
	case code == CodePermissionDenied:
		return http.StatusForbidden
	case code == CodeAuthenticationFailed:
		return http.StatusUnauthorized
	case code == CodeLoaderBusy || code == CodeIngestConflict || code == CodeDraftAlreadyExists:
		return http.StatusConflict
	case strings.HasSuffix(code, "_NOT_FOUND"):
		return http.StatusNotFound
	case strings.HasSuffix(code, "_ALREADY_EXISTS"):
		return http.StatusConflict
	case strings.HasPrefix(code, "VALIDATION_"):
		return http.StatusBadRequest
	case strings.HasSuffix(code, "_CONNECTION_ERROR"):
		return http.StatusServiceUnavailable
	case code == CodeInternal:
		return http.StatusInternalServerError
	default:
		// generic business errors per §6/§7
		return http.StatusBadRequest
	}
}

// codeName renders a machine error code as a human-readable label, e.g.
// LOADER_NOT_FOUND -> "Loader Not Found".
func codeName(code string) string {
	words := strings.Split(strings.ToLower(code), "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// WriteError writes err as the uniform JSON error response.
func WriteError(w http.ResponseWriter, err *Error) {
	resp := Response{
		RequestID: err.RequestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Status:    "ERROR",
		Errors:    err.Items,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.StatusCode())
	_ = json.NewEncoder(w).Encode(resp)
}

// Helper constructors mirroring the teacher's errors.go convenience
// functions, adapted to the loader domain's code families.

func NotFound(code, resource string) *Error {
	return New(code, resource+" not found")
}

func AlreadyExists(code, resource string) *Error {
	return New(code, resource+" already exists")
}

func Validation(code, message string) *Error {
	return New(code, message)
}

func PermissionDenied(message string) *Error {
	return New(CodePermissionDenied, message)
}

func Internal(message string) *Error {
	return New(CodeInternal, message)
}
