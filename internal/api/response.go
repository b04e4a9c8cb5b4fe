package api

import (
	"errors"
	"net/http"

	"github.com/roach88/attest/internal/auth"
	"github.com/roach88/attest/internal/ledger"
)

// Status is the top-level outcome in every response body.
type Status string

const (
	// StatusOK is used for health-check responses.
	StatusOK Status = "OK"

	// StatusSuccess indicates an operation completed successfully.
	StatusSuccess Status = "success"

	// StatusError indicates an operation failed.
	StatusError Status = "error"
)

// Error codes for failures that are not ledger errors.
const (
	CodeNotFound        = "NOT_FOUND"
	CodeBadRequest      = "BAD_REQUEST"
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeRateLimited     = "RATE_LIMITED"
	CodeInternal        = "INTERNAL"
)

// Response is the standard API response format.
type Response struct {
	Status  Status         `json:"status"`
	Code    string         `json:"code,omitempty"`
	Error   string         `json:"error,omitempty"`
	Record  *ledger.Record `json:"record,omitempty"`
	Ledger  *LedgerInfo    `json:"ledger,omitempty"`
	Ledgers []LedgerInfo   `json:"ledgers,omitempty"`
}

// ListResponse carries a record listing. Records is never null.
type ListResponse struct {
	Status  Status          `json:"status"`
	Records []ledger.Record `json:"records"`
}

// LedgerInfo describes a served ledger.
type LedgerInfo struct {
	Name        string          `json:"name"`
	Schema      ledger.Schema   `json:"schema"`
	Initialized bool            `json:"initialized"`
	Admin       ledger.Identity `json:"admin,omitempty"`
	Sequence    uint64          `json:"sequence"`
}

func newOKResponse() Response {
	return Response{Status: StatusOK}
}

func newErrorResponse(code, msg string) Response {
	return Response{Status: StatusError, Code: code, Error: msg}
}

// errorStatus maps an error to its HTTP status and response code.
func errorStatus(err error) (int, string) {
	if errors.Is(err, auth.ErrUnauthenticated) {
		return http.StatusUnauthorized, CodeUnauthenticated
	}
	code, ok := ledger.CodeOf(err)
	if !ok {
		return http.StatusInternalServerError, CodeInternal
	}
	switch code {
	case ledger.CodeAlreadyInitialized, ledger.CodeAlreadyRecorded:
		return http.StatusConflict, code.String()
	case ledger.CodeNotInitialized:
		return http.StatusPreconditionFailed, code.String()
	case ledger.CodeUnauthorized:
		return http.StatusForbidden, code.String()
	case ledger.CodeInvalidIdentifier, ledger.CodeInvalidTimestamp, ledger.CodeInvalidPayload:
		return http.StatusUnprocessableEntity, code.String()
	default:
		return http.StatusInternalServerError, code.String()
	}
}
