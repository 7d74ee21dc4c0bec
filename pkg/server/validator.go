package server

import (
	"errors"
	"net/http"
)

var (
	// ErrRejected is returned for records whose signature does not verify or
	// whose id is not the hash of the submitted public key.
	ErrRejected = errors.New("rejected: signature")
	// ErrMalformed is returned for requests that cannot be decoded.
	ErrMalformed = errors.New("malformed request")
	// ErrNotImplemented is returned for recognised but unsupported requests.
	ErrNotImplemented = errors.New("not implemented")
)

// ProtocolError is a request failure with the status it maps to on the wire.
type ProtocolError struct {
	Status  int    // HTTP status code
	Code    string // Machine-readable reason (e.g., "id_mismatch")
	Message string // Human-readable message
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func malformed(code string, err error) *ProtocolError {
	return &ProtocolError{Status: http.StatusBadRequest, Code: code, Message: ErrMalformed.Error(), Err: errors.Join(ErrMalformed, err)}
}

func rejected(code string) *ProtocolError {
	return &ProtocolError{Status: http.StatusForbidden, Code: code, Message: ErrRejected.Error(), Err: ErrRejected}
}
