package services

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
)

// Error categories. Every error returned by Client matches exactly one of the
// operation kinds below via errors.Is, and additionally ErrAuth when the
// server rejected the credentials or signature.
var (
	ErrConfig     = errors.New("not connected")
	ErrAuth       = errors.New("authentication failed")
	ErrNetwork    = errors.New("network error")
	ErrParse      = errors.New("malformed response")
	ErrValidation = errors.New("invalid input")
	ErrList       = errors.New("list failed")
	ErrUpload     = errors.New("upload failed")
	ErrDownload   = errors.New("download failed")
	ErrDelete     = errors.New("delete failed")
)

// authErrorCodes are S3 error codes caused by credentials, signature or clock.
var authErrorCodes = map[string]bool{
	"AccessDenied":                 true,
	"InvalidAccessKeyId":           true,
	"SignatureDoesNotMatch":        true,
	"RequestTimeTooSkewed":         true,
	"ExpiredToken":                 true,
	"InvalidToken":                 true,
	"AuthorizationHeaderMalformed": true,
}

// OpError describes a failed client operation.
type OpError struct {
	Op         string
	Kind       error
	StatusCode int
	Code       string // S3 error code, when the body carried one
	Body       string // raw server body
	Err        error
}

func (e *OpError) Error() string {
	msg := e.Op + ": " + e.Kind.Error()
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d", e.StatusCode)
		if e.Code != "" {
			msg += ", " + e.Code
		}
		msg += ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	} else if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *OpError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Kind != ErrAuth && e.IsAuth() {
		errs = append(errs, ErrAuth)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// IsAuth reports whether the server refused the request's credentials.
func (e *OpError) IsAuth() bool {
	if e.Kind == ErrAuth {
		return true
	}
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return true
	}
	return authErrorCodes[e.Code]
}

type s3ErrorBody struct {
	XMLName xml.Name `xml:"Error"`
	Code    string   `xml:"Code"`
	Message string   `xml:"Message"`
}

// errorCode extracts <Error><Code> from an S3 error body, or "".
func errorCode(body []byte) string {
	if len(bytes.TrimSpace(body)) == 0 {
		return ""
	}
	var parsed s3ErrorBody
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	return parsed.Code
}

// statusError builds the error for a non-2xx response of operation op.
func statusError(op string, kind error, status int, body []byte) *OpError {
	e := &OpError{
		Op:         op,
		Kind:       kind,
		StatusCode: status,
		Code:       errorCode(body),
		Body:       string(body),
	}
	if kind == ErrList && e.IsAuth() {
		e.Kind = ErrAuth
	}
	return e
}

func validationError(op string, err error) *OpError {
	return &OpError{Op: op, Kind: ErrValidation, Err: err}
}
