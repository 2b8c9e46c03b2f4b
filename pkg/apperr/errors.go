// Package apperr defines the error-to-HTTP-response bridge used by the
// recovery middleware: any panic value implementing GenericError is
// rendered with its own status code and error code instead of a bare 500.
package apperr

import "net/http"

// GenericError is implemented by any error that knows how it should be
// rendered over HTTP.
type GenericError interface {
	error
	ErrCode() string
	StatusCode() int
}

// NotFoundError renders as 404 NOT_FOUND.
type NotFoundError string

func (err NotFoundError) Error() string   { return string(err) }
func (err NotFoundError) ErrCode() string { return "NOT_FOUND" }
func (err NotFoundError) StatusCode() int { return http.StatusNotFound }

// ConflictError renders as 409 CONFLICT.
type ConflictError string

func (err ConflictError) Error() string   { return string(err) }
func (err ConflictError) ErrCode() string { return "CONFLICT" }
func (err ConflictError) StatusCode() int { return http.StatusConflict }

// BadRequestError renders as 400 BAD_REQUEST.
type BadRequestError string

func (err BadRequestError) Error() string   { return string(err) }
func (err BadRequestError) ErrCode() string { return "BAD_REQUEST" }
func (err BadRequestError) StatusCode() int { return http.StatusBadRequest }

// PanicIfNeeded panics with err if it is non-nil, letting the recovery
// middleware turn it into a response. Handlers stay a straight line of
// calls instead of an if-err-return-err per statement.
func PanicIfNeeded(err error) {
	if err != nil {
		panic(err)
	}
}

// ResponseData is the JSON body the recovery middleware renders for a
// panicked request.
type ResponseData struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
