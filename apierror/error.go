// Package apierror defines errors that carry an HTTP status, for errors that
// cross the HTTP boundary between the cache server, its clients, and origin
// servers.
package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ipni/go-refreshcache/store"
)

// Error is an error with an HTTP status code.
type Error struct {
	err    error
	status int
}

// ErrorMessage is the JSON encoding of an error in an HTTP response body.
type ErrorMessage struct {
	Message string `json:",omitempty"`
	Status  int    `json:",omitempty"`
}

func New(err error, status int) *Error {
	return &Error{
		err:    err,
		status: status,
	}
}

// FromResponse creates an error from the status and body of an HTTP
// response.
func FromResponse(status int, body []byte) error {
	var err error
	text := strings.TrimSpace(string(body))
	if text != "" {
		err = errors.New(text)
	}
	if status == 0 {
		return err
	}
	return New(err, status)
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	if e.status == 0 {
		return ""
	}
	if text := http.StatusText(e.status); text != "" {
		return fmt.Sprintf("%d %s", e.status, text)
	}
	return fmt.Sprintf("%d", e.status)
}

func (e *Error) Status() int {
	return e.status
}

func (e *Error) Unwrap() error {
	return e.err
}

// StatusOf returns the HTTP status that best describes err. An Error anywhere
// in the chain supplies its own status.
func StatusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.status != 0 {
		return apiErr.status
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// EncodeError returns the JSON encoding of err, with its status.
func EncodeError(err error) []byte {
	if err == nil {
		return nil
	}
	e := ErrorMessage{
		Message: err.Error(),
		Status:  StatusOf(err),
	}
	data, err := json.Marshal(&e)
	if err != nil {
		return []byte(`{"Message":"Internal Server Error","Status":500}`)
	}
	return data
}

// DecodeError decodes an error encoded by EncodeError.
func DecodeError(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var e ErrorMessage
	err := json.Unmarshal(data, &e)
	if err != nil {
		return fmt.Errorf("cannot decode error message: %s", err)
	}

	err = errors.New(e.Message)
	if e.Status == 0 {
		return err
	}
	return New(err, e.Status)
}

// WriteError writes err to w as a JSON error message with its status.
func WriteError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(StatusOf(err))
	w.Write(EncodeError(err))
}
