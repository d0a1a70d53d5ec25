package apierror_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ipni/go-refreshcache/apierror"
	"github.com/ipni/go-refreshcache/store"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := apierror.New(errors.New("test error"), 0)
	require.Equal(t, "test error", err.Error())

	err = apierror.New(nil, http.StatusNotFound)
	require.Equal(t, fmt.Sprintf("%d %s", http.StatusNotFound, http.StatusText(http.StatusNotFound)), err.Error())

	err = apierror.New(nil, 0)
	require.Equal(t, "", err.Error())

	err = apierror.New(nil, 999)
	require.Equal(t, "999", err.Error())
}

func TestFromResponse(t *testing.T) {
	err := apierror.FromResponse(0, []byte(" origin down\n"))
	require.Equal(t, "origin down", err.Error())

	err = apierror.FromResponse(http.StatusBadGateway, []byte(" origin down\n"))
	require.Equal(t, "origin down", err.Error())
	var ae *apierror.Error
	require.ErrorAs(t, err, &ae)
	require.Equal(t, http.StatusBadGateway, ae.Status())
}

func TestStatusOf(t *testing.T) {
	require.Equal(t, http.StatusOK, apierror.StatusOf(nil))
	require.Equal(t, http.StatusNotFound, apierror.StatusOf(fmt.Errorf("read: %w", store.ErrNotFound)))
	require.Equal(t, http.StatusGatewayTimeout, apierror.StatusOf(context.DeadlineExceeded))
	require.Equal(t, http.StatusServiceUnavailable, apierror.StatusOf(context.Canceled))
	require.Equal(t, http.StatusInternalServerError, apierror.StatusOf(errors.New("boom")))

	wrapped := fmt.Errorf("loader: %w", apierror.New(errors.New("gone"), http.StatusGone))
	require.Equal(t, http.StatusGone, apierror.StatusOf(wrapped))
}

func TestEncodeDecode(t *testing.T) {
	require.Nil(t, apierror.EncodeError(nil))
	require.Nil(t, apierror.DecodeError(nil))

	derr := apierror.DecodeError([]byte("not json"))
	require.ErrorContains(t, derr, "cannot decode error message")

	data := apierror.EncodeError(apierror.New(errors.New("cannot find it"), http.StatusNotFound))
	derr = apierror.DecodeError(data)
	require.Equal(t, "cannot find it", derr.Error())
	var ae *apierror.Error
	require.ErrorAs(t, derr, &ae)
	require.Equal(t, http.StatusNotFound, ae.Status())

	// Plain errors are encoded with a derived status.
	derr = apierror.DecodeError(apierror.EncodeError(errors.New("some error")))
	require.ErrorAs(t, derr, &ae)
	require.Equal(t, http.StatusInternalServerError, ae.Status())
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	apierror.WriteError(w, apierror.New(errors.New("teapot"), http.StatusTeapot))
	require.Equal(t, http.StatusTeapot, w.Code)
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))
	require.Equal(t, "teapot", apierror.DecodeError(w.Body.Bytes()).Error())
}

func TestUnwrap(t *testing.T) {
	errEOF := errors.New("end of file")
	err := apierror.New(errEOF, 0)
	require.ErrorIs(t, err, errEOF)
}
