package apperrors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassification(t *testing.T) {
	err := IllegalPorts([]uint16{80, 443}, 2000, 30000)
	assert.True(t, errors.Is(err, ErrIllegalPort))
	assert.False(t, errors.Is(err, ErrPortConflict))
	assert.Contains(t, err.Error(), "80")
	assert.Contains(t, err.Error(), "443")
	assert.Contains(t, err.Error(), "2000-30000")

	err = PortConflict([]uint16{5000})
	assert.True(t, errors.Is(err, ErrPortConflict))
	assert.Equal(t, []uint16{5000}, PortsOf(err))
}

func TestPortsOfNonPortError(t *testing.T) {
	assert.Nil(t, PortsOf(Capacity("full")))
	assert.Nil(t, PortsOf(errors.New("plain")))
}

func TestInternalWrapsCause(t *testing.T) {
	cause := errors.New("boom")
	err := Internal("job.spawn", cause)
	assert.True(t, errors.Is(err, ErrInternal))

	var e *Error
	assert.True(t, errors.As(err, &e))
	assert.Equal(t, "job.spawn", e.Op)
	assert.Equal(t, cause, e.Cause)
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Validation("bad upload"), http.StatusBadRequest},
		{IllegalPorts([]uint16{80}, 2000, 30000), http.StatusBadRequest},
		{UnsupportedMedia("wasm", "text/plain"), http.StatusUnsupportedMediaType},
		{PayloadTooLarge("wasm", 1024), http.StatusRequestEntityTooLarge},
		{Capacity("too many running workloads"), http.StatusTooManyRequests},
		{PortConflict([]uint16{5000}), http.StatusConflict},
		{NotFound("job"), http.StatusNotFound},
		{Unauthorized("missing token"), http.StatusUnauthorized},
		{Internal("job.spawn", errors.New("boom")), http.StatusInternalServerError},
		{errors.New("unclassified"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatus(tc.err), tc.err.Error())
	}
}
