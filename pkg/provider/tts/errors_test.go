package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("bad voice"), false},
		{"wrapped transient", fmt.Errorf("op: %w", ErrTransient), true},
		{"Transient()", Transient(errors.New("reset")), true},
		{"empty audio", ErrEmptyAudio, true},
		{"429", &StatusError{Provider: "x", StatusCode: 429}, true},
		{"503", &StatusError{Provider: "x", StatusCode: 503}, true},
		{"401", &StatusError{Provider: "x", StatusCode: 401}, false},
		{"400", &StatusError{Provider: "x", StatusCode: 400}, false},
		{"canceled", Transient(context.Canceled), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestTransient_PreservesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Transient(cause)
	if !errors.Is(err, cause) {
		t.Error("cause lost")
	}
	if err.Error() != "connection reset" {
		t.Errorf("Error() = %q", err.Error())
	}
	if Transient(nil) != nil {
		t.Error("Transient(nil) != nil")
	}
}

func TestCheckResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, strings.Repeat("slow down ", 100))
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	err = CheckResponse("coqui", resp)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if se.StatusCode != 429 || len(se.Body) > 512 {
		t.Errorf("StatusError = %+v", se)
	}
	if !IsTransient(err) {
		t.Error("429 should be transient")
	}
}

func TestClassifyNetError(t *testing.T) {
	dialErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	if !IsTransient(ClassifyNetError(dialErr)) {
		t.Error("dial error should be transient")
	}
	if !IsTransient(ClassifyNetError(io.ErrUnexpectedEOF)) {
		t.Error("unexpected EOF should be transient")
	}
	plain := errors.New("json: bad")
	if got := ClassifyNetError(plain); got != plain {
		t.Errorf("plain error changed: %v", got)
	}
	if IsTransient(ClassifyNetError(context.Canceled)) {
		t.Error("cancellation should not be transient")
	}
}
