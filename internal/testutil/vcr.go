// Package testutil holds shared test helpers.
package testutil

import (
	"net/http"
	"testing"

	"gopkg.in/dnaeon/go-vcr.v2/cassette"
	"gopkg.in/dnaeon/go-vcr.v2/recorder"
)

// NewRecorder creates a VCR recorder writing to (or replaying from) the
// given cassette path, plus an HTTP client routed through it. The recorder
// is stopped automatically when the test finishes.
func NewRecorder(t *testing.T, cassettePath string, mode recorder.Mode) (*recorder.Recorder, *http.Client) {
	t.Helper()

	r, err := recorder.NewAsMode(cassettePath, mode, nil)
	if err != nil {
		t.Fatalf("failed to create VCR recorder: %v", err)
	}

	// Delivery payloads carry timestamps; match on method and URL only.
	r.SetMatcher(func(req *http.Request, i cassette.Request) bool {
		return req.Method == i.Method && req.URL.String() == i.URL
	})

	t.Cleanup(func() {
		if err := r.Stop(); err != nil {
			t.Errorf("failed to stop VCR recorder: %v", err)
		}
	})

	return r, &http.Client{Transport: r}
}
