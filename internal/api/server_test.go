package api

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestStartReturnsErrServerClosedOnShutdown(t *testing.T) {
	server, _ := newTestServer(nil, nil)

	startErr := make(chan error, 1)
	go func() {
		startErr <- server.Start()
	}()

	// Give the listener a moment to come up; Shutdown before ListenAndServe
	// makes Start return ErrServerClosed immediately either way.
	time.Sleep(50 * time.Millisecond)

	if err := server.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	select {
	case err := <-startErr:
		if !errors.Is(err, http.ErrServerClosed) {
			t.Errorf("Start() returned %v, want http.ErrServerClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after Shutdown()")
	}
}
