package rig_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/resonious/eyecam-net/internal/config"
	"github.com/resonious/eyecam-net/internal/rig"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(relayURL string) config.Config {
	return config.Config{
		RelayURL:             relayURL,
		RelayPath:            "resonious/teleport",
		OwnSuffix:            "eye",
		PeerSuffix:           "head",
		SignalQueueCapacity:  8,
		SignalIdleTimeout:    time.Hour,
		CommandQueueCapacity: 8,
		ServoModel:           "sg90",
		ServoDriver:          config.ServoDriverOff,
	}
}

// silentRelay accepts the SSE stream request and then sends nothing,
// keeping the rig waiting for an offer.
func silentRelay(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRig_SubmitVideoWithoutSession(t *testing.T) {
	r := rig.New(testConfig("https://relay.invalid"), testLogger())
	defer r.Close()

	if err := r.SubmitVideo([]byte{0, 0, 0, 1, 0x65}, time.Millisecond); !errors.Is(err, rig.ErrNoSession) {
		t.Fatalf("err = %v, want ErrNoSession", err)
	}
}

func TestRig_SecondEstablishRejected(t *testing.T) {
	srv := silentRelay(t)
	r := rig.New(testConfig(srv.URL), testLogger())
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := make(chan error, 1)
	go func() {
		first <- r.Establish(ctx, "workshop")
	}()

	// Let the first attempt reach the offer wait before racing it.
	time.Sleep(100 * time.Millisecond)
	if err := r.Establish(ctx, "workshop"); !errors.Is(err, rig.ErrSessionActive) {
		t.Fatalf("second establish err = %v, want ErrSessionActive", err)
	}

	cancel()
	select {
	case err := <-first:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("first establish err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("first establish did not return after cancel")
	}
}

func TestRig_EstablishAfterFailureAllowed(t *testing.T) {
	srv := silentRelay(t)
	r := rig.New(testConfig(srv.URL), testLogger())
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := r.Establish(ctx, "workshop"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}

	// A failed attempt releases the slot for a retry.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel2()
	if err := r.Establish(ctx2, "workshop"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("retry err = %v, want context.DeadlineExceeded", err)
	}
}

func TestRig_CloseWithoutSession(t *testing.T) {
	r := rig.New(testConfig("https://relay.invalid"), testLogger())
	r.Close()
	r.Close()
}
