package httpx

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
)

func TestServe_StopsOnContextCancel(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "ok") })
	srv := NewServer(lis.Addr().String(), logging.NewNop(), h, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()

	resp, err := http.Get(fmt.Sprintf("http://%s/", lis.Addr()))
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "ok" {
		t.Fatalf("body = %q", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned error on shutdown: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop within timeout")
	}
}

func TestRun_BadAddress(t *testing.T) {
	srv := NewServer("127.0.0.1:99999", logging.NewNop(), http.NotFoundHandler(), 0)
	if err := srv.Run(context.Background()); err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestServe_ForcesCloseAfterShutdownTimeout(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	srv := NewServer(lis.Addr().String(), logging.NewNop(), h, 100*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()

	reqErr := make(chan error, 1)
	go func() {
		resp, err := http.Get(fmt.Sprintf("http://%s/", lis.Addr()))
		if err == nil {
			resp.Body.Close()
		}
		reqErr <- err
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("request never reached the handler")
	}

	start := time.Now()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned error on forced close: %v", err)
		}
		if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
			t.Fatalf("Serve returned after %s, before the shutdown timeout", elapsed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve blocked on an in-flight request")
	}

	select {
	case err := <-reqErr:
		if err == nil {
			t.Fatal("cut-off request should fail")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight request was not cut off")
	}
}
