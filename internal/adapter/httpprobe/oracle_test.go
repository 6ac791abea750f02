package httpprobe_test

import (
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"deployd/internal/adapter/httpprobe"
	"deployd/internal/lifecycle"
)

func TestProbeReturnsStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("<html><title>ecommerce</title></html>"))
	}))
	defer srv.Close()

	res, err := httpprobe.New().Probe(t.Context(), srv.URL+"/", time.Second)
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if res.Status != http.StatusOK || !strings.Contains(res.Body, "ecommerce") {
		t.Fatalf("Probe() = %+v, want 200 with marker", res)
	}
	if res.Latency <= 0 {
		t.Fatalf("Latency = %s, want positive", res.Latency)
	}
}

func TestProbeKeepsErrorStatusAndDoesNotFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/broken":
			http.Error(w, "ecommerce down", http.StatusServiceUnavailable)
		default:
			http.Redirect(w, r, "/broken", http.StatusFound)
		}
	}))
	defer srv.Close()

	oracle := httpprobe.New()
	res, err := oracle.Probe(t.Context(), srv.URL+"/broken", time.Second)
	if err != nil || res.Status != http.StatusServiceUnavailable {
		t.Fatalf("Probe(/broken) = (%+v, %v), want 503", res, err)
	}
	res, err = oracle.Probe(t.Context(), srv.URL+"/", time.Second)
	if err != nil || res.Status != http.StatusFound {
		t.Fatalf("Probe(/) = (%+v, %v), want 302", res, err)
	}
}

func TestProbeTruncatesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer srv.Close()

	res, err := httpprobe.New(httpprobe.WithBodyLimit(10)).Probe(t.Context(), srv.URL, time.Second)
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if len(res.Body) != 10 {
		t.Fatalf("len(Body) = %d, want 10", len(res.Body))
	}
}

func TestProbeUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	_, err = httpprobe.New().Probe(t.Context(), "http://"+addr+"/", time.Second)
	if !errors.Is(err, lifecycle.ErrUnreachable) {
		t.Fatalf("Probe() error = %v, want ErrUnreachable", err)
	}
}

func TestProbeTimeoutIsUnreachable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := httpprobe.New().Probe(t.Context(), srv.URL, 20*time.Millisecond)
	if !errors.Is(err, lifecycle.ErrUnreachable) {
		t.Fatalf("Probe() error = %v, want ErrUnreachable", err)
	}
}
