package camsync

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestResolverParse(t *testing.T) {
	r := NewResolver(Config{})
	cases := []struct {
		host, port string
		want       ConnectionTarget
	}{
		{"192.168.1.20", "", ConnectionTarget{"192.168.1.20", 8080}},
		{"  cam.local  ", "9000", ConnectionTarget{"cam.local", 9000}},
		{"http://cam.local:8081/dashboard", "", ConnectionTarget{"cam.local", 8081}},
		{"cam.local:8081", "9000", ConnectionTarget{"cam.local", 9000}},
		{"[fe80::1]:8080", "", ConnectionTarget{"fe80::1", 8080}},
	}
	for _, tc := range cases {
		got, err := r.Parse(tc.host, tc.port)
		if err != nil {
			t.Errorf("Parse(%q, %q): %v", tc.host, tc.port, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Parse(%q, %q) = %+v, want %+v", tc.host, tc.port, got, tc.want)
		}
	}

	bad := []struct {
		host, port string
		kind       ResolutionKind
	}{
		{"", "8080", InvalidHost},
		{"   ", "", InvalidHost},
		{"http://", "", InvalidHost},
		{"cam.local", "http", InvalidPort},
		{"cam.local", "70000", InvalidPort},
		{"cam.local", "0", InvalidPort},
	}
	for _, tc := range bad {
		_, err := r.Parse(tc.host, tc.port)
		if !IsResolution(err, tc.kind) {
			t.Errorf("Parse(%q, %q) err = %v, want %s", tc.host, tc.port, err, tc.kind)
		}
	}
}

// blackholeClient never completes a dial, so every probe runs into its timeout.
func blackholeClient() *http.Client {
	return &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}}
}

func TestResolverResolve(t *testing.T) {
	t.Run("reachable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != DefaultProbePath {
				http.NotFound(w, r)
				return
			}
			w.Write([]byte(`{"events_today":0}`))
		}))
		defer srv.Close()

		r := NewResolver(Config{})
		target, err := r.Resolve(context.Background(), srv.URL, "")
		if err != nil {
			t.Fatal(err)
		}
		if target.BaseURL() != srv.URL {
			t.Errorf("target = %s, want %s", target.BaseURL(), srv.URL)
		}
	})

	t.Run("unreachable address times out", func(t *testing.T) {
		r := NewResolver(Config{ProbeTimeout: 50 * time.Millisecond})
		r.HTTPClient = blackholeClient()
		_, err := r.Resolve(context.Background(), "192.0.2.5", "8080")
		if !IsResolution(err, Unreachable) {
			t.Fatalf("err = %v, want Unreachable", err)
		}
	})

	t.Run("non-success reply is unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()
		_, err := NewResolver(Config{}).Resolve(context.Background(), srv.URL, "")
		if !IsResolution(err, Unreachable) {
			t.Fatalf("err = %v, want Unreachable", err)
		}
	})

	t.Run("refused connection is a network error", func(t *testing.T) {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatal(err)
		}
		addr := l.Addr().String()
		l.Close()

		_, err = NewResolver(Config{}).Resolve(context.Background(), addr, "")
		if !IsResolution(err, NetworkError) {
			t.Fatalf("err = %v, want NetworkError", err)
		}
	})
}
