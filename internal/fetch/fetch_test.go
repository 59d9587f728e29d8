package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var mp3Body = append([]byte("ID3\x03\x00\x00\x00\x00\x00\x00"), make([]byte, 100)...)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ok.mp3", func(w http.ResponseWriter, r *http.Request) {
		w.Write(mp3Body)
	})
	mux.HandleFunc("/sync.mp3", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte{0xFF, 0xFB, 0x90, 0x00, 1, 2, 3})
	})
	mux.HandleFunc("/page.html", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>nope</html>"))
	})
	mux.HandleFunc("/big.mp3", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "5000")
		w.Write(append(mp3Body, make([]byte, 5000-len(mp3Body))...))
	})
	mux.HandleFunc("/chunked.mp3", func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Write(mp3Body)
		flusher.Flush()
		for i := 0; i < 50; i++ {
			w.Write(make([]byte, 100))
			flusher.Flush()
		}
	})
	mux.HandleFunc("/slow.mp3", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(3 * time.Second):
		case <-r.Context().Done():
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRun(t *testing.T) {
	srv := newServer(t)

	tests := []struct {
		name    string
		path    string
		max     int64
		timeout time.Duration
		want    Reason
	}{
		{"id3 file", "/ok.mp3", 1024, 5 * time.Second, ReasonNone},
		{"frame sync file", "/sync.mp3", 1024, 5 * time.Second, ReasonNone},
		{"html page", "/page.html", 1024, 5 * time.Second, ReasonWrongFormat},
		{"declared too large", "/big.mp3", 1024, 5 * time.Second, ReasonOversize},
		{"streamed too large", "/chunked.mp3", 1024, 5 * time.Second, ReasonOversize},
		{"missing", "/missing.mp3", 1024, 5 * time.Second, ReasonHTTPStatus},
		{"slow", "/slow.mp3", 1024, 100 * time.Millisecond, ReasonTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dest := filepath.Join(t.TempDir(), "owner", "clip.mp3")
			err := Run(context.Background(), Job{
				URL:          srv.URL + tt.path,
				Dest:         dest,
				MaxBytes:     tt.max,
				Timeout:      tt.timeout,
				AllowPrivate: true,
			})

			if got := Reason(ExitCode(err)); got != tt.want {
				t.Fatalf("Run() = %v, want reason %v", err, tt.want)
			}

			_, statErr := os.Stat(dest)
			if tt.want == ReasonNone && statErr != nil {
				t.Errorf("destination missing after success: %v", statErr)
			}
			if tt.want != ReasonNone && statErr == nil {
				t.Errorf("destination exists after failure")
			}
			if _, err := os.Stat(dest + PartSuffix); err == nil {
				t.Errorf("partial file left behind")
			}
		})
	}
}

func TestRunRejectsPrivateHosts(t *testing.T) {
	srv := newServer(t)

	for _, u := range []string{srv.URL + "/ok.mp3", "http://10.1.2.3/a.mp3", "http://localhost/a.mp3"} {
		t.Run(u, func(t *testing.T) {
			err := Run(context.Background(), Job{
				URL:      u,
				Dest:     filepath.Join(t.TempDir(), "clip.mp3"),
				MaxBytes: 1024,
				Timeout:  time.Second,
			})
			var f *Failure
			if !errors.As(err, &f) || f.Reason != ReasonPrivateAddress {
				t.Errorf("Run() = %v, want private address failure", err)
			}
		})
	}
}

func TestExitCodeRoundTrip(t *testing.T) {
	tests := []struct {
		err  error
		want Reason
	}{
		{nil, ReasonNone},
		{fail(ReasonOversize, nil), ReasonOversize},
		{fmt.Errorf("wrapped: %w", fail(ReasonTLS, nil)), ReasonTLS},
		{errors.New("plain"), ReasonNetwork},
	}
	for _, tt := range tests {
		code := ExitCode(tt.err)
		if got := ReasonFromExit(code); got != tt.want {
			t.Errorf("ReasonFromExit(ExitCode(%v)) = %v, want %v", tt.err, got, tt.want)
		}
	}

	if ReasonFromExit(-1) != ReasonNetwork || ReasonFromExit(2) != ReasonNetwork {
		t.Errorf("unknown exit codes should map to network errors")
	}
}

func TestIsMP3(t *testing.T) {
	tests := []struct {
		head []byte
		want bool
	}{
		{[]byte("ID3"), true},
		{[]byte{0xFF, 0xFB}, true},
		{[]byte{0xFF, 0xE3, 0x00}, true},
		{[]byte{0xFF, 0x1F}, false},
		{[]byte("RIFF"), false},
		{[]byte("<ht"), false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := IsMP3(tt.head); got != tt.want {
			t.Errorf("IsMP3(% x) = %v, want %v", tt.head, got, tt.want)
		}
	}
}

func TestReasonStrings(t *testing.T) {
	for _, r := range []Reason{ReasonTimeout, ReasonOversize, ReasonWrongFormat, ReasonHostUnreachable, ReasonTLS} {
		if s := r.String(); s == "" || strings.Contains(s, "download failed") {
			t.Errorf("Reason(%d).String() = %q", r, s)
		}
	}
}
