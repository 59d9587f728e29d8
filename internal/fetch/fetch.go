// Package fetch performs one clip download inside the worker process. The
// outcome is reported to the parent as a process exit code, so every failure
// is classified into a Reason.
package fetch

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rampart-project/rampart/internal/util"
)

// Reason classifies a download outcome. Values double as exit codes.
type Reason int

const (
	ReasonNone            Reason = 0
	ReasonNetwork         Reason = 10
	ReasonTimeout         Reason = 11
	ReasonOversize        Reason = 12
	ReasonWrongFormat     Reason = 13
	ReasonHostUnreachable Reason = 14
	ReasonTLS             Reason = 15
	ReasonPrivateAddress  Reason = 16
	ReasonHTTPStatus      Reason = 17
	ReasonIO              Reason = 18
)

var reasonText = map[Reason]string{
	ReasonNone:            "ok",
	ReasonNetwork:         "network error",
	ReasonTimeout:         "download timed out",
	ReasonOversize:        "file too large",
	ReasonWrongFormat:     "not an MP3 file",
	ReasonHostUnreachable: "host unreachable",
	ReasonTLS:             "TLS failure",
	ReasonPrivateAddress:  "private address not allowed",
	ReasonHTTPStatus:      "server returned an error",
	ReasonIO:              "could not store file",
}

func (r Reason) String() string {
	if s, ok := reasonText[r]; ok {
		return s
	}
	return "download failed"
}

// PartSuffix marks a file that is still being written.
const PartSuffix = ".part"

const maxRedirects = 3

// Job describes one transfer.
type Job struct {
	URL      string
	Dest     string
	MaxBytes int64
	Timeout  time.Duration
	// AllowPrivate disables the private address guard.
	AllowPrivate bool
}

// Failure is a classified download error.
type Failure struct {
	Reason Reason
	Err    error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return f.Reason.String()
	}
	return fmt.Sprintf("%s: %v", f.Reason, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func fail(r Reason, err error) *Failure {
	return &Failure{Reason: r, Err: err}
}

// ExitCode maps the result of Run to the worker's exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var f *Failure
	if errors.As(err, &f) {
		return int(f.Reason)
	}
	return int(ReasonNetwork)
}

// ReasonFromExit maps a worker exit status back to a Reason. Unknown codes,
// including crashes and signals, count as network errors.
func ReasonFromExit(code int) Reason {
	r := Reason(code)
	if _, ok := reasonText[r]; ok {
		return r
	}
	return ReasonNetwork
}

var errPrivateDial = errors.New("resolved to a private address")

// Run downloads job.URL into job.Dest. The body is written to Dest+PartSuffix
// and renamed once it passes the size and format checks.
func Run(ctx context.Context, job Job) error {
	logger := util.ComponentLogger("fetch")

	u, err := url.Parse(job.URL)
	if err != nil || u.Host == "" {
		return fail(ReasonNetwork, fmt.Errorf("invalid url %q", job.URL))
	}
	if !job.AllowPrivate && util.IsPrivateHost(u.Hostname()) {
		return fail(ReasonPrivateAddress, nil)
	}

	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	client := newClient(job.AllowPrivate)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.URL, nil)
	if err != nil {
		return fail(ReasonNetwork, err)
	}
	req.Header.Set("User-Agent", "rampart-fetch/1.0")
	req.Header.Set("Accept", "audio/mpeg, */*")

	resp, err := client.Do(req)
	if err != nil {
		return classify(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fail(ReasonHTTPStatus, fmt.Errorf("status %d", resp.StatusCode))
	}
	if job.MaxBytes > 0 && resp.ContentLength > job.MaxBytes {
		return fail(ReasonOversize, fmt.Errorf("content length %d", resp.ContentLength))
	}

	part := job.Dest + PartSuffix
	if err := os.MkdirAll(filepath.Dir(job.Dest), 0755); err != nil {
		return fail(ReasonIO, err)
	}

	n, err := writePart(part, resp.Body, job.MaxBytes)
	if err != nil {
		os.Remove(part)
		var f *Failure
		if errors.As(err, &f) {
			return f
		}
		return classify(ctx, err)
	}

	if err := checkMagic(part); err != nil {
		os.Remove(part)
		return err
	}

	if err := os.Rename(part, job.Dest); err != nil {
		os.Remove(part)
		return fail(ReasonIO, err)
	}

	logger.Debug().Str("dest", job.Dest).Int64("bytes", n).Msg("download complete")
	return nil
}

func writePart(path string, body io.Reader, max int64) (int64, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return 0, fail(ReasonIO, err)
	}
	defer f.Close()

	src := body
	if max > 0 {
		src = io.LimitReader(body, max+1)
	}
	n, err := io.Copy(f, src)
	if err != nil {
		// Read errors come from the network; write errors are local.
		var pe *os.PathError
		if errors.As(err, &pe) {
			return n, fail(ReasonIO, err)
		}
		return n, err
	}
	if max > 0 && n > max {
		return n, fail(ReasonOversize, fmt.Errorf("more than %d bytes", max))
	}
	if n == 0 {
		return 0, fail(ReasonWrongFormat, errors.New("empty body"))
	}
	return n, f.Sync()
}

// IsMP3 reports whether head starts like an MP3 file: an ID3v2 tag or an
// MPEG audio frame sync.
func IsMP3(head []byte) bool {
	if len(head) >= 3 && string(head[:3]) == "ID3" {
		return true
	}
	return len(head) >= 2 && head[0] == 0xFF && head[1]&0xE0 == 0xE0
}

func checkMagic(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fail(ReasonIO, err)
	}
	defer f.Close()

	head := make([]byte, 3)
	n, _ := io.ReadFull(f, head)
	if !IsMP3(head[:n]) {
		return fail(ReasonWrongFormat, nil)
	}
	return nil
}

func newClient(allowPrivate bool) *http.Client {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	if !allowPrivate {
		dialer.Control = func(network, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			if ip := net.ParseIP(host); ip != nil && util.IsPrivateIP(ip) {
				return errPrivateDial
			}
			return nil
		}
	}

	return &http.Client{
		Transport: &http.Transport{
			Proxy:               nil,
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConns:        1,
			DisableKeepAlives:   true,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
				return fmt.Errorf("redirect to scheme %q", req.URL.Scheme)
			}
			if !allowPrivate && util.IsPrivateHost(req.URL.Hostname()) {
				return errPrivateDial
			}
			return nil
		},
	}
}

// classify maps a transport error to a Reason.
func classify(ctx context.Context, err error) *Failure {
	if errors.Is(err, errPrivateDial) {
		return fail(ReasonPrivateAddress, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fail(ReasonTimeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fail(ReasonTimeout, err)
	}

	var (
		certErr    *tls.CertificateVerificationError
		recordErr  tls.RecordHeaderError
		unknownCA  x509.UnknownAuthorityError
		hostErr    x509.HostnameError
		invalidErr x509.CertificateInvalidError
	)
	if errors.As(err, &certErr) || errors.As(err, &recordErr) || errors.As(err, &unknownCA) ||
		errors.As(err, &hostErr) || errors.As(err, &invalidErr) || strings.Contains(err.Error(), "tls:") {
		return fail(ReasonTLS, err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return fail(ReasonHostUnreachable, err)
	}

	return fail(ReasonNetwork, err)
}
