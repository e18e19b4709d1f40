package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/ytget/mediarelay/internal/logging"
	"github.com/ytget/mediarelay/internal/model"
	"github.com/ytget/mediarelay/internal/platform"
)

// DefaultChunkSize is the copy unit of the streaming backend
const DefaultChunkSize = 1 << 20

var errReadStalled = errors.New("no data received within read timeout")

// StreamConfig configures the generic HTTP backend
type StreamConfig struct {
	UserAgent     string
	HeaderTimeout time.Duration
	ReadTimeout   time.Duration
	ChunkSize     int
	Retries       int
	RetryBackoff  time.Duration
}

// Streamer downloads a URL by copying the response body to disk in fixed-size chunks
type Streamer struct {
	cfg    StreamConfig
	client *http.Client
	log    *slog.Logger
}

// NewStreamer creates a streaming backend with its own HTTP client
func NewStreamer(cfg StreamConfig, log *slog.Logger) *Streamer {
	if log == nil {
		log = logging.Discard()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.HeaderTimeout
	transport.DialContext = (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext
	return &Streamer{
		cfg:    cfg,
		client: &http.Client{Transport: transport},
		log:    log,
	}
}

// Acquire copies source into destPath, reporting progress after every chunk
func (s *Streamer) Acquire(ctx context.Context, source, destPath string, progress model.ProgressFunc) (Artifact, error) {
	resp, err := s.open(ctx, source)
	if err != nil {
		return Artifact{Strategy: StrategyStream}, err
	}
	defer resp.Body.Close()

	total := resp.ContentLength
	if total < 0 {
		total = 0
	}

	written, err := s.copyBody(ctx, resp.Body, destPath, total, progress)
	if err != nil {
		return Artifact{Strategy: StrategyStream, Path: destPath}, err
	}
	return Artifact{Strategy: StrategyStream, Path: destPath, Size: written}, nil
}

// open issues the GET request, retrying transient failures
func (s *Streamer) open(ctx context.Context, source string) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(s.cfg.RetryBackoff):
			case <-ctx.Done():
				return nil, classifyContextErr(ctx, lastErr)
			}
			s.log.Info("retrying stream request",
				slog.String("source", source),
				slog.Int("attempt", attempt+1),
			)
		}

		resp, err := s.get(ctx, source)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, classifyContextErr(ctx, err)
		}
		var status statusError
		if errors.As(err, &status) && !status.retryable() {
			return nil, err
		}
	}
	return nil, lastErr
}

func (s *Streamer) get(ctx context.Context, source string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}
	req.Header.Set("Accept", "*/*")

	resp, err := s.client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, errors.Join(model.ErrTimeout, err)
		}
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, statusError{code: resp.StatusCode, status: resp.Status}
	}
	return resp, nil
}

// copyBody writes body to destPath chunk by chunk. Cancellation is checked
// before each write; a read that stalls longer than ReadTimeout aborts.
func (s *Streamer) copyBody(ctx context.Context, body io.Reader, destPath string, total int64, progress model.ProgressFunc) (int64, error) {
	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, platform.DefaultFilePermissions)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", destPath, err)
	}
	defer out.Close()

	type readResult struct {
		n   int
		err error
	}

	buf := make([]byte, s.cfg.ChunkSize)
	var written int64
	for {
		results := make(chan readResult, 1)
		go func() {
			n, err := io.ReadFull(body, buf)
			results <- readResult{n: n, err: err}
		}()

		var res readResult
		if s.cfg.ReadTimeout > 0 {
			timer := time.NewTimer(s.cfg.ReadTimeout)
			select {
			case res = <-results:
				timer.Stop()
			case <-timer.C:
				return written, errors.Join(model.ErrTimeout, errReadStalled)
			case <-ctx.Done():
				timer.Stop()
				return written, classifyContextErr(ctx, ctx.Err())
			}
		} else {
			select {
			case res = <-results:
			case <-ctx.Done():
				return written, classifyContextErr(ctx, ctx.Err())
			}
		}

		if res.n > 0 {
			if err := ctx.Err(); err != nil {
				return written, classifyContextErr(ctx, err)
			}
			if _, err := out.Write(buf[:res.n]); err != nil {
				return written, fmt.Errorf("write %s: %w", destPath, err)
			}
			written += int64(res.n)
			if progress != nil {
				if err := progress(written, total); err != nil {
					return written, err
				}
			}
		}

		switch {
		case res.err == nil:
			continue
		case errors.Is(res.err, io.EOF), errors.Is(res.err, io.ErrUnexpectedEOF):
			if total > 0 && written < total {
				return written, fmt.Errorf("stream ended early: got %d of %d bytes", written, total)
			}
			return written, out.Close()
		default:
			if ctx.Err() != nil {
				return written, classifyContextErr(ctx, res.err)
			}
			return written, fmt.Errorf("read body: %w", res.err)
		}
	}
}

type statusError struct {
	code   int
	status string
}

func (e statusError) Error() string {
	return "unexpected response status " + e.status
}

func (e statusError) retryable() bool {
	return e.code == http.StatusTooManyRequests || e.code >= 500
}
