// Package fetch implements the Fetcher (component E): abortable, retrying
// byte-range GETs that hand back a PendingRequest exposing a live
// bytes_remaining estimate, grounded on cmd/dashfetcher's downloadToFile
// but generalised from "download to a file" to "stream bytes to the
// engine" and made cancellable mid-flight.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/dashstream/engine/internal/model"
)

// ContentType mirrors RequestSpec.context.type from the external interface
// (§6): it tells the transport and any instrumentation what kind of
// resource is being fetched.
type ContentType string

const (
	ContentManifest    ContentType = "MANIFEST"
	ContentMPD         ContentType = "MPD"
	ContentMPDPatch    ContentType = "MPD_PATCH"
	ContentSegment     ContentType = "SEGMENT"
	ContentInitSegment ContentType = "INIT_SEGMENT"
)

// ByteRange is an HTTP Range request, both ends inclusive. End == nil
// requests "from Start to EOF".
type ByteRange struct {
	Start uint64
	End   *uint64
}

func (r ByteRange) header() string {
	if r.Start == 0 && r.End == nil {
		return ""
	}
	if r.End == nil {
		return fmt.Sprintf("bytes=%d-", r.Start)
	}
	return fmt.Sprintf("bytes=%d-%d", r.Start, *r.End)
}

// RequestSpec describes one fetch: one or more candidate URIs (tried in
// order on failure), an optional byte range, and retry tuning.
type RequestSpec struct {
	URIs      []string
	ByteRange ByteRange
	Type      ContentType
	Retry     model.RetryParams
}

// Response is the successful outcome of a PendingRequest: the bytes, the
// URI they were actually fetched from (after redirects), and the number of
// body bytes received.
type Response struct {
	URI   string
	Bytes []byte
	Size  uint64
}

// PendingRequest is the handle the engine holds for one in-flight fetch.
// abort() must complete in O(1) and resolve Await with model.ErrAborted
// rather than a network error (§5 Cancellation).
type PendingRequest struct {
	spec   RequestSpec
	result chan result
	cancel context.CancelFunc

	bytesRemaining int64 // atomic-ish; only read/written under mu
}

type result struct {
	resp *Response
	err  error
}

// Fetcher issues RequestSpecs against an *http.Client, applying retry_params
// backoff and exposing abortable PendingRequests.
type Fetcher struct {
	client *http.Client
}

// New builds a Fetcher around client, or http.DefaultClient if nil.
func New(client *http.Client) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{client: client}
}

// Request starts a fetch and returns immediately with a PendingRequest;
// the caller awaits it via Await.
func (f *Fetcher) Request(ctx context.Context, spec RequestSpec) *PendingRequest {
	ctx, cancel := context.WithCancel(ctx)
	pr := &PendingRequest{
		spec:   spec,
		result: make(chan result, 1),
		cancel: cancel,
	}
	if spec.ByteRange.End != nil {
		pr.bytesRemaining = int64(*spec.ByteRange.End-spec.ByteRange.Start) + 1
	}
	go pr.run(ctx, f.client)
	return pr
}

// BytesRemaining returns the current estimate of bytes left to fetch, used
// by the variant-switch abort decision (§4.4.3).
func (p *PendingRequest) BytesRemaining() uint64 {
	if p.bytesRemaining < 0 {
		return 0
	}
	return uint64(p.bytesRemaining)
}

// Abort cancels the in-flight request. Safe to call more than once.
func (p *PendingRequest) Abort() {
	p.cancel()
}

// Await blocks until the request completes, is aborted, or the passed
// context is cancelled.
func (p *PendingRequest) Await(ctx context.Context) (*Response, error) {
	select {
	case r := <-p.result:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *PendingRequest) run(ctx context.Context, client *http.Client) {
	retry := p.spec.Retry
	if retry.MaxAttempts <= 0 {
		retry = model.DefaultRetryParams()
	}

	var lastErr error
	for attempt := 0; attempt < retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := jitter(retry.DelayForAttempt(attempt-1), retry.FuzzFactor)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				p.result <- result{nil, model.ErrAborted}
				return
			}
		}
		for _, uri := range p.spec.URIs {
			resp, err := p.attempt(ctx, client, uri, retry.Timeout)
			if err == nil {
				p.result <- result{resp, nil}
				return
			}
			if ctx.Err() != nil {
				p.result <- result{nil, model.ErrAborted}
				return
			}
			lastErr = err
			slog.Warn("segment fetch attempt failed", "uri", uri, "attempt", attempt, "error", err)
		}
	}
	p.result <- result{nil, model.NewError(model.SeverityRecoverable, model.CategoryNetwork, model.CodeHTTPError, lastErr)}
}

func (p *PendingRequest) attempt(ctx context.Context, client *http.Client, uri string, timeout time.Duration) (*Response, error) {
	attemptCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	if h := p.spec.ByteRange.header(); h != "" {
		req.Header.Set("Range", h)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, model.NewError(model.SeverityRecoverable, model.CategoryNetwork, model.CodeBadHTTPStatus,
			fmt.Errorf("status %d fetching %s", resp.StatusCode, uri))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	p.bytesRemaining = 0
	finalURI := uri
	if resp.Request != nil && resp.Request.URL != nil {
		finalURI = resp.Request.URL.String()
	}
	return &Response{URI: finalURI, Bytes: body, Size: uint64(len(body))}, nil
}

func jitter(base time.Duration, fuzz float64) time.Duration {
	if fuzz <= 0 {
		return base
	}
	delta := (rand.Float64()*2 - 1) * fuzz
	return time.Duration(float64(base) * (1 + delta))
}
