// Package providers implements the upstream adapters and the router that
// resolves a client model name to a provider, mode, and upstream model.
package providers

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/rexl2018/aiapiproxy/internal/apierror"
	"github.com/rexl2018/aiapiproxy/internal/config"
	"github.com/rexl2018/aiapiproxy/internal/schema"
)

const (
	requestTimeout = 30 * time.Second
	streamTimeout  = 300 * time.Second

	// sseBufferSize bounds one SSE line; provider chunks can carry large
	// base64 or argument payloads.
	sseBufferSize = 10 * 1024 * 1024
)

// StreamResult is one element of an adapter's stream: a chunk or a fatal
// error, never both.
type StreamResult struct {
	Chunk *schema.ChatStreamChunk
	Err   error
}

// Adapter is one upstream dialect. Implementations translate the canonical
// request into the native wire shape, call the upstream, and parse the
// reply back into canonical form.
type Adapter interface {
	Name() string
	ChatComplete(ctx context.Context, req *schema.ChatRequest, prov *config.Provider, model *config.Model) (*schema.ChatResponse, error)
	ChatStream(ctx context.Context, req *schema.ChatRequest, prov *config.Provider, model *config.Model) (<-chan StreamResult, error)
}

// httpClient carries the two client pools every adapter shares: a short
// timeout for request/response calls and a long one for streams.
type httpClient struct {
	short *http.Client
	long  *http.Client
}

func newHTTPClient() httpClient {
	return httpClient{
		short: &http.Client{Timeout: requestTimeout},
		long:  &http.Client{Timeout: streamTimeout},
	}
}

// postJSON sends the payload and returns the decompressed response body.
// Non-2xx statuses are classified into gateway errors with the upstream
// body preserved.
func (c *httpClient) postJSON(ctx context.Context, url string, headers map[string]string, payload any) ([]byte, error) {
	resp, err := c.send(ctx, c.short, url, headers, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	reader, err := decompressReader(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, fmt.Errorf("decompress response: %w", err)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apierror.ClassifyUpstream(resp.StatusCode, string(body))
	}
	return body, nil
}

// postStream sends the payload and returns the raw SSE body for the caller
// to consume. Error statuses are read fully and classified.
func (c *httpClient) postStream(ctx context.Context, url string, headers map[string]string, payload any) (io.ReadCloser, error) {
	resp, err := c.send(ctx, c.long, url, headers, payload)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, apierror.ClassifyUpstream(resp.StatusCode, string(body))
	}
	return resp.Body, nil
}

func (c *httpClient) send(ctx context.Context, client *http.Client, url string, headers map[string]string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Encoding", "gzip, br")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, apierror.API("upstream request failed: %v", err)
	}
	return resp, nil
}

func decompressReader(r io.Reader, encoding string) (io.Reader, error) {
	switch encoding {
	case "gzip":
		return gzip.NewReader(r)
	case "br":
		return brotli.NewReader(r), nil
	default:
		return r, nil
	}
}

// sseLines reads an SSE body line by line, invoking handle for every data
// payload until the [DONE] terminator, the end of the stream, or a handler
// stop. handle returns false to stop early.
func sseLines(body io.Reader, handle func(data []byte) bool) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), sseBufferSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		data := bytes.TrimSpace(line[len("data: "):])
		if bytes.Equal(data, []byte("[DONE]")) {
			return nil
		}
		if len(data) == 0 {
			continue
		}
		if !handle(data) {
			return nil
		}
	}
	return scanner.Err()
}

// bearerHeaders builds the standard auth header set, merging configured
// extra headers on top.
func bearerHeaders(apiKey string, extra map[string]string) map[string]string {
	headers := map[string]string{}
	if apiKey != "" {
		headers["Authorization"] = "Bearer " + apiKey
	}
	for k, v := range extra {
		headers[k] = v
	}
	return headers
}
