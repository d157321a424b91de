package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
)

const maxErrorBody = 512

// Get performs a GET and returns the body of a 200 response. Throttling,
// server errors, and network failures come back transient; other statuses
// are permanent. Cancellation of ctx itself is returned as the context error.
func Get(ctx context.Context, client *http.Client, src, op, url string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, NewPermanent(src, op, fmt.Errorf("creating request: %w", err))
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, classifyTransport(src, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewTransient(src, op, fmt.Errorf("reading body: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		snippet := body
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		statusErr := fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(snippet))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, NewTransient(src, op, statusErr)
		}
		return nil, NewPermanent(src, op, statusErr)
	}
	return body, nil
}

func classifyTransport(src, op string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded) {
		return NewTransient(src, op, err)
	}
	return NewPermanent(src, op, err)
}
