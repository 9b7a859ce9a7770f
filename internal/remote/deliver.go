package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// Deliver POSTs payload to endpoint. A nil return means the remote accepted
// it (any 2xx). Errors wrap ErrPermanent or ErrRetriable.
func (c *Client) Deliver(ctx context.Context, endpoint string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("deliver to %s: %w: %w", endpoint, ErrPermanent, err)
	}
	req.Header.Set("Content-Type", ActivityContentType)
	req.Header.Set("Accept", ActivityContentType)
	req.Header.Set("User-Agent", c.userAgent)

	rsp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("deliver to %s: %w: %w", endpoint, ErrRetriable, err)
	}
	defer rsp.Body.Close()
	// Drain so the connection returns to the pool.
	_, _ = io.Copy(io.Discard, io.LimitReader(rsp.Body, maxBodyBytes))

	if rsp.StatusCode < 200 || rsp.StatusCode > 299 {
		return fmt.Errorf("deliver: %w", &StatusError{Method: http.MethodPost, URL: endpoint, StatusCode: rsp.StatusCode})
	}
	return nil
}
