package remote

import (
	"errors"
	"io"
	"net/http"

	"github.com/fereidani/httpdecompressor"
)

// acceptEncoding lists the encodings decompressor understands.
const acceptEncoding = "gzip, deflate, br, zstd"

// decompressor is an http.RoundTripper that decodes response bodies based on
// their Content-Encoding.
type decompressor struct {
	next http.RoundTripper
}

func newDecompressor(next http.RoundTripper) http.RoundTripper {
	return &decompressor{next: next}
}

// RoundTrip advertises the supported encodings and swaps in a decoding body.
// Closing the new body closes the decoder first, then the connection body.
func (d *decompressor) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("Accept-Encoding", acceptEncoding)
	}

	rsp, err := d.next.RoundTrip(req)
	if err != nil {
		return rsp, err
	}

	orig := rsp.Body
	body, err := httpdecompressor.Reader(rsp)
	if err != nil {
		orig.Close()
		return nil, err
	}
	if body == orig {
		return rsp, nil
	}

	rsp.Body = &decodedBody{Reader: body, closers: []io.Closer{body, orig}}
	rsp.Header.Del("Content-Encoding")
	rsp.Header.Del("Content-Length")
	rsp.ContentLength = -1
	return rsp, nil
}

type decodedBody struct {
	io.Reader
	closers []io.Closer
}

func (b *decodedBody) Close() error {
	var errs []error
	for _, c := range b.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

var _ http.RoundTripper = (*decompressor)(nil)
