package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Collection is the part of an ActivityPub (Ordered)Collection the sync
// handlers use.
type Collection struct {
	// TotalItems is the advertised size, or the number of items read when
	// the collection does not advertise one.
	TotalItems int

	// Items holds one reference per item: the item itself when it is a
	// URI, otherwise its "id", falling back to "name" (featured hashtags
	// carry only a name).
	Items []string
}

type collectionDoc struct {
	TotalItems   *int              `json:"totalItems"`
	OrderedItems []json.RawMessage `json:"orderedItems"`
	Items        []json.RawMessage `json:"items"`
	First        json.RawMessage   `json:"first"`
}

type itemDoc struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// FetchCollection GETs url and reads its items. Items are taken from the
// collection itself or, when it is paged, from its first page; only the
// first page is followed.
func (c *Client) FetchCollection(ctx context.Context, url string) (Collection, error) {
	doc, err := c.getCollection(ctx, url)
	if err != nil {
		return Collection{}, err
	}

	items := doc.items()
	if len(items) == 0 && len(doc.First) > 0 {
		page, err := c.firstPage(ctx, doc.First)
		if err != nil {
			return Collection{}, err
		}
		items = page.items()
	}

	col := Collection{Items: items}
	if doc.TotalItems != nil {
		col.TotalItems = *doc.TotalItems
	} else {
		col.TotalItems = len(items)
	}
	return col, nil
}

// firstPage resolves "first", which is either an embedded page or its URI.
func (c *Client) firstPage(ctx context.Context, raw json.RawMessage) (collectionDoc, error) {
	var uri string
	if err := json.Unmarshal(raw, &uri); err == nil {
		return c.getCollection(ctx, uri)
	}
	var page collectionDoc
	if err := json.Unmarshal(raw, &page); err != nil {
		return collectionDoc{}, fmt.Errorf("decode first page: %w: %w", ErrPermanent, err)
	}
	return page, nil
}

func (c *Client) getCollection(ctx context.Context, url string) (collectionDoc, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return collectionDoc{}, fmt.Errorf("fetch %s: %w: %w", url, ErrPermanent, err)
	}
	req.Header.Set("Accept", ActivityContentType)
	req.Header.Set("User-Agent", c.userAgent)

	rsp, err := c.http.Do(req)
	if err != nil {
		return collectionDoc{}, fmt.Errorf("fetch %s: %w: %w", url, ErrRetriable, err)
	}
	defer rsp.Body.Close()

	if rsp.StatusCode < 200 || rsp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(rsp.Body, maxBodyBytes))
		return collectionDoc{}, fmt.Errorf("fetch: %w", &StatusError{Method: http.MethodGet, URL: url, StatusCode: rsp.StatusCode})
	}

	var doc collectionDoc
	if err := json.NewDecoder(io.LimitReader(rsp.Body, maxBodyBytes)).Decode(&doc); err != nil {
		return collectionDoc{}, fmt.Errorf("decode %s: %w: %w", url, ErrPermanent, err)
	}
	return doc, nil
}

func (d collectionDoc) items() []string {
	raw := d.OrderedItems
	if len(raw) == 0 {
		raw = d.Items
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		var uri string
		if err := json.Unmarshal(r, &uri); err == nil {
			out = append(out, uri)
			continue
		}
		var item itemDoc
		if err := json.Unmarshal(r, &item); err != nil {
			continue
		}
		switch {
		case item.ID != "":
			out = append(out, item.ID)
		case item.Name != "":
			out = append(out, item.Name)
		}
	}
	return out
}
