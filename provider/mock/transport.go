package mock

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
)

// Transport is an http.RoundTripper that serves Adapter's synthetic
// "mock://" requests without touching the network, the same pattern
// provider/localfs uses: each Adapter's Parse* method reads back whatever
// it needs from resp.Request (the original, fully-formed *http.Request),
// so Transport answers every other operation with an empty 200 and, for
// DOWNLOAD, serves the item's bytes: 200 for the whole item, 206 for a
// requested range, 404 for an unknown id.
type Transport struct {
	Adapter *Adapter
}

func (t Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	status := http.StatusOK
	var body io.ReadCloser = io.NopCloser(bytes.NewReader(nil))
	header := make(http.Header)

	if req.Method == "DOWNLOAD" {
		id := req.Header.Get("X-Mock-ID")
		t.Adapter.mu.Lock()
		data := t.Adapter.content[id]
		_, known := t.Adapter.items[id]
		t.Adapter.mu.Unlock()
		if !known {
			status = http.StatusNotFound
		} else {
			start, end := int64(0), int64(len(data))-1
			if s := req.Header.Get("X-Mock-Range-Start"); s != "" {
				if v, err := strconv.ParseInt(s, 10, 64); err == nil {
					start = v
				}
				status = http.StatusPartialContent
			}
			if e := req.Header.Get("X-Mock-Range-End"); e != "" {
				if v, err := strconv.ParseInt(e, 10, 64); err == nil && v >= 0 {
					end = v
				}
			}
			if end >= int64(len(data)) {
				end = int64(len(data)) - 1
			}
			if start < 0 || start > end {
				body = io.NopCloser(bytes.NewReader(nil))
			} else {
				body = io.NopCloser(bytes.NewReader(data[start : end+1]))
			}
			header.Set("Content-Length", strconv.FormatInt(end-start+1, 10))
		}
	}

	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       body,
		Request:    req,
	}, nil
}
