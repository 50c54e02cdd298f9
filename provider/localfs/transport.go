package localfs

import (
	"bytes"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/renameio/v2"
)

// Transport is an http.RoundTripper that serves Adapter's synthetic
// "file://" requests directly against the local filesystem — the adapter's
// documented deviation from sending real HTTP, since there is no wire
// protocol to speak to itself. Each localfs.Adapter should be paired with a
// dedicated httpengine.Engine built over this Transport
// (httpengine.NewWithTransport), never shared with a networked adapter.
type Transport struct{}

func (Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	path := req.URL.Path
	if req.URL.Host != "" {
		// file://host/path forms; cloudkit only ever builds file:///abs/path.
		path = "/" + req.URL.Host + path
	}

	switch req.Method {
	case "STAT", "URL":
		return statPath(path)
	case "LIST":
		return listPath(path)
	case "GET":
		return getPath(path, req.Header.Get("Range"))
	case "PUT":
		return putPath(path, req.Body, req.ContentLength)
	case "DELETE":
		return deletePath(path)
	case "MKDIR":
		return mkdirPath(path)
	case "MOVE":
		return movePath(path, req.Header.Get("X-Destination"))
	case "DF":
		return dfPath(path)
	default:
		return textResponse(http.StatusMethodNotAllowed, nil), nil
	}
}

func statHeaders(path string, info os.FileInfo) http.Header {
	h := make(http.Header)
	h.Set("X-ID", path)
	h.Set("X-Name", info.Name())
	h.Set("X-Path", path)
	if info.IsDir() {
		h.Set("X-Is-Dir", "1")
	} else {
		h.Set("X-Size", strconv.FormatInt(info.Size(), 10))
	}
	return h
}

func statPath(path string) (*http.Response, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return textResponse(http.StatusNotFound, nil), nil
	}
	if err != nil {
		return nil, err
	}
	return &http.Response{StatusCode: http.StatusOK, Header: statHeaders(path, info), Body: io.NopCloser(bytes.NewReader(nil))}, nil
}

func listPath(dir string) (*http.Response, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return textResponse(http.StatusNotFound, nil), nil
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	var b strings.Builder
	for _, e := range entries {
		kind := "file"
		if e.IsDir() {
			kind = "dir"
		}
		id := filepath.Join(dir, e.Name())
		b.WriteString(id)
		b.WriteByte('\x01')
		b.WriteString(e.Name())
		b.WriteByte('\x01')
		b.WriteString(kind)
		b.WriteByte('\x00')
	}
	h := make(http.Header)
	h.Set("X-Entries", b.String())
	return &http.Response{StatusCode: http.StatusOK, Header: h, Body: io.NopCloser(bytes.NewReader(nil))}, nil
}

func getPath(path, rangeHeader string) (*http.Response, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return textResponse(http.StatusNotFound, nil), nil
	}
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	size := info.Size()
	start, end := int64(0), size-1
	status := http.StatusOK
	if rangeHeader != "" {
		s, e, ok := parseByteRange(rangeHeader, size)
		if !ok {
			f.Close()
			return textResponse(http.StatusRequestedRangeNotSatisfiable, nil), nil
		}
		start, end, status = s, e, http.StatusPartialContent
		if _, err := f.Seek(start, io.SeekStart); err != nil {
			f.Close()
			return nil, err
		}
	}
	h := make(http.Header)
	h.Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	body := io.LimitReader(f, end-start+1)
	return &http.Response{StatusCode: status, Header: h, Body: readCloserFunc{body, f.Close}, ContentLength: end - start + 1}, nil
}

func parseByteRange(header string, size int64) (start, end int64, ok bool) {
	spec := strings.TrimPrefix(header, "bytes=")
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	if parts[0] == "" {
		n, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, false
		}
		start = size - n
		if start < 0 {
			start = 0
		}
		return start, size - 1, true
	}
	s, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	e := size - 1
	if parts[1] != "" {
		e, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, false
		}
	}
	if s < 0 || s >= size || e < s {
		return 0, 0, false
	}
	if e >= size {
		e = size - 1
	}
	return s, e, true
}

// putPath writes the uploaded body to path via a pending temp file that is
// fsynced and atomically renamed into place, so a crash or a concurrent GET
// never observes a partially-written file — generalizing the teacher's
// manual tmpPath + os.Rename dance into renameio's PendingFile.
func putPath(path string, body io.ReadCloser, contentLength int64) (*http.Response, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	pf, err := renameio.NewPendingFile(path)
	if err != nil {
		return nil, err
	}
	defer pf.Cleanup()

	if body != nil {
		defer body.Close()
		if _, err := io.Copy(pf, body); err != nil {
			return nil, err
		}
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return nil, err
	}
	return statPath(path)
}

func deletePath(path string) (*http.Response, error) {
	if err := os.RemoveAll(path); err != nil {
		return nil, err
	}
	return textResponse(http.StatusOK, nil), nil
}

func mkdirPath(path string) (*http.Response, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}
	return statPath(path)
}

func movePath(src, dst string) (*http.Response, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, err
	}
	if err := os.Rename(src, dst); err != nil {
		return nil, err
	}
	return statPath(dst)
}

func dfPath(dir string) (*http.Response, error) {
	var used int64
	filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			used += info.Size()
		}
		return nil
	})
	h := make(http.Header)
	h.Set("X-Used", strconv.FormatInt(used, 10))
	h.Set("X-Total", "0")
	return &http.Response{StatusCode: http.StatusOK, Header: h, Body: io.NopCloser(bytes.NewReader(nil))}, nil
}

func textResponse(status int, body []byte) *http.Response {
	return &http.Response{StatusCode: status, Header: make(http.Header), Body: io.NopCloser(bytes.NewReader(body))}
}

type readCloserFunc struct {
	io.Reader
	closeFn func() error
}

func (r readCloserFunc) Close() error { return r.closeFn() }
