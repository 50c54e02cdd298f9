package proxy

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rolledback/cloudkit/cloud"
)

type fakeSource struct {
	content []byte
	openErr error
}

func (s *fakeSource) OpenRange(ctx context.Context, item *cloud.Item, rng *cloud.ByteRange) (cloud.ReadCloser, int64, error) {
	if s.openErr != nil {
		return nil, 0, s.openErr
	}
	data := s.content
	if rng != nil {
		end := rng.End
		if end < 0 || end >= int64(len(data)) {
			end = int64(len(data)) - 1
		}
		data = data[rng.Start : end+1]
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(s.content)), nil
}

func TestHandler_ServeFile_FullBody(t *testing.T) {
	src := &fakeSource{content: []byte("the quick brown fox")}
	h := NewHandler(src)
	size := int64(len(src.content))
	h.Register(&cloud.Item{ID: "f1", Name: "fox.txt", Size: &size})

	req := httptest.NewRequest(http.MethodGet, "/?state=s&file=f1", nil)
	rec := httptest.NewRecorder()
	h.ServeFile(rec, req, "f1")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "the quick brown fox", rec.Body.String())
}

func TestHandler_ServeFile_RangeRequest(t *testing.T) {
	src := &fakeSource{content: []byte("0123456789")}
	h := NewHandler(src)
	size := int64(len(src.content))
	h.Register(&cloud.Item{ID: "f1", Name: "digits.txt", Size: &size})

	req := httptest.NewRequest(http.MethodGet, "/?state=s&file=f1", nil)
	req.Header.Set("Range", "bytes=2-4")
	rec := httptest.NewRecorder()
	h.ServeFile(rec, req, "f1")

	require.Equal(t, http.StatusPartialContent, rec.Code)
	require.Equal(t, "234", rec.Body.String())
	require.Equal(t, "bytes 2-4/10", rec.Header().Get("Content-Range"))
}

func TestHandler_ServeFile_UnknownFile(t *testing.T) {
	h := NewHandler(&fakeSource{})
	req := httptest.NewRequest(http.MethodGet, "/?state=s&file=missing", nil)
	rec := httptest.NewRecorder()
	h.ServeFile(rec, req, "missing")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_ServeFile_RangeOutOfBounds(t *testing.T) {
	src := &fakeSource{content: []byte("short")}
	h := NewHandler(src)
	size := int64(len(src.content))
	h.Register(&cloud.Item{ID: "f1", Name: "short.txt", Size: &size})

	req := httptest.NewRequest(http.MethodGet, "/?state=s&file=f1", nil)
	req.Header.Set("Range", "bytes=100-200")
	rec := httptest.NewRecorder()
	h.ServeFile(rec, req, "f1")
	require.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
}

func TestHandler_ServeFile_NotYetAuthorized(t *testing.T) {
	src := &fakeSource{openErr: cloud.NewError(http.StatusServiceUnavailable, "not ready", nil)}
	h := NewHandler(src)
	h.Register(&cloud.Item{ID: "f1", Name: "f.txt"})

	req := httptest.NewRequest(http.MethodGet, "/?state=s&file=f1", nil)
	rec := httptest.NewRecorder()
	h.ServeFile(rec, req, "f1")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandler_Unregister(t *testing.T) {
	h := NewHandler(&fakeSource{})
	h.Register(&cloud.Item{ID: "f1", Name: "f.txt"})
	h.Unregister("f1")

	req := httptest.NewRequest(http.MethodGet, "/?state=s&file=f1", nil)
	rec := httptest.NewRecorder()
	h.ServeFile(rec, req, "f1")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestParseRange(t *testing.T) {
	cases := []struct {
		name    string
		header  string
		total   int64
		wantErr bool
		start   int64
		end     int64
		full    bool
	}{
		{"no header", "", 10, false, 0, 9, true},
		{"closed range", "bytes=2-5", 10, false, 2, 5, false},
		{"open end", "bytes=5-", 10, false, 5, 9, false},
		{"suffix", "bytes=-3", 10, false, 7, 9, false},
		{"out of bounds", "bytes=20-30", 10, true, 0, 0, false},
		{"malformed", "bytes=abc", 10, true, 0, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rng, full, err := parseRange(tc.header, tc.total)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.start, rng.Start)
			require.Equal(t, tc.end, rng.End)
			require.Equal(t, tc.full, full)
		})
	}
}
