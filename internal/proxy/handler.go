package proxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/rolledback/cloudkit/cloud"
	"github.com/rolledback/cloudkit/internal/localserver"
	"github.com/rolledback/cloudkit/internal/xlog"
)

const defaultBufferSize = 256 * 1024

// Handler implements localserver.FileHandler for one provider instance,
// serving Range-aware downloads of opaque-source items (spec.md's streaming
// proxy, §4.G).
type Handler struct {
	source cloud.OpaqueSource

	mu    sync.RWMutex
	items map[string]*cloud.Item // known items, keyed by id
}

// NewHandler builds a Handler over source. Items must be registered with
// Register before they are servable, mirroring the source's "must resolve
// the item before streaming it" precondition.
func NewHandler(source cloud.OpaqueSource) *Handler {
	return &Handler{source: source, items: make(map[string]*cloud.Item)}
}

// Register makes item servable under its own ID.
func (h *Handler) Register(item *cloud.Item) {
	h.mu.Lock()
	h.items[item.ID] = item
	h.mu.Unlock()
}

// Unregister removes item's availability, e.g. once a caller is done with
// its handle.
func (h *Handler) Unregister(id string) {
	h.mu.Lock()
	delete(h.items, id)
	h.mu.Unlock()
}

var _ localserver.FileHandler = (*Handler)(nil)

// ServeFile implements localserver.FileHandler. Step list follows spec.md
// §4.G exactly: validate state (handled by the caller, localserver.Server,
// via its state->handler map lookup, so reaching here already proves state
// validity); look up the item (404 if unknown); parse Range (416 if out of
// bounds); stream through a bounded Buffer with suspend/resume backpressure.
func (h *Handler) ServeFile(w http.ResponseWriter, r *http.Request, fileID string) {
	h.mu.RLock()
	item, ok := h.items[fileID]
	h.mu.RUnlock()
	if !ok {
		http.Error(w, "unknown file", http.StatusNotFound)
		return
	}

	var total int64 = -1
	if item.Size != nil {
		total = *item.Size
	}

	rng, full, err := parseRange(r.Header.Get("Range"), total)
	if err != nil {
		http.Error(w, err.Error(), http.StatusRequestedRangeNotSatisfiable)
		return
	}

	ctx := r.Context()
	body, openSize, err := h.source.OpenRange(ctx, item, rng)
	if err != nil {
		if ce, ok := err.(*cloud.Error); ok && ce.Code == http.StatusServiceUnavailable {
			http.Error(w, "not yet authorized", http.StatusServiceUnavailable)
			return
		}
		xlog.L().Error().Err(err).Str("file", fileID).Msg("proxy: open failed")
		http.Error(w, "open failed", http.StatusBadGateway)
		return
	}
	defer body.Close()
	if openSize > 0 {
		total = openSize
	}

	ext := path.Ext(item.Name)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", mimeFromExt(ext))
	w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="%s"`, item.Name))

	length := rng.End - rng.Start + 1
	if full {
		w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
		w.WriteHeader(http.StatusOK)
	} else {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%s", rng.Start, rng.End, sizeStr(total)))
		w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
		w.WriteHeader(http.StatusPartialContent)
	}

	buf := NewBuffer(defaultBufferSize)
	go pump(ctx, body, buf)
	drain(w, buf)
}

// pump is the producer side: it reads from src and pushes into buf,
// blocking in buf.WaitSpace whenever Push returns Suspend, until the
// consumer frees space or aborts the buffer.
func pump(ctx context.Context, src io.Reader, buf *Buffer) {
	chunk := make([]byte, 32*1024)
	for {
		if ctx.Err() != nil {
			buf.Finish(ctx.Err())
			return
		}
		n, err := src.Read(chunk)
		if n > 0 {
			data := chunk[:n]
			for len(data) > 0 {
				outcome := buf.Push(data)
				switch outcome {
				case Accepted:
					data = nil
				case Suspend:
					// Block until the consumer's Read drains room rather
					// than polling; Push itself doesn't track how much was
					// accepted on partial-suspend, so retry the same slice.
					buf.WaitSpace()
				case Abort:
					buf.Finish(nil)
					return
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				buf.Finish(nil)
			} else {
				buf.Finish(err)
			}
			return
		}
	}
}

// drain is the consumer side: it reads from buf and writes to w, blocking
// on buf.Wait() instead of busy-polling whenever the buffer is momentarily
// empty (spec.md's "server MUST hold the response open, not re-poll").
func drain(w http.ResponseWriter, buf *Buffer) {
	flusher, _ := w.(http.Flusher)
	chunk := make([]byte, 32*1024)
	for {
		n, outcome, err := buf.Read(chunk)
		if n > 0 {
			if _, werr := w.Write(chunk[:n]); werr != nil {
				buf.Abort()
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		switch outcome {
		case Done:
			if err != nil {
				xlog.L().Debug().Err(err).Msg("proxy: stream ended with error")
			}
			return
		case WouldSuspend:
			buf.Wait()
		}
	}
}

func sizeStr(total int64) string {
	if total < 0 {
		return "*"
	}
	return strconv.FormatInt(total, 10)
}

// parseRange parses an HTTP Range header of the form "bytes=a-b" against a
// resource of the given total size (-1 if unknown). full reports whether
// the request covers the entire resource (no Range header).
func parseRange(header string, total int64) (rng *cloud.ByteRange, full bool, err error) {
	if header == "" {
		end := total - 1
		if total < 0 {
			end = -1
		}
		return &cloud.ByteRange{Start: 0, End: end}, true, nil
	}
	spec := strings.TrimPrefix(header, "bytes=")
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return nil, false, fmt.Errorf("malformed range")
	}
	var start, end int64
	if parts[0] == "" {
		// suffix range "-N": last N bytes
		if total < 0 {
			return nil, false, fmt.Errorf("suffix range requires known size")
		}
		n, perr := strconv.ParseInt(parts[1], 10, 64)
		if perr != nil || n <= 0 {
			return nil, false, fmt.Errorf("malformed range")
		}
		start = total - n
		if start < 0 {
			start = 0
		}
		end = total - 1
	} else {
		start, err = strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return nil, false, fmt.Errorf("malformed range")
		}
		if parts[1] == "" {
			end = total - 1
			if total < 0 {
				end = -1
			}
		} else {
			end, err = strconv.ParseInt(parts[1], 10, 64)
			if err != nil {
				return nil, false, fmt.Errorf("malformed range")
			}
		}
	}
	if start < 0 || (total >= 0 && (start >= total || end >= total)) || end < start {
		return nil, false, fmt.Errorf("range out of bounds")
	}
	return &cloud.ByteRange{Start: start, End: end}, false, nil
}

var extMime = map[string]string{
	".mp3": "audio/mpeg", ".flac": "audio/flac", ".wav": "audio/wav",
	".jpg": "image/jpeg", ".jpeg": "image/jpeg", ".png": "image/png", ".gif": "image/gif",
	".mp4": "video/mp4", ".mkv": "video/x-matroska", ".mov": "video/quicktime", ".webm": "video/webm",
}

func mimeFromExt(ext string) string {
	if m, ok := extMime[strings.ToLower(ext)]; ok {
		return m
	}
	return "application/octet-stream"
}
