package registry

import (
	"context"
	"io"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/rolledback/cloudkit/cloud"
	"github.com/rolledback/cloudkit/internal/auth"
	"github.com/rolledback/cloudkit/internal/httpengine"
	"github.com/rolledback/cloudkit/internal/request"
)

// Facade is the typed async API of spec.md §6, backed by request.Request[T]
// over one provider instance's adapter, auth machine, and request pool.
type Facade struct {
	adapter cloud.Adapter
	http    *httpengine.Engine
	auth    *auth.Machine
	pool    *request.Pool
	limiter *rate.Limiter
	hints   map[string]string
}

func newFacade(adapter cloud.Adapter, eng *httpengine.Engine, m *auth.Machine, init InitData) *Facade {
	return &Facade{
		adapter: adapter,
		http:    eng,
		auth:    m,
		pool:    request.NewPool(eng, m, adapter),
		limiter: init.ThreadPool,
		hints:   init.Hints,
	}
}

// Name returns the underlying adapter's name.
func (f *Facade) Name() string { return f.adapter.Name() }

// Adapter exposes the underlying cloud.Adapter, so callers can type-assert
// it against cloud.OpaqueSource or cloud.CredentialAuthorizer to wire the
// streaming-proxy or credential-string login flows.
func (f *Facade) Adapter() cloud.Adapter { return f.adapter }

// Hints returns the adapter's recognized configuration plus whatever the
// caller seeded InitData.Hints with, per spec.md §6's hints() contract.
func (f *Facade) Hints() map[string]string {
	merged := make(map[string]string, len(f.hints)+4)
	for k, v := range f.adapter.Hints() {
		merged[k] = v
	}
	for k, v := range f.hints {
		merged[k] = v
	}
	return merged
}

// Token returns the current credential pair for persistence.
func (f *Facade) Token() (cloud.Token, bool) { return f.auth.Token() }

// AuthorizeLibraryURL is the URL the caller directs the resource owner to
// visit to begin the authorization-code flow.
func (f *Facade) AuthorizeLibraryURL() string { return f.adapter.AuthorizeLibraryURL() }

// AuthMachine exposes the underlying state machine so callers can register
// it on a localserver.Server (it implements localserver.AuthHandler).
func (f *Facade) AuthMachine() *auth.Machine { return f.auth }

// Shutdown cancels and drains every in-flight request, per spec testable
// property E6.
func (f *Facade) Shutdown(ctx context.Context) error { return f.pool.Shutdown(ctx) }

func (f *Facade) throttle(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	return f.limiter.Wait(ctx)
}

// ExchangeCode is a no-op pass-through: the actual exchange is driven by the
// loopback server's redirect callback (internal/auth.Machine.HandleRedirect).
// It is kept on the facade so callers that synthesize a code out-of-band
// (e.g. a CLI pasting a code manually) have a uniform entry point. codeVerifier
// is the PKCE verifier when the caller drove its own AuthorizeURL; pass "" for
// adapters that don't use PKCE.
func (f *Facade) ExchangeCode(ctx context.Context, code, codeVerifier string) *request.Request[cloud.Token] {
	return request.Do(ctx, f.pool,
		func(ctx context.Context) (*http.Request, error) { return f.adapter.BuildExchangeCode(ctx, code, codeVerifier) },
		func(resp *http.Response) (cloud.Token, error) {
			tok, err := f.adapter.ParseExchangeCode(resp)
			if err != nil {
				return cloud.Token{}, err
			}
			return *tok, nil
		},
	)
}

func (f *Facade) GeneralData(ctx context.Context) *request.Request[cloud.GeneralInfo] {
	if err := f.throttle(ctx); err != nil {
		return request.Failed[cloud.GeneralInfo](err)
	}
	return request.Do(ctx, f.pool, f.adapter.BuildGeneralData, func(resp *http.Response) (cloud.GeneralInfo, error) {
		info, err := f.adapter.ParseGeneralData(resp)
		if err != nil {
			return cloud.GeneralInfo{}, err
		}
		return *info, nil
	})
}

func (f *Facade) ListDirectoryPage(ctx context.Context, item *cloud.Item, pageToken string) *request.Request[*cloud.PageData] {
	if err := f.throttle(ctx); err != nil {
		return request.Failed[*cloud.PageData](err)
	}
	return request.Do(ctx, f.pool,
		func(ctx context.Context) (*http.Request, error) {
			return f.adapter.BuildListDirectory(ctx, item, pageToken)
		},
		f.adapter.ParseListDirectory,
	)
}

// ListDirectory walks every page of item's children and returns the
// concatenated result, per spec.md §6's list_directory(item) → [Item].
func (f *Facade) ListDirectory(ctx context.Context, item *cloud.Item) *request.Request[[]*cloud.Item] {
	return request.Async(ctx, f.pool, func(ctx context.Context) ([]*cloud.Item, error) {
		var all []*cloud.Item
		token := ""
		for {
			page, err := f.ListDirectoryPage(ctx, item, token).Wait(ctx)
			if err != nil {
				return nil, err
			}
			all = append(all, page.Items...)
			if page.NextPageToken == "" {
				break
			}
			token = page.NextPageToken
		}
		return all, nil
	})
}

func (f *Facade) GetItemData(ctx context.Context, id string) *request.Request[*cloud.Item] {
	if err := f.throttle(ctx); err != nil {
		return request.Failed[*cloud.Item](err)
	}
	return request.Do(ctx, f.pool,
		func(ctx context.Context) (*http.Request, error) { return f.adapter.BuildGetItemData(ctx, id) },
		f.adapter.ParseGetItemData,
	)
}

// GetItem resolves a "/"-separated path by walking directories from the
// adapter's root, since no adapter in this package exposes server-side path
// resolution (spec.md §6's "else walk directories" fallback).
func (f *Facade) GetItem(ctx context.Context, path string) *request.Request[*cloud.Item] {
	return request.Async(ctx, f.pool, func(ctx context.Context) (*cloud.Item, error) {
		return f.walkPath(ctx, path)
	})
}

func (f *Facade) GetItemURL(ctx context.Context, item *cloud.Item) *request.Request[string] {
	if item.IsDirectory() {
		return request.Failed[string](cloud.NewError(http.StatusServiceUnavailable, "directories have no item URL", nil))
	}
	if _, opaque := f.adapter.(cloud.OpaqueSource); opaque {
		// Opaque adapters build no request for GetItemURL; their parser
		// yields the streaming-proxy URL without a response.
		return request.Async(ctx, f.pool, func(ctx context.Context) (string, error) {
			return f.adapter.ParseGetItemURL(nil, item)
		})
	}
	return request.Do(ctx, f.pool,
		func(ctx context.Context) (*http.Request, error) { return f.adapter.BuildGetItemURL(ctx, item) },
		func(resp *http.Response) (string, error) { return f.adapter.ParseGetItemURL(resp, item) },
	)
}

func (f *Facade) DeleteItem(ctx context.Context, item *cloud.Item) *request.Request[struct{}] {
	return request.Do(ctx, f.pool,
		func(ctx context.Context) (*http.Request, error) { return f.adapter.BuildDeleteItem(ctx, item) },
		func(resp *http.Response) (struct{}, error) { return struct{}{}, f.adapter.ParseDeleteItem(resp) },
	)
}

func (f *Facade) CreateDirectory(ctx context.Context, parent *cloud.Item, name string) *request.Request[*cloud.Item] {
	return request.Do(ctx, f.pool,
		func(ctx context.Context) (*http.Request, error) {
			return f.adapter.BuildCreateDirectory(ctx, parent, name)
		},
		f.adapter.ParseCreateDirectory,
	)
}

func (f *Facade) MoveItem(ctx context.Context, item, destination *cloud.Item) *request.Request[*cloud.Item] {
	return request.Do(ctx, f.pool,
		func(ctx context.Context) (*http.Request, error) {
			return f.adapter.BuildMoveItem(ctx, item, destination)
		},
		f.adapter.ParseMoveItem,
	)
}

func (f *Facade) RenameItem(ctx context.Context, item *cloud.Item, newName string) *request.Request[*cloud.Item] {
	return request.Do(ctx, f.pool,
		func(ctx context.Context) (*http.Request, error) {
			return f.adapter.BuildRenameItem(ctx, item, newName)
		},
		f.adapter.ParseRenameItem,
	)
}

func (f *Facade) UploadFile(ctx context.Context, parent *cloud.Item, name string, size int64, body cloud.Reader) *request.Request[*cloud.Item] {
	return request.Do(ctx, f.pool,
		func(ctx context.Context) (*http.Request, error) {
			return f.adapter.BuildUploadFile(ctx, parent, name, size, body)
		},
		f.adapter.ParseUploadFile,
	)
}

// DownloadFile streams item's content into dst, honoring an optional byte
// range and reporting progress through cb (spec.md §6: "stream body").
func (f *Facade) DownloadFile(ctx context.Context, item *cloud.Item, rng *cloud.ByteRange, dst io.Writer, cb cloud.ProgressFunc) *request.Request[struct{}] {
	return request.Do(ctx, f.pool,
		func(ctx context.Context) (*http.Request, error) {
			return f.adapter.BuildDownloadFile(ctx, item, rng)
		},
		func(resp *http.Response) (struct{}, error) {
			defer resp.Body.Close()
			total := resp.ContentLength
			if total < 0 {
				total = 0
			}
			var read int64
			buf := make([]byte, 32*1024)
			for {
				n, rerr := resp.Body.Read(buf)
				if n > 0 {
					if _, werr := dst.Write(buf[:n]); werr != nil {
						return struct{}{}, werr
					}
					read += int64(n)
					if cb != nil {
						cb(total, read)
					}
				}
				if rerr != nil {
					if rerr == io.EOF {
						return struct{}{}, nil
					}
					return struct{}{}, rerr
				}
			}
		},
	)
}

// GetThumbnail streams item's thumbnail into dst, reporting progress through
// cb; adapters without a thumbnail endpoint return cloud.ErrNotSupported
// from BuildGetThumbnail.
func (f *Facade) GetThumbnail(ctx context.Context, item *cloud.Item, dst io.Writer, cb cloud.ProgressFunc) *request.Request[struct{}] {
	return request.Do(ctx, f.pool,
		func(ctx context.Context) (*http.Request, error) { return f.adapter.BuildGetThumbnail(ctx, item) },
		func(resp *http.Response) (struct{}, error) {
			defer resp.Body.Close()
			total := resp.ContentLength
			if total < 0 {
				total = 0
			}
			var read int64
			buf := make([]byte, 32*1024)
			for {
				n, rerr := resp.Body.Read(buf)
				if n > 0 {
					if _, werr := dst.Write(buf[:n]); werr != nil {
						return struct{}{}, werr
					}
					read += int64(n)
					if cb != nil {
						cb(total, read)
					}
				}
				if rerr != nil {
					if rerr == io.EOF {
						return struct{}{}, nil
					}
					return struct{}{}, rerr
				}
			}
		},
	)
}

// walkPath resolves a "/"-separated path by listing directories from root.
func (f *Facade) walkPath(ctx context.Context, path string) (*cloud.Item, error) {
	cur := f.adapter.RootDirectory()
	segments := splitPath(path)
	for _, seg := range segments {
		children, err := f.ListDirectory(ctx, cur).Wait(ctx)
		if err != nil {
			return nil, err
		}
		var next *cloud.Item
		for _, c := range children {
			if c.Name == seg {
				next = c
				break
			}
		}
		if next == nil {
			return nil, cloud.NewError(http.StatusNotFound, "no such item: "+seg, nil)
		}
		cur = next
	}
	return cur, nil
}

func splitPath(p string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(p); i++ {
		if i == len(p) || p[i] == '/' {
			if i > start {
				out = append(out, p[start:i])
			}
			start = i + 1
		}
	}
	return out
}

