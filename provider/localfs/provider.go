// Package localfs implements a cloud.Adapter over the local filesystem: the
// no-auth provider family spec.md calls out, always Authenticated. It is
// grounded on the
// teacher's straightforward os/io-based file handling in
// syncable_safes_service.go's downloadToPath, generalized into the full
// adapter contract instead of one sync-specific helper.
package localfs

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rolledback/cloudkit/cloud"
)

// Adapter roots every operation under baseDir; ids are baseDir-relative
// slash-separated paths, with "" denoting baseDir itself.
type Adapter struct {
	baseDir string
}

// New builds an Adapter rooted at baseDir, which must already exist. A
// relative baseDir is made absolute against the working directory.
func New(baseDir string) *Adapter {
	if abs, err := filepath.Abs(baseDir); err == nil {
		baseDir = abs
	}
	return &Adapter{baseDir: filepath.Clean(baseDir)}
}

func (a *Adapter) Name() string     { return "localfs" }
func (a *Adapter) Endpoint() string { return "file://" + a.baseDir }

func (a *Adapter) RootDirectory() *cloud.Item {
	return &cloud.Item{ID: "", Name: "", Type: cloud.TypeDirectory}
}

func (a *Adapter) Hints() map[string]string {
	return map[string]string{"auth_family": "none", "base_dir": a.baseDir}
}

func (a *Adapter) AuthorizeLibraryURL() string { return "" }

func (a *Adapter) SupportedOperations() cloud.OpSet {
	return cloud.NewOpSet(
		cloud.OpGetItemData, cloud.OpListDirectory, cloud.OpGetItemURL,
		cloud.OpDownloadFile, cloud.OpUploadFile, cloud.OpDeleteItem,
		cloud.OpCreateDirectory, cloud.OpMoveItem, cloud.OpRenameItem, cloud.OpGeneralData,
	)
}

func (a *Adapter) AuthorizeRequest(req *http.Request, accessToken string) {}

func (a *Adapter) BuildExchangeCode(ctx context.Context, code, codeVerifier string) (*http.Request, error) {
	return nil, cloud.ErrNotSupported
}
func (a *Adapter) ParseExchangeCode(resp *http.Response) (*cloud.Token, error) {
	return nil, cloud.ErrNotSupported
}
func (a *Adapter) BuildRefreshToken(ctx context.Context, refreshToken string) (*http.Request, error) {
	return nil, cloud.ErrNotSupported
}
func (a *Adapter) ParseRefreshToken(resp *http.Response) (*cloud.Token, error) {
	return nil, cloud.ErrNotSupported
}

func (a *Adapter) resolve(id string) string {
	return filepath.Join(a.baseDir, filepath.FromSlash(id))
}

// relID maps an absolute path reported by Transport back to the
// baseDir-relative, slash-separated id form ("" for baseDir itself).
func (a *Adapter) relID(p string) string {
	rel, err := filepath.Rel(a.baseDir, p)
	if err != nil {
		return p
	}
	if rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

// localfs never issues real HTTP; every Build* returns a request against a
// synthetic "file://" URL encoding the operation (the method names it), and
// Transport (transport.go) serves those requests in-process when the
// adapter is paired with an engine built by httpengine.NewWithTransport.
func fileRequest(ctx context.Context, op, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, op, "file://"+path, nil)
	return req, err
}

func (a *Adapter) BuildGetItemData(ctx context.Context, id string) (*http.Request, error) {
	return fileRequest(ctx, "STAT", a.resolve(id))
}

func (a *Adapter) ParseGetItemData(resp *http.Response) (*cloud.Item, error) {
	return a.statResponse(resp)
}

func (a *Adapter) BuildListDirectory(ctx context.Context, item *cloud.Item, pageToken string) (*http.Request, error) {
	return fileRequest(ctx, "LIST", a.resolve(item.ID))
}

func (a *Adapter) ParseListDirectory(resp *http.Response) (*cloud.PageData, error) {
	entries := strings.Split(resp.Header.Get("X-Entries"), "\x00")
	page := &cloud.PageData{}
	for _, e := range entries {
		if e == "" {
			continue
		}
		parts := strings.SplitN(e, "\x01", 3)
		if len(parts) != 3 {
			continue
		}
		id, name, kind := parts[0], parts[1], parts[2]
		it := &cloud.Item{ID: a.relID(id), Name: name}
		if kind == "dir" {
			it.Type = cloud.TypeDirectory
		} else {
			it.Type = cloud.ExtToType(name)
		}
		page.Items = append(page.Items, it)
	}
	return page, nil
}

func (a *Adapter) BuildGetItemURL(ctx context.Context, item *cloud.Item) (*http.Request, error) {
	if item.IsDirectory() {
		return nil, cloud.NewError(http.StatusServiceUnavailable, "directories have no item URL", nil)
	}
	return fileRequest(ctx, "URL", a.resolve(item.ID))
}

func (a *Adapter) ParseGetItemURL(resp *http.Response, item *cloud.Item) (string, error) {
	return "file://" + resp.Header.Get("X-Path"), nil
}

func (a *Adapter) BuildDownloadFile(ctx context.Context, item *cloud.Item, rng *cloud.ByteRange) (*http.Request, error) {
	req, err := fileRequest(ctx, "GET", a.resolve(item.ID))
	if err != nil {
		return nil, err
	}
	if rng != nil {
		if rng.End < 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", rng.Start))
		} else {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", rng.Start, rng.End))
		}
	}
	return req, nil
}

func (a *Adapter) BuildUploadFile(ctx context.Context, parent *cloud.Item, filename string, size int64, body cloud.Reader) (*http.Request, error) {
	req, err := fileRequest(ctx, "PUT", a.resolve(filepath.Join(parent.ID, filename)))
	if err != nil {
		return nil, err
	}
	req.ContentLength = size
	return req, nil
}

func (a *Adapter) ParseUploadFile(resp *http.Response) (*cloud.Item, error) {
	return a.statResponse(resp)
}

func (a *Adapter) BuildDeleteItem(ctx context.Context, item *cloud.Item) (*http.Request, error) {
	return fileRequest(ctx, "DELETE", a.resolve(item.ID))
}

func (a *Adapter) ParseDeleteItem(resp *http.Response) error {
	if resp.StatusCode != http.StatusOK {
		return cloud.NewError(resp.StatusCode, "delete failed", nil)
	}
	return nil
}

func (a *Adapter) BuildCreateDirectory(ctx context.Context, parent *cloud.Item, name string) (*http.Request, error) {
	return fileRequest(ctx, "MKDIR", a.resolve(filepath.Join(parent.ID, name)))
}

func (a *Adapter) ParseCreateDirectory(resp *http.Response) (*cloud.Item, error) {
	return a.statResponse(resp)
}

func (a *Adapter) BuildMoveItem(ctx context.Context, item, destination *cloud.Item) (*http.Request, error) {
	req, err := fileRequest(ctx, "MOVE", a.resolve(item.ID))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Destination", a.resolve(filepath.Join(destination.ID, filepath.Base(item.ID))))
	return req, nil
}

func (a *Adapter) ParseMoveItem(resp *http.Response) (*cloud.Item, error) {
	return a.statResponse(resp)
}

func (a *Adapter) BuildRenameItem(ctx context.Context, item *cloud.Item, newName string) (*http.Request, error) {
	req, err := fileRequest(ctx, "MOVE", a.resolve(item.ID))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Destination", a.resolve(filepath.Join(filepath.Dir(item.ID), newName)))
	return req, nil
}

func (a *Adapter) ParseRenameItem(resp *http.Response) (*cloud.Item, error) {
	return a.statResponse(resp)
}

func (a *Adapter) BuildGetThumbnail(ctx context.Context, item *cloud.Item) (*http.Request, error) {
	return nil, cloud.ErrNotSupported
}

func (a *Adapter) BuildGeneralData(ctx context.Context) (*http.Request, error) {
	return fileRequest(ctx, "DF", a.baseDir)
}

func (a *Adapter) ParseGeneralData(resp *http.Response) (*cloud.GeneralInfo, error) {
	used, _ := strconv.ParseInt(resp.Header.Get("X-Used"), 10, 64)
	total, _ := strconv.ParseInt(resp.Header.Get("X-Total"), 10, 64)
	return &cloud.GeneralInfo{Username: os.Getenv("USER"), QuotaUsed: used, QuotaTotal: total}, nil
}

func (a *Adapter) statResponse(resp *http.Response) (*cloud.Item, error) {
	if resp.StatusCode == http.StatusNotFound {
		return nil, cloud.NewError(http.StatusNotFound, "no such file", nil)
	}
	id := resp.Header.Get("X-ID")
	name := resp.Header.Get("X-Name")
	it := &cloud.Item{ID: a.relID(id), Name: name}
	if resp.Header.Get("X-Is-Dir") == "1" {
		it.Type = cloud.TypeDirectory
	} else {
		it.Type = cloud.ExtToType(name)
		if sz := resp.Header.Get("X-Size"); sz != "" {
			size, _ := strconv.ParseInt(sz, 10, 64)
			it.Size = &size
		}
	}
	return it, nil
}

var _ cloud.Adapter = (*Adapter)(nil)
