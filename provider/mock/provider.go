// Package mock implements an in-memory cloud.Adapter for tests, adapted
// from rolledback-pwsafe-service's internal/provider/mock: the same
// settable-error/call-tracking shape, generalized from a fixed file list
// into a full mutable tree of cloud.Items with content, driven entirely in
// memory (every Build* returns a synthetic "mock://" request that Transport
// in transport.go serves without ever leaving the process, so tests
// exercise internal/request's retry/cancel skeleton without a network).
package mock

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/rolledback/cloudkit/cloud"
)

// Adapter is an in-memory provider. Construct with New and use AddItem,
// SetContent and the ListError/DownloadError/AuthError fields to script
// test scenarios, mirroring the teacher's mock provider's setter methods.
type Adapter struct {
	mu       sync.Mutex
	items    map[string]*cloud.Item
	children map[string][]string // parent id -> child ids
	content  map[string][]byte

	nextID int

	ListError     error
	DownloadError error
	AuthError     error

	ExchangeCodeCalls int
	DownloadCalls     []string
}

// New builds an Adapter with a single root directory.
func New() *Adapter {
	a := &Adapter{
		items:    make(map[string]*cloud.Item),
		children: make(map[string][]string),
		content:  make(map[string][]byte),
	}
	a.items[""] = &cloud.Item{ID: "", Name: "", Type: cloud.TypeDirectory}
	return a
}

// AddItem registers item as a child of parentID and returns it, auto-naming
// an ID if item.ID is empty.
func (a *Adapter) AddItem(parentID string, item *cloud.Item) *cloud.Item {
	a.mu.Lock()
	defer a.mu.Unlock()
	if item.ID == "" {
		a.nextID++
		item.ID = idFromSeq(a.nextID)
	}
	a.items[item.ID] = item
	a.children[parentID] = append(a.children[parentID], item.ID)
	return item
}

func idFromSeq(n int) string {
	const digits = "0123456789abcdefghijklmnopqrstuvwxyz"
	if n == 0 {
		return "0"
	}
	buf := make([]byte, 0, 8)
	for n > 0 {
		buf = append([]byte{digits[n%36]}, buf...)
		n /= 36
	}
	return "m" + string(buf)
}

// SetContent stores id's downloadable bytes.
func (a *Adapter) SetContent(id string, content []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.content[id] = content
	if it, ok := a.items[id]; ok {
		size := int64(len(content))
		it.Size = &size
	}
}

func (a *Adapter) Name() string     { return "mock" }
func (a *Adapter) Endpoint() string { return "mock://local" }

func (a *Adapter) RootDirectory() *cloud.Item { return a.items[""] }

func (a *Adapter) Hints() map[string]string { return map[string]string{"auth_family": "none"} }

func (a *Adapter) AuthorizeLibraryURL() string { return "mock://authorize" }

func (a *Adapter) SupportedOperations() cloud.OpSet {
	return cloud.NewOpSet(
		cloud.OpExchangeCode, cloud.OpRefreshToken, cloud.OpGetItemData,
		cloud.OpListDirectory, cloud.OpGetItemURL, cloud.OpDownloadFile,
		cloud.OpUploadFile, cloud.OpDeleteItem, cloud.OpCreateDirectory,
		cloud.OpMoveItem, cloud.OpRenameItem, cloud.OpGeneralData,
	)
}

func (a *Adapter) AuthorizeRequest(req *http.Request, accessToken string) {
	req.Header.Set("Authorization", "Bearer "+accessToken)
}

func mockRequest(ctx context.Context, op string) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, op, "mock://local/"+op, nil)
}

func (a *Adapter) BuildExchangeCode(ctx context.Context, code, codeVerifier string) (*http.Request, error) {
	a.mu.Lock()
	a.ExchangeCodeCalls++
	a.mu.Unlock()
	if a.AuthError != nil {
		return nil, a.AuthError
	}
	return mockRequest(ctx, "EXCHANGE")
}

func (a *Adapter) ParseExchangeCode(resp *http.Response) (*cloud.Token, error) {
	return &cloud.Token{AccessToken: "mock-access", RefreshToken: "mock-refresh"}, nil
}

func (a *Adapter) BuildRefreshToken(ctx context.Context, refreshToken string) (*http.Request, error) {
	if a.AuthError != nil {
		return nil, a.AuthError
	}
	return mockRequest(ctx, "REFRESH")
}

func (a *Adapter) ParseRefreshToken(resp *http.Response) (*cloud.Token, error) {
	return &cloud.Token{AccessToken: "mock-access-2", RefreshToken: "mock-refresh"}, nil
}

func (a *Adapter) BuildGetItemData(ctx context.Context, id string) (*http.Request, error) {
	req, err := mockRequest(ctx, "GETDATA")
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Mock-ID", id)
	return req, nil
}

func (a *Adapter) ParseGetItemData(resp *http.Response) (*cloud.Item, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	it, ok := a.items[resp.Request.Header.Get("X-Mock-ID")]
	if !ok {
		return nil, cloud.NewError(http.StatusNotFound, "no such item", nil)
	}
	return it, nil
}

func (a *Adapter) BuildListDirectory(ctx context.Context, item *cloud.Item, pageToken string) (*http.Request, error) {
	if a.ListError != nil {
		return nil, a.ListError
	}
	req, err := mockRequest(ctx, "LIST")
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Mock-ID", item.ID)
	return req, nil
}

func (a *Adapter) ParseListDirectory(resp *http.Response) (*cloud.PageData, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	parentID := resp.Request.Header.Get("X-Mock-ID")
	page := &cloud.PageData{}
	for _, id := range a.children[parentID] {
		page.Items = append(page.Items, a.items[id])
	}
	return page, nil
}

func (a *Adapter) BuildGetItemURL(ctx context.Context, item *cloud.Item) (*http.Request, error) {
	req, err := mockRequest(ctx, "URL")
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Mock-ID", item.ID)
	return req, nil
}

func (a *Adapter) ParseGetItemURL(resp *http.Response, item *cloud.Item) (string, error) {
	return "mock://local/file/" + item.ID, nil
}

func (a *Adapter) BuildDownloadFile(ctx context.Context, item *cloud.Item, rng *cloud.ByteRange) (*http.Request, error) {
	a.mu.Lock()
	a.DownloadCalls = append(a.DownloadCalls, item.ID)
	downloadErr := a.DownloadError
	a.mu.Unlock()
	if downloadErr != nil {
		return nil, downloadErr
	}
	req, err := mockRequest(ctx, "DOWNLOAD")
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Mock-ID", item.ID)
	if rng != nil {
		req.Header.Set("X-Mock-Range-Start", itoa(rng.Start))
		req.Header.Set("X-Mock-Range-End", itoa(rng.End))
	}
	return req, nil
}

// DownloadFile is Build-only in cloud.Adapter: Transport in transport.go
// serves the DOWNLOAD bytes, and the response body is streamed straight to
// the caller.

func (a *Adapter) BuildUploadFile(ctx context.Context, parent *cloud.Item, filename string, size int64, body cloud.Reader) (*http.Request, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	req, err := mockRequest(ctx, "UPLOAD")
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Mock-Parent", parent.ID)
	req.Header.Set("X-Mock-Name", filename)
	req.Body = io.NopCloser(bytes.NewReader(data))
	req.ContentLength = int64(len(data))
	return req, nil
}

func (a *Adapter) ParseUploadFile(resp *http.Response) (*cloud.Item, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	parentID := resp.Request.Header.Get("X-Mock-Parent")
	name := resp.Request.Header.Get("X-Mock-Name")
	data, _ := io.ReadAll(resp.Request.Body)
	a.nextID++
	it := &cloud.Item{ID: idFromSeq(a.nextID), Name: name, Type: cloud.ExtToType(name)}
	size := int64(len(data))
	it.Size = &size
	a.items[it.ID] = it
	a.children[parentID] = append(a.children[parentID], it.ID)
	a.content[it.ID] = data
	return it, nil
}

func (a *Adapter) BuildDeleteItem(ctx context.Context, item *cloud.Item) (*http.Request, error) {
	req, err := mockRequest(ctx, "DELETE")
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Mock-ID", item.ID)
	return req, nil
}

func (a *Adapter) ParseDeleteItem(resp *http.Response) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := resp.Request.Header.Get("X-Mock-ID")
	delete(a.items, id)
	delete(a.content, id)
	for parent, kids := range a.children {
		for i, k := range kids {
			if k == id {
				a.children[parent] = append(kids[:i], kids[i+1:]...)
				break
			}
		}
	}
	return nil
}

func (a *Adapter) BuildCreateDirectory(ctx context.Context, parent *cloud.Item, name string) (*http.Request, error) {
	req, err := mockRequest(ctx, "MKDIR")
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Mock-Parent", parent.ID)
	req.Header.Set("X-Mock-Name", name)
	return req, nil
}

func (a *Adapter) ParseCreateDirectory(resp *http.Response) (*cloud.Item, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	parentID := resp.Request.Header.Get("X-Mock-Parent")
	name := resp.Request.Header.Get("X-Mock-Name")
	a.nextID++
	it := &cloud.Item{ID: idFromSeq(a.nextID), Name: name, Type: cloud.TypeDirectory}
	a.items[it.ID] = it
	a.children[parentID] = append(a.children[parentID], it.ID)
	return it, nil
}

func (a *Adapter) BuildMoveItem(ctx context.Context, item, destination *cloud.Item) (*http.Request, error) {
	req, err := mockRequest(ctx, "MOVE")
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Mock-ID", item.ID)
	req.Header.Set("X-Mock-Dest", destination.ID)
	return req, nil
}

func (a *Adapter) ParseMoveItem(resp *http.Response) (*cloud.Item, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := resp.Request.Header.Get("X-Mock-ID")
	dest := resp.Request.Header.Get("X-Mock-Dest")
	for parent, kids := range a.children {
		for i, k := range kids {
			if k == id {
				a.children[parent] = append(kids[:i], kids[i+1:]...)
				break
			}
		}
	}
	a.children[dest] = append(a.children[dest], id)
	return a.items[id], nil
}

func (a *Adapter) BuildRenameItem(ctx context.Context, item *cloud.Item, newName string) (*http.Request, error) {
	req, err := mockRequest(ctx, "RENAME")
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Mock-ID", item.ID)
	req.Header.Set("X-Mock-Name", newName)
	return req, nil
}

func (a *Adapter) ParseRenameItem(resp *http.Response) (*cloud.Item, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := resp.Request.Header.Get("X-Mock-ID")
	it := a.items[id]
	it.Name = resp.Request.Header.Get("X-Mock-Name")
	return it, nil
}

func (a *Adapter) BuildGetThumbnail(ctx context.Context, item *cloud.Item) (*http.Request, error) {
	return nil, cloud.ErrNotSupported
}

func (a *Adapter) BuildGeneralData(ctx context.Context) (*http.Request, error) {
	return mockRequest(ctx, "GENERAL")
}

func (a *Adapter) ParseGeneralData(resp *http.Response) (*cloud.GeneralInfo, error) {
	return &cloud.GeneralInfo{Username: "mock-user", QuotaUsed: 0, QuotaTotal: 1 << 30}, nil
}

func itoa(n int64) string {
	if n < 0 {
		return "-1"
	}
	if n == 0 {
		return "0"
	}
	buf := [20]byte{}
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

var _ cloud.Adapter = (*Adapter)(nil)
