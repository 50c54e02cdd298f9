package mega

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/rolledback/cloudkit/cloud"
)

// api is a minimal JSON-over-HTTP client for the demo Mega endpoint,
// carrying just enough shape (login, node listing, node CRUD, ranged
// download) to exercise the opaque-provider/streaming-proxy pattern.
type api struct {
	email    string
	password string
}

func newAPI(email, password string) *api {
	return &api{email: email, password: password}
}

func (c *api) buildLogin(ctx context.Context, email, password string) (*http.Request, error) {
	payload, _ := json.Marshal(map[string]string{"email": email, "password": password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiEndpoint+"/cs?id=login", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *api) parseLogin(resp *http.Response) (*cloud.Token, error) {
	var body struct {
		SessionKey string `json:"session_key"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, cloud.NewError(cloud.CodeFailure, "decode login response", err)
	}
	if body.SessionKey == "" {
		return nil, cloud.NewError(http.StatusUnauthorized, "login rejected", nil)
	}
	// Mega sessions don't carry a separate refresh token; the session key
	// itself is both the access credential and what ExchangeCode persists.
	return &cloud.Token{AccessToken: body.SessionKey}, nil
}

func (c *api) buildGetNode(ctx context.Context, id string) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, http.MethodGet, apiEndpoint+"/cs?id=node&n="+id, nil)
}

type megaNode struct {
	Handle   string `json:"h"`
	Name     string `json:"name"`
	Type     int    `json:"t"` // 0 = file, 1 = folder
	Size     int64  `json:"s"`
	ParentID string `json:"p"`
}

func (n *megaNode) toItem() *cloud.Item {
	it := &cloud.Item{ID: n.Handle, Name: n.Name}
	if n.Type == 1 {
		it.Type = cloud.TypeDirectory
	} else {
		it.Type = cloud.ExtToType(n.Name)
		size := n.Size
		it.Size = &size
	}
	if n.ParentID != "" {
		it.ParentIDs = []string{n.ParentID}
	}
	return it
}

func (c *api) parseNode(resp *http.Response) (*cloud.Item, error) {
	if resp.StatusCode == http.StatusNotFound {
		return nil, cloud.NewError(http.StatusNotFound, "no such node", nil)
	}
	var n megaNode
	if err := json.NewDecoder(resp.Body).Decode(&n); err != nil {
		return nil, cloud.NewError(cloud.CodeFailure, "decode node", err)
	}
	return n.toItem(), nil
}

func (c *api) buildListChildren(ctx context.Context, parentID string) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, http.MethodGet, apiEndpoint+"/cs?id=children&p="+parentID, nil)
}

func (c *api) parseNodeList(resp *http.Response) (*cloud.PageData, error) {
	var nodes []megaNode
	if err := json.NewDecoder(resp.Body).Decode(&nodes); err != nil {
		return nil, cloud.NewError(cloud.CodeFailure, "decode node list", err)
	}
	page := &cloud.PageData{}
	for i := range nodes {
		page.Items = append(page.Items, nodes[i].toItem())
	}
	return page, nil
}

func (c *api) buildDeleteNode(ctx context.Context, id string) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, http.MethodDelete, apiEndpoint+"/cs?id=node&n="+id, nil)
}

func (c *api) buildCreateFolder(ctx context.Context, parentID, name string) (*http.Request, error) {
	payload, _ := json.Marshal(map[string]string{"p": parentID, "name": name, "t": "1"})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiEndpoint+"/cs?id=mkdir", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *api) buildAccountInfo(ctx context.Context) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, http.MethodGet, apiEndpoint+"/cs?id=uq", nil)
}

// openDownload opens a ranged byte stream for node id. It is called
// directly by Adapter.OpenRange (cloud.OpaqueSource), outside the generic
// request pool, using http.DefaultClient rather than the shared engine
// since opaque sources own their own transfer lifecycle end-to-end. The
// returned size is the item's total size (taken from Content-Range on a 206),
// or 0 when the response does not state it.
func (c *api) openDownload(ctx context.Context, id string, rng *cloud.ByteRange) (cloud.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiEndpoint+"/dl?n="+id, nil)
	if err != nil {
		return nil, 0, err
	}
	if rng != nil {
		if rng.End < 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", rng.Start))
		} else {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", rng.Start, rng.End))
		}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	if resp.StatusCode == http.StatusServiceUnavailable {
		resp.Body.Close()
		return nil, 0, cloud.NewError(http.StatusServiceUnavailable, "not yet authorized", nil)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return nil, 0, cloud.NewError(resp.StatusCode, "download failed", nil)
	}
	size := resp.ContentLength
	if resp.StatusCode == http.StatusPartialContent {
		// "bytes a-b/total": the total follows the slash.
		size = 0
		cr := resp.Header.Get("Content-Range")
		if i := strings.LastIndex(cr, "/"); i >= 0 {
			if n, err := strconv.ParseInt(cr[i+1:], 10, 64); err == nil {
				size = n
			}
		}
	}
	if size < 0 {
		size = 0
	}
	return resp.Body, size, nil
}
