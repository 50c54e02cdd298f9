// Package onedrive implements a cloud.Adapter for Microsoft OneDrive,
// adapted from rolledback-pwsafe-service's internal/provider/onedrive: the
// same PKCE authorization-code flow and Microsoft Graph endpoints,
// generalized from its narrow ".psafe3 search" primitive into the full
// operation table of cloud.Adapter (list/upload/download/rename/move/
// delete/thumbnail).
package onedrive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rolledback/cloudkit/cloud"
)

const (
	authority  = "https://login.microsoftonline.com/consumers"
	authorizeURL = authority + "/oauth2/v2.0/authorize"
	tokenURL     = authority + "/oauth2/v2.0/token"
	graphURL     = "https://graph.microsoft.com/v1.0"
	scopes       = "Files.ReadWrite User.Read offline_access"
)

// Adapter implements cloud.Adapter for OneDrive via Microsoft Graph.
type Adapter struct {
	clientID    string
	redirectURI string
}

// New builds a OneDrive Adapter. redirectURI is normally the root URL of the
// caller's localserver.Server (the state travels as a separate query
// parameter), set once the loopback server is bound (so the port is known).
func New(clientID, redirectURI string) *Adapter {
	return &Adapter{clientID: clientID, redirectURI: redirectURI}
}

func (a *Adapter) Name() string     { return "onedrive" }
func (a *Adapter) Endpoint() string { return graphURL }

func (a *Adapter) RootDirectory() *cloud.Item {
	return &cloud.Item{ID: "root", Name: "", Type: cloud.TypeDirectory}
}

func (a *Adapter) Hints() map[string]string {
	return map[string]string{"auth_family": "oauth2_pkce"}
}

// AuthorizeLibraryURL returns the base authorize URL without redirect_uri:
// internal/auth.Machine.AuthorizeURL appends redirect_uri (plus state and
// the PKCE challenge) itself, so baking one in here would duplicate it.
func (a *Adapter) AuthorizeLibraryURL() string {
	params := url.Values{
		"client_id":     {a.clientID},
		"response_type": {"code"},
		"scope":         {scopes},
		"response_mode": {"query"},
	}
	return authorizeURL + "?" + params.Encode()
}

func (a *Adapter) SupportedOperations() cloud.OpSet {
	return cloud.NewOpSet(
		cloud.OpExchangeCode, cloud.OpRefreshToken, cloud.OpGetItemData,
		cloud.OpListDirectory, cloud.OpGetItemURL, cloud.OpDownloadFile,
		cloud.OpUploadFile, cloud.OpDeleteItem, cloud.OpCreateDirectory,
		cloud.OpMoveItem, cloud.OpRenameItem, cloud.OpGetThumbnail, cloud.OpGeneralData,
	)
}

func (a *Adapter) AuthorizeRequest(req *http.Request, accessToken string) {
	req.Header.Set("Authorization", "Bearer "+accessToken)
}

func (a *Adapter) BuildExchangeCode(ctx context.Context, code, codeVerifier string) (*http.Request, error) {
	form := url.Values{
		"client_id":    {a.clientID},
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {a.redirectURI},
	}
	if codeVerifier != "" {
		form.Set("code_verifier", codeVerifier)
	}
	return tokenRequest(ctx, form)
}

func (a *Adapter) ParseExchangeCode(resp *http.Response) (*cloud.Token, error) {
	return parseTokenResponse(resp)
}

func (a *Adapter) BuildRefreshToken(ctx context.Context, refreshToken string) (*http.Request, error) {
	form := url.Values{
		"client_id":     {a.clientID},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	return tokenRequest(ctx, form)
}

func (a *Adapter) ParseRefreshToken(resp *http.Response) (*cloud.Token, error) {
	return parseTokenResponse(resp)
}

func tokenRequest(ctx context.Context, form url.Values) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

func parseTokenResponse(resp *http.Response) (*cloud.Token, error) {
	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, cloud.NewError(cloud.CodeFailure, "decode token response", err)
	}
	return &cloud.Token{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}

type driveItem struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Size            int64  `json:"size"`
	Folder          *struct{ ChildCount int `json:"childCount"` } `json:"folder"`
	File            *struct{ MimeType string `json:"mimeType"` } `json:"file"`
	ParentReference struct {
		ID string `json:"id"`
	} `json:"parentReference"`
	Thumbnails []struct {
		Medium struct {
			URL string `json:"url"`
		} `json:"medium"`
	} `json:"thumbnails,omitempty"`
}

func (d *driveItem) toItem() *cloud.Item {
	it := &cloud.Item{ID: d.ID, Name: d.Name}
	if d.Folder != nil {
		it.Type = cloud.TypeDirectory
	} else if d.File != nil {
		it.Type = cloud.MimeToType(d.File.MimeType)
		it.Size = &d.Size
	}
	if d.ParentReference.ID != "" {
		it.ParentIDs = []string{d.ParentReference.ID}
	}
	if len(d.Thumbnails) > 0 {
		it.ThumbnailURL = d.Thumbnails[0].Medium.URL
	}
	return it
}

func (a *Adapter) BuildGetItemData(ctx context.Context, id string) (*http.Request, error) {
	itemURL := fmt.Sprintf("%s/me/drive/items/%s?expand=thumbnails", graphURL, itemPathOrID(id))
	return http.NewRequestWithContext(ctx, http.MethodGet, itemURL, nil)
}

func (a *Adapter) ParseGetItemData(resp *http.Response) (*cloud.Item, error) {
	var di driveItem
	if err := json.NewDecoder(resp.Body).Decode(&di); err != nil {
		return nil, cloud.NewError(cloud.CodeFailure, "decode item", err)
	}
	return di.toItem(), nil
}

func itemPathOrID(id string) string {
	if id == "" || id == "root" {
		return "root"
	}
	return id
}

func (a *Adapter) BuildListDirectory(ctx context.Context, item *cloud.Item, pageToken string) (*http.Request, error) {
	listURL := pageToken
	if listURL == "" {
		listURL = fmt.Sprintf("%s/me/drive/items/%s/children?expand=thumbnails&$top=200", graphURL, itemPathOrID(item.ID))
	}
	return http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
}

func (a *Adapter) ParseListDirectory(resp *http.Response) (*cloud.PageData, error) {
	var page struct {
		Value    []driveItem `json:"value"`
		NextLink string      `json:"@odata.nextLink"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, cloud.NewError(cloud.CodeFailure, "decode directory page", err)
	}
	out := &cloud.PageData{NextPageToken: page.NextLink}
	for i := range page.Value {
		out.Items = append(out.Items, page.Value[i].toItem())
	}
	return out, nil
}

// BuildGetItemURL asks Graph for a short-lived authenticated download URL.
// Per SPEC_FULL.md §9 open question 3, callers must not invoke this on a
// directory item; the facade enforces that before reaching the adapter.
func (a *Adapter) BuildGetItemURL(ctx context.Context, item *cloud.Item) (*http.Request, error) {
	itemURL := fmt.Sprintf("%s/me/drive/items/%s?select=@microsoft.graph.downloadUrl", graphURL, itemPathOrID(item.ID))
	return http.NewRequestWithContext(ctx, http.MethodGet, itemURL, nil)
}

func (a *Adapter) ParseGetItemURL(resp *http.Response, item *cloud.Item) (string, error) {
	var body struct {
		DownloadURL string `json:"@microsoft.graph.downloadUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", cloud.NewError(cloud.CodeFailure, "decode download url", err)
	}
	if body.DownloadURL == "" {
		return "", cloud.NewError(http.StatusServiceUnavailable, "no download url", nil)
	}
	return body.DownloadURL, nil
}

func (a *Adapter) BuildDownloadFile(ctx context.Context, item *cloud.Item, rng *cloud.ByteRange) (*http.Request, error) {
	contentURL := fmt.Sprintf("%s/me/drive/items/%s/content", graphURL, itemPathOrID(item.ID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, contentURL, nil)
	if err != nil {
		return nil, err
	}
	if rng != nil {
		req.Header.Set("Range", formatRangeHeader(rng))
	}
	return req, nil
}

func formatRangeHeader(rng *cloud.ByteRange) string {
	if rng.End < 0 {
		return fmt.Sprintf("bytes=%d-", rng.Start)
	}
	return fmt.Sprintf("bytes=%d-%d", rng.Start, rng.End)
}

func (a *Adapter) BuildUploadFile(ctx context.Context, parent *cloud.Item, filename string, size int64, body cloud.Reader) (*http.Request, error) {
	// Simple upload session; Graph requires the resumable session API above
	// 4 MiB, but cloudkit's reference adapter demonstrates the simple path.
	uploadURL := fmt.Sprintf("%s/me/drive/items/%s:/%s:/content", graphURL, itemPathOrID(parent.ID), url.PathEscape(filename))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, body)
	if err != nil {
		return nil, err
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")
	return req, nil
}

func (a *Adapter) ParseUploadFile(resp *http.Response) (*cloud.Item, error) {
	var di driveItem
	if err := json.NewDecoder(resp.Body).Decode(&di); err != nil {
		return nil, cloud.NewError(cloud.CodeFailure, "decode upload response", err)
	}
	return di.toItem(), nil
}

func (a *Adapter) BuildDeleteItem(ctx context.Context, item *cloud.Item) (*http.Request, error) {
	itemURL := fmt.Sprintf("%s/me/drive/items/%s", graphURL, itemPathOrID(item.ID))
	return http.NewRequestWithContext(ctx, http.MethodDelete, itemURL, nil)
}

func (a *Adapter) ParseDeleteItem(resp *http.Response) error {
	if resp.StatusCode != http.StatusNoContent {
		return cloud.NewError(resp.StatusCode, "delete failed", nil)
	}
	return nil
}

func (a *Adapter) BuildCreateDirectory(ctx context.Context, parent *cloud.Item, name string) (*http.Request, error) {
	childURL := fmt.Sprintf("%s/me/drive/items/%s/children", graphURL, itemPathOrID(parent.ID))
	payload, _ := json.Marshal(map[string]any{
		"name":   name,
		"folder": map[string]any{},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, childURL, strings.NewReader(string(payload)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (a *Adapter) ParseCreateDirectory(resp *http.Response) (*cloud.Item, error) {
	var di driveItem
	if err := json.NewDecoder(resp.Body).Decode(&di); err != nil {
		return nil, cloud.NewError(cloud.CodeFailure, "decode create-directory response", err)
	}
	return di.toItem(), nil
}

func (a *Adapter) BuildMoveItem(ctx context.Context, item, destination *cloud.Item) (*http.Request, error) {
	itemURL := fmt.Sprintf("%s/me/drive/items/%s", graphURL, itemPathOrID(item.ID))
	payload, _ := json.Marshal(map[string]any{
		"parentReference": map[string]string{"id": destination.ID},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, itemURL, strings.NewReader(string(payload)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (a *Adapter) ParseMoveItem(resp *http.Response) (*cloud.Item, error) {
	var di driveItem
	if err := json.NewDecoder(resp.Body).Decode(&di); err != nil {
		return nil, cloud.NewError(cloud.CodeFailure, "decode move response", err)
	}
	return di.toItem(), nil
}

func (a *Adapter) BuildRenameItem(ctx context.Context, item *cloud.Item, newName string) (*http.Request, error) {
	itemURL := fmt.Sprintf("%s/me/drive/items/%s", graphURL, itemPathOrID(item.ID))
	payload, _ := json.Marshal(map[string]any{"name": newName})
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, itemURL, strings.NewReader(string(payload)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (a *Adapter) ParseRenameItem(resp *http.Response) (*cloud.Item, error) {
	var di driveItem
	if err := json.NewDecoder(resp.Body).Decode(&di); err != nil {
		return nil, cloud.NewError(cloud.CodeFailure, "decode rename response", err)
	}
	return di.toItem(), nil
}

func (a *Adapter) BuildGetThumbnail(ctx context.Context, item *cloud.Item) (*http.Request, error) {
	if item.ThumbnailURL == "" {
		return nil, cloud.ErrNotSupported
	}
	return http.NewRequestWithContext(ctx, http.MethodGet, item.ThumbnailURL, nil)
}

func (a *Adapter) BuildGeneralData(ctx context.Context) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, http.MethodGet, graphURL+"/me/drive", nil)
}

func (a *Adapter) ParseGeneralData(resp *http.Response) (*cloud.GeneralInfo, error) {
	var body struct {
		Owner struct {
			User struct {
				DisplayName string `json:"displayName"`
			} `json:"user"`
		} `json:"owner"`
		Quota struct {
			Used  int64 `json:"used"`
			Total int64 `json:"total"`
		} `json:"quota"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, cloud.NewError(cloud.CodeFailure, "decode drive info", err)
	}
	return &cloud.GeneralInfo{
		Username:   body.Owner.User.DisplayName,
		QuotaUsed:  body.Quota.Used,
		QuotaTotal: body.Quota.Total,
	}, nil
}

var _ cloud.Adapter = (*Adapter)(nil)
