package mega

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rolledback/cloudkit/cloud"
)

func bodyResp(status int, body string) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body))}
}

func TestAdapter_SynthesizeCodeAndSplit(t *testing.T) {
	a := New("user@example.com", "pw", "http://127.0.0.1:9001", "state1")
	code := a.SynthesizeCode("user@example.com", "pw")

	email, password, ok := splitCode(code)
	require.True(t, ok)
	require.Equal(t, "user@example.com", email)
	require.Equal(t, "pw", password)
}

func TestAdapter_BuildExchangeCode_RejectsMalformedCode(t *testing.T) {
	a := New("u", "p", "http://origin", "s")
	_, err := a.BuildExchangeCode(context.Background(), "no-null-byte-here", "")
	require.Error(t, err)
}

func TestAdapter_BuildExchangeCode_BuildsLoginRequest(t *testing.T) {
	a := New("u", "p", "http://origin", "s")
	code := a.SynthesizeCode("u@x.com", "secret")
	req, err := a.BuildExchangeCode(context.Background(), code, "")
	require.NoError(t, err)
	require.Equal(t, http.MethodPost, req.Method)
	require.Contains(t, req.URL.String(), "id=login")
}

func TestAdapter_ParseExchangeCode_RejectsEmptySessionKey(t *testing.T) {
	a := New("u", "p", "http://origin", "s")
	_, err := a.ParseExchangeCode(bodyResp(http.StatusOK, `{"session_key":""}`))
	require.Error(t, err)
}

func TestAdapter_ParseExchangeCode_AcceptsSessionKey(t *testing.T) {
	a := New("u", "p", "http://origin", "s")
	tok, err := a.ParseExchangeCode(bodyResp(http.StatusOK, `{"session_key":"sess-123"}`))
	require.NoError(t, err)
	require.Equal(t, "sess-123", tok.AccessToken)
}

func TestAdapter_BuildRefreshToken_NotSupported(t *testing.T) {
	a := New("u", "p", "http://origin", "s")
	_, err := a.BuildRefreshToken(context.Background(), "rt")
	require.ErrorIs(t, err, cloud.ErrNotSupported)
}

func TestAdapter_ParseGetItemData_MapsNode(t *testing.T) {
	a := New("u", "p", "http://origin", "s")
	resp := bodyResp(http.StatusOK, `{"h":"n1","name":"photo.jpg","t":0,"s":2048,"p":"root"}`)
	item, err := a.ParseGetItemData(resp)
	require.NoError(t, err)
	require.Equal(t, "n1", item.ID)
	require.Equal(t, int64(2048), *item.Size)
	require.Equal(t, []string{"root"}, item.ParentIDs)
}

func TestAdapter_ParseGetItemData_NotFound(t *testing.T) {
	a := New("u", "p", "http://origin", "s")
	_, err := a.ParseGetItemData(bodyResp(http.StatusNotFound, ""))
	require.Error(t, err)
}

func TestAdapter_ParseListDirectory_MapsAllNodes(t *testing.T) {
	a := New("u", "p", "http://origin", "s")
	resp := bodyResp(http.StatusOK, `[{"h":"1","name":"a","t":1},{"h":"2","name":"b.txt","t":0,"s":5}]`)
	page, err := a.ParseListDirectory(resp)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
}

func TestAdapter_BuildGetItemURL_IsProxyOnly(t *testing.T) {
	a := New("u", "p", "http://origin", "s")
	req, err := a.BuildGetItemURL(context.Background(), &cloud.Item{ID: "n1"})
	require.NoError(t, err)
	require.Nil(t, req)
}

func TestAdapter_ParseGetItemURL_PointsAtProxy(t *testing.T) {
	a := New("u", "p", "http://127.0.0.1:9001", "state1")
	url, err := a.ParseGetItemURL(nil, &cloud.Item{ID: "n1"})
	require.NoError(t, err)
	require.Equal(t, "http://127.0.0.1:9001/?state=state1&file=n1", url)
}

func TestAdapter_BuildDownloadFile_NotSupported(t *testing.T) {
	a := New("u", "p", "http://origin", "s")
	_, err := a.BuildDownloadFile(context.Background(), &cloud.Item{ID: "n1"}, nil)
	require.ErrorIs(t, err, cloud.ErrNotSupported)
}

func TestAdapter_ParseGeneralData_MapsQuota(t *testing.T) {
	a := New("u", "p", "http://origin", "s")
	resp := bodyResp(http.StatusOK, `{"email":"u@x.com","space_used":10,"space_total":1000}`)
	info, err := a.ParseGeneralData(resp)
	require.NoError(t, err)
	require.Equal(t, "u@x.com", info.Username)
	require.Equal(t, int64(10), info.QuotaUsed)
	require.Equal(t, int64(1000), info.QuotaTotal)
}

func TestAdapter_SupportedOperations_ExcludesUploadAndMove(t *testing.T) {
	a := New("u", "p", "http://origin", "s")
	ops := a.SupportedOperations()
	require.False(t, ops.Has(cloud.OpUploadFile))
	require.False(t, ops.Has(cloud.OpMoveItem))
	require.True(t, ops.Has(cloud.OpDownloadFile))
}

func TestAdapter_State_ReturnsConstructorValue(t *testing.T) {
	a := New("u", "p", "http://origin", "proxy-state")
	require.Equal(t, "proxy-state", a.State())
}
