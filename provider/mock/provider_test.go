package mock

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rolledback/cloudkit/cloud"
)

func TestAdapter_AddItemAutoNamesID(t *testing.T) {
	a := New()
	it := a.AddItem("", &cloud.Item{Name: "first"})
	require.NotEmpty(t, it.ID)

	it2 := a.AddItem("", &cloud.Item{Name: "second"})
	require.NotEqual(t, it.ID, it2.ID)
}

func TestAdapter_SetContentUpdatesSize(t *testing.T) {
	a := New()
	it := a.AddItem("", &cloud.Item{Name: "f.txt"})
	a.SetContent(it.ID, []byte("hello"))
	require.NotNil(t, it.Size)
	require.Equal(t, int64(5), *it.Size)
}

func TestAdapter_BuildExchangeCode_TracksCallsAndAuthError(t *testing.T) {
	a := New()
	_, err := a.BuildExchangeCode(context.Background(), "code", "")
	require.NoError(t, err)
	require.Equal(t, 1, a.ExchangeCodeCalls)

	a.AuthError = errors.New("boom")
	_, err = a.BuildExchangeCode(context.Background(), "code", "")
	require.Error(t, err)
	require.Equal(t, 2, a.ExchangeCodeCalls)
}

func TestAdapter_BuildListDirectory_HonorsListError(t *testing.T) {
	a := New()
	a.ListError = errors.New("listing broken")
	_, err := a.BuildListDirectory(context.Background(), a.RootDirectory(), "")
	require.ErrorIs(t, err, a.ListError)
}

func TestAdapter_BuildDownloadFile_TracksCallsAndDownloadError(t *testing.T) {
	a := New()
	item := a.AddItem("", &cloud.Item{Name: "f.txt"})

	_, err := a.BuildDownloadFile(context.Background(), item, nil)
	require.NoError(t, err)
	require.Equal(t, []string{item.ID}, a.DownloadCalls)

	a.DownloadError = errors.New("download broken")
	_, err = a.BuildDownloadFile(context.Background(), item, nil)
	require.Error(t, err)
	require.Equal(t, []string{item.ID, item.ID}, a.DownloadCalls)
}

func TestTransport_Download_RespectsRange(t *testing.T) {
	a := New()
	item := a.AddItem("", &cloud.Item{Name: "digits.txt"})
	a.SetContent(item.ID, []byte("0123456789"))

	req, err := a.BuildDownloadFile(context.Background(), item, &cloud.ByteRange{Start: 2, End: 4})
	require.NoError(t, err)

	resp, err := (Transport{Adapter: a}).RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusPartialContent, resp.StatusCode)
}

func TestTransport_Download_UnknownItemIsNotFound(t *testing.T) {
	a := New()
	req, err := http.NewRequest("DOWNLOAD", "mock://local/DOWNLOAD", nil)
	require.NoError(t, err)
	req.Header.Set("X-Mock-ID", "nope")

	resp, err := (Transport{Adapter: a}).RoundTrip(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdapter_ParseGetItemData_UnknownIDFails(t *testing.T) {
	a := New()
	req, err := a.BuildGetItemData(context.Background(), "missing")
	require.NoError(t, err)
	resp := &http.Response{Request: req}
	_, err = a.ParseGetItemData(resp)
	require.Error(t, err)
}

func TestAdapter_SupportedOperations_IncludesCoreSet(t *testing.T) {
	a := New()
	ops := a.SupportedOperations()
	require.True(t, ops.Has(cloud.OpGetItemData))
	require.True(t, ops.Has(cloud.OpUploadFile))
}
