package s3

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rolledback/cloudkit/cloud"
)

func TestAdapter_Endpoint_IncludesBucket(t *testing.T) {
	a := &Adapter{bucket: "my-bucket"}
	require.Equal(t, "https://my-bucket.s3.amazonaws.com", a.Endpoint())
}

func TestAdapter_AuthorizeLibraryURL_Empty(t *testing.T) {
	a := &Adapter{bucket: "my-bucket"}
	require.Empty(t, a.AuthorizeLibraryURL())
}

func TestAdapter_SupportedOperations_ExcludesOAuthAndThumbnail(t *testing.T) {
	a := &Adapter{bucket: "my-bucket"}
	ops := a.SupportedOperations()
	require.False(t, ops.Has(cloud.OpExchangeCode))
	require.False(t, ops.Has(cloud.OpGetThumbnail))
	require.True(t, ops.Has(cloud.OpUploadFile))
	require.True(t, ops.Has(cloud.OpGeneralData))
}

func TestAdapter_ParseGetItemData_NotFound(t *testing.T) {
	a := &Adapter{bucket: "b"}
	_, err := a.ParseGetItemData(&http.Response{StatusCode: http.StatusNotFound})
	require.Error(t, err)
}

func TestAdapter_ParseGetItemData_ReportsSizeFromContentLength(t *testing.T) {
	a := &Adapter{bucket: "b"}
	item, err := a.ParseGetItemData(&http.Response{StatusCode: http.StatusOK, ContentLength: 512})
	require.NoError(t, err)
	require.Equal(t, int64(512), *item.Size)
}

func TestAdapter_ParseListDirectory_SplitsPrefixesAndContents(t *testing.T) {
	a := &Adapter{bucket: "b"}
	xmlBody := `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult>
  <Contents><Key>docs/report.txt</Key><Size>42</Size></Contents>
  <CommonPrefixes><Prefix>docs/archive/</Prefix></CommonPrefixes>
  <NextContinuationToken>tok2</NextContinuationToken>
</ListBucketResult>`
	resp := &http.Response{Body: io.NopCloser(strings.NewReader(xmlBody))}
	page, err := a.ParseListDirectory(resp)
	require.NoError(t, err)
	require.Equal(t, "tok2", page.NextPageToken)
	require.Len(t, page.Items, 2)

	var dirFound, fileFound bool
	for _, it := range page.Items {
		if it.IsDirectory() {
			dirFound = true
			require.Equal(t, "archive", it.Name)
		} else {
			fileFound = true
			require.Equal(t, "report.txt", it.Name)
			require.Equal(t, int64(42), *it.Size)
		}
	}
	require.True(t, dirFound)
	require.True(t, fileFound)
}

func TestAdapter_ParseDeleteItem_AcceptsNoContentOrOK(t *testing.T) {
	a := &Adapter{bucket: "b"}
	require.NoError(t, a.ParseDeleteItem(&http.Response{StatusCode: http.StatusNoContent}))
	require.NoError(t, a.ParseDeleteItem(&http.Response{StatusCode: http.StatusOK}))
	require.Error(t, a.ParseDeleteItem(&http.Response{StatusCode: http.StatusForbidden}))
}

func TestAdapter_ParseGeneralData_ReportsBucketAsUsername(t *testing.T) {
	a := &Adapter{bucket: "my-bucket"}
	info, err := a.ParseGeneralData(&http.Response{})
	require.NoError(t, err)
	require.Equal(t, "my-bucket", info.Username)
}

func TestJoinKey(t *testing.T) {
	require.Equal(t, "name.txt", joinKey("", "name.txt"))
	require.Equal(t, "docs/name.txt", joinKey("docs", "name.txt"))
	require.Equal(t, "docs/name.txt", joinKey("docs/", "name.txt"))
}

func TestBaseName(t *testing.T) {
	require.Equal(t, "name.txt", baseName("docs/sub/name.txt"))
	require.Equal(t, "name.txt", baseName("name.txt"))
}
