package registry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/rolledback/cloudkit/cloud"
	"github.com/rolledback/cloudkit/internal/httpengine"
	"github.com/rolledback/cloudkit/provider/mock"
)

func newTestFacade(t *testing.T) (*Facade, *mock.Adapter) {
	t.Helper()
	a := mock.New()
	reg := New()
	reg.Register("mock", func() (cloud.Adapter, error) { return a, nil })
	f, err := reg.Create("mock", InitData{
		Token:      cloud.Token{AccessToken: "tok"},
		HTTPEngine: httpengine.NewWithTransport(mock.Transport{Adapter: a}),
	})
	require.NoError(t, err)
	return f, a
}

func TestRegistry_CreateUnknownProvider(t *testing.T) {
	reg := New()
	_, err := reg.Create("nope", InitData{})
	require.Error(t, err)
}

func TestRegistry_Names(t *testing.T) {
	reg := New()
	reg.Register("a", func() (cloud.Adapter, error) { return mock.New(), nil })
	reg.Register("b", func() (cloud.Adapter, error) { return mock.New(), nil })
	names := reg.Names()
	require.ElementsMatch(t, []string{"a", "b"}, names)
}

func TestFacade_GeneralData(t *testing.T) {
	f, _ := newTestFacade(t)
	info, err := f.GeneralData(context.Background()).Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, "mock-user", info.Username)
}

func TestFacade_CreateDirectoryAndListDirectory(t *testing.T) {
	f, a := newTestFacade(t)
	ctx := context.Background()
	root := a.RootDirectory()

	dir, err := f.CreateDirectory(ctx, root, "Photos").Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, "Photos", dir.Name)
	require.True(t, dir.IsDirectory())

	items, err := f.ListDirectory(ctx, root).Wait(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "Photos", items[0].Name)
}

func TestFacade_GetItemResolvesPath(t *testing.T) {
	f, a := newTestFacade(t)
	ctx := context.Background()
	root := a.RootDirectory()
	dir := a.AddItem(root.ID, &cloud.Item{Name: "docs", Type: cloud.TypeDirectory})
	file := a.AddItem(dir.ID, &cloud.Item{Name: "report.txt"})
	a.SetContent(file.ID, []byte("hello report"))

	got, err := f.GetItem(ctx, "docs/report.txt").Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, file.ID, got.ID)
}

func TestFacade_GetItemUnknownPath(t *testing.T) {
	f, _ := newTestFacade(t)
	ctx := context.Background()
	_, err := f.GetItem(ctx, "missing/path").Wait(ctx)
	require.Error(t, err)
}

func TestFacade_GetItemURLRejectsDirectories(t *testing.T) {
	f, a := newTestFacade(t)
	ctx := context.Background()
	dir := a.AddItem("", &cloud.Item{Name: "d", Type: cloud.TypeDirectory})
	_, err := f.GetItemURL(ctx, dir).Wait(ctx)
	require.Error(t, err)
}

func TestFacade_UploadThenDownloadRoundTrips(t *testing.T) {
	f, a := newTestFacade(t)
	ctx := context.Background()
	root := a.RootDirectory()

	content := []byte("round trip bytes")
	item, err := f.UploadFile(ctx, root, "data.bin", int64(len(content)), bytes.NewReader(content)).Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, "data.bin", item.Name)

	var out bytes.Buffer
	var gotTotal, gotRead int64
	_, err = f.DownloadFile(ctx, item, nil, &out, func(total, current int64) {
		gotTotal, gotRead = total, current
	}).Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, content, out.Bytes())
	require.Equal(t, int64(len(content)), gotRead)
	_ = gotTotal
}

func TestFacade_DeleteItem(t *testing.T) {
	f, a := newTestFacade(t)
	ctx := context.Background()
	root := a.RootDirectory()
	item := a.AddItem(root.ID, &cloud.Item{Name: "tmp.txt"})

	_, err := f.DeleteItem(ctx, item).Wait(ctx)
	require.NoError(t, err)

	items, err := f.ListDirectory(ctx, root).Wait(ctx)
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestFacade_MoveAndRenameItem(t *testing.T) {
	f, a := newTestFacade(t)
	ctx := context.Background()
	root := a.RootDirectory()
	dest := a.AddItem(root.ID, &cloud.Item{Name: "archive", Type: cloud.TypeDirectory})
	file := a.AddItem(root.ID, &cloud.Item{Name: "note.txt"})

	moved, err := f.MoveItem(ctx, file, dest).Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, file.ID, moved.ID)

	children, err := f.ListDirectory(ctx, dest).Wait(ctx)
	require.NoError(t, err)
	require.Len(t, children, 1)

	renamed, err := f.RenameItem(ctx, file, "renamed.txt").Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, "renamed.txt", renamed.Name)
}

func TestFacade_ThrottleAppliesRateLimiter(t *testing.T) {
	a := mock.New()
	reg := New()
	reg.Register("mock", func() (cloud.Adapter, error) { return a, nil })
	f, err := reg.Create("mock", InitData{
		Token:      cloud.Token{AccessToken: "tok"},
		HTTPEngine: httpengine.NewWithTransport(mock.Transport{Adapter: a}),
		ThreadPool: rate.NewLimiter(rate.Inf, 1),
	})
	require.NoError(t, err)

	_, err = f.GeneralData(context.Background()).Wait(context.Background())
	require.NoError(t, err)
}

func TestFacade_Shutdown(t *testing.T) {
	f, _ := newTestFacade(t)
	err := f.Shutdown(context.Background())
	require.NoError(t, err)
}

func TestFacade_Hints(t *testing.T) {
	a := mock.New()
	reg := New()
	reg.Register("mock", func() (cloud.Adapter, error) { return a, nil })
	f, err := reg.Create("mock", InitData{
		Token:      cloud.Token{AccessToken: "tok"},
		HTTPEngine: httpengine.NewWithTransport(mock.Transport{Adapter: a}),
		Hints:      map[string]string{"extra": "1"},
	})
	require.NoError(t, err)

	hints := f.Hints()
	require.Equal(t, "none", hints["auth_family"])
	require.Equal(t, "1", hints["extra"])
}
