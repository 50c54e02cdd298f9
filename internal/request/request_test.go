package request

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rolledback/cloudkit/cloud"
	"github.com/rolledback/cloudkit/internal/auth"
	"github.com/rolledback/cloudkit/internal/httpengine"
	"github.com/rolledback/cloudkit/provider/mock"
)

func newTestPool(t *testing.T, tok cloud.Token) (*Pool, *mock.Adapter) {
	t.Helper()
	a := mock.New()
	eng := httpengine.NewWithTransport(mock.Transport{Adapter: a})
	m := auth.New(a, eng, tok, nil)
	return NewPool(eng, m, a), a
}

func TestDo_SuccessDeliversParsedValue(t *testing.T) {
	p, a := newTestPool(t, cloud.Token{AccessToken: "tok"})
	item := a.AddItem("", &cloud.Item{Name: "file.txt"})

	r := Do[*cloud.Item](context.Background(),
		p,
		func(ctx context.Context) (*http.Request, error) { return a.BuildGetItemData(ctx, item.ID) },
		a.ParseGetItemData,
	)

	got, err := r.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, item.ID, got.ID)
	require.Equal(t, StateDone, r.State())
}

func TestDo_UnauthenticatedFailsBeforeBuilding(t *testing.T) {
	p, _ := newTestPool(t, cloud.Token{})
	built := false

	r := Do[struct{}](context.Background(), p,
		func(ctx context.Context) (*http.Request, error) {
			built = true
			return nil, nil
		},
		func(resp *http.Response) (struct{}, error) { return struct{}{}, nil },
	)

	_, err := r.Wait(context.Background())
	require.Error(t, err)
	require.False(t, built, "build must not run before the request is authenticated")
}

type firstCall401Transport struct {
	inner http.RoundTripper
	n     int
}

func (tr *firstCall401Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	tr.n++
	if tr.n == 1 {
		return &http.Response{StatusCode: http.StatusUnauthorized, Header: make(http.Header), Body: http.NoBody, Request: req}, nil
	}
	return tr.inner.RoundTrip(req)
}

func TestDo_RetriesOnceAfter401ThenSucceeds(t *testing.T) {
	a := mock.New()
	tr := &firstCall401Transport{inner: mock.Transport{Adapter: a}}
	eng := httpengine.NewWithTransport(tr)
	m := auth.New(a, eng, cloud.Token{AccessToken: "tok", RefreshToken: "rt"}, nil)
	p := NewPool(eng, m, a)

	attempts := 0
	r := Do[cloud.GeneralInfo](context.Background(), p,
		func(ctx context.Context) (*http.Request, error) {
			attempts++
			return a.BuildGeneralData(ctx)
		},
		func(resp *http.Response) (cloud.GeneralInfo, error) {
			info, err := a.ParseGeneralData(resp)
			if err != nil {
				return cloud.GeneralInfo{}, err
			}
			return *info, nil
		},
	)

	got, err := r.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, "mock-user", got.Username)
	require.Equal(t, 2, attempts, "expected exactly one retry after the synthetic 401")
}

func TestCancel_MidRequestDeliversCancelled(t *testing.T) {
	p, _ := newTestPool(t, cloud.Token{AccessToken: "tok"})

	block := make(chan struct{})
	r := Do[struct{}](context.Background(), p,
		func(ctx context.Context) (*http.Request, error) {
			<-block
			return nil, ctx.Err()
		},
		func(resp *http.Response) (struct{}, error) { return struct{}{}, nil },
	)

	r.Cancel()
	close(block)

	_, err := r.Wait(context.Background())
	require.Error(t, err)
	require.Equal(t, StateCancelled, r.State())

	ce, ok := err.(*cloud.Error)
	require.True(t, ok, "expected a *cloud.Error, got %T", err)
	require.Equal(t, cloud.CodeAborted, ce.Code)
	require.True(t, ce.IsAborted())
}

func TestWait_RespectsCallerContextTimeout(t *testing.T) {
	p, _ := newTestPool(t, cloud.Token{AccessToken: "tok"})

	block := make(chan struct{})
	defer close(block)
	r := Do[struct{}](context.Background(), p,
		func(ctx context.Context) (*http.Request, error) {
			<-block
			return nil, ctx.Err()
		},
		func(resp *http.Response) (struct{}, error) { return struct{}{}, nil },
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := r.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFailed_DeliversErrorWithoutAPool(t *testing.T) {
	wantErr := cloud.NewError(cloud.CodeFailure, "precondition failed", nil)
	r := Failed[*cloud.Item](wantErr)
	_, err := r.Wait(context.Background())
	require.Equal(t, wantErr, err)
	require.Equal(t, StateDone, r.State())
}

func TestAsync_ComposesMultiStepResolvers(t *testing.T) {
	p, a := newTestPool(t, cloud.Token{AccessToken: "tok"})
	dir := a.AddItem("", &cloud.Item{Name: "dir", Type: cloud.TypeDirectory})
	a.AddItem(dir.ID, &cloud.Item{Name: "child.txt"})

	r := Async[int](context.Background(), p, func(ctx context.Context) (int, error) {
		page, err := Do[*cloud.PageData](ctx, p,
			func(ctx context.Context) (*http.Request, error) { return a.BuildListDirectory(ctx, dir, "") },
			a.ParseListDirectory,
		).Wait(ctx)
		if err != nil {
			return 0, err
		}
		return len(page.Items), nil
	})

	n, err := r.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestPool_ShutdownDrainsInflightRequests(t *testing.T) {
	p, _ := newTestPool(t, cloud.Token{AccessToken: "tok"})

	started := make(chan struct{})
	r := Do[struct{}](context.Background(), p,
		func(ctx context.Context) (*http.Request, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
		func(resp *http.Response) (struct{}, error) { return struct{}{}, nil },
	)
	<-started

	err := p.Shutdown(context.Background())
	require.NoError(t, err)

	_, werr := r.Wait(context.Background())
	require.Error(t, werr)
}

func TestDo_UploadRoundTripsBody(t *testing.T) {
	p, a := newTestPool(t, cloud.Token{AccessToken: "tok"})
	root := a.RootDirectory()
	body := io.NopCloser(jsonReader(map[string]string{"k": "v"}))

	r := Do[*cloud.Item](context.Background(), p,
		func(ctx context.Context) (*http.Request, error) {
			return a.BuildUploadFile(ctx, root, "note.json", 0, body)
		},
		a.ParseUploadFile,
	)

	item, err := r.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, "note.json", item.Name)
}

func jsonReader(v interface{}) io.Reader {
	pr, pw := io.Pipe()
	go func() {
		_ = json.NewEncoder(pw).Encode(v)
		pw.Close()
	}()
	return pr
}
