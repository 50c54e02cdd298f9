// Command cloudkitd is a minimal demo host for the cloudkit facade: it
// registers the available provider adapters, starts one loopback server for
// OAuth redirects and streaming-proxy downloads, and exposes the typed async
// API over a small JSON HTTP surface. It exists to exercise the wiring end
// to end, the way rolledback-pwsafe-service's main.go wires its provider
// registry and handlers, not as a production frontend.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/rolledback/cloudkit/cloud"
	"github.com/rolledback/cloudkit/internal/config"
	"github.com/rolledback/cloudkit/internal/httpengine"
	"github.com/rolledback/cloudkit/internal/localserver"
	"github.com/rolledback/cloudkit/internal/proxy"
	"github.com/rolledback/cloudkit/internal/xlog"
	"github.com/rolledback/cloudkit/provider/localfs"
	"github.com/rolledback/cloudkit/provider/mega"
	"github.com/rolledback/cloudkit/provider/mock"
	"github.com/rolledback/cloudkit/provider/onedrive"
	"github.com/rolledback/cloudkit/provider/s3"
	"github.com/rolledback/cloudkit/registry"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.Load()

	srv, err := localserver.DefaultFactory()
	if err != nil {
		xlog.L().Fatal().Err(err).Msg("cloudkitd: loopback server")
	}
	xlog.L().Info().Str("addr", srv.Addr()).Msg("cloudkitd: loopback server listening")

	var adapters struct {
		mega *mega.Adapter
	}

	reg := registry.New()
	reg.Register("mock", func() (cloud.Adapter, error) { return mock.New(), nil })
	reg.Register("localfs", func() (cloud.Adapter, error) {
		return localfs.New(cfg.LocalfsDir), nil
	})
	reg.Register("onedrive", func() (cloud.Adapter, error) {
		redirectURI := fmt.Sprintf("http://%s/", srv.Addr())
		return onedrive.New(cfg.OneDriveClientID, redirectURI), nil
	})
	reg.Register("s3", func() (cloud.Adapter, error) {
		return s3.New(ctx, cfg.S3Bucket)
	})
	reg.Register("mega", func() (cloud.Adapter, error) {
		proxyState := uuid.NewString()
		proxyOrigin := fmt.Sprintf("http://%s", srv.Addr())
		a := mega.New(cfg.MegaEmail, cfg.MegaPassword, proxyOrigin, proxyState)
		adapters.mega = a
		return a, nil
	})

	// localfs and mock never touch the network: they need an Engine bound to
	// their own synthetic-request Transport instead of the real one Create
	// defaults to, so the request pool's Build*/Parse* round trip stays
	// in-process.
	var eng *httpengine.Engine
	switch cfg.Provider {
	case "localfs":
		eng = httpengine.NewWithTransport(localfs.Transport{})
	case "mock":
		mockAdapter := mock.New()
		reg.Register("mock", func() (cloud.Adapter, error) { return mockAdapter, nil })
		eng = httpengine.NewWithTransport(mock.Transport{Adapter: mockAdapter})
	}

	authState := uuid.NewString()
	facade, err := reg.Create(cfg.Provider, registry.InitData{
		HTTPEngine: eng,
		ThreadPool: rate.NewLimiter(rate.Limit(5), 5),
		AuthCallback: func(tok cloud.Token, err error) {
			if err != nil {
				xlog.L().Warn().Err(err).Msg("cloudkitd: auth transition failed")
				return
			}
			xlog.L().Info().Msg("cloudkitd: token refreshed")
		},
	})
	if err != nil {
		xlog.L().Fatal().Err(err).Str("provider", cfg.Provider).Msg("cloudkitd: create provider instance")
	}
	defer func() {
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutCancel()
		_ = facade.Shutdown(shutCtx)
	}()

	unregisterAuth := srv.RegisterAuth(authState, facade.AuthMachine())
	defer unregisterAuth()

	// Opaque providers (mega) stream through internal/proxy rather than the
	// generic request pool, so they additionally need a FileHandler
	// registered on the same loopback server under their own state.
	if src, ok := facade.Adapter().(cloud.OpaqueSource); ok {
		handler := proxy.NewHandler(src)
		unregisterFile := srv.RegisterFile(adapters.mega.State(), handler)
		defer unregisterFile()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/authorize", func(w http.ResponseWriter, r *http.Request) {
		if facade.AuthorizeLibraryURL() == "" {
			http.Redirect(w, r, fmt.Sprintf("http://%s/login?state=%s", srv.Addr(), authState), http.StatusFound)
			return
		}
		redirectURI := fmt.Sprintf("http://%s/", srv.Addr())
		url, err := facade.AuthMachine().AuthorizeURL(authState, redirectURI)
		if err != nil {
			http.Error(w, "failed to build authorize URL", http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, url, http.StatusFound)
	})
	mux.HandleFunc("/api/list", func(w http.ResponseWriter, r *http.Request) {
		root := &cloud.Item{ID: "", Type: cloud.TypeDirectory}
		items, err := facade.ListDirectory(r.Context(), root).Wait(r.Context())
		writeJSON(w, items, err)
	})
	mux.HandleFunc("/api/general", func(w http.ResponseWriter, r *http.Request) {
		info, err := facade.GeneralData(r.Context()).Wait(r.Context())
		writeJSON(w, info, err)
	})

	xlog.L().Info().Str("addr", cfg.ListenAddr).Str("provider", cfg.Provider).Msg("cloudkitd: serving API")
	if err := http.ListenAndServe(cfg.ListenAddr, mux); err != nil {
		xlog.L().Fatal().Err(err).Msg("cloudkitd: server failed")
	}
}

func writeJSON(w http.ResponseWriter, v interface{}, err error) {
	if err != nil {
		status := http.StatusInternalServerError
		if ce, ok := err.(*cloud.Error); ok {
			status = ce.Code
		}
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
