// Package searchapi exposes the analytical store and search indexes over
// HTTP, mirroring the endpoint surface spec.md §6.4 describes.
package searchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"providerresolve/internal/analyticstore"
	"providerresolve/internal/searchindex"
)

// Server wires the analytical store and the two bleve engines into a gin
// router. A Server owns no lifecycle beyond routing — callers open and
// close the store/engines themselves (cmd/search does this around
// Server's lifetime).
type Server struct {
	store     *analyticstore.Store
	providers *searchindex.ProviderEngine
	hcpcs     *searchindex.HCPCSEngine
	meta      json.RawMessage
}

// NewServer builds a Server. meta is the parsed contents of build.json, if
// present (nil otherwise) — served verbatim from /api/stats.
func NewServer(store *analyticstore.Store, providers *searchindex.ProviderEngine, hcpcs *searchindex.HCPCSEngine, meta json.RawMessage) *Server {
	return &Server{store: store, providers: providers, hcpcs: hcpcs, meta: meta}
}

// Router builds the gin engine with CORS enabled for every origin, method,
// and header — the search API is a read-only public data service.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), gin.Logger())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowMethods = []string{http.MethodGet, http.MethodOptions}
	corsCfg.AllowHeaders = []string{"*"}
	r.Use(cors.New(corsCfg))

	r.GET("/api/stats", s.handleStats)
	r.GET("/api/search", s.handleGlobalSearch)
	r.GET("/api/filters/providers", s.handleProviderFilters)
	r.GET("/api/providers/search", s.handleProviderSearch)
	r.GET("/api/providers/:npi", s.handleProviderDetail)
	r.GET("/api/hcpcs/search", s.handleHCPCSSearch)
	r.GET("/api/hcpcs/:code", s.handleHCPCSDetail)
	r.GET("/api/map/zips", s.handleMapZips)
	return r
}

// ListenAndServe runs the router on host:port until ctx is canceled or the
// server errors.
func (s *Server) ListenAndServe(ctx context.Context, host string, port int) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: s.Router(),
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"meta": s.meta})
}
