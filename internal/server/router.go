// Package server is the local operator API over the bridge. Every mutating
// route feeds the same update pipeline the sync manager uses.
package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/paradrop/agent/internal/bridge"
	"github.com/paradrop/agent/internal/chute"
	"github.com/paradrop/agent/internal/manager"
	"github.com/paradrop/agent/internal/store"
	"github.com/paradrop/agent/internal/update"
)

// Router provides embeddable HTTP handlers for the agent.
// Endpoints:
//
//	POST   {basePath}/chutes               body: chute declaration JSON
//	PUT    {basePath}/chutes/:name         body: chute declaration JSON
//	DELETE {basePath}/chutes/:name
//	POST   {basePath}/chutes/:name/start
//	POST   {basePath}/chutes/:name/stop
//	POST   {basePath}/chutes/:name/restart
//	GET    {basePath}/chutes
//	PUT    {basePath}/hostconfig           body: host config blob JSON
//	POST   {basePath}/updates/poll
//	GET    {basePath}/updates/recent       query: limit=...
//	GET    {basePath}/status
type Router struct {
	bridge   *bridge.Bridge
	chutes   chute.Store
	sync     *manager.Manager // may be nil when the device runs offline
	outcomes store.Store      // may be nil
	routerID string
	basePath string
}

// NewRouter constructs a Router with a configurable basePath.
func NewRouter(b *bridge.Bridge, chutes chute.Store, sync *manager.Manager, outcomes store.Store, routerID, basePath string) *Router {
	return &Router{
		bridge:   b,
		chutes:   chutes,
		sync:     sync,
		outcomes: outcomes,
		routerID: routerID,
		basePath: sanitizeBase(basePath),
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.POST("/chutes", r.handleCreateChute)
	group.PUT("/chutes/:name", r.handleUpdateChute)
	group.DELETE("/chutes/:name", r.handleDeleteChute)
	group.POST("/chutes/:name/start", r.chuteAction(r.bridge.StartChute))
	group.POST("/chutes/:name/stop", r.chuteAction(r.bridge.StopChute))
	group.POST("/chutes/:name/restart", r.chuteAction(r.bridge.RestartChute))
	group.GET("/chutes", r.handleListChutes)
	group.PUT("/hostconfig", r.handleHostConfig)
	group.POST("/updates/poll", r.handlePoll)
	group.GET("/updates/recent", r.handleRecent)
	group.GET("/status", r.handleStatus)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr string, r *Router) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type resultResp struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// ChuteRequest is the declaration body for create/update.
type ChuteRequest struct {
	Name      string         `json:"name"`
	Version   string         `json:"version"`
	Config    map[string]any `json:"config"`
	IPs       []string       `json:"ips"`
	SSIDs     []string       `json:"ssids"`
	StaticIPs []string       `json:"static_ips"`
}

func (req *ChuteRequest) payload() map[string]any {
	p := map[string]any{}
	if req.Version != "" {
		p["version"] = req.Version
	}
	if req.Config != nil {
		p["config"] = req.Config
	}
	if req.IPs != nil {
		p["ips"] = req.IPs
	}
	if req.SSIDs != nil {
		p["ssids"] = req.SSIDs
	}
	if req.StaticIPs != nil {
		p["static_ips"] = req.StaticIPs
	}
	return p
}

func (r *Router) handleCreateChute(c *gin.Context) {
	var req ChuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if !isSafeName(req.Name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name: allowed [A-Za-z0-9._-] and no '..' or path separators"})
		return
	}
	done, err := r.bridge.CreateChute(c.Request.Context(), req.Name, req.payload())
	r.awaitResult(c, done, err)
}

func (r *Router) handleUpdateChute(c *gin.Context) {
	name := c.Param("name")
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name"})
		return
	}
	var req ChuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	done, err := r.bridge.UpdateChute(c.Request.Context(), name, req.payload())
	r.awaitResult(c, done, err)
}

func (r *Router) handleDeleteChute(c *gin.Context) {
	name := c.Param("name")
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name"})
		return
	}
	done, err := r.bridge.DeleteChute(c.Request.Context(), name)
	r.awaitResult(c, done, err)
}

func (r *Router) chuteAction(op func(context.Context, string) (<-chan update.Result, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		if !isSafeName(name) {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name"})
			return
		}
		done, err := op(c.Request.Context(), name)
		r.awaitResult(c, done, err)
	}
}

func (r *Router) handleListChutes(c *gin.Context) {
	list, err := r.chutes.List()
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, list)
}

func (r *Router) handleHostConfig(c *gin.Context) {
	var cfg map[string]any
	if err := c.ShouldBindJSON(&cfg); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	done, err := r.bridge.UpdateHostConfig(c.Request.Context(), cfg)
	r.awaitResult(c, done, err)
}

func (r *Router) handlePoll(c *gin.Context) {
	if r.sync == nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "synchronization disabled"})
		return
	}
	// The fetch blocks until the batch completes; do not hold the request.
	go r.sync.StartUpdate(context.Background(), false)
	writeJSON(c, http.StatusAccepted, resultResp{OK: true, Message: "poll triggered"})
}

func (r *Router) handleRecent(c *gin.Context) {
	if r.outcomes == nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "outcome store disabled"})
		return
	}
	limit := 0
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid limit"})
			return
		}
		limit = n
	}
	recs, err := r.outcomes.Recent(c.Request.Context(), limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, recs)
}

// StatusResponse is the agent status summary.
type StatusResponse struct {
	RouterID   string   `json:"router_id"`
	InProgress []string `json:"in_progress"`
}

func (r *Router) handleStatus(c *gin.Context) {
	resp := StatusResponse{RouterID: r.routerID, InProgress: []string{}}
	if r.sync != nil {
		resp.InProgress = r.sync.InProgress()
	}
	writeJSON(c, http.StatusOK, resp)
}

// awaitResult resolves an admitted update's future into an HTTP response.
func (r *Router) awaitResult(c *gin.Context, done <-chan update.Result, err error) {
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	select {
	case res := <-done:
		if !res.Success {
			writeJSON(c, http.StatusUnprocessableEntity, resultResp{OK: false, Message: res.Message})
			return
		}
		writeJSON(c, http.StatusOK, resultResp{OK: true, Message: res.Message})
	case <-c.Request.Context().Done():
		writeJSON(c, http.StatusRequestTimeout, errorResp{Error: "request canceled"})
	}
}
