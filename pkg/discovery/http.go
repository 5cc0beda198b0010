package discovery

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jllopis/skillmesh/pkg/errors"
)

// Sink receives announcements accepted over HTTP. Pass Bus.Publish to fan
// out to every replica, or Tracker.Handle for a single agent.
type Sink func(ctx context.Context, a Announcement) error

// Handler exposes the announcement API.
type Handler struct {
	sink    Sink
	tracker *Tracker
}

// NewHandler creates the HTTP surface. tracker may be nil, in which case the
// listing route reports nothing.
func NewHandler(sink Sink, tracker *Tracker) *Handler {
	return &Handler{sink: sink, tracker: tracker}
}

// Register mounts the routes on r.
func (h *Handler) Register(r gin.IRouter) {
	g := r.Group("/v1/skills")
	g.POST("/announce", h.announce)
	g.POST("/:id/heartbeat", h.heartbeat)
	g.DELETE("/:id", h.withdraw)
	g.GET("", h.list)
}

// Engine returns a gin engine serving only the announcement API.
func (h *Handler) Engine() *gin.Engine {
	g := gin.New()
	g.Use(gin.Recovery())
	h.Register(g)
	return g
}

func (h *Handler) announce(c *gin.Context) {
	var a Announcement
	if err := c.ShouldBindJSON(&a); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	if a.Kind == "" {
		a.Kind = KindAnnounce
	}
	h.deliver(c, a)
}

func (h *Handler) heartbeat(c *gin.Context) {
	h.deliver(c, Announcement{Kind: KindHeartbeat, ID: c.Param("id")})
}

func (h *Handler) withdraw(c *gin.Context) {
	h.deliver(c, Announcement{Kind: KindWithdraw, ID: c.Param("id")})
}

func (h *Handler) deliver(c *gin.Context, a Announcement) {
	if err := a.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	if err := h.sink(c.Request.Context(), a); err != nil {
		c.JSON(statusFor(err), gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": a.ID, "kind": a.Kind})
}

func (h *Handler) list(c *gin.Context) {
	if h.tracker == nil {
		c.JSON(http.StatusOK, []Tracked{})
		return
	}
	c.JSON(http.StatusOK, h.tracker.Tracked())
}

func statusFor(err error) int {
	if me := errors.AsMeshError(err); me.StatusCode != 0 {
		return me.StatusCode
	}
	return http.StatusInternalServerError
}
