package livehttp

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"kestrel/internal/gateway/database"
	"kestrel/internal/logger"
	"kestrel/internal/position"
	"kestrel/internal/types"
	"kestrel/internal/verify"

	"github.com/gin-gonic/gin"
)

// ReadyReporter exposes the verification worker's readiness flag.
type ReadyReporter interface {
	Ready() bool
}

// Router serves the live position and verification queries.
type Router struct {
	Store     *position.Store
	Queue     *verify.Queue
	Admission *position.Admission
	Events    database.EventStore
	Worker    ReadyReporter
}

func NewRouter(store *position.Store, queue *verify.Queue, admission *position.Admission,
	events database.EventStore, worker ReadyReporter) *Router {
	return &Router{Store: store, Queue: queue, Admission: admission, Events: events, Worker: worker}
}

// Register mounts the /api/live routes under the given group.
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/status", r.handleStatus)
	group.GET("/positions", r.handlePositions)
	group.GET("/positions/:mint", r.handlePositionByMint)
	group.GET("/queue", r.handleQueue)
	group.GET("/events", r.handleEvents)
}

func (r *Router) handleStatus(c *gin.Context) {
	ready := r.Worker != nil && r.Worker.Ready()
	resp := gin.H{
		"ready":     ready,
		"positions": 0,
		"open":      0,
		"queue":     0,
	}
	if r.Store != nil {
		resp["positions"] = r.Store.Count()
		resp["open"] = r.Store.OpenCount()
	}
	if r.Queue != nil {
		resp["queue"] = r.Queue.Size()
	}
	if r.Admission != nil {
		resp["permits_held"] = r.Admission.Held()
		resp["permits_capacity"] = r.Admission.Capacity()
	}
	c.JSON(http.StatusOK, resp)
}

func (r *Router) handlePositions(c *gin.Context) {
	if r.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "position store unavailable"})
		return
	}
	status := strings.ToLower(strings.TrimSpace(c.DefaultQuery("status", "open")))
	now := time.Now()
	var out []types.PositionSnapshot
	for _, pos := range r.Store.Snapshot() {
		switch status {
		case "open":
			if !pos.IsOpen() {
				continue
			}
		case "closed":
			if pos.IsOpen() {
				continue
			}
		case "all":
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "status must be open, closed or all"})
			return
		}
		out = append(out, pos.Snapshot(now))
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    status,
		"count":     len(out),
		"positions": out,
	})
}

func (r *Router) handlePositionByMint(c *gin.Context) {
	if r.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "position store unavailable"})
		return
	}
	mint := strings.TrimSpace(c.Param("mint"))
	pos, ok := r.Store.GetByMint(mint)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no position for mint"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"position": pos.Snapshot(time.Now())})
}

type queueItemView struct {
	Signature    string `json:"signature"`
	Mint         string `json:"mint"`
	Kind         string `json:"kind"`
	Attempts     int    `json:"attempts"`
	ExpiryHeight uint64 `json:"expiry_height,omitempty"`
	AgeMs        int64  `json:"age_ms"`
	NextRetryMs  int64  `json:"next_retry_in_ms"`
	LastError    string `json:"last_error,omitempty"`
}

func (r *Router) handleQueue(c *gin.Context) {
	if r.Queue == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "verification queue unavailable"})
		return
	}
	now := time.Now()
	items := r.Queue.Snapshot()
	out := make([]queueItemView, 0, len(items))
	for _, it := range items {
		view := queueItemView{
			Signature:    it.Signature,
			Mint:         it.Mint,
			Kind:         it.MetricKind(),
			Attempts:     it.Attempts,
			ExpiryHeight: it.ExpiryHeight,
			AgeMs:        it.Age(now).Milliseconds(),
			LastError:    it.LastError,
		}
		if it.NextRetryAt.After(now) {
			view.NextRetryMs = it.NextRetryAt.Sub(now).Milliseconds()
		}
		out = append(out, view)
	}
	c.JSON(http.StatusOK, gin.H{"count": len(out), "items": out})
}

func (r *Router) handleEvents(c *gin.Context) {
	if r.Events == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event log unavailable"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	records, err := r.Events.ListRecentEvents(reqCtx, limit)
	if err != nil {
		logger.Errorf("[api] list events failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	type eventView struct {
		ID        string          `json:"id"`
		Name      string          `json:"name"`
		Severity  string          `json:"severity"`
		Mint      string          `json:"mint,omitempty"`
		Signature string          `json:"signature,omitempty"`
		Payload   json.RawMessage `json:"payload,omitempty"`
		CreatedAt int64           `json:"created_at"`
	}
	out := make([]eventView, 0, len(records))
	for _, rec := range records {
		view := eventView{
			ID:        rec.ID,
			Name:      rec.Name,
			Severity:  string(rec.Severity),
			Mint:      rec.Mint,
			Signature: rec.Signature,
			CreatedAt: rec.CreatedAt.UnixMilli(),
		}
		if len(rec.Payload) > 0 {
			view.Payload = json.RawMessage(rec.Payload)
		}
		out = append(out, view)
	}
	c.JSON(http.StatusOK, gin.H{"count": len(out), "events": out})
}
