// Package handler exposes the check-in desk over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"gymdesk/internal/apperr"
	"gymdesk/internal/attendance"
	"gymdesk/internal/capacity"
	"gymdesk/internal/httpmiddleware"
	"gymdesk/internal/identity"
	"gymdesk/internal/model"
	"gymdesk/internal/storage"
)

const defaultAuditLimit = 50

// HealthCheck is one dependency reported by /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) bool
}

// Deps are the services the handler serves.
type Deps struct {
	Desk     *attendance.Desk
	Resolver *identity.Resolver
	Queries  *attendance.Queries
	Capacity *capacity.Tracker
	Audit    storage.AuditLog
	Location *time.Location
	Health   []HealthCheck
}

type Handler struct {
	desk     *attendance.Desk
	resolver *identity.Resolver
	queries  *attendance.Queries
	capacity *capacity.Tracker
	audit    storage.AuditLog
	loc      *time.Location
	health   []HealthCheck

	// Now is swapped in tests.
	Now func() time.Time
}

func New(d Deps) *Handler {
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		desk:     d.Desk,
		resolver: d.Resolver,
		queries:  d.Queries,
		capacity: d.Capacity,
		audit:    d.Audit,
		loc:      loc,
		health:   d.Health,
		Now:      time.Now,
	}
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/healthz", h.Healthz)

	v1 := r.Group("/v1")
	v1.POST("/scan", h.Scan)
	v1.GET("/today", h.Today)
	v1.GET("/log", h.Log)
	v1.GET("/ranking", h.Ranking)
	v1.GET("/capacity", h.GetCapacity)
	v1.POST("/capacity", h.SetCapacity)
	v1.GET("/occupancy", h.Occupancy)
	v1.POST("/walkins", h.RegisterWalkIn)
	v1.GET("/audit", h.AuditLog)
}

// ---------- Health ----------

func (h *Handler) Healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for _, hc := range h.health {
		ok := hc.Check(c.Request.Context())
		body[hc.Name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// ---------- Scan ----------

type scanRequest struct {
	TagID    string `json:"tag_id"`
	ReaderID string `json:"reader_id"`
}

type scanResponse struct {
	Action      attendance.Action   `json:"action"`
	Message     string              `json:"message"`
	CurrentDate string              `json:"current_date"`
	CurrentTime string              `json:"current_time"`
	Name        string              `json:"name"`
	Kind        model.Kind          `json:"kind"`
	Record      model.Record        `json:"record"`
	Occupancy   *capacity.Occupancy `json:"occupancy,omitempty"`
}

// Scan applies one tag read: time in, time out, or nothing.
func (h *Handler) Scan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Invalid("request body must be JSON with a tag_id"))
		return
	}
	if req.ReaderID == "" {
		req.ReaderID = c.GetHeader(httpmiddleware.ReaderHeader)
	}

	now := h.Now()
	res, err := h.desk.Scan(c.Request.Context(), req.TagID, req.ReaderID, now)
	if err != nil {
		respondError(c, err)
		return
	}

	local := res.At.In(h.loc)
	resp := scanResponse{
		Action:      res.Action,
		Message:     res.Message,
		CurrentDate: res.Day,
		CurrentTime: local.Format("15:04:05"),
		Name:        res.Identity.Name,
		Kind:        res.Identity.Kind,
		Record:      res.Record,
	}
	if occ, err := h.capacity.GetOccupancy(c.Request.Context()); err == nil {
		resp.Occupancy = &occ
	} else {
		slog.Warn("occupancy unavailable after scan", "error", err)
	}
	c.JSON(http.StatusOK, resp)
}

// ---------- Queries ----------

func (h *Handler) Today(c *gin.Context) {
	view, err := h.queries.Today(c.Request.Context(), h.Now())
	if err != nil {
		respondError(c, err)
		return
	}
	max, err := h.capacity.Max(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"date":            view.Date,
		"current_present": view.CurrentPresent,
		"max":             max,
		"records":         view.Records,
	})
}

func (h *Handler) Log(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		respondError(c, err)
		return
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		respondError(c, err)
		return
	}
	entries, err := h.queries.Log(c.Request.Context(), attendance.Page{Limit: limit, Offset: offset})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": entries})
}

func (h *Handler) Ranking(c *gin.Context) {
	w, err := attendance.ParseWindow(c.Query("start"), c.Query("end"))
	if err != nil {
		respondError(c, err)
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		respondError(c, err)
		return
	}
	rows, err := h.queries.Ranking(c.Request.Context(), w, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

// ---------- Capacity ----------

func (h *Handler) GetCapacity(c *gin.Context) {
	max, err := h.capacity.Max(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"max": max})
}

// SetCapacity accepts {"max": 75} or {"max": "75"}.
func (h *Handler) SetCapacity(c *gin.Context) {
	var body struct {
		Max json.RawMessage `json:"max"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, apperr.Invalid("request body must be JSON with a max"))
		return
	}
	max, err := h.capacity.SetMax(c.Request.Context(), rawNumber(body.Max))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"max": max})
}

func (h *Handler) Occupancy(c *gin.Context) {
	occ, err := h.capacity.GetOccupancy(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, occ)
}

// rawNumber turns a JSON number or string into the text ParseMax validates.
func rawNumber(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	text := strings.TrimSpace(string(raw))
	if text == "null" {
		return ""
	}
	return text
}

// ---------- Walk-ins ----------

func (h *Handler) RegisterWalkIn(c *gin.Context) {
	var req struct {
		Name  string `json:"name"`
		TagID string `json:"tag_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Invalid("request body must be JSON with a name"))
		return
	}
	w, err := h.resolver.RegisterWalkIn(c.Request.Context(), req.Name, req.TagID, h.Now())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, w)
}

// ---------- Audit ----------

func (h *Handler) AuditLog(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		respondError(c, err)
		return
	}
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	entries, err := h.audit.ListAudit(c.Request.Context(), limit)
	if err != nil {
		respondError(c, apperr.Storage("load audit log failed", err))
		return
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// ---------- helpers ----------

func queryInt(c *gin.Context, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperr.Invalid("%s must be an integer", key)
	}
	return n, nil
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindDenied:
		return http.StatusForbidden
	case apperr.KindInvalid:
		return http.StatusBadRequest
	case apperr.KindStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	msg := apperr.Message(err)
	if kind == "" {
		slog.Error("unclassified error", "path", c.FullPath(), "error", err)
		msg = "internal error"
	}
	c.JSON(statusFor(kind), gin.H{
		"error":     msg,
		"kind":      kind,
		"retryable": apperr.Retryable(err),
	})
}
