package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/levelhq/level-engine/internal/db"
	"github.com/levelhq/level-engine/internal/ingest"
	"github.com/levelhq/level-engine/internal/label"
	"github.com/levelhq/level-engine/internal/pipeline"
	"github.com/levelhq/level-engine/internal/store"
	"github.com/levelhq/level-engine/internal/waveform"
	"github.com/levelhq/level-engine/pkg/models"
)

type APIHandler struct {
	store    *store.Store
	dbStore  *db.PostgresStore // nil when persistence is disabled
	labeler  *label.Client
	pipeline *pipeline.Pipeline
	wsHub    *Hub
}

func SetupRouter(st *store.Store, dbStore *db.PostgresStore, labeler *label.Client, pl *pipeline.Pipeline, wsHub *Hub) *gin.Engine {
	r := gin.Default()

	// Enable CORS — configurable via ALLOWED_ORIGINS env var
	// Production: ALLOWED_ORIGINS=https://app.example.com
	// Development: leave empty for *
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{store: st, dbStore: dbStore, labeler: labeler, pipeline: pl, wsHub: wsHub}

	// Uploads and AI calls are the expensive surface; everything else is
	// cheap in-memory reads and writes.
	heavyLimiter := NewRateLimiter(30, 10)

	api := r.Group("/api/v1")
	api.Use(AuthMiddleware())
	{
		api.POST("/upload", heavyLimiter.Middleware(), handler.handleUpload)
		api.GET("/status/:datasetId", handler.handleStatus)
		api.GET("/waveform/:datasetId", handler.handleWaveform)
		api.POST("/adjust/:datasetId", handler.handleAdjust)
		api.POST("/reset/:datasetId", handler.handleReset)
		api.GET("/export/:datasetId", handler.handleExport)
		api.POST("/suggest/:datasetId", heavyLimiter.Middleware(), handler.handleSuggest)
		api.POST("/chat/:datasetId", heavyLimiter.Middleware(), handler.handleChat)
		api.DELETE("/datasets/:datasetId", handler.handleDelete)
		api.GET("/health", handler.handleHealth)
		api.GET("/stream", wsHub.Subscribe)
	}

	return r
}

// respondError maps the typed engine failures onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrInvalidAdjustment),
		errors.Is(err, models.ErrDegenerateInput),
		errors.Is(err, waveform.ErrUnknownMode),
		errors.Is(err, waveform.ErrUnknownFormat):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrNotReady):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrUpstreamFailure):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// handleUpload accepts a multipart CSV, registers the dataset, and launches
// the ingestion pipeline. Responds immediately with the processing handle.
func (h *APIHandler) handleUpload(c *gin.Context) {
	if c.Request.ContentLength > ingest.MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": fmt.Sprintf("upload exceeds %d MB limit", ingest.MaxUploadBytes>>20),
		})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, ingest.MaxUploadBytes)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing 'file' form field"})
		return
	}
	if ext := strings.ToLower(filepath.Ext(fileHeader.Filename)); ext != ".csv" {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "only CSV uploads are supported"})
		return
	}

	textColumn := -1
	if raw := c.PostForm("textColumn"); raw != "" {
		col, err := strconv.Atoi(raw)
		if err != nil || col < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "textColumn must be a non-negative integer"})
			return
		}
		textColumn = col
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable upload"})
		return
	}
	defer file.Close()

	parsed, err := ingest.Parse(file, textColumn)
	if err != nil {
		respondError(c, err)
		return
	}

	// The pipeline outlives this request; it must not inherit the request
	// context or the client closing the connection would abort ingestion.
	datasetID := h.pipeline.Start(context.Background(), parsed)

	c.JSON(http.StatusAccepted, gin.H{
		"datasetId": datasetID,
		"status":    models.StatusProcessing,
		"rowCount":  len(parsed.Rows),
		"columns":   parsed.Header,
	})
}

func (h *APIHandler) handleStatus(c *gin.Context) {
	progress, err := h.store.Status(c.Param("datasetId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, progress)
}

func (h *APIHandler) handleWaveform(c *gin.Context) {
	snap, err := h.store.Snapshot(c.Param("datasetId"))
	if err != nil {
		respondError(c, err)
		return
	}

	view, err := waveform.Project(snap, c.Query("mode"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// handleAdjust applies a batch of count/weight changes atomically and
// returns the recomputed metrics plus the refreshed projection.
func (h *APIHandler) handleAdjust(c *gin.Context) {
	datasetID := c.Param("datasetId")

	var req struct {
		Changes []models.AdjustmentChange `json:"changes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body, expected {changes: [...]}"})
		return
	}

	updated, err := h.store.ApplyAdjustments(datasetID, req.Changes)
	if err != nil {
		respondError(c, err)
		return
	}

	h.afterMutation(c, datasetID, updated)
	h.respondMutated(c, datasetID, updated)
}

// handleReset restores one cluster (body {clusterId}) or, with an empty
// body, the whole dataset to its post-ingestion state.
func (h *APIHandler) handleReset(c *gin.Context) {
	datasetID := c.Param("datasetId")

	var req struct {
		ClusterID *int `json:"clusterId"`
	}
	// An empty body means "reset everything".
	_ = c.ShouldBindJSON(&req)

	var updated models.Metrics
	var err error
	if req.ClusterID != nil {
		updated, err = h.store.ResetCluster(datasetID, *req.ClusterID)
	} else {
		updated, err = h.store.ResetAll(datasetID)
	}
	if err != nil {
		respondError(c, err)
		return
	}

	h.afterMutation(c, datasetID, updated)
	h.respondMutated(c, datasetID, updated)
}

// respondMutated answers a successful mutation with the new metrics and
// the re-projected waveform so clients can redraw without a second call.
func (h *APIHandler) respondMutated(c *gin.Context, datasetID string, updated models.Metrics) {
	snap, err := h.store.Snapshot(datasetID)
	if err != nil {
		respondError(c, err)
		return
	}
	view, err := waveform.Project(snap, c.Query("mode"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"metrics": updated, "waveform": view})
}

// afterMutation broadcasts the new metrics and persists the adjustment
// state when a database is attached.
func (h *APIHandler) afterMutation(c *gin.Context, datasetID string, updated models.Metrics) {
	if h.wsHub != nil {
		h.wsHub.BroadcastMetricsUpdate(datasetID, updated)
	}
	if h.dbStore != nil {
		if snap, err := h.store.Snapshot(datasetID); err == nil {
			if err := h.dbStore.SaveAdjustments(c.Request.Context(), datasetID, snap.Adjustments); err != nil {
				log.Printf("[API] Failed to persist adjustments for %s: %v", datasetID, err)
			}
		}
	}
}

// handleExport streams the dataset as CSV in the requested format.
func (h *APIHandler) handleExport(c *gin.Context) {
	datasetID := c.Param("datasetId")
	format := c.DefaultQuery("format", waveform.FormatWeighted)

	snap, err := h.store.Snapshot(datasetID)
	if err != nil {
		respondError(c, err)
		return
	}

	data, err := waveform.Export(snap, format)
	if err != nil {
		respondError(c, err)
		return
	}

	filename := fmt.Sprintf("%s_%s.csv", datasetID, format)
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "text/csv", data)
}

// handleSuggest asks the labeling collaborator for an advisory adjustment
// set, stores it as the suggested side-table, and returns the projection
// including the suggested shape. The user's adjustments are untouched.
func (h *APIHandler) handleSuggest(c *gin.Context) {
	datasetID := c.Param("datasetId")

	if !h.labeler.Available() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "AI suggestions not configured"})
		return
	}

	var req struct {
		Request string `json:"request"`
	}
	_ = c.ShouldBindJSON(&req)

	snap, err := h.store.Snapshot(datasetID)
	if err != nil {
		respondError(c, err)
		return
	}

	suggested, strategy, err := h.labeler.SuggestBalance(c.Request.Context(), snap, req.Request)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.store.SetSuggested(datasetID, suggested, strategy); err != nil {
		respondError(c, err)
		return
	}

	snap, err = h.store.Snapshot(datasetID)
	if err != nil {
		respondError(c, err)
		return
	}
	view, err := waveform.Project(snap, c.Query("mode"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *APIHandler) handleChat(c *gin.Context) {
	datasetID := c.Param("datasetId")

	if !h.labeler.Available() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "AI chat not configured"})
		return
	}

	var req struct {
		Message string `json:"message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expected {message: \"...\"}"})
		return
	}

	snap, err := h.store.Snapshot(datasetID)
	if err != nil {
		respondError(c, err)
		return
	}

	answer, err := h.labeler.Chat(c.Request.Context(), snap, req.Message)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"answer": answer})
}

func (h *APIHandler) handleDelete(c *gin.Context) {
	datasetID := c.Param("datasetId")

	if _, err := h.store.Status(datasetID); err != nil {
		respondError(c, err)
		return
	}

	h.store.Delete(datasetID)
	if h.dbStore != nil {
		if err := h.dbStore.DeleteDataset(c.Request.Context(), datasetID); err != nil {
			log.Printf("[API] Failed to delete persisted dataset %s: %v", datasetID, err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"deleted": datasetID})
}

// handleHealth reports engine status for service discovery and monitoring.
func (h *APIHandler) handleHealth(c *gin.Context) {
	dbConnected := false
	if h.dbStore != nil {
		dbConnected = h.dbStore.Ping(c.Request.Context()) == nil
	}

	c.JSON(http.StatusOK, gin.H{
		"status":           "operational",
		"datasets":         h.store.Count(),
		"activeIngestions": h.pipeline.Active(),
		"uptimeSeconds":    int64(h.store.Uptime().Seconds()),
		"aiEnabled":        h.labeler.Available(),
		"dbConnected":      dbConnected,
	})
}
