package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/yoon0701/ZeroGravity/internal/dataset"
	"github.com/yoon0701/ZeroGravity/internal/detect"
	"github.com/yoon0701/ZeroGravity/internal/models"
	"github.com/yoon0701/ZeroGravity/internal/normalize"
	"github.com/yoon0701/ZeroGravity/internal/repository"
	"github.com/yoon0701/ZeroGravity/internal/service"
	"github.com/yoon0701/ZeroGravity/internal/synth"
)

// Pipelines are the generation runs the API may start. A nil pipeline is
// reported as unavailable.
type Pipelines struct {
	Spam            *service.SpamSynthesizer
	SpamDefaults    service.SpamOptions
	Augment         *service.HamAugmenter
	AugmentDefaults service.AugmentOptions
}

// Handler handles HTTP requests
type Handler struct {
	repo      *repository.RunRepository
	runner    *service.Runner
	pipelines Pipelines
	gatherer  prometheus.Gatherer
	version   string
	logger    *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(
	repo *repository.RunRepository,
	runner *service.Runner,
	pipelines Pipelines,
	gatherer prometheus.Gatherer,
	version string,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		repo:      repo,
		runner:    runner,
		pipelines: pipelines,
		gatherer:  gatherer,
		version:   version,
		logger:    logger,
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		// Runs
		api.GET("/runs", h.ListRuns)
		api.GET("/runs/:id", h.GetRun)
		api.POST("/runs/spam", h.StartSpam)
		api.POST("/runs/augment", h.StartAugment)

		// Data retrieval
		api.GET("/records", h.GetRecords)
		api.GET("/stats", h.GetStats)
		api.POST("/classify", h.Classify)

		// Export
		api.GET("/export/csv", h.ExportCSV)
		api.GET("/export/json", h.ExportJSON)
		api.GET("/export/xlsx", h.ExportXLSX)
	}

	r.GET("/health", h.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
}

// RunRequest overrides the configured options of a run. Zero values keep
// the defaults.
type RunRequest struct {
	In     string `json:"in"`
	Out    string `json:"out"`
	Target int    `json:"target" binding:"gte=0"`
	NPer   int    `json:"nper" binding:"gte=0"`
	Limit  int    `json:"limit" binding:"gte=0"`
	Seed   *int64 `json:"seed"`
}

// ClassifyRequest carries one message to inspect
type ClassifyRequest struct {
	Text string `json:"text" binding:"required"`
}

func bindRunRequest(c *gin.Context) (RunRequest, bool) {
	var req RunRequest
	if c.Request.ContentLength == 0 {
		return req, true
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return req, false
	}
	return req, true
}

func (h *Handler) start(c *gin.Context, kind models.RunKind, fn func(ctx context.Context, runID string) error) {
	runID, err := h.runner.Start(fn)
	switch {
	case errors.Is(err, service.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "run_id": h.runner.Current()})
		return
	case err != nil:
		h.logger.Error("Failed to start run", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server is shutting down"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"run_id":  runID,
		"kind":    kind,
		"status":  models.StatusPending,
		"message": "Run started. Check /api/v1/runs/" + runID + " for status",
	})
}

// StartSpam starts a background spam synthesis run
func (h *Handler) StartSpam(c *gin.Context) {
	if h.pipelines.Spam == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no LLM provider configured"})
		return
	}
	req, ok := bindRunRequest(c)
	if !ok {
		return
	}

	opts := h.pipelines.SpamDefaults
	if req.In != "" {
		opts.InPath = req.In
	}
	if req.Out != "" {
		opts.Output = req.Out
	}
	if req.Target > 0 {
		opts.Target = req.Target
	}
	if req.NPer > 0 {
		opts.NPer = req.NPer
	}
	if req.Limit > 0 {
		opts.Limit = req.Limit
	}
	if req.Seed != nil {
		opts.Seed = *req.Seed
	}

	h.start(c, models.RunSpam, func(ctx context.Context, runID string) error {
		opts.RunID = runID
		_, err := h.pipelines.Spam.Run(ctx, opts)
		return err
	})
}

// StartAugment starts a background ham augmentation run
func (h *Handler) StartAugment(c *gin.Context) {
	if h.pipelines.Augment == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no LLM provider configured"})
		return
	}
	req, ok := bindRunRequest(c)
	if !ok {
		return
	}

	opts := h.pipelines.AugmentDefaults
	if req.In != "" {
		opts.HamCSV = req.In
	}
	if req.Out != "" {
		opts.Output = req.Out
	}
	if req.Target > 0 {
		opts.Target = req.Target
	}
	if req.Seed != nil {
		opts.Seed = *req.Seed
	}

	h.start(c, models.RunAugment, func(ctx context.Context, runID string) error {
		opts.RunID = runID
		_, err := h.pipelines.Augment.Run(ctx, opts)
		return err
	})
}

// ListRuns returns recent runs
func (h *Handler) ListRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := h.repo.ListRuns(limit)
	if err != nil {
		h.logger.Error("Failed to list runs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":    runs,
		"total":   len(runs),
		"current": h.runner.Current(),
	})
}

// GetRun returns one run
func (h *Handler) GetRun(c *gin.Context) {
	run, err := h.repo.GetRun(c.Param("id"))
	if errors.Is(err, repository.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to get run", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get run"})
		return
	}

	c.JSON(http.StatusOK, run)
}

// parseLabel accepts "ham", "spam", "0" or "1".
func parseLabel(s string) (*models.Label, bool) {
	if s == "" {
		return nil, true
	}
	for l, name := range models.LabelNames {
		if strings.EqualFold(s, name) || s == strconv.Itoa(int(l)) {
			label := l
			return &label, true
		}
	}
	return nil, false
}

func (h *Handler) filter(c *gin.Context) (repository.RecordFilter, bool) {
	label, ok := parseLabel(c.Query("label"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid label (use ham, spam, 0 or 1)"})
		return repository.RecordFilter{}, false
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	return repository.RecordFilter{RunID: c.Query("run_id"), Label: label, Limit: limit}, true
}

// GetRecords returns stored rows
func (h *Handler) GetRecords(c *gin.Context) {
	f, ok := h.filter(c)
	if !ok {
		return
	}
	records, err := h.repo.GetRecords(f)
	if err != nil {
		h.logger.Error("Failed to get records", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get records"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"total":   len(records),
	})
}

// GetStats returns ledger statistics
func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.repo.GetStats()
	if err != nil {
		h.logger.Error("Failed to get stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// Classify reports the features and validation outcome of one message
func (h *Handler) Classify(c *gin.Context) {
	var req ClassifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	text := normalize.Normalize(req.Text)
	hasURL, hasPhone := detect.Features(text)
	resp := gin.H{
		"text":              text,
		"length":            normalize.RuneLen(text),
		"has_url":           hasURL,
		"has_phone":         hasPhone,
		"has_forbidden_pii": detect.HasForbiddenPII(text),
		"spam_valid":        true,
	}
	if err := synth.Check(text); err != nil {
		resp["spam_valid"] = false
		resp["reject_reason"] = synth.RejectReason(err)
	}

	c.JSON(http.StatusOK, resp)
}

// exportRows loads the rows to export, answering the request itself on error.
func (h *Handler) exportRows(c *gin.Context) ([]models.Record, bool) {
	f, ok := h.filter(c)
	if !ok {
		return nil, false
	}
	stored, err := h.repo.GetRecords(f)
	if err != nil {
		h.logger.Error("Failed to load records for export", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return nil, false
	}

	// Oldest first, like the table files.
	rows := make([]models.Record, len(stored))
	for i, r := range stored {
		rows[len(stored)-1-i] = r.Record
	}
	return rows, true
}

// ExportCSV exports stored rows in the dataset CSV format
func (h *Handler) ExportCSV(c *gin.Context) {
	rows, ok := h.exportRows(c)
	if !ok {
		return
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", "attachment; filename=dataset.csv")
	if err := dataset.Encode(c.Writer, rows); err != nil {
		h.logger.Error("Failed to export CSV", zap.Error(err))
	}
}

// ExportJSON exports stored rows as a JSON array
func (h *Handler) ExportJSON(c *gin.Context) {
	rows, ok := h.exportRows(c)
	if !ok {
		return
	}

	c.Header("Content-Type", "application/json")
	c.Header("Content-Disposition", "attachment; filename=dataset.json")

	encoder := json.NewEncoder(c.Writer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(rows); err != nil {
		h.logger.Error("Failed to export JSON", zap.Error(err))
	}
}

// ExportXLSX exports stored rows as a spreadsheet
func (h *Handler) ExportXLSX(c *gin.Context) {
	rows, ok := h.exportRows(c)
	if !ok {
		return
	}

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename=dataset.xlsx")
	if err := dataset.EncodeXLSX(c.Writer, rows); err != nil {
		h.logger.Error("Failed to export XLSX", zap.Error(err))
	}
}

// HealthCheck returns service health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "datagen",
		"version": h.version,
	})
}
