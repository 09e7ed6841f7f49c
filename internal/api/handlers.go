package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/alejo-valencia/onefinance/internal/models"
	"github.com/alejo-valencia/onefinance/internal/repository"
	"github.com/alejo-valencia/onefinance/internal/service"
	"github.com/gin-gonic/gin"
)

// JobStore is the job surface the handlers need.
type JobStore interface {
	Create(ctx context.Context, batchLimit int) (*models.ProcessingJob, error)
	GetByID(ctx context.Context, id string) (*models.ProcessingJob, error)
	GetLatest(ctx context.Context) (*models.ProcessingJob, error)
	Fail(ctx context.Context, id string, errText string) error
}

// Processor runs one batch against a pending job.
type Processor interface {
	Run(ctx context.Context, jobID string, limit int) (*service.BatchResult, error)
}

// Sync is the orchestrator surface the handlers need.
type Sync interface {
	Start(ctx context.Context) (int, error)
	Fetch(ctx context.Context, lookbackHours int) error
	Status(ctx context.Context) (*models.SyncStatus, error)
}

// TransactionLister reads trackable transactions for the query surface.
type TransactionLister interface {
	ListTrackable(ctx context.Context, limit int) ([]models.Transaction, error)
}

// Handlers are the thin HTTP layer: input validation and response shaping
// only, all pipeline logic lives in the services.
type Handlers struct {
	jobs         JobStore
	processor    Processor
	sync         Sync
	transactions TransactionLister

	defaultLimit int
	// runTimeout bounds the detached batch goroutine; slightly above the
	// processor's own budget so the loop always exits cleanly first.
	runTimeout time.Duration
}

func NewHandlers(jobs JobStore, processor Processor, sync Sync, transactions TransactionLister, defaultLimit int, batchBudget time.Duration) *Handlers {
	return &Handlers{
		jobs:         jobs,
		processor:    processor,
		sync:         sync,
		transactions: transactions,
		defaultLimit: defaultLimit,
		runTimeout:   batchBudget + time.Minute,
	}
}

// Router builds the gin engine with all routes registered.
func (h *Handlers) Router() *gin.Engine {
	r := gin.Default()

	api := r.Group("/api")
	{
		api.POST("/process", h.triggerProcess)
		api.GET("/jobs/latest", h.getLatestJob)
		api.GET("/jobs/:id", h.getJob)
		api.POST("/sync", h.triggerSync)
		api.GET("/sync/status", h.getSyncStatus)
		api.GET("/transactions", h.listTransactions)
	}

	return r
}

type processRequest struct {
	Limit int `json:"limit"`
}

// triggerProcess creates a pending job and returns its ID immediately; the
// batch proceeds in a detached goroutine with its own error boundary.
func (h *Handlers) triggerProcess(c *gin.Context) {
	var req processRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	limit := req.Limit
	if limit <= 0 {
		limit = h.defaultLimit
	}

	job, err := h.jobs.Create(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create job"})
		return
	}

	go h.runDetached(job.ID, limit)

	c.JSON(http.StatusAccepted, gin.H{
		"job_id": job.ID,
		"status": job.Status,
	})
}

// runDetached executes the batch outside the request lifecycle. Failures are
// written back into the job record, never surfaced as a response.
func (h *Handlers) runDetached(jobID string, limit int) {
	ctx, cancel := context.WithTimeout(context.Background(), h.runTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("Panic in processing run %s: %v", jobID, r)
			_ = h.jobs.Fail(context.Background(), jobID, fmt.Sprintf("panic: %v", r))
		}
	}()

	if _, err := h.processor.Run(ctx, jobID, limit); err != nil {
		log.Printf("Processing run %s failed: %v", jobID, err)
	}
}

func (h *Handlers) getJob(c *gin.Context) {
	job, err := h.jobs.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get job"})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *Handlers) getLatestJob(c *gin.Context) {
	job, err := h.jobs.GetLatest(c.Request.Context())
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no jobs yet"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get job"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// triggerSync takes the single-flight slot and kicks off the fetch in the
// background, answering 409 when a sync is already running.
func (h *Handlers) triggerSync(c *gin.Context) {
	hours, err := h.sync.Start(c.Request.Context())
	if err != nil {
		if errors.Is(err, repository.ErrSyncInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": "a sync is already in progress"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start sync"})
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.runTimeout)
		defer cancel()
		if err := h.sync.Fetch(ctx, hours); err != nil {
			log.Printf("Sync fetch failed: %v", err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"status":         models.SyncStatusFetching,
		"lookback_hours": hours,
	})
}

func (h *Handlers) getSyncStatus(c *gin.Context) {
	status, err := h.sync.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get sync status"})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handlers) listTransactions(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	txs, err := h.transactions.ListTrackable(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list transactions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs, "count": len(txs)})
}
