// Package api serves the job queue and live sweep progress over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/logging"
	"backtest-lab/internal/observability"
	"backtest-lab/internal/optimizer"
	"backtest-lab/internal/queue"
	"backtest-lab/internal/storage"
)

const (
	defaultListLimit      = 100
	defaultStreamInterval = time.Second
)

// JobControl pauses and inspects sweeps running in this process.
type JobControl interface {
	Pause(jobID string) bool
	Resume(jobID string) bool
	Progress(jobID string) (domain.OptimizationProgress, bool)
}

// Options for creating Server.
type Options struct {
	Coordinator *queue.Coordinator
	// Optional; pause and resume answer 404 without it
	Control        JobControl
	StreamInterval time.Duration // progress polling period of the WebSocket stream
	// Browser origins besides the API's own that may open the WebSocket stream
	AllowedOrigins []string
	Logger         *zap.Logger
}

// Server is the HTTP API.
type Server struct {
	coord    *queue.Coordinator
	control  JobControl
	interval time.Duration
	upgrader *websocket.Upgrader
	logger   *zap.Logger
	router   *gin.Engine
}

// NewServer creates a server and registers its routes.
func NewServer(opts Options) *Server {
	if opts.StreamInterval <= 0 {
		opts.StreamInterval = defaultStreamInterval
	}
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		coord:    opts.Coordinator,
		control:  opts.Control,
		interval: opts.StreamInterval,
		upgrader: newUpgrader(opts.AllowedOrigins),
		logger:   logging.OrNop(opts.Logger),
		router:   gin.New(),
	}
	s.router.Use(gin.Recovery())
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(observability.Handler()))

	api := s.router.Group("/api/v1")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/jobs", s.handleListJobs)
		api.POST("/jobs", s.handleEnqueue)
		api.GET("/jobs/:id", s.handleGetJob)
		api.POST("/jobs/:id/cancel", s.handleCancel)
		api.POST("/jobs/:id/pause", s.handlePause)
		api.POST("/jobs/:id/resume", s.handleResume)
		api.GET("/ws/jobs/:id", s.handleStream)
	}
}

// EnqueueRequest is the body of POST /api/v1/jobs.
type EnqueueRequest struct {
	Spec        domain.OptimizationSpec `json:"spec"`
	Priority    int                     `json:"priority"`
	SubmittedBy string                  `json:"submitted_by"`
}

// JobView is the JSON form of a job.
type JobView struct {
	ID            string                       `json:"id"`
	Status        domain.JobStatus             `json:"status"`
	Priority      int                          `json:"priority"`
	SubmittedBy   string                       `json:"submitted_by,omitempty"`
	WorkerID      string                       `json:"worker_id,omitempty"`
	CreatedAt     int64                        `json:"created_at"`
	StartedAt     int64                        `json:"started_at,omitempty"`
	LastHeartbeat int64                        `json:"last_heartbeat,omitempty"`
	FinishedAt    int64                        `json:"finished_at,omitempty"`
	Progress      *domain.OptimizationProgress `json:"progress,omitempty"`
	Fraction      float64                      `json:"fraction"`
	ResultPath    string                       `json:"result_path,omitempty"`
	ErrorMessage  string                       `json:"error_message,omitempty"`
	Spec          json.RawMessage              `json:"spec,omitempty"`
}

// NewJobView converts a job. Parameters that are not JSON are omitted.
func NewJobView(j *domain.OptimizationJob) JobView {
	v := JobView{
		ID:            j.ID,
		Status:        j.Status,
		Priority:      j.Priority,
		SubmittedBy:   j.SubmittedBy,
		WorkerID:      j.WorkerID,
		CreatedAt:     j.CreatedAt,
		StartedAt:     j.StartedAt,
		LastHeartbeat: j.LastHeartbeat,
		FinishedAt:    j.FinishedAt,
		Progress:      j.Progress,
		ResultPath:    j.ResultPath,
		ErrorMessage:  j.ErrorMessage,
	}
	if j.Progress != nil {
		v.Fraction = j.Progress.Fraction()
	}
	if json.Valid(j.Parameters) {
		v.Spec = json.RawMessage(j.Parameters)
	}
	return v
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	st, err := s.coord.Status(c.Request.Context())
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"queued":               st.Queued,
		"running":              st.Running,
		"completed":            st.Completed,
		"failed":               st.Failed,
		"cancelled":            st.Cancelled,
		"total":                st.Total(),
		"oldest_queued_age_ms": st.OldestQueuedAge,
	})
}

func (s *Server) handleListJobs(c *gin.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	jobs, err := s.coord.List(c.Request.Context(), domain.JobStatus(c.Query("status")), limit)
	if errors.Is(err, storage.ErrInvalidInput) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}
	views := make([]JobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, NewJobView(j))
	}
	c.JSON(http.StatusOK, gin.H{"jobs": views})
}

func (s *Server) handleEnqueue(c *gin.Context) {
	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	params, err := optimizer.EncodeSpec(&req.Spec)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	job, err := s.coord.Enqueue(c.Request.Context(), params, req.Priority, req.SubmittedBy)
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusCreated, NewJobView(job))
}

func (s *Server) handleGetJob(c *gin.Context) {
	job, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.liveView(job))
}

func (s *Server) handleCancel(c *gin.Context) {
	job, ok := s.lookup(c)
	if !ok {
		return
	}
	cancelled, err := s.coord.Cancel(c.Request.Context(), job.ID)
	if err != nil {
		s.internalError(c, err)
		return
	}
	if !cancelled {
		c.JSON(http.StatusConflict, gin.H{"error": "job is " + string(job.Status)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": job.ID, "status": domain.JobStatusCancelled})
}

func (s *Server) handlePause(c *gin.Context) {
	s.setPaused(c, true)
}

func (s *Server) handleResume(c *gin.Context) {
	s.setPaused(c, false)
}

func (s *Server) setPaused(c *gin.Context, paused bool) {
	id := c.Param("id")
	var ok bool
	switch {
	case s.control == nil:
	case paused:
		ok = s.control.Pause(id)
	default:
		ok = s.control.Resume(id)
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job is not running in this process"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "paused": paused})
}

// lookup loads the job named by the path, answering 404 when it is unknown.
func (s *Server) lookup(c *gin.Context) (*domain.OptimizationJob, bool) {
	job, err := s.coord.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return nil, false
	}
	if err != nil {
		s.internalError(c, err)
		return nil, false
	}
	return job, true
}

func (s *Server) internalError(c *gin.Context, err error) {
	s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
