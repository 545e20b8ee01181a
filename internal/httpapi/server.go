package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/MimeLyc/batch-transcriber/internal/aggregate"
	"github.com/MimeLyc/batch-transcriber/internal/batch"
	"github.com/MimeLyc/batch-transcriber/internal/jobs"
	"github.com/MimeLyc/batch-transcriber/internal/persistence"
	"github.com/MimeLyc/batch-transcriber/pkg/icron"
	"github.com/gin-gonic/gin"
)

// sweepSchedule reports the next stale sweep.
type sweepSchedule func(ref time.Time) (*icron.TriggerInfo, error)

// queueStats reports broker backlog for /health.
type queueStats interface {
	Stats(ctx context.Context) (persistence.QueueStats, error)
}

type Server struct {
	batches    *batch.Manager
	groups     *batch.GroupManager
	aggregator *aggregate.Aggregator

	engine jobs.EngineInfo
	sweep  sweepSchedule
	queue  queueStats

	router *gin.Engine
	server *http.Server
}

type Option func(*Server)

// WithEngineInfo sets the identifiers reported by /health and /settings.
func WithEngineInfo(info jobs.EngineInfo) Option {
	return func(s *Server) {
		s.engine = info
	}
}

func WithSweepSchedule(next func(ref time.Time) (*icron.TriggerInfo, error)) Option {
	return func(s *Server) {
		s.sweep = next
	}
}

// WithQueueStats adds per-state message counts to /health.
func WithQueueStats(q queueStats) Option {
	return func(s *Server) {
		s.queue = q
	}
}

func NewServer(batches *batch.Manager, groups *batch.GroupManager, aggregator *aggregate.Aggregator, opts ...Option) *Server {
	s := &Server{
		batches:    batches,
		groups:     groups,
		aggregator: aggregator,
		router:     gin.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router.Use(requestLogger(), gin.Recovery())
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	r := s.router
	r.GET("/", s.handleIndex)
	r.GET("/health", s.handleHealth)
	r.GET("/settings", s.handleSettings)

	r.POST("/transcribe/batch", s.handleCreateBatch)
	r.POST("/transcribe/batch/folder", s.handleCreateFolderBatch)
	r.POST("/transcribe/batch/folder/preview", s.handlePreviewFolder)

	r.GET("/batches/:id", s.handleBatchStatus)
	r.GET("/batches/:id/download", s.handleBatchArchive)
	r.GET("/batches/:id/download/txt", s.handleBatchText)

	r.POST("/batch-groups", s.handleCreateGroup)
	r.GET("/batch-groups/:id", s.handleGroupStatus)
	r.GET("/batch-groups/:id/download", s.handleGroupArchive)
	r.GET("/batch-groups/:id/download/txt", s.handleGroupText)

	r.GET("/jobs/:id", s.handleJobStatus)
	r.GET("/jobs/:id/download", s.handleJobDownload)
}
