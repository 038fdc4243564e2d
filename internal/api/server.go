// Package api exposes the control plane over HTTP.
package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"

	"github.com/Autumn-27/ScopeSentry-sub000/internal/config"
	"github.com/Autumn-27/ScopeSentry-sub000/internal/dedup"
	"github.com/Autumn-27/ScopeSentry-sub000/internal/logger"
	"github.com/Autumn-27/ScopeSentry-sub000/internal/store"
	"github.com/Autumn-27/ScopeSentry-sub000/pkg/types"
)

// NodeService is the registry surface used by the node routes.
type NodeService interface {
	List(ctx context.Context) ([]types.Node, error)
	ListOnline(ctx context.Context) ([]string, error)
	SetState(ctx context.Context, name string, enabled bool) error
	Remove(ctx context.Context, name string) error
	Heartbeat(ctx context.Context, hb types.HeartbeatInfo) error
}

// LogReader reads a node's log buffer.
type LogReader interface {
	Read(ctx context.Context, name string) (string, error)
}

// CommandSender pushes control messages to nodes.
type CommandSender interface {
	Send(ctx context.Context, target string, t types.CommandType, content string) error
}

// Dispatcher starts and stops runs.
type Dispatcher interface {
	DispatchJob(ctx context.Context, kind types.JobKind, id types.JobID) error
	Stop(ctx context.Context, run types.RunID) error
	Pause(ctx context.Context, id types.JobID) error
	Resume(ctx context.Context, id types.JobID) error
}

// ProgressReader reports run progress.
type ProgressReader interface {
	Progress(ctx context.Context, kind types.JobKind, id types.JobID, run types.RunID) (float64, error)
	Detail(ctx context.Context, run types.RunID, targets []string) ([]types.TargetProgress, error)
}

// Scheduler toggles and triggers Scheduled Entries.
type Scheduler interface {
	Enable(ctx context.Context, id types.JobID) error
	Disable(ctx context.Context, id types.JobID) error
	Fire(ctx context.Context, id types.JobID) error
}

// Deduplicator runs dedup passes.
type Deduplicator interface {
	Run(ctx context.Context, collections []string) ([]dedup.Summary, error)
	RunConfigured(ctx context.Context) ([]dedup.Summary, error)
}

// ProjectLookup resolves project names.
type ProjectLookup interface {
	ID(ctx context.Context, name string) (string, bool, error)
}

// Deps are the components served by the API.
type Deps struct {
	Nodes     NodeService
	Logs      LogReader
	Commands  CommandSender
	Jobs      store.JobStore
	Dispatch  Dispatcher
	Progress  ProgressReader
	Scheduler Scheduler
	Dedup     Deduplicator
	Projects  ProjectLookup
}

// Server is the HTTP control API.
type Server struct {
	app    *fiber.App
	deps   Deps
	cfg    *config.ServerConfig
	logger *zap.Logger
	loc    *time.Location
}

// NewServer creates the server and registers its routes.
func NewServer(cfg *config.ServerConfig, deps Deps, loc *time.Location, l *zap.Logger) *Server {
	if l == nil {
		l = zap.NewNop()
	}
	app := fiber.New(fiber.Config{
		AppName:               "ScopeSentry",
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		ErrorHandler:          errorHandler,
		DisableStartupMessage: true,
	})
	s := &Server{app: app, deps: deps, cfg: cfg, logger: l.Named("api"), loc: loc}

	app.Use(recover.New(recover.Config{EnableStackTrace: true}), requestid.New(), logger.Middleware(s.logger))
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.app.Group("/api")

	n := api.Group("/node")
	n.Get("/data", s.nodeData)
	n.Get("/data/online", s.nodeOnline)
	n.Post("/state", s.nodeState)
	n.Post("/delete", s.nodeDelete)
	n.Post("/restart", s.nodeRestart)
	n.Post("/log", s.nodeLog)
	n.Post("/command", s.nodeCommand)
	n.Post("/heartbeat", s.nodeHeartbeat)

	t := api.Group("/task")
	t.Post("/dispatch", s.taskDispatch)
	t.Post("/stop", s.taskStop)
	t.Post("/pause", s.taskPause)
	t.Post("/resume", s.taskResume)
	t.Post("/progress", s.taskProgress)
	t.Post("/progress/info", s.taskProgressInfo)

	sc := api.Group("/scheduler")
	sc.Post("/enable", s.schedulerEnable)
	sc.Post("/disable", s.schedulerDisable)
	sc.Post("/trigger", s.schedulerTrigger)

	api.Post("/dedup/run", s.dedupRun)
	api.Get("/project/id", s.projectID)
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", zap.String("address", s.cfg.Address))
		errCh <- s.app.Listen(s.cfg.Address)
	}()

	select {
	case <-ctx.Done():
		return s.app.ShutdownWithTimeout(10 * time.Second)
	case err := <-errCh:
		return err
	}
}
