package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"doorkeeper/internal/configbus"
	"doorkeeper/internal/embedding"
	"doorkeeper/internal/framehub"
	"doorkeeper/internal/identity"
	"doorkeeper/internal/logging"
	"doorkeeper/internal/runtime"
	"doorkeeper/internal/vision"
)

const (
	maxImageBytes   = 10 << 20
	defaultFPS      = 30
	shutdownTimeout = 5 * time.Second
)

// IdentityStore is the identity persistence the API manages.
type IdentityStore interface {
	AddIdentity(ctx context.Context, name string, level identity.AccessLevel) (*identity.Identity, error)
	GetIdentity(ctx context.Context, id int64) (*identity.Identity, error)
	ListIdentities(ctx context.Context) ([]identity.Identity, error)
	UpdateIdentity(ctx context.Context, id int64, update identity.Update) (*identity.Identity, error)
	DeleteIdentity(ctx context.Context, id int64) error
	AddSample(ctx context.Context, id int64, label string, vec embedding.Vector) (*identity.Identity, error)
	DeleteSample(ctx context.Context, id int64, label string) (*identity.Identity, error)
	ListSamples(ctx context.Context, id int64) ([]identity.Sample, error)
}

// ConfigBus exposes config bus sections.
type ConfigBus interface {
	Snapshot() map[string]configbus.Document
	Get(section string) (configbus.Document, error)
	Replace(ctx context.Context, section string, doc configbus.Document) (configbus.Document, error)
}

// VideoController controls the capture session.
type VideoController interface {
	Start(ctx context.Context) (string, error)
	Stop(ctx context.Context) (string, error)
	Toggle(ctx context.Context) (string, error)
	Status() runtime.Status
}

// Options wires the server to the daemon's components. Embedder, Hub, and
// Metrics are optional. Without Metrics the /metrics route is not mounted.
type Options struct {
	Bind      string
	Store     IdentityStore
	Bus       ConfigBus
	Video     VideoController
	Hub       *framehub.Hub
	Embedder  vision.Embedder
	Metrics   http.Handler
	Logger    *slog.Logger
	StreamFPS int
}

// Server serves the HTTP API.
type Server struct {
	opts   Options
	logger *slog.Logger
	router chi.Router

	listener net.Listener
	server   *http.Server
}

// New builds the router.
func New(opts Options) *Server {
	opts.Bind = strings.TrimSpace(opts.Bind)
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.StreamFPS <= 0 {
		opts.StreamFPS = defaultFPS
	}
	s := &Server{
		opts:   opts,
		logger: logging.NewComponentLogger(opts.Logger, "api-server"),
	}
	s.router = s.routes()
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, MessageResponse{Message: "ok"})
	})
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}

	r.Route("/users", func(r chi.Router) {
		r.Get("/", s.handleListUsers)
		r.Post("/", s.handleCreateUser)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetUser)
			r.Patch("/", s.handleUpdateUser)
			r.Delete("/", s.handleDeleteUser)
			r.Get("/images", s.handleListImages)
			r.Post("/images", s.handleAddImage)
			r.Delete("/images/{label}", s.handleDeleteImage)
		})
	})

	r.Route("/config", func(r chi.Router) {
		r.Get("/", s.handleGetConfig)
		r.Get("/{section}", s.handleGetSection)
		r.Put("/{section}", s.handleReplaceSection)
	})

	r.Route("/video", func(r chi.Router) {
		r.Post("/start", s.handleVideoStart)
		r.Post("/stop", s.handleVideoStop)
		r.Post("/toggle", s.handleVideoToggle)
		r.Get("/status", s.handleVideoStatus)
		r.Get("/stream", s.handleVideoStream)
		r.Get("/ws", s.handleVideoSocket)
	})
	return r
}

// Start listens on the bind address and serves until ctx is cancelled. An
// empty bind address disables the listener.
func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.opts.Bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.opts.Bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "api server error", "api_serve_failed", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening",
		logging.String(logging.FieldEventType, "api_listening"),
		logging.String("address", listener.Addr().String()),
	)
	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down.
func (s *Server) Stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}
