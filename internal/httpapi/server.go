// Package httpapi is the local control surface of the daemon. Every handler
// reaches the world manager through a rendezvous callback; nothing here
// touches simulation state from the HTTP goroutines directly.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"go.uber.org/zap"

	"github.com/shijimago/shijima/internal/config"
	"github.com/shijimago/shijima/internal/scripting"
	"github.com/shijimago/shijima/internal/world"
)

const prefix = "/shijima/api/v1"

// Syncer runs fn on the tick goroutine and waits for it.
type Syncer interface {
	RunSync(ctx context.Context, fn func(*world.Manager)) error
}

// Selectors evaluates selector expressions. Both methods are called from
// inside a Syncer callback.
type Selectors interface {
	CompileSelector(expr string) error
	Match(expr string, s scripting.Subject) (bool, error)
}

// Server serves the API on one listener.
type Server struct {
	cfg     config.APIConfig
	sync    Syncer
	sel     Selectors
	hub     *Hub
	schemas *schemaSet
	auth    *tokenAuth
	log     *zap.Logger

	srv *http.Server
	ln  net.Listener
}

func NewServer(cfg config.APIConfig, sync Syncer, sel Selectors, hub *Hub, log *zap.Logger) (*Server, error) {
	schemas, err := loadSchemas()
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:     cfg,
		sync:    sync,
		sel:     sel,
		hub:     hub,
		schemas: schemas,
		auth:    newTokenAuth(cfg.TokenHash),
		log:     log,
	}
	s.srv = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

// Handler is the full middleware chain: access log, then auth, then routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+prefix+"/ping", s.handlePing)
	mux.HandleFunc("GET "+prefix+"/mascots", s.handleListMascots)
	mux.HandleFunc("POST "+prefix+"/mascots", s.handleSpawnMascot)
	mux.HandleFunc("DELETE "+prefix+"/mascots", s.handleDeleteMascots)
	mux.HandleFunc("GET "+prefix+"/mascots/{id}", s.handleGetMascot)
	mux.HandleFunc("PUT "+prefix+"/mascots/{id}", s.handleUpdateMascot)
	mux.HandleFunc("DELETE "+prefix+"/mascots/{id}", s.handleDeleteMascot)
	mux.HandleFunc("GET "+prefix+"/loadedMascots", s.handleListTemplates)
	mux.HandleFunc("GET "+prefix+"/loadedMascots/{id}", s.handleGetTemplate)
	mux.HandleFunc("GET "+prefix+"/events", s.handleEvents)
	mux.HandleFunc("/", badRequest)
	return accessLog(s.log, s.auth.middleware(mux))
}

// Listen binds the configured address.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.BindAddress)
	if err != nil {
		return fmt.Errorf("api listen %s: %w", s.cfg.BindAddress, err)
	}
	s.ln = ln
	return nil
}

func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve runs in its own goroutine until Shutdown.
func (s *Server) Serve() {
	if err := s.srv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Error("api server stopped", zap.Error(err))
	}
}

// Shutdown stops accepting requests, disconnects event subscribers and waits
// for in-flight handlers.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}
	return s.srv.Shutdown(ctx)
}
