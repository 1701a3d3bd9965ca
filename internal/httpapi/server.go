package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	logx "penwatch/pkg/logx"
)

// Server wraps the admin API's http.Server with context-driven shutdown.
type Server struct {
	srv *http.Server
	log logx.Logger
}

func NewServer(addr string, h *Handler, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       90 * time.Second,
		},
		log: log,
	}
}

// Run serves until ctx is canceled, then drains with a bounded grace period.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http api listening", logx.String("addr", s.srv.Addr))
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shCtx); err != nil {
		s.log.Warn("http shutdown", logx.Err(err))
		return err
	}
	s.log.Info("http api stopped")
	return nil
}
