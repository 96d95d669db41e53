// Package api hosts the quantsim network surfaces: the HTTP REST handler,
// the quantsim.JobService gRPC service and the WebSocket progress hub.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"
)

// Server runs the HTTP and gRPC listeners.
type Server struct {
	httpAddr string
	grpcAddr string
	http     *http.Server
	grpc     *grpc.Server
	log      *slog.Logger
}

// NewServer creates a Server serving handler on httpAddr and jobs on
// grpcAddr. An empty grpcAddr disables gRPC.
func NewServer(httpAddr, grpcAddr string, handler http.Handler, jobs *JobService) *Server {
	s := &Server{
		httpAddr: httpAddr,
		grpcAddr: grpcAddr,
		http: &http.Server{
			Addr:              httpAddr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: slog.Default().With("component", "api-server"),
	}
	if grpcAddr != "" && jobs != nil {
		s.grpc = grpc.NewServer()
		jobs.RegisterGRPC(s.grpc)
	}
	return s
}

// ListenAndServe starts both listeners and blocks until ctx is cancelled
// or one of them fails. Shutdown is graceful in both cases.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errc := make(chan error, 2)

	go func() {
		s.log.Info("http listening", "addr", s.httpAddr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http server: %w", err)
		}
	}()

	if s.grpc != nil {
		lis, err := net.Listen("tcp", s.grpcAddr)
		if err != nil {
			_ = s.http.Close()
			return fmt.Errorf("listening on %s: %w", s.grpcAddr, err)
		}
		go func() {
			s.log.Info("grpc listening", "addr", s.grpcAddr)
			if err := s.grpc.Serve(lis); err != nil {
				errc <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errc:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := s.Shutdown(shutdownCtx); serr != nil && err == nil {
		err = serr
	}
	return err
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.grpc != nil {
		done := make(chan struct{})
		go func() {
			s.grpc.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			s.grpc.Stop()
		}
	}
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.log.Info("server stopped")
	return nil
}
