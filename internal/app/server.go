package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

// serveHTTP runs srv until ctx is done, then shuts it down gracefully.
func serveHTTP(ctx context.Context, g *errgroup.Group, addr string, h *gin.Engine, timeout time.Duration, log zerolog.Logger) {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		log.Info().Msg("HTTP server stopped")
		return err
	})
}

func serveGRPC(ctx context.Context, g *errgroup.Group, lis net.Listener, s *grpc.Server, log zerolog.Logger) {
	g.Go(func() error {
		log.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
		return s.Serve(lis)
	})
	g.Go(func() error {
		<-ctx.Done()
		s.GracefulStop()
		log.Info().Msg("gRPC server stopped")
		return nil
	})
}
