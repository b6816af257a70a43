package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer is a gRPC listener carrying only the standard health service.
// It reports NOT_SERVING until SetReady(true).
type HealthServer struct {
	grpcServer *grpc.Server
	health     *health.Server
	logger     *zap.SugaredLogger

	mu  sync.Mutex
	lis net.Listener
}

// NewHealthServer registers the health service on a new gRPC server.
func NewHealthServer(logger *zap.SugaredLogger) *HealthServer {
	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	return &HealthServer{
		grpcServer: grpcServer,
		health:     healthSrv,
		logger:     logger,
	}
}

// Listen binds addr.
func (h *HealthServer) Listen(addr string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lis != nil {
		return fmt.Errorf("gRPC health server already listening on %s", h.lis.Addr())
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind gRPC listener on %s: %w", addr, err)
	}
	h.lis = lis
	return nil
}

// Addr returns the bound address, or "" before Listen.
func (h *HealthServer) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lis == nil {
		return ""
	}
	return h.lis.Addr().String()
}

// SetReady flips the overall serving status.
func (h *HealthServer) SetReady(ready bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ready {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
}

// Serve blocks serving the bound listener until Stop.
func (h *HealthServer) Serve() error {
	h.mu.Lock()
	lis := h.lis
	h.mu.Unlock()
	if lis == nil {
		return errors.New("gRPC health server is not listening")
	}

	h.logger.Infof("gRPC health server started on %s", lis.Addr())
	if err := h.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop marks every service NOT_SERVING and stops gracefully, falling back
// to a hard stop when ctx expires first.
func (h *HealthServer) Stop(ctx context.Context) {
	h.health.Shutdown()

	done := make(chan struct{})
	go func() {
		h.grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		h.logger.Warn("gRPC graceful stop timed out, forcing stop")
		h.grpcServer.Stop()
		<-done
	}

	h.mu.Lock()
	if h.lis != nil {
		_ = h.lis.Close()
	}
	h.mu.Unlock()
}
