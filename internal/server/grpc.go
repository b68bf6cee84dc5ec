package server

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the gRPC health service name reported alongside "".
const ServiceName = "kubilitics.anomaly.v1.AnomalyService"

// grpcHealth serves the standard grpc.health.v1 protocol so orchestrators
// can check the service without HTTP.
type grpcHealth struct {
	server       *grpc.Server
	healthServer *health.Server
	logger       *zap.Logger

	mu       sync.Mutex
	listener net.Listener
}

func newGRPCHealth(logger *zap.Logger) *grpcHealth {
	s := grpc.NewServer(
		grpc.MaxRecvMsgSize(1<<20),
		grpc.ConnectionTimeout(30*time.Second),
	)
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(s, hs)
	reflection.Register(s)

	return &grpcHealth{server: s, healthServer: hs, logger: logger.Named("grpc")}
}

func (g *grpcHealth) start(addr string, wg *sync.WaitGroup) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	g.mu.Lock()
	g.listener = ln
	g.mu.Unlock()

	g.setServing(true)
	g.logger.Info("gRPC health server starting", zap.String("addr", ln.Addr().String()))

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			g.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()
	return nil
}

// addr returns the listen address, or "" when not started.
func (g *grpcHealth) addr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listener == nil {
		return ""
	}
	return g.listener.Addr().String()
}

func (g *grpcHealth) setServing(ok bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if ok {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	g.healthServer.SetServingStatus("", status)
	g.healthServer.SetServingStatus(ServiceName, status)
}

// stop marks the service not serving and stops gracefully, forcing after 5s.
func (g *grpcHealth) stop() {
	g.setServing(false)
	if g.addr() == "" {
		return
	}
	g.logger.Info("stopping gRPC server")

	stopped := make(chan struct{})
	go func() {
		g.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		g.logger.Info("gRPC server stopped gracefully")
	case <-time.After(5 * time.Second):
		g.logger.Warn("gRPC server forced to stop after timeout")
		g.server.Stop()
	}
}
