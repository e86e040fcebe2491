package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Probe reports whether a dependency is usable. A nil error means serving.
type Probe func(ctx context.Context) error

// HealthService serves the standard gRPC health protocol. Each registered
// probe is polled on an interval and its result published under its name;
// the overall ("") status is SERVING only while every probe passes.
type HealthService struct {
	addr     string
	interval time.Duration
	logger   *zap.Logger

	srv    *grpc.Server
	health *health.Server

	mu     sync.Mutex
	probes map[string]Probe
	lis    net.Listener
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHealthService creates a HealthService listening on addr.
//
// Precondition: interval > 0; logger must be non-nil.
func NewHealthService(addr string, interval time.Duration, logger *zap.Logger) *HealthService {
	h := &HealthService{
		addr:     addr,
		interval: interval,
		logger:   logger.Named("health"),
		srv:      grpc.NewServer(),
		health:   health.NewServer(),
		probes:   make(map[string]Probe),
	}
	healthpb.RegisterHealthServer(h.srv, h.health)
	h.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Register adds a named probe. Probes registered after Start are polled from
// the next interval on.
func (h *HealthService) Register(name string, p Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes[name] = p
	h.health.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
}

// Listen binds the listener without serving. Start calls it when needed.
func (h *HealthService) Listen() (net.Addr, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lis != nil {
		return h.lis.Addr(), nil
	}
	lis, err := net.Listen("tcp", h.addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", h.addr, err)
	}
	h.lis = lis
	return lis.Addr(), nil
}

// Start implements Service. It blocks serving health checks until Stop.
func (h *HealthService) Start() error {
	addr, err := h.Listen()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.mu.Lock()
	h.cancel = cancel
	h.done = make(chan struct{})
	lis := h.lis
	h.mu.Unlock()

	go h.poll(ctx)
	h.logger.Info("health endpoint listening", zap.String("addr", addr.String()))
	return h.srv.Serve(lis)
}

// Stop implements Service.
func (h *HealthService) Stop() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	h.health.Shutdown()
	h.srv.GracefulStop()
}

// Check runs every probe once and publishes the results.
//
// Postcondition: Returns true iff every probe passed.
func (h *HealthService) Check(ctx context.Context) bool {
	h.mu.Lock()
	probes := make(map[string]Probe, len(h.probes))
	for name, p := range h.probes {
		probes[name] = p
	}
	h.mu.Unlock()

	healthy := true
	for name, p := range probes {
		status := healthpb.HealthCheckResponse_SERVING
		pctx, cancel := context.WithTimeout(ctx, h.interval)
		err := p(pctx)
		cancel()
		if err != nil {
			healthy = false
			status = healthpb.HealthCheckResponse_NOT_SERVING
			h.logger.Warn("health probe failed", zap.String("probe", name), zap.Error(err))
		}
		h.health.SetServingStatus(name, status)
	}
	if healthy {
		h.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	} else {
		h.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return healthy
}

func (h *HealthService) poll(ctx context.Context) {
	defer close(h.done)
	h.Check(ctx)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Check(ctx)
		}
	}
}
