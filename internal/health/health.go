// Package health checks the service dependencies and publishes the result
// over HTTP and the standard gRPC health protocol.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the gRPC health service name reported for the operator.
const ServiceName = "shsh.operator"

const defaultCheckTimeout = 5 * time.Second

// Check is a named dependency check.
type Check struct {
	Name  string
	Ping func(ctx context.Context) error
}

// Result is the outcome of one round of checks.
type Result struct {
	Healthy bool              `json:"healthy"`
	Checks  map[string]string `json:"checks"`
}

// Checker runs a fixed set of checks.
type Checker struct {
	checks  []Check
	timeout time.Duration
}

// NewChecker creates a checker. Checks with a nil Ping are ignored.
func NewChecker(timeout time.Duration, checks ...Check) *Checker {
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	c := &Checker{timeout: timeout}
	for _, check := range checks {
		if check.Ping != nil {
			c.checks = append(c.checks, check)
		}
	}
	return c
}

// Run checks every dependency concurrently.
func (c *Checker) Run(ctx context.Context) Result {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res := Result{Healthy: true, Checks: map[string]string{"api": "ok"}}
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, check := range c.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status := "ok"
			if err := check.Ping(ctx); err != nil {
				slog.Warn("Health check failed", "check", check.Name, "error", err)
				status = "unavailable"
			}
			mu.Lock()
			defer mu.Unlock()
			res.Checks[check.Name] = status
			if status != "ok" {
				res.Healthy = false
			}
		}()
	}
	wg.Wait()
	return res
}

// Server serves grpc.health.v1 with statuses refreshed from a Checker.
type Server struct {
	checker  *Checker
	interval time.Duration
	health   *grpchealth.Server
	grpc     *grpc.Server
}

// NewServer creates a gRPC health server. Reflection is enabled so tools like
// grpcurl can discover the service.
func NewServer(checker *Checker, interval time.Duration) *Server {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	hs := grpchealth.NewServer()
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	reflection.Register(gs)

	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	return &Server{checker: checker, interval: interval, health: hs, grpc: gs}
}

// Refresh runs the checks once and publishes the result.
func (s *Server) Refresh(ctx context.Context) Result {
	res := s.checker.Run(ctx)
	status := healthpb.HealthCheckResponse_SERVING
	if !res.Healthy {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return res
}

// Serve refreshes statuses every interval and serves on lis until ctx ends.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	go s.refreshLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.grpc.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpc.GracefulStop()
		<-errCh
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("serve grpc health: %w", err)
		}
		return nil
	}
}

func (s *Server) refreshLoop(ctx context.Context) {
	s.Refresh(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}
