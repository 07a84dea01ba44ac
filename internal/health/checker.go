// Package health reports service readiness over gRPC.
package health

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name for the scheduler.
const ServiceName = "backroom.Scheduler"

const (
	defaultInterval = 15 * time.Second
	pingTimeout     = 5 * time.Second
)

// Pinger is satisfied by the turn store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker periodically pings the store and mirrors the result into a gRPC
// health server.
type Checker struct {
	pinger   Pinger
	interval time.Duration
	server   *grpchealth.Server
	logger   *slog.Logger
}

// NewChecker creates a checker. A non-positive interval uses the default.
func NewChecker(p Pinger, interval time.Duration, logger *slog.Logger) *Checker {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	srv := grpchealth.NewServer()
	srv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	srv.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Checker{pinger: p, interval: interval, server: srv, logger: logger}
}

// Server returns the underlying health server.
func (c *Checker) Server() *grpchealth.Server {
	return c.server
}

// Check pings the store once and updates the serving status.
func (c *Checker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	err := c.pinger.Ping(ctx)
	if err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		c.logger.Warn("Health check failed", "error", err)
	}
	c.server.SetServingStatus("", status)
	c.server.SetServingStatus(ServiceName, status)
	return err
}

// Start runs an immediate check and then one per interval until ctx is done.
func (c *Checker) Start(ctx context.Context) {
	_ = c.Check(ctx)
	ticker := time.NewTicker(c.interval)
	go func() {
		defer ticker.Stop()
		c.logger.Info("Health checker started", "interval", c.interval)

		for {
			select {
			case <-ticker.C:
				_ = c.Check(ctx)
			case <-ctx.Done():
				c.logger.Info("Health checker shutting down", "reason", ctx.Err())
				c.server.Shutdown()
				return
			}
		}
	}()
}

// NewGRPCServer returns a gRPC server exposing the checker's health service.
func NewGRPCServer(c *Checker, opts ...grpc.ServerOption) *grpc.Server {
	srv := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(srv, c.server)
	return srv
}
