package health

import (
	"context"
	"net/http"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/protobuf/encoding/protojson"
)

// Check tests one dependency. A nil error means the dependency is usable.
type Check func(ctx context.Context) error

// Monitor publishes dependency health through the standard gRPC health
// service. The overall service ("") is SERVING only while every check passes;
// each check is also exposed under its own name.
type Monitor struct {
	server   *health.Server
	checks   map[string]Check
	interval time.Duration
	timeout  time.Duration
}

func NewMonitor(interval, timeout time.Duration, checks map[string]Check) *Monitor {
	server := health.NewServer()
	server.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	for name := range checks {
		server.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return &Monitor{server: server, checks: checks, interval: interval, timeout: timeout}
}

func (m *Monitor) Server() *health.Server {
	return m.server
}

// Run checks until ctx is done, then marks everything NOT_SERVING so load
// balancers drain the instance during shutdown.
func (m *Monitor) Run(ctx context.Context) error {
	m.refresh(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.server.Shutdown()
			return nil
		case <-ticker.C:
			m.refresh(ctx)
		}
	}
}

func (m *Monitor) refresh(ctx context.Context) bool {
	names := make([]string, 0, len(m.checks))
	for name := range m.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	healthy := true
	for _, name := range names {
		checkCtx, cancel := context.WithTimeout(ctx, m.timeout)
		err := m.checks[name](checkCtx)
		cancel()

		status := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			healthy = false
			status = healthpb.HealthCheckResponse_NOT_SERVING
			log.WithError(err).WithField("dependency", name).Warn("health check failed")
		}
		m.server.SetServingStatus(name, status)
	}

	if healthy {
		m.server.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	} else {
		m.server.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return healthy
}

func NewGRPCServer(monitor *Monitor) *grpc.Server {
	server := grpc.NewServer()
	healthpb.RegisterHealthServer(server, monitor.Server())
	reflection.Register(server)
	return server
}

// HTTPHandler answers with the same response the gRPC health service gives
// for the overall status, so plain HTTP health checks can use it too.
func (m *Monitor) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp, err := m.server.Check(r.Context(), &healthpb.HealthCheckRequest{Service: r.URL.Query().Get("service")})
		if err != nil {
			resp = &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVICE_UNKNOWN}
		}
		b, err := protojson.Marshal(resp)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		status := http.StatusOK
		if resp.Status != healthpb.HealthCheckResponse_SERVING {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if _, err = w.Write(b); err != nil {
			log.WithField("err", err).Error("write health response")
		}
	})
}
