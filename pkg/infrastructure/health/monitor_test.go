package health

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func status(t *testing.T, m *Monitor, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := m.Server().Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.Status
}

func TestMonitorRefresh(t *testing.T) {
	var redisErr error
	monitor := NewMonitor(time.Second, 100*time.Millisecond, map[string]Check{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return redisErr },
	})
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, monitor, ""))

	assert.True(t, monitor.refresh(context.Background()))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(t, monitor, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(t, monitor, "redis"))

	redisErr = errors.New("connection refused")
	assert.False(t, monitor.refresh(context.Background()))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, monitor, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, monitor, "redis"))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(t, monitor, "database"))
}

func TestGRPCHealthEndpoint(t *testing.T) {
	monitor := NewMonitor(time.Hour, time.Second, map[string]Check{
		"database": func(context.Context) error { return nil },
	})
	monitor.refresh(context.Background())

	listener := bufconn.Listen(1 << 20)
	server := NewGRPCServer(monitor)
	go func() { _ = server.Serve(listener) }()
	defer server.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return listener.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

func TestMonitorRunStopsOnCancel(t *testing.T) {
	monitor := NewMonitor(10*time.Millisecond, time.Second, map[string]Check{
		"database": func(context.Context) error { return nil },
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- monitor.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, monitor, ""))
}

func TestHTTPHandler(t *testing.T) {
	var dbErr error
	monitor := NewMonitor(time.Hour, time.Second, map[string]Check{
		"database": func(context.Context) error { return dbErr },
	})
	monitor.refresh(context.Background())

	rec := httptest.NewRecorder()
	monitor.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"SERVING"}`, rec.Body.String())

	dbErr = errors.New("too many connections")
	monitor.refresh(context.Background())

	rec = httptest.NewRecorder()
	monitor.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz?service=database", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"NOT_SERVING"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	monitor.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz?service=kafka", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
