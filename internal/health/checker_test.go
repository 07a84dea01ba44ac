package health

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

type fakePinger struct {
	fail atomic.Bool
}

func (f *fakePinger) Ping(context.Context) error {
	if f.fail.Load() {
		return errors.New("database is locked")
	}
	return nil
}

func status(t *testing.T, c *Checker) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := c.Server().Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestChecker_TracksStore(t *testing.T) {
	p := &fakePinger{}
	c := NewChecker(p, time.Hour, nil)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, c))

	require.NoError(t, c.Check(context.Background()))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(t, c))

	p.fail.Store(true)
	assert.Error(t, c.Check(context.Background()))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, c))
}

func TestGRPCServer_ServesHealth(t *testing.T) {
	c := NewChecker(&fakePinger{}, time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	lis := bufconn.Listen(1 << 16)
	srv := NewGRPCServer(c)
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
