package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
)

func TestGRPCHealthServing(t *testing.T) {
	g := newGRPCHealth(zap.NewNop())
	var wg sync.WaitGroup
	require.NoError(t, g.start("127.0.0.1:0", &wg))

	conn, err := grpc.NewClient(g.addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client := grpc_health_v1.NewHealthClient(conn)

	for _, svc := range []string{"", ServiceName} {
		resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: svc})
		require.NoError(t, err)
		assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.GetStatus(), svc)
	}

	g.stop()
	wg.Wait()
}

func TestGRPCHealthStopWithoutStart(t *testing.T) {
	g := newGRPCHealth(zap.NewNop())
	g.stop()
	assert.Empty(t, g.addr())
}
