package redis_test

import (
	"context"
	"testing"
	"time"

	paymentredis "ms-fulfillment/internal/payment/redis"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestCaptureLockIntegration exercises the capture lock against a real
// Redis container.
func TestCaptureLockIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping Redis integration test in short mode")
	}

	ctx := context.Background()
	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:latest",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}
	defer redisContainer.Terminate(ctx)

	host, err := redisContainer.Host(ctx)
	require.NoError(t, err)
	port, err := redisContainer.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})
	defer client.Close()

	locks := paymentredis.NewLocks(client, 30*time.Second)

	ok, err := locks.AcquireCapture(ctx, "order-1", "worker-a")
	require.NoError(t, err)
	assert.True(t, ok, "Expected capture lock to be acquirable")

	ok, err = locks.AcquireCapture(ctx, "order-1", "worker-b")
	require.NoError(t, err)
	assert.False(t, ok, "Expected capture lock to be held")

	require.NoError(t, locks.ReleaseCapture(ctx, "order-1", "worker-a"))

	ok, err = locks.AcquireCapture(ctx, "order-1", "worker-b")
	require.NoError(t, err)
	assert.True(t, ok, "Expected capture lock to be acquirable after release")
}
