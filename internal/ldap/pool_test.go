package ldap

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPoolConfig() *ConnectionConfig {
	config := DefaultConfig()
	config.LDAPURLs = []string{"ldaps://ldap1.example.com:636", "ldap://ldap2.example.com:389"}
	config.HealthCheck = 0
	return config
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.NotNil(t, config)

	assert.True(t, config.UseTLS, "default config should use TLS")
	assert.False(t, config.SkipTLS)
	require.NotNil(t, config.TLSConfig)
	assert.False(t, config.TLSConfig.InsecureSkipVerify)

	assert.Equal(t, 10, config.MaxConnections)
	assert.Equal(t, 5*time.Minute, config.MaxIdleTime)
	assert.Equal(t, 30*time.Second, config.Timeout)
	assert.Equal(t, 3, config.MaxRetries)
	assert.Equal(t, uint32(1000), config.PageSize)
	assert.NoError(t, validateConfig(config))
}

func TestValidateConfig(t *testing.T) {
	valid := func() *ConnectionConfig {
		return &ConnectionConfig{
			MaxConnections: 10,
			MaxIdleTime:    5 * time.Minute,
			Timeout:        30 * time.Second,
			MaxRetries:     3,
			BackoffFactor:  2.0,
		}
	}

	tests := []struct {
		name   string
		mutate func(*ConnectionConfig)
		valid  bool
	}{
		{"valid config", func(*ConnectionConfig) {}, true},
		{"zero max connections", func(c *ConnectionConfig) { c.MaxConnections = 0 }, false},
		{"too many max connections", func(c *ConnectionConfig) { c.MaxConnections = MaxConnectionPoolLimit + 1 }, false},
		{"zero max idle time", func(c *ConnectionConfig) { c.MaxIdleTime = 0 }, false},
		{"zero timeout", func(c *ConnectionConfig) { c.Timeout = 0 }, false},
		{"negative max retries", func(c *ConnectionConfig) { c.MaxRetries = -1 }, false},
		{"backoff factor of one", func(c *ConnectionConfig) { c.BackoffFactor = 1.0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid()
			tt.mutate(config)
			err := validateConfig(config)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestNewConnectionPool(t *testing.T) {
	ctx := context.Background()

	t.Run("requires domain or URLs", func(t *testing.T) {
		config := testPoolConfig()
		config.LDAPURLs = nil
		_, err := NewConnectionPool(ctx, config)
		assert.Error(t, err)
	})

	t.Run("rejects unsupported scheme", func(t *testing.T) {
		config := testPoolConfig()
		config.LDAPURLs = []string{"https://ldap1.example.com"}
		_, err := NewConnectionPool(ctx, config)
		assert.Error(t, err)
	})

	t.Run("does not dial on creation", func(t *testing.T) {
		pool, err := NewConnectionPool(ctx, testPoolConfig())
		require.NoError(t, err)
		defer pool.Close()

		stats := pool.Stats()
		assert.Zero(t, stats.Active)
		assert.Zero(t, stats.Created)
		assert.Len(t, pool.(*connectionPool).servers, 2)
	})
}

func TestConnectionPool_Close(t *testing.T) {
	pool, err := NewConnectionPool(context.Background(), testPoolConfig())
	require.NoError(t, err)

	require.NoError(t, pool.Close())
	assert.NoError(t, pool.Close(), "second close is a no-op")

	_, err = pool.Get(context.Background())
	assert.Error(t, err, "closed pool must not hand out connections")
	assert.Error(t, pool.HealthCheck(context.Background()))
}

func TestConnectionPool_HealthLoopStopsOnClose(t *testing.T) {
	config := testPoolConfig()
	config.HealthCheck = time.Minute
	config.Clock = testclock.NewClock(time.Now())

	pool, err := NewConnectionPool(context.Background(), config)
	require.NoError(t, err)
	assert.NoError(t, pool.Close())
}

func TestConnectionPool_HealthLoopDropsDeadConnections(t *testing.T) {
	clk := testclock.NewClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	config := testPoolConfig()
	config.HealthCheck = time.Minute
	config.Clock = clk

	pool, err := NewConnectionPool(context.Background(), config)
	require.NoError(t, err)
	defer pool.Close()
	p := pool.(*connectionPool)

	p.idle <- &PooledConnection{healthy: true, lastUsed: clk.Now()}
	p.idle <- &PooledConnection{healthy: true, lastUsed: clk.Now()}
	require.Equal(t, 2, pool.Stats().Idle)

	require.NoError(t, clk.WaitAdvance(time.Minute, time.Second, 1))
	assert.Eventually(t, func() bool {
		return pool.Stats().Unhealthy == 2
	}, time.Second, 10*time.Millisecond)
	assert.Zero(t, pool.Stats().Idle)
}

func TestConnectionPool_RetryBackoff(t *testing.T) {
	clk := testclock.NewClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	config := testPoolConfig()
	config.Clock = clk
	config.MaxRetries = 2
	config.InitialBackoff = 2 * time.Second
	config.MaxBackoff = 3 * time.Second

	pool, err := NewConnectionPool(context.Background(), config)
	require.NoError(t, err)
	defer pool.Close()
	p := pool.(*connectionPool)

	var dials atomic.Int32
	refused := errors.New("connection refused")
	p.dial = func(*ServerInfo) (*ldap.Conn, error) {
		dials.Add(1)
		return nil, refused
	}

	done := make(chan error, 1)
	go func() {
		_, err := pool.Get(context.Background())
		done <- err
	}()

	// Two servers per round; the second wait is capped by MaxBackoff.
	require.NoError(t, clk.WaitAdvance(2*time.Second, time.Second, 1))
	require.NoError(t, clk.WaitAdvance(3*time.Second, time.Second, 1))

	select {
	case err := <-done:
		var connErr *ConnectionError
		require.ErrorAs(t, err, &connErr)
		assert.True(t, connErr.IsRetryable())
		assert.ErrorIs(t, err, refused)
	case <-time.After(5 * time.Second):
		t.Fatal("Get did not give up after the last round")
	}
	assert.Equal(t, int32(6), dials.Load())
	assert.Equal(t, int64(6), pool.Stats().Errors)
	assert.Zero(t, pool.Stats().Active)
}

func TestConnectionPool_RetryStopsOnCancel(t *testing.T) {
	config := testPoolConfig()
	config.Clock = testclock.NewClock(time.Now())

	pool, err := NewConnectionPool(context.Background(), config)
	require.NoError(t, err)
	defer pool.Close()
	pool.(*connectionPool).dial = func(*ServerInfo) (*ldap.Conn, error) {
		return nil, errors.New("connection refused")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pool.Get(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPooledConnection(t *testing.T) {
	server := &ServerInfo{Host: "ldap1.example.com", Port: 636, UseTLS: true, Source: "test"}
	conn := &PooledConnection{
		lastUsed:   time.Now(),
		healthy:    true,
		serverInfo: server,
	}

	assert.Same(t, server, conn.ServerInfo())
	assert.Nil(t, conn.Conn())

	conn.discard()
	assert.False(t, conn.healthy)

	assert.NotPanics(t, conn.Close, "Close without a pool must not panic")
}

func TestConnectionPool_Reusable(t *testing.T) {
	clk := testclock.NewClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	config := testPoolConfig()
	config.Username = "cn=admin,dc=example,dc=com"
	config.Password = "secret"
	p := &connectionPool{config: config, clock: clk}

	client, _ := net.Pipe()
	t.Cleanup(func() { client.Close() })
	live := func() *PooledConnection {
		return &PooledConnection{
			conn:          ldap.NewConn(client, false),
			healthy:       true,
			authenticated: true,
			authTime:      clk.Now(),
			lastUsed:      clk.Now(),
		}
	}

	assert.False(t, p.reusable(nil))
	assert.False(t, p.reusable(&PooledConnection{healthy: true}), "missing conn is unhealthy")
	assert.True(t, p.reusable(live()))

	unbound := live()
	unbound.authenticated = false
	assert.False(t, p.reusable(unbound), "a connection re-bound as a user is never reused")

	stale := live()
	clk.Advance(config.MaxIdleTime)
	assert.False(t, p.reusable(stale), "idle for MaxIdleTime")

	t.Run("bind age", func(t *testing.T) {
		assert.True(t, p.bindExpired(nil))
		assert.True(t, p.bindExpired(&PooledConnection{}))
		assert.False(t, p.bindExpired(&PooledConnection{authenticated: true, authTime: clk.Now()}))
		assert.True(t, p.bindExpired(&PooledConnection{
			authenticated: true,
			authTime:      clk.Now().Add(-2 * maxAuthAge),
		}))
	})
}

func TestConnectionPool_StatsUptime(t *testing.T) {
	clk := testclock.NewClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	config := testPoolConfig()
	config.Clock = clk

	pool, err := NewConnectionPool(context.Background(), config)
	require.NoError(t, err)
	defer pool.Close()

	clk.Advance(90 * time.Second)
	assert.Equal(t, 90*time.Second, pool.Stats().Uptime)
}

func TestConnectionError(t *testing.T) {
	err := NewConnectionError("test operation failed", true, nil)
	assert.Equal(t, "test operation failed", err.Error())
	assert.True(t, err.IsRetryable())

	cause := NewConnectionError("underlying error", false, nil)
	wrapped := NewConnectionError("wrapped error", true, cause)
	assert.Equal(t, error(cause), wrapped.Unwrap())
	assert.Equal(t, "wrapped error: underlying error", wrapped.Error())
}

func BenchmarkValidateConfig(b *testing.B) {
	config := DefaultConfig()
	for b.Loop() {
		if err := validateConfig(config); err != nil {
			b.Fatalf("Config validation failed: %v", err)
		}
	}
}
