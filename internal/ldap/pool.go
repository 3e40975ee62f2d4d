package ldap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	"github.com/juju/clock"
	"gopkg.in/tomb.v2"
)

// MaxConnectionPoolLimit caps ConnectionConfig.MaxConnections.
const MaxConnectionPoolLimit = 100

// maxAuthAge bounds how long a pooled bind is trusted before re-binding.
const maxAuthAge = 5 * time.Minute

// idleSample is how many idle connections one health pass probes.
const idleSample = 3

var errPoolClosed = errors.New("connection pool is closed")

// connectionPool hands out bound connections to the configured servers.
// Idle connections wait in a buffered channel; anything that cannot be
// parked there is closed.
type connectionPool struct {
	ctx     context.Context
	config  *ConnectionConfig
	clock   clock.Clock
	dial    func(server *ServerInfo) (*ldap.Conn, error)
	servers []*ServerInfo
	idle    chan *PooledConnection
	started time.Time

	mu     sync.RWMutex
	closed bool
	tomb   tomb.Tomb // runs healthLoop only when HealthCheck is set

	active    atomic.Int64
	created   atomic.Int64
	failures  atomic.Int64
	unhealthy atomic.Int64
}

// NewConnectionPool resolves the server list and, when HealthCheck is set,
// starts probing idle connections. No connection is opened until Get.
func NewConnectionPool(ctx context.Context, config *ConnectionConfig) (ConnectionPool, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	clk := config.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	p := &connectionPool{
		ctx:     ctx,
		config:  config,
		clock:   clk,
		idle:    make(chan *PooledConnection, config.MaxConnections),
		started: clk.Now(),
	}
	p.dial = p.dialServer

	servers, err := resolveServers(ctx, config)
	if err != nil {
		return nil, err
	}
	p.servers = servers

	if config.HealthCheck > 0 {
		p.tomb.Go(p.healthLoop)
	}

	tflog.SubsystemDebug(ctx, Subsystem, "Connection pool created", map[string]any{
		"server_count":    len(servers),
		"max_connections": config.MaxConnections,
	})
	return p, nil
}

// resolveServers prefers explicit URLs and otherwise asks DNS.
func resolveServers(ctx context.Context, config *ConnectionConfig) ([]*ServerInfo, error) {
	if len(config.LDAPURLs) > 0 {
		servers := make([]*ServerInfo, 0, len(config.LDAPURLs))
		for _, raw := range config.LDAPURLs {
			server, err := ParseLDAPURL(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid LDAP URL %s: %w", raw, err)
			}
			servers = append(servers, server)
		}
		return servers, nil
	}
	if config.Domain == "" {
		return nil, errors.New("either domain or LDAP URLs must be specified")
	}

	lookupCtx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()
	servers, err := NewSRVDiscovery(ctx).DiscoverServers(lookupCtx, config.Domain)
	if err != nil {
		return nil, fmt.Errorf("server discovery failed: %w", err)
	}
	if len(servers) == 0 {
		return nil, errors.New("no servers discovered")
	}
	return servers, nil
}

func (p *connectionPool) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// Get returns an idle connection when one is still usable, otherwise it
// opens a new one.
func (p *connectionPool) Get(ctx context.Context) (*PooledConnection, error) {
	if p.isClosed() {
		return nil, errPoolClosed
	}

	select {
	case pc := <-p.idle:
		if p.reusable(pc) && p.rebindIfStale(pc) == nil {
			pc.lastUsed = p.clock.Now()
			p.active.Add(1)
			return pc, nil
		}
		p.destroy(pc)
	default:
	}
	return p.connect(ctx)
}

// connect walks the server list up to MaxRetries+1 times, sleeping on the
// pool clock between rounds.
func (p *connectionPool) connect(ctx context.Context) (*PooledConnection, error) {
	var lastErr error
	backoff := p.config.InitialBackoff

	for round := 0; ; round++ {
		for _, server := range p.servers {
			pc, err := p.open(server)
			if err != nil {
				lastErr = err
				p.failures.Add(1)
				LogConnectionEvent(p.ctx, "connection_failed", map[string]any{
					"server":  ServerInfoToURL(server),
					"attempt": round + 1,
					"error":   err.Error(),
				})
				continue
			}
			p.created.Add(1)
			p.active.Add(1)
			LogConnectionEvent(p.ctx, "connection_established", map[string]any{
				"server": ServerInfoToURL(server),
			})
			return pc, nil
		}

		if round >= p.config.MaxRetries {
			return nil, NewConnectionError("failed to create connection after retries", true, lastErr)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.clock.After(backoff):
		}
		backoff = min(time.Duration(float64(backoff)*p.config.BackoffFactor), p.config.MaxBackoff)
	}
}

// dialServer connects to server, upgrading plain connections with StartTLS
// unless TLS is disabled.
func (p *connectionPool) dialServer(server *ServerInfo) (*ldap.Conn, error) {
	if server.UseTLS {
		return ldap.DialURL(ServerInfoToURL(server), ldap.DialWithTLSConfig(p.config.TLSConfig))
	}
	conn, err := ldap.DialURL(ServerInfoToURL(server))
	if err != nil || !p.config.UseTLS || p.config.SkipTLS {
		return conn, err
	}
	if err := conn.StartTLS(p.config.TLSConfig); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// open dials server and binds the new connection.
func (p *connectionPool) open(server *ServerInfo) (*PooledConnection, error) {
	conn, err := p.dial(server)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", ServerInfoToURL(server), err)
	}
	conn.SetTimeout(p.config.Timeout)

	pc := &PooledConnection{
		conn:         conn,
		lastUsed:     p.clock.Now(),
		healthy:      true,
		serverInfo:   server,
		returnToPool: p.release,
	}
	if p.config.HasAuthentication() {
		if err := p.bind(pc); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to authenticate connection to %s: %w", ServerInfoToURL(server), err)
		}
	}
	return pc, nil
}

// bind authenticates pc with the configured method.
func (p *connectionPool) bind(pc *PooledConnection) error {
	if pc == nil || pc.conn == nil {
		return errors.New("connection is nil")
	}

	method := p.config.GetAuthMethod()
	var err error
	switch method {
	case AuthMethodSimpleBind:
		if p.config.Username == "" {
			return errors.New("username is required for simple bind authentication")
		}
		err = pc.conn.Bind(p.config.Username, p.config.Password)
	case AuthMethodKerberos:
		err = performKerberosAuth(pc.conn, p.config, pc.serverInfo)
	case AuthMethodExternal:
		err = pc.conn.ExternalBind()
	default:
		return fmt.Errorf("unsupported authentication method: %s", method)
	}

	if err != nil {
		pc.authenticated = false
		pc.authTime = time.Time{}
		LogConnectionEvent(p.ctx, "authentication_failed", map[string]any{
			"auth_method": method.String(),
			"error":       err.Error(),
		})
		return err
	}
	pc.authenticated = true
	pc.authTime = p.clock.Now()
	return nil
}

// bindExpired reports whether pc must bind again before use.
func (p *connectionPool) bindExpired(pc *PooledConnection) bool {
	if pc == nil || !pc.authenticated {
		return true
	}
	return p.clock.Now().Sub(pc.authTime) > maxAuthAge
}

func (p *connectionPool) rebindIfStale(pc *PooledConnection) error {
	if !p.config.HasAuthentication() || !p.bindExpired(pc) {
		return nil
	}
	return p.bind(pc)
}

// reusable reports whether pc may be handed out again. A connection that
// was re-bound as another identity never is.
func (p *connectionPool) reusable(pc *PooledConnection) bool {
	switch {
	case pc == nil || pc.conn == nil || !pc.healthy || pc.conn.IsClosing():
		return false
	case p.clock.Now().Sub(pc.lastUsed) >= p.config.MaxIdleTime:
		return false
	case p.config.HasAuthentication() && !pc.authenticated:
		return false
	}
	return true
}

// release parks pc in the idle channel, or closes it when the pool is
// closed, full, or pc is no longer reusable.
func (p *connectionPool) release(pc *PooledConnection) {
	if pc == nil {
		return
	}
	p.active.Add(-1)

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed || !p.reusable(pc) {
		p.destroy(pc)
		return
	}
	select {
	case p.idle <- pc:
	default:
		p.destroy(pc)
	}
}

func (p *connectionPool) destroy(pc *PooledConnection) {
	if pc == nil || pc.conn == nil {
		return
	}
	pc.conn.Close()
	pc.healthy = false
	pc.authenticated = false
	pc.authTime = time.Time{}
}

// Close stops the health loop and closes every idle connection.
// Connections still checked out are closed when they are released.
func (p *connectionPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	var err error
	if p.config.HealthCheck > 0 {
		p.tomb.Kill(nil)
		err = p.tomb.Wait()
	}

	close(p.idle)
	for pc := range p.idle {
		p.destroy(pc)
	}
	return err
}

func (p *connectionPool) Stats() PoolStats {
	idle := len(p.idle)
	active := p.active.Load()
	return PoolStats{
		Total:     idle + int(active),
		Active:    active,
		Idle:      idle,
		Unhealthy: int(p.unhealthy.Load()),
		Created:   p.created.Load(),
		Errors:    p.failures.Load(),
		Uptime:    p.clock.Now().Sub(p.started),
	}
}

// HealthCheck takes a connection and reads the root DSE through it.
func (p *connectionPool) HealthCheck(ctx context.Context) error {
	if p.isClosed() {
		return errPoolClosed
	}
	pc, err := p.Get(ctx)
	if err != nil {
		return err
	}
	defer pc.Close()

	if !p.probe(pc) {
		pc.discard()
		return NewConnectionError("health check failed", true, nil)
	}
	return nil
}

// healthLoop probes a sample of idle connections every HealthCheck
// interval until the pool is closed.
func (p *connectionPool) healthLoop() error {
	for {
		select {
		case <-p.tomb.Dying():
			return nil
		case <-p.clock.After(p.config.HealthCheck):
			p.checkIdle()
		}
	}
}

// checkIdle takes up to idleSample idle connections and either parks
// them again or closes them.
func (p *connectionPool) checkIdle() {
	for range idleSample {
		var pc *PooledConnection
		select {
		case pc = <-p.idle:
		default:
			return
		}

		if !p.probe(pc) {
			p.unhealthy.Add(1)
			p.destroy(pc)
			continue
		}
		select {
		case p.idle <- pc:
		default:
			p.destroy(pc)
		}
	}
}

// probe re-binds pc if its bind is stale, then reads the root DSE.
func (p *connectionPool) probe(pc *PooledConnection) bool {
	if pc == nil || pc.conn == nil {
		return false
	}
	if p.rebindIfStale(pc) != nil {
		return false
	}
	if _, err := pc.conn.Search(rootDSERequest("supportedLDAPVersion")); err != nil {
		pc.authenticated = false
		pc.authTime = time.Time{}
		return false
	}
	return true
}

func rootDSERequest(attributes ...string) *ldap.SearchRequest {
	return ldap.NewSearchRequest("", ldap.ScopeBaseObject, ldap.NeverDerefAliases,
		1, 5, false, "(objectClass=*)", attributes, nil)
}

func validateConfig(config *ConnectionConfig) error {
	switch {
	case config.MaxConnections <= 0:
		return errors.New("MaxConnections must be positive")
	case config.MaxConnections > MaxConnectionPoolLimit:
		return fmt.Errorf("MaxConnections too high (max %d)", MaxConnectionPoolLimit)
	case config.MaxIdleTime <= 0:
		return errors.New("MaxIdleTime must be positive")
	case config.Timeout <= 0:
		return errors.New("timeout must be positive")
	case config.MaxRetries < 0:
		return errors.New("MaxRetries cannot be negative")
	case config.BackoffFactor <= 1.0:
		return errors.New("BackoffFactor must be greater than 1.0")
	}
	return nil
}

// Close hands the connection back to its pool.
func (pc *PooledConnection) Close() {
	if pc.returnToPool != nil {
		pc.returnToPool(pc)
	}
}

func (pc *PooledConnection) Conn() *ldap.Conn { return pc.conn }

func (pc *PooledConnection) ServerInfo() *ServerInfo { return pc.serverInfo }

// discard makes the pool close the connection instead of reusing it.
func (pc *PooledConnection) discard() { pc.healthy = false }
