package ldap

import (
	"context"
	"crypto/tls"
	"errors"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/juju/clock"
)

// ConnectionConfig describes how to reach and bind to one directory.
// LDAPURLs win over Domain, which is resolved through SRV records.
type ConnectionConfig struct {
	Domain   string
	LDAPURLs []string
	BaseDN   string
	Timeout  time.Duration

	// Username is a bind DN for simple binds and a principal for Kerberos.
	Username       string
	Password       string
	KerberosRealm  string
	KerberosKeytab string
	KerberosConfig string // krb5.conf path; generated from the realm when empty
	KerberosCCache string
	KerberosSPN    string

	TLSConfig         *tls.Config
	UseTLS            bool // StartTLS on ldap:// servers
	SkipTLS           bool
	TLSClientCertFile string
	TLSClientKeyFile  string

	MaxConnections int
	MaxIdleTime    time.Duration
	HealthCheck    time.Duration // zero disables the idle probe loop

	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64

	PageSize uint32

	// Clock drives idle expiry, bind age and retry backoff. Nil means
	// the wall clock.
	Clock clock.Clock
}

// DefaultConfig requires TLS 1.2 and StartTLS.
func DefaultConfig() *ConnectionConfig {
	return &ConnectionConfig{
		Timeout:        30 * time.Second,
		UseTLS:         true,
		MaxConnections: 10,
		MaxIdleTime:    5 * time.Minute,
		HealthCheck:    30 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		PageSize:       1000,
		TLSConfig:      &tls.Config{MinVersion: tls.VersionTLS12},
	}
}

// PooledConnection is a connection checked out of a ConnectionPool.
type PooledConnection struct {
	conn          *ldap.Conn
	lastUsed      time.Time
	healthy       bool
	authenticated bool
	authTime      time.Time
	serverInfo    *ServerInfo
	returnToPool  func(*PooledConnection)
}

// ServerInfo is one directory server, from configuration or SRV records.
type ServerInfo struct {
	Host     string
	Port     int
	UseTLS   bool
	Priority int
	Weight   int
	Source   string // srv, config or fallback
}

// ConnectionPool shares bound connections between concurrent operations.
// Connections returned by Get must be given back with Close.
type ConnectionPool interface {
	Get(ctx context.Context) (*PooledConnection, error)
	Close() error
	Stats() PoolStats
	HealthCheck(ctx context.Context) error
}

// PoolStats is a snapshot of pool counters, reported by Client.Stats.
type PoolStats struct {
	Total     int
	Active    int64
	Idle      int
	Unhealthy int   // idle connections dropped by the probe loop
	Created   int64 // connections opened since start
	Errors    int64 // failed dial or bind attempts
	Uptime    time.Duration
}

// ErrStopSearch may be returned by a Visitor to end a search early.
// SearchVisit treats it as success.
var ErrStopSearch = errors.New("stop search")

// Visitor receives entries streamed by SearchVisit.
type Visitor func(entry *ldap.Entry) error

// Client provides directory operations over a pooled connection set.
type Client interface {
	// Connection management
	Connect(ctx context.Context) error
	Close() error

	// Authentication
	Bind(ctx context.Context, username, password string) error
	BindWithConfig(ctx context.Context) error

	// Search operations. A size-limited search returns the partial result
	// together with an error for which IsSizeLimitExceeded is true.
	Search(ctx context.Context, req *SearchRequest) (*SearchResult, error)
	SearchWithPaging(ctx context.Context, req *SearchRequest) (*SearchResult, error)
	SearchVisit(ctx context.Context, req *SearchRequest, visit Visitor) error
	CountEntries(ctx context.Context, baseDN, filter string) (int, error)
	Compare(ctx context.Context, dn, attribute, value string) (bool, error)

	// Update operations
	Add(ctx context.Context, req *AddRequest) error
	Modify(ctx context.Context, req *ModifyRequest) error
	ModifyDN(ctx context.Context, req *ModifyDNRequest) error
	Delete(ctx context.Context, dn string) error

	// Health and statistics
	Ping(ctx context.Context) error
	Stats() PoolStats
	GetBaseDN(ctx context.Context) (string, error)
}

// SearchRequest encapsulates LDAP search parameters.
type SearchRequest struct {
	BaseDN       string
	Scope        SearchScope
	Filter       string
	Attributes   []string
	SizeLimit    int
	TimeLimit    time.Duration
	DerefAliases DerefAliases
}

// SearchResult contains search results and metadata.
type SearchResult struct {
	Entries []*ldap.Entry
	Total   int
	HasMore bool
}

// AddRequest encapsulates LDAP add parameters.
type AddRequest struct {
	DN         string
	Attributes map[string][]string
}

// ModifyRequest encapsulates LDAP modify parameters. When Assertion is set
// the server applies the change only if the filter matches the entry.
type ModifyRequest struct {
	DN                string
	AddAttributes     map[string][]string
	ReplaceAttributes map[string][]string
	DeleteValues      map[string][]string
	DeleteAttributes  []string
	Assertion         string
}

// IsEmpty reports whether the request carries no changes.
func (r *ModifyRequest) IsEmpty() bool {
	return len(r.AddAttributes) == 0 && len(r.ReplaceAttributes) == 0 &&
		len(r.DeleteValues) == 0 && len(r.DeleteAttributes) == 0
}

// ModifyDNRequest encapsulates LDAP modify DN parameters.
type ModifyDNRequest struct {
	DN           string
	NewRDN       string
	DeleteOldRDN bool
	NewSuperior  string
}

// SearchScope defines LDAP search scope.
type SearchScope int

const (
	ScopeBaseObject SearchScope = iota
	ScopeSingleLevel
	ScopeWholeSubtree
)

func (s SearchScope) String() string {
	switch s {
	case ScopeBaseObject:
		return "base"
	case ScopeSingleLevel:
		return "one"
	case ScopeWholeSubtree:
		return "sub"
	default:
		return "unknown"
	}
}

// DerefAliases defines alias dereferencing behavior.
type DerefAliases int

const (
	NeverDerefAliases DerefAliases = iota
	DerefInSearching
	DerefFindingBaseObj
	DerefAlways
)

type AuthMethod int

const (
	AuthMethodSimpleBind AuthMethod = iota
	AuthMethodKerberos              // GSSAPI
	AuthMethodExternal              // SASL EXTERNAL with a client certificate
)

func (a AuthMethod) String() string {
	switch a {
	case AuthMethodSimpleBind:
		return "simple"
	case AuthMethodKerberos:
		return "kerberos"
	case AuthMethodExternal:
		return "external"
	default:
		return "unknown"
	}
}

// GetAuthMethod picks Kerberos when a realm is usable, then a password,
// then a client certificate.
func (c *ConnectionConfig) GetAuthMethod() AuthMethod {
	if c.KerberosRealm != "" && (c.KerberosKeytab != "" || c.Username != "") {
		return AuthMethodKerberos
	}
	if c.Username != "" && c.Password != "" {
		return AuthMethodSimpleBind
	}
	if c.TLSClientCertFile != "" && c.TLSClientKeyFile != "" {
		return AuthMethodExternal
	}
	return AuthMethodSimpleBind
}

// HasAuthentication is false for anonymous connections.
func (c *ConnectionConfig) HasAuthentication() bool {
	switch {
	case c.Username != "" && c.Password != "":
		return true
	case c.KerberosRealm != "" && (c.KerberosKeytab != "" || c.Username != ""):
		return true
	}
	return c.TLSClientCertFile != "" && c.TLSClientKeyFile != ""
}

// RetryableError is implemented by errors worth retrying on another
// connection.
type RetryableError interface {
	error
	IsRetryable() bool
}

// ConnectionError reports a failure to obtain a usable connection.
type ConnectionError struct {
	message   string
	retryable bool
	cause     error
}

func (e *ConnectionError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *ConnectionError) IsRetryable() bool {
	return e.retryable
}

func (e *ConnectionError) Unwrap() error {
	return e.cause
}

func NewConnectionError(message string, retryable bool, cause error) *ConnectionError {
	return &ConnectionError{message: message, retryable: retryable, cause: cause}
}
