package ldap

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// client implements the Client interface.
type client struct {
	pool       ConnectionPool
	config     *ConnectionConfig
	logContext context.Context // Context with configured subsystems for logging

	mu           sync.Mutex
	vlvSupported *bool
}

// NewClient creates a new LDAP client with connection pooling. The context
// carries the configured logging subsystems and is used for background work.
func NewClient(ctx context.Context, config *ConnectionConfig) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	tflog.SubsystemDebug(ctx, Subsystem, "Creating new LDAP client", map[string]any{
		"domain":          config.Domain,
		"ldap_urls_count": len(config.LDAPURLs),
		"auth_method":     config.GetAuthMethod().String(),
		"use_tls":         config.UseTLS,
		"max_connections": config.MaxConnections,
	})

	start := time.Now()
	pool, err := NewConnectionPool(ctx, config)
	if err != nil {
		tflog.SubsystemError(ctx, Subsystem, "Failed to create connection pool", map[string]any{
			"error":       err.Error(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	tflog.SubsystemInfo(ctx, Subsystem, "LDAP client created", map[string]any{
		"duration_ms": time.Since(start).Milliseconds(),
		"pool_size":   config.MaxConnections,
	})

	return &client{
		pool:       pool,
		config:     config,
		logContext: ctx,
	}, nil
}

// Connect verifies that a connection can be acquired and used.
func (c *client) Connect(ctx context.Context) error {
	return LogOperation(ctx, Subsystem, "connection_test", map[string]any{
		"domain": c.config.Domain,
	}, func() error {
		conn, err := c.pool.Get(ctx)
		if err != nil {
			return fmt.Errorf("connection test failed: %w", err)
		}
		defer conn.Close()

		return c.ping(conn)
	})
}

// Close closes the client and all its connections.
func (c *client) Close() error {
	return c.pool.Close()
}

// Bind verifies a user's credentials. The connection used is discarded
// afterwards so that later operations never run with the user's identity.
func (c *client) Bind(ctx context.Context, username, password string) error {
	if password == "" {
		// An empty password turns a simple bind into an unauthenticated one.
		return NewLDAPError("bind", ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("empty password")))
	}

	conn, err := c.pool.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	conn.discard()
	defer conn.Close()

	if err := conn.Conn().Bind(username, password); err != nil {
		ldapErr := NewLDAPError("bind", err)
		ldapErr.DN = username
		return ldapErr
	}
	return nil
}

// BindWithConfig checks that the configured service credentials are accepted.
func (c *client) BindWithConfig(ctx context.Context) error {
	if !c.config.HasAuthentication() {
		return fmt.Errorf("no authentication configuration available")
	}

	return LogOperation(ctx, Subsystem, "authentication", map[string]any{
		"auth_method": c.config.GetAuthMethod().String(),
		"username":    c.config.Username,
	}, func() error {
		conn, err := c.pool.Get(ctx)
		if err != nil {
			return fmt.Errorf("failed to get connection: %w", err)
		}
		defer conn.Close()
		return c.ping(conn)
	})
}

// performSearch wraps a search with timing and logging.
func (c *client) performSearch(ctx context.Context, operation string, fields map[string]any, searchFunc func() (*SearchResult, error)) (*SearchResult, error) {
	start := time.Now()
	fields["operation"] = operation

	tflog.SubsystemTrace(ctx, Subsystem, "Starting search operation", fields)

	result, err := searchFunc()

	fields["duration_ms"] = time.Since(start).Milliseconds()
	if result != nil {
		fields["entries_found"] = len(result.Entries)
	}

	if err != nil {
		LogLDAPError(ctx, Subsystem, operation, err, fields)
		return result, err
	}

	tflog.SubsystemDebug(ctx, Subsystem, "Search operation completed", fields)
	return result, nil
}

func searchFields(req *SearchRequest) map[string]any {
	return map[string]any{
		"base_dn":    req.BaseDN,
		"scope":      req.Scope.String(),
		"filter":     req.Filter,
		"attributes": req.Attributes,
		"size_limit": req.SizeLimit,
	}
}

func (req *SearchRequest) toLDAP(controls ...ldap.Control) *ldap.SearchRequest {
	return ldap.NewSearchRequest(
		req.BaseDN,
		int(req.Scope),
		int(req.DerefAliases),
		req.SizeLimit,
		int(req.TimeLimit.Seconds()),
		false, // TypesOnly
		req.Filter,
		req.Attributes,
		controls,
	)
}

// Search performs a single LDAP search. When the size limit is reached the
// entries received so far are returned together with a size limit error.
func (c *client) Search(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	if req == nil {
		return nil, fmt.Errorf("search request cannot be nil")
	}

	return c.performSearch(ctx, "search", searchFields(req), func() (*SearchResult, error) {
		conn, err := c.pool.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get connection: %w", err)
		}
		defer conn.Close()

		ldapReq := req.toLDAP()

		var result *ldap.SearchResult
		err = c.withRetry(ctx, func() error {
			var searchErr error
			result, searchErr = conn.Conn().Search(ldapReq)
			if searchErr != nil {
				ldapErr := NewLDAPError("search", searchErr)
				ldapErr.DN = req.BaseDN
				return ldapErr
			}
			return nil
		})

		if result == nil {
			return nil, err
		}

		return &SearchResult{
			Entries: result.Entries,
			Total:   len(result.Entries),
			HasMore: IsSizeLimitExceeded(err),
		}, err
	})
}

// SearchWithPaging collects every entry matching the request using the
// simple paged results control.
func (c *client) SearchWithPaging(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	if req == nil {
		return nil, fmt.Errorf("search request cannot be nil")
	}

	return c.performSearch(ctx, "paged_search", searchFields(req), func() (*SearchResult, error) {
		result := &SearchResult{}
		err := c.SearchVisit(ctx, req, func(entry *ldap.Entry) error {
			result.Entries = append(result.Entries, entry)
			return nil
		})
		result.Total = len(result.Entries)
		result.HasMore = IsSizeLimitExceeded(err)
		return result, err
	})
}

// SearchVisit streams matching entries to visit one page at a time.
// Returning ErrStopSearch from visit ends the search without error; any
// other visitor error is returned unchanged. A request with a size limit is
// run unpaged so the server enforces the limit.
func (c *client) SearchVisit(ctx context.Context, req *SearchRequest, visit Visitor) error {
	if req == nil {
		return fmt.Errorf("search request cannot be nil")
	}

	if req.SizeLimit > 0 {
		result, err := c.Search(ctx, req)
		if result != nil {
			for _, entry := range result.Entries {
				if visitErr := visit(entry); visitErr != nil {
					if errors.Is(visitErr, ErrStopSearch) {
						return nil
					}
					return visitErr
				}
			}
		}
		return err
	}

	conn, err := c.pool.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	pageSize := c.config.PageSize
	if pageSize == 0 {
		pageSize = 1000
	}
	paging := ldap.NewControlPaging(pageSize)
	ldapReq := req.toLDAP(paging)

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			c.abandonPaging(conn, ldapReq, paging)
			return err
		}

		result, err := conn.Conn().Search(ldapReq)
		if err != nil {
			ldapErr := NewLDAPError("search", err)
			ldapErr.DN = req.BaseDN
			return ldapErr
		}

		tflog.SubsystemTrace(ctx, Subsystem, "Received search page", map[string]any{
			"page":    page,
			"entries": len(result.Entries),
		})

		for _, entry := range result.Entries {
			if visitErr := visit(entry); visitErr != nil {
				c.abandonPaging(conn, ldapReq, paging)
				if errors.Is(visitErr, ErrStopSearch) {
					return nil
				}
				return visitErr
			}
		}

		control := ldap.FindControl(result.Controls, ldap.ControlTypePaging)
		if control == nil {
			return nil
		}
		cookie := control.(*ldap.ControlPaging).Cookie
		if len(cookie) == 0 {
			return nil
		}
		paging.SetCookie(cookie)
	}
}

// abandonPaging releases the server-side paging cursor.
func (c *client) abandonPaging(conn *PooledConnection, req *ldap.SearchRequest, paging *ldap.ControlPaging) {
	if len(paging.Cookie) == 0 {
		return
	}
	paging.PagingSize = 0
	if _, err := conn.Conn().Search(req); err != nil {
		conn.discard()
	}
}

// CountEntries returns the number of entries below baseDN matching filter.
// It asks the server for a VLV content count when the server supports it
// and falls back to a paged scan otherwise.
func (c *client) CountEntries(ctx context.Context, baseDN, filter string) (int, error) {
	if c.supportsVLV(ctx) {
		count, err := c.countWithVLV(ctx, baseDN, filter)
		if err == nil {
			return count, nil
		}
		tflog.SubsystemDebug(ctx, Subsystem, "VLV count failed, falling back to scan", map[string]any{
			"base_dn": baseDN,
			"error":   err.Error(),
		})
	}

	count := 0
	err := c.SearchVisit(ctx, &SearchRequest{
		BaseDN:     baseDN,
		Scope:      ScopeWholeSubtree,
		Filter:     filter,
		Attributes: []string{"1.1"},
	}, func(*ldap.Entry) error {
		count++
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (c *client) countWithVLV(ctx context.Context, baseDN, filter string) (int, error) {
	conn, err := c.pool.Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	req := (&SearchRequest{
		BaseDN:     baseDN,
		Scope:      ScopeWholeSubtree,
		Filter:     filter,
		Attributes: []string{"1.1"},
	}).toLDAP(
		ldap.NewControlServerSideSortingWithSortKeys([]*ldap.SortKey{{AttributeType: "cn"}}),
		newControlVLVCount(),
	)

	result, err := conn.Conn().Search(req)
	if err != nil {
		return 0, NewLDAPError("count", err)
	}
	return vlvContentCount(result.Controls)
}

// supportsVLV reads and caches whether the root DSE advertises both the
// sort and VLV controls.
func (c *client) supportsVLV(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.vlvSupported != nil {
		return *c.vlvSupported
	}

	result, err := c.Search(ctx, &SearchRequest{
		Scope:      ScopeBaseObject,
		Filter:     "(objectClass=*)",
		Attributes: []string{"supportedControl"},
		SizeLimit:  1,
		TimeLimit:  5 * time.Second,
	})
	if err != nil || len(result.Entries) == 0 {
		return false
	}

	controls := result.Entries[0].GetAttributeValues("supportedControl")
	supported := slices.Contains(controls, ldap.ControlTypeVLVRequest) &&
		slices.Contains(controls, ldap.ControlTypeServerSideSorting)
	c.vlvSupported = &supported
	return supported
}

// Compare tests whether an entry holds a given attribute value.
func (c *client) Compare(ctx context.Context, dn, attribute, value string) (bool, error) {
	conn, err := c.pool.Get(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	var matched bool
	err = c.withRetry(ctx, func() error {
		var cmpErr error
		matched, cmpErr = conn.Conn().Compare(dn, attribute, value)
		if cmpErr != nil {
			ldapErr := NewLDAPError("compare", cmpErr)
			ldapErr.DN = dn
			return ldapErr
		}
		return nil
	})
	return matched, err
}

// Add creates a new LDAP entry.
func (c *client) Add(ctx context.Context, req *AddRequest) error {
	if req == nil {
		return fmt.Errorf("add request cannot be nil")
	}

	ldapReq := ldap.NewAddRequest(req.DN, nil)
	for _, attr := range sortedKeys(req.Attributes) {
		ldapReq.Attribute(attr, req.Attributes[attr])
	}

	return c.update(ctx, "add", req.DN, func(conn *ldap.Conn) error {
		return conn.Add(ldapReq)
	})
}

// Modify modifies an existing LDAP entry. Deletions are applied before
// additions, then replacements.
func (c *client) Modify(ctx context.Context, req *ModifyRequest) error {
	if req == nil {
		return fmt.Errorf("modify request cannot be nil")
	}

	var controls []ldap.Control
	if req.Assertion != "" {
		assertion, err := NewControlAssertion(req.Assertion)
		if err != nil {
			return err
		}
		controls = append(controls, assertion)
	}

	ldapReq := ldap.NewModifyRequest(req.DN, controls)
	for _, attr := range req.DeleteAttributes {
		ldapReq.Delete(attr, []string{})
	}
	for _, attr := range sortedKeys(req.DeleteValues) {
		ldapReq.Delete(attr, req.DeleteValues[attr])
	}
	for _, attr := range sortedKeys(req.AddAttributes) {
		ldapReq.Add(attr, req.AddAttributes[attr])
	}
	for _, attr := range sortedKeys(req.ReplaceAttributes) {
		ldapReq.Replace(attr, req.ReplaceAttributes[attr])
	}

	return c.update(ctx, "modify", req.DN, func(conn *ldap.Conn) error {
		return conn.Modify(ldapReq)
	})
}

// ModifyDN moves or renames an LDAP entry.
func (c *client) ModifyDN(ctx context.Context, req *ModifyDNRequest) error {
	if req == nil {
		return fmt.Errorf("modify DN request cannot be nil")
	}
	if req.DN == "" {
		return fmt.Errorf("DN cannot be empty")
	}
	if req.NewRDN == "" {
		return fmt.Errorf("new RDN cannot be empty")
	}

	ldapReq := ldap.NewModifyDNRequest(req.DN, req.NewRDN, req.DeleteOldRDN, req.NewSuperior)
	return c.update(ctx, "modify_dn", req.DN, func(conn *ldap.Conn) error {
		return conn.ModifyDN(ldapReq)
	})
}

// Delete removes an LDAP entry.
func (c *client) Delete(ctx context.Context, dn string) error {
	if dn == "" {
		return fmt.Errorf("DN cannot be empty")
	}

	ldapReq := ldap.NewDelRequest(dn, nil)
	return c.update(ctx, "delete", dn, func(conn *ldap.Conn) error {
		return conn.Del(ldapReq)
	})
}

// update runs a write operation with retry and error classification.
func (c *client) update(ctx context.Context, operation, dn string, fn func(*ldap.Conn) error) error {
	conn, err := c.pool.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	start := time.Now()
	err = c.withRetry(ctx, func() error {
		if opErr := fn(conn.Conn()); opErr != nil {
			ldapErr := NewLDAPError(operation, opErr)
			ldapErr.DN = dn
			return ldapErr
		}
		return nil
	})

	fields := map[string]any{"dn": dn}
	if err != nil {
		LogLDAPError(ctx, Subsystem, operation, err, fields)
		return err
	}
	LogPerformance(ctx, Subsystem, operation, time.Since(start), fields)
	return nil
}

// Ping tests connectivity to the LDAP server.
func (c *client) Ping(ctx context.Context) error {
	conn, err := c.pool.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	return c.ping(conn)
}

func (c *client) ping(conn *PooledConnection) error {
	if _, err := conn.Conn().Search(rootDSERequest("namingContexts")); err != nil {
		conn.discard()
		return NewLDAPError("ping", err)
	}
	return nil
}

// Stats returns connection pool statistics.
func (c *client) Stats() PoolStats {
	return c.pool.Stats()
}

// withRetry executes an operation with retry logic.
func (c *client) withRetry(ctx context.Context, operation func() error) error {
	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			tflog.SubsystemDebug(ctx, Subsystem, "Retrying operation", map[string]any{
				"attempt":    attempt,
				"max_retry":  c.config.MaxRetries,
				"backoff_ms": backoff.Milliseconds(),
				"last_error": lastErr.Error(),
			})
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryableError(err) {
			return err
		}

		if attempt == c.config.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff = min(time.Duration(float64(backoff)*c.config.BackoffFactor), c.config.MaxBackoff)
		}
	}

	tflog.SubsystemWarn(ctx, Subsystem, "Operation failed after all retries exhausted", map[string]any{
		"total_attempts": c.config.MaxRetries + 1,
		"final_error":    lastErr.Error(),
	})

	return NewConnectionError("operation failed after retries", false, lastErr)
}

// GetBaseDN retrieves the first naming context from the root DSE.
func (c *client) GetBaseDN(ctx context.Context) (string, error) {
	if c.config.BaseDN != "" {
		return c.config.BaseDN, nil
	}

	result, err := c.Search(ctx, &SearchRequest{
		Scope:      ScopeBaseObject,
		Filter:     "(objectClass=*)",
		Attributes: []string{"namingContexts", "defaultNamingContext"},
		SizeLimit:  1,
		TimeLimit:  5 * time.Second,
	})
	if err != nil {
		return "", fmt.Errorf("failed to get base DN: %w", err)
	}
	if len(result.Entries) == 0 {
		return "", fmt.Errorf("no root DSE found")
	}

	entry := result.Entries[0]
	if dn := entry.GetAttributeValue("defaultNamingContext"); dn != "" {
		return dn, nil
	}
	if dn := entry.GetAttributeValue("namingContexts"); dn != "" {
		return dn, nil
	}
	return "", fmt.Errorf("no naming context found in root DSE")
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
