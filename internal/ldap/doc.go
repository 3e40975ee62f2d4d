/*
Package ldap provides the directory access layer of the provisioning service.

# Architecture Overview

  - Client: pooled connections with health checks, failover and retry
  - Helpers: single-entry lookup, attribute reads and delta-based modifies
  - Controls: assertion (RFC 4528), server-side sort and VLV counting
  - Subschema: object class definitions read from the subschema subentry

# Connection Management

The Client interface hides a connection pool with automatic failover:

  - Explicit LDAP URLs or SRV-based server discovery
  - Simple, Kerberos (GSSAPI) or SASL EXTERNAL authentication
  - Automatic retry with exponential backoff for transient failures

Every method that acquires a pooled connection returns it on all exit
paths. A connection used for a user bind is discarded rather than reused.

# Searching

SearchVisit streams entries page by page to a Visitor. Returning
ErrStopSearch ends the search early and releases the server-side cursor.
A search bounded by a size limit returns the entries received so far
together with an error for which IsSizeLimitExceeded reports true.

# Conditional Modification

TestAndModify attaches an assertion filter to a modify. The directory
applies the change only while the filter matches the entry, which makes
it usable as a compare-and-swap over a directory attribute:

	ok, err := ldap.TestAndModify(ctx, client, domainDN,
		"(!(gwAutoProvLock=*))",
		entity.Delta{"gwAutoProvLock": nodeID})

# Errors

Errors are returned as *LDAPError with a category. Use the Is* helpers
(IsNotFoundError, IsMultipleMatchesError, IsSizeLimitExceeded,
IsTimeoutError, IsAssertionFailed, IsRetryableError) instead of
inspecting result codes.
*/
package ldap
