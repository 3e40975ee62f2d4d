package quota

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"
	"github.com/juju/clock"

	"github.com/isometry/dirprov/internal/entity"
	"github.com/isometry/dirprov/internal/ldap"
	"github.com/isometry/dirprov/internal/metrics"
	"github.com/isometry/dirprov/internal/provisioning"
)

const domainAccountsValidator = "domain_accounts"

// DomainAccountLimit rejects account creation, and renames into another
// domain, once the domain holds gwDomainMaxAccounts real accounts.
//
// Counts are cached per domain. A cached count is recounted after the
// recheck interval, or on every check while the margin to the ceiling is
// within the threshold, so at most threshold accounts can be created
// beyond the ceiling between recounts.
type DomainAccountLimit struct {
	dir       Directory
	clock     clock.Clock
	interval  time.Duration
	threshold int
	metrics   *metrics.Metrics

	mu     sync.Mutex
	counts map[string]*accountCount
}

// accountCount is the cached count of one domain. Its mutex serializes
// checks within the domain only.
type accountCount struct {
	mu      sync.Mutex
	counted bool
	count   int
	// next is the recount deadline; zero forces a recount.
	next time.Time
}

// NewDomainAccountLimit returns the validator. clk and m may be nil.
func NewDomainAccountLimit(dir Directory, cfg Config, clk clock.Clock, m *metrics.Metrics) *DomainAccountLimit {
	if clk == nil {
		clk = clock.WallClock
	}
	return &DomainAccountLimit{
		dir:       dir,
		clock:     clk,
		interval:  cfg.RecheckInterval,
		threshold: cfg.Threshold,
		metrics:   m,
		counts:    make(map[string]*accountCount),
	}
}

// Validate implements provisioning.Validator.
func (v *DomainAccountLimit) Validate(ctx context.Context, op *provisioning.Operation) error {
	if !addsAccount(op) {
		return nil
	}
	limit := op.Domain.Attrs.Int(entity.AttrDomainMaxAccounts, 0)
	if limit <= 0 {
		return nil
	}

	c := v.entry(op.Domain.ID)
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := v.refresh(ctx, c, op.Domain, limit); err != nil {
		v.metrics.RecordQuotaCheck(domainAccountsValidator, "error")
		return err
	}
	if c.count >= limit {
		v.metrics.RecordQuotaCheck(domainAccountsValidator, "reject")
		tflog.SubsystemInfo(ctx, Subsystem, "Domain account ceiling reached", map[string]any{
			"domain":  op.Domain.Name,
			"count":   c.count,
			"limit":   limit,
			"account": op.Name,
		})
		return &QuotaError{Domain: op.Domain.Name, Dimension: DimensionAccounts, Current: c.count, Limit: limit}
	}

	// Optimistically count the new account until the next recount.
	c.count++
	if limit-c.count <= v.threshold {
		c.next = time.Time{}
	}
	v.metrics.RecordQuotaCheck(domainAccountsValidator, "pass")
	return nil
}

// addsAccount reports whether op adds an account to op.Domain.
func addsAccount(op *provisioning.Operation) bool {
	switch op.Type {
	case provisioning.OpCreate:
		return true
	case provisioning.OpRename:
		return op.Account == nil || !strings.EqualFold(op.Account.Domain(), op.Domain.Name)
	default:
		return false
	}
}

// entry returns the count record of a domain, creating it on first use.
func (v *DomainAccountLimit) entry(id string) *accountCount {
	v.mu.Lock()
	defer v.mu.Unlock()
	c, ok := v.counts[id]
	if !ok {
		c = &accountCount{}
		v.counts[id] = c
	}
	return c
}

// refresh recounts the accounts of domain when c is stale. c.mu must be
// held.
func (v *DomainAccountLimit) refresh(ctx context.Context, c *accountCount, domain *entity.Entity, limit int) error {
	if c.counted && !c.next.IsZero() && v.clock.Now().Before(c.next) {
		return nil
	}

	n, err := v.dir.CountAccounts(ctx, domain)
	v.metrics.RecordQuotaRecount(domainAccountsValidator)
	if err != nil {
		if ldap.IsTimeoutError(err) {
			return provisioning.NewError("quota", provisioning.ErrFailure, fmt.Errorf(
				"directory not responding or slow while counting accounts of %s; "+
					"raise the directory timeout or remove %s from the domain: %w",
				domain.Name, entity.AttrDomainMaxAccounts, err))
		}
		return err
	}

	c.counted = true
	c.count = n
	v.schedule(c, limit)

	tflog.SubsystemDebug(ctx, Subsystem, "Counted domain accounts", map[string]any{
		"domain": domain.Name,
		"count":  n,
		"limit":  limit,
	})
	return nil
}

// schedule sets the next recount deadline of c.
func (v *DomainAccountLimit) schedule(c *accountCount, limit int) {
	if limit-c.count <= v.threshold {
		c.next = time.Time{}
		return
	}
	c.next = v.clock.Now().Add(v.interval)
}
