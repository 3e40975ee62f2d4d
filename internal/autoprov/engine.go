package autoprov

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goldap "github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	"gopkg.in/tomb.v2"

	"github.com/isometry/dirprov/internal/entity"
	"github.com/isometry/dirprov/internal/ldap"
	"github.com/isometry/dirprov/internal/provisioning"
)

const (
	// DefaultBatchSize applies to domains without gwAutoProvBatchSize.
	DefaultBatchSize = 10
	maxBatchSize     = 5000

	// idleRecheck is the wait between schedule reads while polling is
	// disabled.
	idleRecheck = time.Minute
)

// EngineConfig configures eager polling. The server entry named by
// ServerName, when present, overrides ScheduledDomains and PollInterval.
type EngineConfig struct {
	NodeID           string        `mapstructure:"node_id"`
	ServerName       string        `mapstructure:"server_name"`
	PollInterval     time.Duration `mapstructure:"poll_interval" default:"15m" validate:"gte=0"`
	ScheduledDomains []string      `mapstructure:"scheduled_domains"`
}

// DefaultEngineConfig returns the engine defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{PollInterval: 15 * time.Minute}
}

// Engine polls the external directories of EAGER domains and provisions
// entries created since the last poll. Each domain is processed by at most
// one node at a time, arbitrated by gwAutoProvLock.
type Engine struct {
	tomb tomb.Tomb

	p   *Provisioner
	cfg EngineConfig
}

// NewEngine returns an engine that is not yet running.
func NewEngine(p *Provisioner, cfg EngineConfig) (*Engine, error) {
	if p == nil {
		return nil, errors.New("autoprov: provisioner is required")
	}
	if cfg.NodeID == "" {
		cfg.NodeID = uuid.NewString()
	}
	return &Engine{p: p, cfg: cfg}, nil
}

// NodeID identifies this engine in domain locks.
func (e *Engine) NodeID() string { return e.cfg.NodeID }

// Start runs the polling loop until Kill is called, ctx is cancelled or a
// cycle fails fatally.
func (e *Engine) Start(ctx context.Context) {
	e.tomb.Go(func() error { return e.loop(ctx) })
}

// Kill asks the loop to stop after the current domain.
func (e *Engine) Kill() {
	e.tomb.Kill(nil)
}

// Wait blocks until the loop has stopped and returns its error.
func (e *Engine) Wait() error {
	return e.tomb.Wait()
}

func (e *Engine) loop(parent context.Context) error {
	ctx := e.tomb.Context(parent)

	interval, err := e.cycle(ctx)
	if err != nil {
		return stopped(ctx, err)
	}
	timer := e.p.clock.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-timer.Chan():
			interval, err := e.cycle(ctx)
			if err != nil {
				return stopped(ctx, err)
			}
			timer.Reset(interval)
		}
	}
}

// stopped drops the error of a cycle interrupted by Kill or cancellation.
func stopped(ctx context.Context, err error) error {
	if ctx.Err() != nil && !errors.Is(err, provisioning.ErrFatal) {
		return nil
	}
	return err
}

// cycle runs one pass and returns the wait until the next. Only fatal
// errors are returned.
func (e *Engine) cycle(ctx context.Context) (time.Duration, error) {
	domains, interval := e.schedule(ctx)
	if interval <= 0 {
		return idleRecheck, nil
	}
	if err := e.run(ctx, domains); err != nil {
		return 0, err
	}
	return interval, nil
}

// schedule returns the domains to poll and the polling interval.
func (e *Engine) schedule(ctx context.Context) ([]string, time.Duration) {
	domains, interval := e.cfg.ScheduledDomains, e.cfg.PollInterval
	if e.cfg.ServerName == "" {
		return domains, interval
	}

	server, err := e.p.svc.Get(ctx, entity.KindServer, provisioning.ByName, e.cfg.ServerName)
	if err != nil {
		if provisioning.Code(err) != provisioning.ErrNotFound {
			tflog.SubsystemWarn(ctx, Subsystem, "Failed to read server schedule", map[string]any{
				"server": e.cfg.ServerName,
				"error":  err.Error(),
			})
		}
		return domains, interval
	}
	if server.Attrs.Has(entity.AttrAutoProvScheduledDomains) {
		domains = server.Attrs.Values(entity.AttrAutoProvScheduledDomains)
	}
	return domains, server.Attrs.Duration(entity.AttrAutoProvPollingInterval, interval)
}

// RunOnce polls every scheduled domain once. Per-domain failures are
// logged; only a fatal error or cancellation is returned.
func (e *Engine) RunOnce(ctx context.Context) error {
	domains, _ := e.schedule(ctx)
	return e.run(ctx, domains)
}

func (e *Engine) run(ctx context.Context, domains []string) error {
	for _, name := range domains {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := e.processDomain(ctx, strings.TrimSpace(name))
		if err == nil {
			continue
		}
		if errors.Is(err, provisioning.ErrFatal) {
			tflog.SubsystemError(ctx, Subsystem, "Auto-provisioning stopped", map[string]any{
				"domain": name,
				"error":  err.Error(),
			})
			return err
		}
		tflog.SubsystemWarn(ctx, Subsystem, "Auto-provisioning cycle failed", map[string]any{
			"domain": name,
			"error":  err.Error(),
		})
	}
	return nil
}

func (e *Engine) processDomain(ctx context.Context, name string) error {
	p := e.p
	domain, err := p.svc.Get(ctx, entity.KindDomain, provisioning.ByName, name)
	if err != nil {
		return err
	}
	if !provisioning.HasAutoProvMode(domain, entity.AutoProvEager) {
		tflog.SubsystemDebug(ctx, Subsystem, "Domain is not eager, skipping", map[string]any{"domain": domain.Name})
		return nil
	}

	locked, err := p.svc.TestAndModify(ctx, domain,
		"(!("+entity.AttrAutoProvLock+"=*))",
		entity.Delta{entity.AttrAutoProvLock: e.cfg.NodeID})
	if err != nil {
		p.metrics.RecordCycle(domain.Name, "error")
		return err
	}
	if !locked {
		tflog.SubsystemDebug(ctx, Subsystem, "Domain locked by another node", map[string]any{"domain": domain.Name})
		p.metrics.RecordCycle(domain.Name, "skipped")
		return nil
	}
	defer e.unlock(ctx, domain)

	fresh, err := p.svc.Reload(ctx, domain)
	if err != nil {
		p.metrics.RecordCycle(domain.Name, "error")
		return err
	}
	domain = fresh

	if err := e.poll(ctx, domain); err != nil {
		p.metrics.RecordCycle(domain.Name, "error")
		return err
	}
	p.metrics.RecordCycle(domain.Name, "ok")
	return nil
}

// unlock releases the domain lock if this node still holds it. It runs
// even after ctx is cancelled.
func (e *Engine) unlock(ctx context.Context, domain *entity.Entity) {
	ctx = context.WithoutCancel(ctx)
	released, err := e.p.svc.TestAndModify(ctx, domain,
		"("+entity.AttrAutoProvLock+"="+goldap.EscapeFilter(e.cfg.NodeID)+")",
		entity.Delta{entity.AttrAutoProvLock: nil})
	if err == nil && !released {
		err = errors.New("lock no longer held")
	}
	if err != nil {
		tflog.SubsystemWarn(ctx, Subsystem, "Failed to release domain lock", map[string]any{
			"domain": domain.Name,
			"node":   e.cfg.NodeID,
			"error":  err.Error(),
		})
		return
	}
	if _, err := e.p.svc.Reload(ctx, domain); err != nil {
		tflog.SubsystemWarn(ctx, Subsystem, "Failed to reload domain after releasing lock", map[string]any{
			"domain": domain.Name,
			"error":  err.Error(),
		})
	}
}

// poll provisions one batch of the domain. The checkpoint advances only
// when the batch was complete; a full batch made entirely of entries that
// could not be provisioned grows the batch so the next poll gets past them.
func (e *Engine) poll(ctx context.Context, domain *entity.Entity) error {
	const op = "autoprov_poll"
	p := e.p
	start := p.clock.Now()
	batch := domain.Attrs.Int(entity.AttrAutoProvBatchSize, DefaultBatchSize)
	if batch <= 0 {
		batch = DefaultBatchSize
	}

	filter := searchFilter(domain, "")
	checkpoint, hasCheckpoint := domain.Attrs.Time(entity.AttrAutoProvLastPolled)
	if hasCheckpoint {
		filter = fmt.Sprintf("(&%s(createTimestamp>=%s))", filter, entity.FormatGeneralizedTime(checkpoint))
	}

	dir, err := p.open(ctx, op, domain)
	if err != nil {
		return err
	}
	defer dir.Close()

	result, err := dir.Search(ctx, &ldap.SearchRequest{
		BaseDN:    searchBase(domain),
		Scope:     ldap.ScopeWholeSubtree,
		Filter:    filter,
		SizeLimit: batch,
	})
	limited := ldap.IsSizeLimitExceeded(err)
	if err != nil && !limited {
		return provisioning.NewError(op, provisioning.ErrFailure, err)
	}

	var created, stuck int
	interrupted := false
	for _, entry := range result.Entries {
		if ctx.Err() != nil {
			interrupted = true
			break
		}
		if err := e.provisionEntry(ctx, domain, entry); err != nil {
			if errors.Is(err, provisioning.ErrFatal) {
				return err
			}
			stuck++
			p.metrics.RecordAccount(domain.Name, "failed")
			tflog.SubsystemWarn(ctx, Subsystem, "Failed to auto-provision entry", map[string]any{
				"domain":   domain.Name,
				"external": entry.DN,
				"error":    err.Error(),
			})
			continue
		}
		created++
		p.metrics.RecordAccount(domain.Name, "created")
	}

	delta := entity.Delta{}
	switch {
	case interrupted:
	case limited:
		if stuck == len(result.Entries) && batch < maxBatchSize {
			batch = min(batch+stuck, maxBatchSize)
			delta[entity.AttrAutoProvBatchSize] = []string{fmt.Sprint(batch)}
		}
	default:
		next := start
		if hasCheckpoint && checkpoint.After(next) {
			next = checkpoint
		}
		delta[entity.AttrAutoProvLastPolled] = []string{entity.FormatGeneralizedTime(next)}
	}
	p.metrics.SetBatchSize(domain.Name, batch)

	tflog.SubsystemInfo(ctx, Subsystem, "Auto-provisioning poll finished", map[string]any{
		"domain":      domain.Name,
		"found":       len(result.Entries),
		"created":     created,
		"stuck":       stuck,
		"size_limit":  limited,
		"interrupted": interrupted,
		"batch_size":  batch,
	})

	if len(delta) == 0 {
		return ctx.Err()
	}
	if _, err := p.svc.ModifyAttrs(ctx, domain, delta, false); err != nil {
		return err
	}
	return ctx.Err()
}

// provisionEntry creates the account of one polled entry. A panic is
// turned into a fatal error.
func (e *Engine) provisionEntry(ctx context.Context, domain *entity.Entity, entry *goldap.Entry) (err error) {
	const op = "autoprov_entry"
	defer func() {
		if r := recover(); r != nil {
			err = provisioning.Errorf(op, provisioning.ErrFatal, "provisioning %s panicked: %v", entry.DN, r)
		}
	}()

	ext, err := newExternalEntry(entry)
	if err != nil {
		return provisioning.NewError(op, provisioning.ErrInvalidRequest, err)
	}
	_, err = e.p.create(ctx, domain, ext, "", "")
	return err
}
