package quota

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/dirprov/internal/entity"
	"github.com/isometry/dirprov/internal/metrics"
	"github.com/isometry/dirprov/internal/provisioning"
)

const cosFeatureValidator = "cos_features"

// realAccounts excludes system and external virtual accounts from tallies.
var realAccounts = fmt.Sprintf("(&(!(%s=TRUE))(!(%s=TRUE)))",
	entity.AttrIsSystemAccount, entity.AttrIsExternalVirtualAccount)

// COSFeatureLimit enforces the per class of service ceilings declared in
// gwDomainCOSMaxAccounts ("cosId:limit") and the per feature ceilings
// declared in gwDomainFeatureMaxAccounts ("featureAttr:limit").
//
// An account's effective class of service is its own gwCOSId or the
// domain default. A feature is enabled by the account's own attribute
// when present, otherwise by its class of service. The domain is only
// tallied when the change moves the account into a limited class of
// service or enables a limited feature.
type COSFeatureLimit struct {
	dir     Directory
	metrics *metrics.Metrics
}

// NewCOSFeatureLimit returns the validator. m may be nil.
func NewCOSFeatureLimit(dir Directory, m *metrics.Metrics) *COSFeatureLimit {
	return &COSFeatureLimit{dir: dir, metrics: m}
}

// limits maps a lowercased dimension to its declared name and ceiling.
type limits map[string]limit

type limit struct {
	name  string
	value int
}

// parseLimits reads "key:limit" declarations. Malformed declarations are
// skipped.
func parseLimits(ctx context.Context, attr string, values []string) limits {
	out := make(limits, len(values))
	for _, v := range values {
		i := strings.LastIndex(v, ":")
		if i <= 0 {
			tflog.SubsystemWarn(ctx, Subsystem, "Ignoring malformed ceiling", map[string]any{"attribute": attr, "value": v})
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v[i+1:]))
		if err != nil || n < 0 {
			tflog.SubsystemWarn(ctx, Subsystem, "Ignoring malformed ceiling", map[string]any{"attribute": attr, "value": v})
			continue
		}
		name := strings.TrimSpace(v[:i])
		out[strings.ToLower(name)] = limit{name: name, value: n}
	}
	return out
}

// profile is the effective class of service and limited features of one
// account.
type profile struct {
	cos      string
	features map[string]bool
}

// Validate implements provisioning.Validator.
func (v *COSFeatureLimit) Validate(ctx context.Context, op *provisioning.Operation) error {
	cosLimits := parseLimits(ctx, entity.AttrDomainCOSMaxAccounts, op.Domain.Attrs.Values(entity.AttrDomainCOSMaxAccounts))
	featureLimits := parseLimits(ctx, entity.AttrDomainFeatureMaxAccounts, op.Domain.Attrs.Values(entity.AttrDomainFeatureMaxAccounts))
	if len(cosLimits) == 0 && len(featureLimits) == 0 {
		return nil
	}

	var prior, desired entity.Attrs
	switch op.Type {
	case provisioning.OpCreate:
		desired = op.Attrs
	case provisioning.OpRename:
		if !addsAccount(op) {
			return nil
		}
		desired = op.Account.Attrs
	case provisioning.OpModify:
		if !touchesLimited(op.Delta, featureLimits) {
			return nil
		}
		prior = op.Account.Attrs
		desired = prior.Clone()
		desired.Apply(op.Delta)
	default:
		return nil
	}

	r := &resolver{dir: v.dir, domain: op.Domain, cos: make(map[string]entity.Attrs)}
	var before profile
	if prior != nil {
		p, err := r.profile(ctx, prior, featureLimits)
		if err != nil {
			return err
		}
		before = p
	}
	after, err := r.profile(ctx, desired, featureLimits)
	if err != nil {
		return err
	}

	var checks []string
	if _, limited := cosLimits[after.cos]; limited && after.cos != before.cos {
		checks = append(checks, after.cos)
	}
	var gained []string
	for _, f := range slices.Sorted(maps.Keys(after.features)) {
		if after.features[f] && !before.features[f] {
			gained = append(gained, f)
		}
	}
	if len(checks) == 0 && len(gained) == 0 {
		v.metrics.RecordQuotaCheck(cosFeatureValidator, "pass")
		return nil
	}

	cosCounts, featureCounts, err := v.tally(ctx, op, r, featureLimits)
	if err != nil {
		v.metrics.RecordQuotaCheck(cosFeatureValidator, "error")
		return err
	}

	for _, cos := range checks {
		l := cosLimits[cos]
		if cosCounts[cos] >= l.value {
			return v.reject(ctx, op, l.name, cosCounts[cos], l.value)
		}
	}
	for _, f := range gained {
		l := featureLimits[f]
		if featureCounts[f] >= l.value {
			return v.reject(ctx, op, l.name, featureCounts[f], l.value)
		}
	}
	v.metrics.RecordQuotaCheck(cosFeatureValidator, "pass")
	return nil
}

func (v *COSFeatureLimit) reject(ctx context.Context, op *provisioning.Operation, dimension string, current, ceiling int) error {
	v.metrics.RecordQuotaCheck(cosFeatureValidator, "reject")
	tflog.SubsystemInfo(ctx, Subsystem, "Class of service or feature ceiling reached", map[string]any{
		"domain":    op.Domain.Name,
		"dimension": dimension,
		"count":     current,
		"limit":     ceiling,
		"account":   op.Name,
	})
	return &QuotaError{Domain: op.Domain.Name, Dimension: dimension, Current: current, Limit: ceiling}
}

// touchesLimited reports whether delta can change the class of service
// or a limited feature.
func touchesLimited(delta entity.Delta, featureLimits limits) bool {
	if delta.Touches(entity.AttrCOSID) {
		return true
	}
	for f := range featureLimits {
		if delta.Touches(f) {
			return true
		}
	}
	return false
}

// tally counts the real accounts of the domain per class of service and
// per limited feature, leaving out the account being changed.
func (v *COSFeatureLimit) tally(ctx context.Context, op *provisioning.Operation, r *resolver, featureLimits limits) (map[string]int, map[string]int, error) {
	cosCounts := make(map[string]int)
	featureCounts := make(map[string]int)
	v.metrics.RecordQuotaRecount(cosFeatureValidator)

	err := v.dir.Search(ctx, provisioning.SearchOptions{
		Kinds:  entity.KindAccount,
		Base:   op.Domain.DN,
		Filter: realAccounts,
	}, func(e *entity.Entity) error {
		if !strings.EqualFold(e.Domain(), op.Domain.Name) {
			return nil
		}
		if op.Account != nil && e.ID == op.Account.ID {
			return nil
		}
		p, err := r.profile(ctx, e.Attrs, featureLimits)
		if err != nil {
			return err
		}
		cosCounts[p.cos]++
		for f, on := range p.features {
			if on {
				featureCounts[f]++
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	tflog.SubsystemDebug(ctx, Subsystem, "Tallied domain classes of service and features", map[string]any{
		"domain":   op.Domain.Name,
		"cos":      cosCounts,
		"features": featureCounts,
	})
	return cosCounts, featureCounts, nil
}

// resolver computes profiles, loading each class of service once.
type resolver struct {
	dir    Directory
	domain *entity.Entity
	cos    map[string]entity.Attrs
}

func (r *resolver) profile(ctx context.Context, attrs entity.Attrs, featureLimits limits) (profile, error) {
	cosID := attrs.Get(entity.AttrCOSID)
	if cosID == "" {
		cosID = r.domain.Attrs.Get(entity.AttrDomainDefaultCOSID)
	}
	p := profile{cos: strings.ToLower(cosID), features: make(map[string]bool, len(featureLimits))}

	var cosAttrs entity.Attrs
	if cosID != "" {
		var err error
		if cosAttrs, err = r.loadCOS(ctx, cosID); err != nil {
			return profile{}, err
		}
	}
	for f := range featureLimits {
		if attrs.Has(f) {
			p.features[f] = attrs.Bool(f)
		} else {
			p.features[f] = cosAttrs.Bool(f)
		}
	}
	return p, nil
}

// loadCOS returns the attributes of a class of service; an unknown id
// enables nothing.
func (r *resolver) loadCOS(ctx context.Context, id string) (entity.Attrs, error) {
	key := strings.ToLower(id)
	if attrs, ok := r.cos[key]; ok {
		return attrs, nil
	}
	cos, err := r.dir.Get(ctx, entity.KindCOS, provisioning.ByID, id)
	var attrs entity.Attrs
	switch {
	case err == nil:
		attrs = cos.Attrs
	case provisioning.Code(err) != provisioning.ErrNotFound:
		return nil, err
	}
	r.cos[key] = attrs
	return attrs, nil
}
