// Package quota implements the account ceiling validators run before
// account creation, rename and modification.
//
// Two independent validators are provided. DomainAccountLimit enforces the
// domain wide account ceiling against a periodically refreshed count.
// COSFeatureLimit enforces per class of service and per feature ceilings,
// scanning the domain only when a limited dimension actually changes.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/isometry/dirprov/internal/entity"
	"github.com/isometry/dirprov/internal/provisioning"
)

// Subsystem is the tflog subsystem used by this package.
const Subsystem = "quota"

// DimensionAccounts names the domain wide account ceiling in a QuotaError.
const DimensionAccounts = "accounts"

// Directory is the part of the provisioning service the validators read.
// *provisioning.Service implements it.
type Directory interface {
	CountAccounts(ctx context.Context, domain *entity.Entity) (int, error)
	Get(ctx context.Context, kind entity.Kind, by provisioning.By, key string) (*entity.Entity, error)
	Search(ctx context.Context, opts provisioning.SearchOptions, visit func(*entity.Entity) error) error
}

// Config tunes DomainAccountLimit.
type Config struct {
	// RecheckInterval is how long a domain's account count is trusted.
	RecheckInterval time.Duration `mapstructure:"recheck_interval" default:"1m" validate:"gte=0"`
	// Threshold is the margin below the ceiling at which every check
	// recounts.
	Threshold int `mapstructure:"threshold" default:"5" validate:"gte=0"`
}

// DefaultConfig returns the default tuning.
func DefaultConfig() Config {
	return Config{RecheckInterval: time.Minute, Threshold: 5}
}

// QuotaError reports a ceiling that an account change would exceed.
type QuotaError struct {
	Domain string
	// Dimension is DimensionAccounts, a class of service id or a feature
	// attribute name.
	Dimension string
	Current   int
	Limit     int
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("domain %s has %d of %d allowed accounts for %s", e.Domain, e.Current, e.Limit, e.Dimension)
}

// Unwrap makes every QuotaError match provisioning.ErrTooManyAccounts.
func (e *QuotaError) Unwrap() error {
	return provisioning.ErrTooManyAccounts
}
