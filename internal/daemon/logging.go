package daemon

import (
	"context"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	"github.com/hashicorp/terraform-plugin-log/tfsdklog"

	"github.com/isometry/dirprov/internal/autoprov"
	"github.com/isometry/dirprov/internal/cache"
	"github.com/isometry/dirprov/internal/config"
	"github.com/isometry/dirprov/internal/ldap"
	"github.com/isometry/dirprov/internal/provisioning"
	"github.com/isometry/dirprov/internal/quota"
)

// Subsystems are the logging subsystems created by NewLogContext.
var Subsystems = []string{
	ldap.Subsystem,
	cache.Subsystem,
	provisioning.Subsystem,
	autoprov.Subsystem,
	quota.Subsystem,
}

// maskedFields never appear in log output.
var maskedFields = []string{"password", "bind_password", "userPassword"}

// NewLogContext returns ctx carrying the root logger and one logger per
// subsystem. Output is JSON lines on stderr.
func NewLogContext(ctx context.Context, cfg config.LoggingConfig) context.Context {
	level := hclog.LevelFromString(cfg.Level)
	ctx = tfsdklog.NewRootProviderLogger(ctx,
		tfsdklog.WithLogName("provisiond"),
		tfsdklog.WithLevel(level),
		tfsdklog.WithoutLocation(),
	)
	ctx = tflog.MaskFieldValuesWithFieldKeys(ctx, maskedFields...)

	for _, name := range Subsystems {
		subLevel := level
		for key, value := range cfg.Subsystems {
			if strings.EqualFold(key, name) {
				subLevel = hclog.LevelFromString(value)
			}
		}
		ctx = tflog.NewSubsystem(ctx, name, tflog.WithLevel(subLevel))
		ctx = tflog.SubsystemMaskFieldValuesWithFieldKeys(ctx, name, maskedFields...)
	}
	return ctx
}
