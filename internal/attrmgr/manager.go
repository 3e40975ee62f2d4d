// Package attrmgr validates attribute changes against a schema and runs
// per-attribute callbacks around directory writes.
package attrmgr

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/dirprov/internal/entity"
)

// Subsystem is the tflog subsystem used by this package.
const Subsystem = "provisioning"

// ErrInvalidAttribute is wrapped by every validation failure.
var ErrInvalidAttribute = errors.New("invalid attribute")

// CallbackContext is shared by the callbacks of one modification.
type CallbackContext struct {
	Ctx context.Context
	// Creating is set while the target entry is being created.
	Creating bool
	// Data carries state from pre-modify to post-modify callbacks.
	Data map[string]any
}

// NewCallbackContext returns a context for one modification.
func NewCallbackContext(ctx context.Context, creating bool) *CallbackContext {
	return &CallbackContext{Ctx: ctx, Creating: creating, Data: make(map[string]any)}
}

// Callback hooks a single attribute. PreModify receives the replacement
// values (nil when the delta only adds or removes values) and may change
// delta before it is written; its error aborts the modification.
// PostModify runs after the write has committed.
type Callback interface {
	PreModify(cctx *CallbackContext, name string, values []string, delta entity.Delta, target *entity.Entity) error
	PostModify(cctx *CallbackContext, name string, target *entity.Entity) error
}

// SchemaSource lists the attributes allowed by a set of object classes.
// *ldap.Subschema implements it.
type SchemaSource interface {
	ObjectClassAttributes(classes ...string) ([]string, error)
}

// Options configure a Manager.
type Options struct {
	// Schema defaults to BuiltinSchema.
	Schema    []AttributeInfo
	Callbacks map[string]Callback
	// ExtraObjectClasses are deployment object classes per kind whose
	// attributes are merged by EnsureExtensions.
	ExtraObjectClasses map[entity.Kind][]string
}

// Manager holds the attribute schema and callbacks. It is safe for
// concurrent use.
type Manager struct {
	callbacks    map[string]Callback
	extraClasses map[entity.Kind][]string

	mu        sync.RWMutex
	attrs     map[string]*AttributeInfo
	extra     map[entity.Kind][]string
	kindAttrs map[entity.Kind][]string

	extMu     sync.Mutex
	extLoaded bool
}

// New builds a Manager.
func New(opts Options) *Manager {
	schema := opts.Schema
	if schema == nil {
		schema = BuiltinSchema()
	}

	m := &Manager{
		callbacks:    make(map[string]Callback, len(opts.Callbacks)),
		extraClasses: opts.ExtraObjectClasses,
		attrs:        make(map[string]*AttributeInfo, len(schema)),
		extra:        make(map[entity.Kind][]string),
	}
	for i := range schema {
		info := schema[i]
		m.attrs[strings.ToLower(info.Name)] = &info
	}
	for name, cb := range opts.Callbacks {
		m.callbacks[strings.ToLower(name)] = cb
	}
	m.recompute()
	return m
}

// recompute rebuilds the kind to attribute set map. m.mu must be held for
// writing, or m not yet shared.
func (m *Manager) recompute() {
	sets := make(map[entity.Kind]map[string]string)
	add := func(kind entity.Kind, name string) {
		if sets[kind] == nil {
			sets[kind] = make(map[string]string)
		}
		sets[kind][strings.ToLower(name)] = name
	}
	for _, info := range m.attrs {
		for _, kind := range info.Kinds.Split() {
			add(kind, info.Name)
		}
	}
	for kind, names := range m.extra {
		for _, name := range names {
			add(kind, name)
		}
	}

	m.kindAttrs = make(map[entity.Kind][]string, len(sets))
	for kind, set := range sets {
		m.kindAttrs[kind] = slices.SortedFunc(maps.Values(set), func(a, b string) int {
			return strings.Compare(strings.ToLower(a), strings.ToLower(b))
		})
	}
}

// Info returns the declaration of an attribute.
func (m *Manager) Info(name string) (AttributeInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.attrs[strings.ToLower(name)]
	if !ok {
		return AttributeInfo{}, false
	}
	return *info, true
}

// Attributes returns every attribute known for kind, including those merged
// from extra object classes.
func (m *Manager) Attributes(kind entity.Kind) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.kindAttrs[kind])
}

// EnsureExtensions merges the attributes of the configured extra object
// classes, once per Manager. A failed load is retried on the next call.
func (m *Manager) EnsureExtensions(ctx context.Context, source SchemaSource) error {
	m.extMu.Lock()
	defer m.extMu.Unlock()
	if m.extLoaded || len(m.extraClasses) == 0 {
		m.extLoaded = true
		return nil
	}

	extra := make(map[entity.Kind][]string, len(m.extraClasses))
	for kind, classes := range m.extraClasses {
		if len(classes) == 0 {
			continue
		}
		names, err := source.ObjectClassAttributes(classes...)
		if err != nil {
			return fmt.Errorf("failed to load attributes of %s object classes %v: %w", kind, classes, err)
		}
		extra[kind] = names
		tflog.SubsystemDebug(ctx, Subsystem, "Loaded extra object class attributes", map[string]any{
			"kind":       kind.String(),
			"classes":    classes,
			"attributes": len(names),
		})
	}

	m.mu.Lock()
	m.extra = extra
	m.recompute()
	m.mu.Unlock()

	m.extLoaded = true
	return nil
}

// ExtraObjectClasses returns the configured extra object classes of kind.
func (m *Manager) ExtraObjectClasses(kind entity.Kind) []string {
	return slices.Clone(m.extraClasses[kind])
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidAttribute, fmt.Sprintf(format, args...))
}

// PreModify validates delta for target and runs pre-modify callbacks, which
// may change delta. Attributes without a declaration are passed through.
func (m *Manager) PreModify(cctx *CallbackContext, delta entity.Delta, target *entity.Entity, checkImmutable bool) error {
	if err := delta.Validate(); err != nil {
		return invalid("%v", err)
	}

	keys := delta.Keys()
	for _, key := range keys {
		op, name := entity.ParseDeltaKey(key)
		if strings.TrimSpace(name) == "" {
			return invalid("empty attribute name")
		}
		info, ok := m.Info(name)
		if !ok {
			continue
		}
		if checkImmutable && info.Immutable {
			return invalid("%s is immutable", info.Name)
		}
		if err := validateValues(info, op, delta.ValuesOf(key)); err != nil {
			return err
		}
	}

	for _, name := range delta.Names() {
		cb, ok := m.callbacks[strings.ToLower(name)]
		if !ok {
			continue
		}
		values, _ := delta.Lookup(name)
		if err := cb.PreModify(cctx, name, values, delta, target); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// PostModify runs post-modify callbacks for every attribute in delta. It
// never fails the modification; callback errors, including panics, are
// returned for the caller to log.
func (m *Manager) PostModify(cctx *CallbackContext, delta entity.Delta, target *entity.Entity) []error {
	var errs []error
	for _, name := range delta.Names() {
		cb, ok := m.callbacks[strings.ToLower(name)]
		if !ok {
			continue
		}
		if err := runPost(cb, cctx, name, target); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errs
}

func runPost(cb Callback, cctx *CallbackContext, name string, target *entity.Entity) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panicked: %v", r)
		}
	}()
	return cb.PostModify(cctx, name, target)
}

func validateValues(info AttributeInfo, op entity.DeltaOp, values []string) error {
	if !info.MultiValued {
		if op == entity.OpAdd {
			return invalid("%s is single-valued and cannot take added values", info.Name)
		}
		if len(values) > 1 {
			return invalid("%s is single-valued, got %d values", info.Name, len(values))
		}
	}
	if op == entity.OpRemove {
		return nil
	}
	for _, v := range values {
		if err := validateValue(info, v); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(info AttributeInfo, v string) error {
	switch info.Type {
	case TypeInteger:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return invalid("%s must be an integer, got %q", info.Name, v)
		}
		if n < info.Min || (info.Max > 0 && n > info.Max) {
			return invalid("%s value %d out of range [%d, %s]", info.Name, n, info.Min, maxString(info.Max))
		}
	case TypeBoolean:
		if !strings.EqualFold(v, "TRUE") && !strings.EqualFold(v, "FALSE") {
			return invalid("%s must be TRUE or FALSE, got %q", info.Name, v)
		}
	case TypeEnum:
		if !slices.ContainsFunc(info.Values, func(allowed string) bool { return strings.EqualFold(allowed, v) }) {
			return invalid("%s must be one of %v, got %q", info.Name, info.Values, v)
		}
	case TypeEmail:
		if _, _, ok := entity.SplitAddress(v); !ok {
			return invalid("%s must be an address, got %q", info.Name, v)
		}
	case TypeDuration:
		probe := entity.Attrs{"v": {v}}
		if probe.Duration("v", -1) < 0 {
			return invalid("%s must be a duration, got %q", info.Name, v)
		}
	case TypeGeneralizedTime:
		if _, err := entity.ParseGeneralizedTime(v); err != nil {
			return invalid("%s must be a generalized time, got %q", info.Name, v)
		}
	case TypeID:
		if strings.TrimSpace(v) == "" {
			return invalid("%s must not be empty", info.Name)
		}
	default:
		if l := int64(len(v)); l < info.Min || (info.Max > 0 && l > info.Max) {
			return invalid("%s length %d out of range [%d, %s]", info.Name, l, info.Min, maxString(info.Max))
		}
	}
	return nil
}

func maxString(n int64) string {
	if n == 0 {
		return "unbounded"
	}
	return strconv.FormatInt(n, 10)
}
