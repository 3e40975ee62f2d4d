// Package provisioning is the entry point for callers that look up and
// change directory entities. A Service composes the naming rules, the
// directory client, the typed caches and the attribute manager.
package provisioning

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/juju/clock"

	"github.com/isometry/dirprov/internal/attrmgr"
	"github.com/isometry/dirprov/internal/cache"
	"github.com/isometry/dirprov/internal/dit"
	"github.com/isometry/dirprov/internal/entity"
	"github.com/isometry/dirprov/internal/ldap"
)

// Subsystem is the tflog subsystem used by this package.
const Subsystem = attrmgr.Subsystem

// Options configure a Service.
type Options struct {
	// Directory is required. The Service never closes it.
	Directory ldap.Client
	// DIT is required.
	DIT *dit.DIT
	// Caches defaults to a disabled set.
	Caches *cache.Set
	// Schema overrides the built-in attribute schema.
	Schema             []attrmgr.AttributeInfo
	Callbacks          map[string]attrmgr.Callback
	ExtraObjectClasses map[entity.Kind][]string
	Clock              clock.Clock
}

// Service implements the provisioning operations. It is safe for
// concurrent use.
type Service struct {
	dir    ldap.Client
	dit    *dit.DIT
	caches *cache.Set
	attrs  *attrmgr.Manager
	clock  clock.Clock

	mu          sync.RWMutex
	validators  []Validator
	provisioner AutoProvisioner
	handlers    map[string]ForeignNameHandlerFunc

	// groupMu guards the lazily rebuilt set of every group address.
	groupMu    sync.Mutex
	groupAddrs map[string]struct{}
}

// New builds a Service.
func New(ctx context.Context, opts Options) (*Service, error) {
	if opts.Directory == nil {
		return nil, fmt.Errorf("provisioning: directory client is required")
	}
	if opts.DIT == nil {
		return nil, fmt.Errorf("provisioning: DIT is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if opts.Caches == nil {
		opts.Caches = cache.NewSet(ctx, cache.Config{}, opts.Clock)
	}

	s := &Service{
		dir:      opts.Directory,
		dit:      opts.DIT,
		caches:   opts.Caches,
		clock:    opts.Clock,
		handlers: make(map[string]ForeignNameHandlerFunc),
	}

	callbacks := s.builtinCallbacks()
	for name, cb := range opts.Callbacks {
		callbacks[name] = cb
	}
	s.attrs = attrmgr.New(attrmgr.Options{
		Schema:             opts.Schema,
		Callbacks:          callbacks,
		ExtraObjectClasses: opts.ExtraObjectClasses,
	})

	s.RegisterForeignNameHandler(LocalPartHandlerName, NewLocalPartHandler)
	return s, nil
}

// Close drops every cached projection. The directory client stays open.
func (s *Service) Close() error {
	s.caches.Clear()
	s.invalidateGroupAddresses()
	return nil
}

// Directory returns the directory client.
func (s *Service) Directory() ldap.Client { return s.dir }

// DIT returns the naming rules.
func (s *Service) DIT() *dit.DIT { return s.dit }

// Caches returns the typed caches.
func (s *Service) Caches() *cache.Set { return s.caches }

// Attributes returns the attribute manager.
func (s *Service) Attributes() *attrmgr.Manager { return s.attrs }

// Clock returns the service clock.
func (s *Service) Clock() clock.Clock { return s.clock }

// AddValidator installs a validator run before account changes.
func (s *Service) AddValidator(v Validator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validators = append(s.validators, v)
}

// SetAutoProvisioner installs the provisioner used for lazy
// auto-provisioning during authentication.
func (s *Service) SetAutoProvisioner(p AutoProvisioner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.provisioner = p
}

func (s *Service) autoProvisioner() AutoProvisioner {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.provisioner
}

// objectClasses returns the object classes of a new entry of kind,
// including configured extra classes.
func (s *Service) objectClasses(kind entity.Kind) []string {
	var classes []string
	switch kind {
	case entity.KindAccount:
		classes = []string{"top", entity.ClassInetOrgPerson, entity.ClassAccount}
	case entity.KindDomain:
		classes = []string{"top", entity.ClassDCObject, entity.ClassOrganization, entity.ClassDomain}
	default:
		classes = []string{"top", kind.ObjectClass()}
	}
	return append(classes, s.attrs.ExtraObjectClasses(kind)...)
}

// kindOf maps the object classes of an entry to its kind.
func kindOf(classes []string) entity.Kind {
	for _, kind := range entity.AllKinds.Split() {
		for _, oc := range classes {
			if strings.EqualFold(oc, kind.ObjectClass()) {
				return kind
			}
		}
	}
	return 0
}

// schemaSource reads the subschema on demand for EnsureExtensions.
type schemaSource struct {
	ctx context.Context
	dir ldap.Client
}

func (src schemaSource) ObjectClassAttributes(classes ...string) ([]string, error) {
	schema, err := ldap.ReadSubschema(src.ctx, src.dir)
	if err != nil {
		return nil, err
	}
	return schema.ObjectClassAttributes(classes...)
}
