package provisioning

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	goldap "github.com/go-ldap/ldap/v3"

	"github.com/isometry/dirprov/internal/entity"
	"github.com/isometry/dirprov/internal/ldap"
)

// SearchOptions select the entities visited by Search.
type SearchOptions struct {
	// Kinds is the mask of kinds to return.
	Kinds entity.Kind
	// Base restricts the search below one entry instead of the bases
	// covering Kinds.
	Base string
	// Filter is ANDed with the object class filter of Kinds.
	Filter string
	// Attributes limits the attributes read; empty reads everything.
	Attributes []string
	// Limit bounds the number of entities; zero is unlimited.
	Limit int
}

// kindFilter matches the object classes of every kind in mask.
func kindFilter(mask entity.Kind) string {
	var b strings.Builder
	kinds := mask.Split()
	if len(kinds) > 1 {
		b.WriteString("(|")
	}
	for _, kind := range kinds {
		fmt.Fprintf(&b, "(objectClass=%s)", goldap.EscapeFilter(kind.ObjectClass()))
	}
	if len(kinds) > 1 {
		b.WriteString(")")
	}
	return b.String()
}

// Search visits every entity matching opts. A visitor returning
// ldap.ErrStopSearch ends the search without error.
func (s *Service) Search(ctx context.Context, opts SearchOptions, visit func(*entity.Entity) error) error {
	const op = "search"
	mask := opts.Kinds & entity.AllKinds
	if mask == 0 {
		return Errorf(op, ErrInvalidRequest, "no kinds requested")
	}

	filter := kindFilter(mask)
	if opts.Filter != "" {
		if _, err := goldap.CompileFilter(opts.Filter); err != nil {
			return Errorf(op, ErrInvalidRequest, "invalid filter %q: %v", opts.Filter, err)
		}
		filter = "(&" + filter + opts.Filter + ")"
	}

	attributes := entryAttributes
	if len(opts.Attributes) > 0 {
		attributes = slices.Concat(opts.Attributes, []string{
			entity.AttrObjectClass, entity.AttrID, entity.AttrDomainName, s.dit.Config().GlobalNamingAttr,
		})
	}

	bases := s.dit.SearchBases(mask)
	if opts.Base != "" {
		bases = []string{opts.Base}
	}

	stopped := false
	count := 0
	for _, base := range bases {
		req := &ldap.SearchRequest{
			BaseDN:     base,
			Scope:      ldap.ScopeWholeSubtree,
			Filter:     filter,
			Attributes: attributes,
		}
		if opts.Limit > 0 {
			req.SizeLimit = opts.Limit - count
		}

		err := s.dir.SearchVisit(ctx, req, func(entry *goldap.Entry) error {
			attrs := ldap.EntryAttrs(entry)
			kind := kindOf(attrs.Values(entity.AttrObjectClass))
			if kind == 0 || mask&kind == 0 {
				return nil
			}
			e, err := s.toEntity(kind, entry.DN, attrs)
			if err != nil {
				return nil
			}
			count++
			if err := visit(e); err != nil {
				if errors.Is(err, ldap.ErrStopSearch) {
					stopped = true
				}
				return err
			}
			return nil
		})
		switch {
		case ldap.IsNotFoundError(err):
			continue
		case ldap.IsSizeLimitExceeded(err) && opts.Limit > 0 && count >= opts.Limit:
			return nil
		case err != nil:
			return classify(op, err)
		case stopped:
			return nil
		}
		if opts.Limit > 0 && count >= opts.Limit {
			return nil
		}
	}
	return nil
}
