package provisioning

import (
	"context"
	"strings"

	"github.com/isometry/dirprov/internal/entity"
)

// ForeignNameHandler maps a principal of a foreign application to a local
// account name.
type ForeignNameHandler interface {
	AccountName(ctx context.Context, domain *entity.Entity, principal string) (string, error)
}

// ForeignNameHandlerFunc builds a handler from the parameters configured
// on the domain.
type ForeignNameHandlerFunc func(params string) (ForeignNameHandler, error)

// LocalPartHandlerName names the built-in handler that keeps the local
// part of the principal and appends the domain.
const LocalPartHandlerName = "localpart"

// RegisterForeignNameHandler makes a handler available to domains under
// name, replacing any handler of the same name.
func (s *Service) RegisterForeignNameHandler(name string, ctor ForeignNameHandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[strings.ToLower(name)] = ctor
}

func (s *Service) foreignNameHandler(name string) (ForeignNameHandlerFunc, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ctor, ok := s.handlers[strings.ToLower(name)]
	return ctor, ok
}

// AccountNameForForeignPrincipal resolves principal of application app to
// an account name. An account carrying the foreign principal wins;
// otherwise the domain's handler for app computes the name. Handlers are
// configured on the domain as "app:handler[:params]".
func (s *Service) AccountNameForForeignPrincipal(ctx context.Context, domain *entity.Entity, app, principal string) (string, error) {
	const op = "foreign_principal"

	acct, err := s.Get(ctx, entity.KindAccount, ByForeignName, app+":"+principal)
	if err == nil {
		return acct.Name, nil
	}
	if Code(err) != ErrNotFound {
		return "", err
	}

	for _, spec := range domain.Attrs.Values(entity.AttrForeignNameHandler) {
		handlerApp, rest, ok := strings.Cut(spec, ":")
		if !ok || !strings.EqualFold(handlerApp, app) {
			continue
		}
		handlerName, params, _ := strings.Cut(rest, ":")
		ctor, ok := s.foreignNameHandler(handlerName)
		if !ok {
			return "", Errorf(op, ErrFailure, "unknown foreign name handler %q", handlerName)
		}
		h, err := ctor(params)
		if err != nil {
			return "", Errorf(op, ErrFailure, "foreign name handler %q: %v", handlerName, err)
		}
		name, err := h.AccountName(ctx, domain, principal)
		if err != nil {
			return "", classify(op, err)
		}
		return strings.ToLower(name), nil
	}
	return "", Errorf(op, ErrNotFound, "no account for %s principal %s", app, principal)
}

type localPartHandler struct{}

// NewLocalPartHandler returns the built-in handler. It accepts no
// parameters.
func NewLocalPartHandler(string) (ForeignNameHandler, error) {
	return localPartHandler{}, nil
}

// AccountName strips a realm ("user@REALM") or NT domain ("DOM\user").
func (localPartHandler) AccountName(_ context.Context, domain *entity.Entity, principal string) (string, error) {
	local := principal
	if _, after, ok := strings.Cut(local, `\`); ok {
		local = after
	}
	if before, _, ok := strings.Cut(local, "@"); ok {
		local = before
	}
	if local == "" {
		return "", Errorf("foreign_principal", ErrInvalidRequest, "empty principal %q", principal)
	}
	return local + "@" + domain.Name, nil
}
