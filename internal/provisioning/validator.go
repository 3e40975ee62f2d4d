package provisioning

import (
	"context"

	"github.com/isometry/dirprov/internal/entity"
)

// OpType is the kind of account change being validated.
type OpType int

const (
	OpCreate OpType = iota
	OpRename
	OpModify
)

func (t OpType) String() string {
	switch t {
	case OpCreate:
		return "create"
	case OpRename:
		return "rename"
	case OpModify:
		return "modify"
	default:
		return "unknown"
	}
}

// Operation describes an account change. For a rename, Domain is the
// target domain.
type Operation struct {
	Type OpType
	// Name is the account name after the change.
	Name   string
	Domain *entity.Entity
	// Account is the existing account; nil on create.
	Account *entity.Entity
	// Attrs are the attributes of a new account.
	Attrs entity.Attrs
	// Delta is the change of a modify.
	Delta entity.Delta
}

// Validator checks an account change before it is written.
type Validator interface {
	Validate(ctx context.Context, op *Operation) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(ctx context.Context, op *Operation) error

func (f ValidatorFunc) Validate(ctx context.Context, op *Operation) error {
	return f(ctx, op)
}

func (s *Service) validate(ctx context.Context, op *Operation) error {
	s.mu.RLock()
	validators := s.validators
	s.mu.RUnlock()

	for _, v := range validators {
		if err := v.Validate(ctx, op); err != nil {
			return classify("validate_"+op.Type.String(), err)
		}
	}
	return nil
}
