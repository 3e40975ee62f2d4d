package provisioning

import (
	"fmt"

	"github.com/isometry/dirprov/internal/attrmgr"
	"github.com/isometry/dirprov/internal/entity"
)

func (s *Service) builtinCallbacks() map[string]attrmgr.Callback {
	callbacks := attrmgr.DefaultCallbacks(s.clock)

	groupAddress := attrmgr.Funcs{
		Pre: attrmgr.Lowercase{}.PreModify,
		Post: func(_ *attrmgr.CallbackContext, _ string, target *entity.Entity) error {
			if target.Kind == entity.KindGroup {
				s.invalidateGroupAddresses()
			}
			return nil
		},
	}
	callbacks[entity.AttrMail] = groupAddress
	callbacks[entity.AttrMailAlias] = groupAddress
	callbacks[entity.AttrCOSID] = attrmgr.Funcs{Pre: s.checkCOS}
	return callbacks
}

// checkCOS rejects a class of service id that does not resolve.
func (s *Service) checkCOS(cctx *attrmgr.CallbackContext, _ string, values []string, _ entity.Delta, _ *entity.Entity) error {
	for _, id := range values {
		_, err := s.Get(cctx.Ctx, entity.KindCOS, ByID, id)
		if Code(err) == ErrNotFound {
			return fmt.Errorf("%w: no class of service %s", attrmgr.ErrInvalidAttribute, id)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
