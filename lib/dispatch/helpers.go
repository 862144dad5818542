package dispatch

import "github.com/parsec-io/parsec-server/lib/types"

func parseProfile(s string) (types.Profile, error) {
	p := types.Profile(s)
	if err := p.CheckAndSetDefaults(); err != nil {
		return "", types.Simple(types.ErrInvalidMessage)
	}
	return p, nil
}

func parseRealmRole(s string) (types.RealmRole, error) {
	switch types.RealmRole(s) {
	case types.RealmRoleNone, types.RealmRoleOwner, types.RealmRoleManager, types.RealmRoleContributor, types.RealmRoleReader:
		return types.RealmRole(s), nil
	default:
		return "", types.Simple(types.ErrInvalidMessage)
	}
}
