package types

// RealmUserRole is one entry in a realm's role history (spec §3).
type RealmUserRole struct {
	UserID      UserID
	Role        RealmRole // RealmRoleNone denotes an unshare
	Certificate []byte
	Author      DeviceID
	Timestamp   Timestamp
}

// KeyRotation is one entry in a realm's key-rotation history. KeyIndex 0
// denotes the pre-rotation "user realm" state.
type KeyRotation struct {
	KeyIndex    uint64
	Certificate []byte
	Author      DeviceID
	Timestamp   Timestamp
}

// Realm is an encrypted workspace grouping vlobs, blocks and a role list
// (spec §3).
type Realm struct {
	ID        RealmID
	CreatedOn Timestamp
	Roles     []RealmUserRole
	Keys      []KeyRotation
	// Checkpoint increments on every vlob write in this realm; used by
	// vlob_poll_changes_as_user (spec §4.5).
	Checkpoint uint64
}

// CurrentKeyIndex returns the realm's current key index (0 before any
// rotation).
func (r *Realm) CurrentKeyIndex() uint64 {
	if len(r.Keys) == 0 {
		return 0
	}
	return r.Keys[len(r.Keys)-1].KeyIndex
}

// CurrentRole returns a user's current role in the realm, scanning the role
// history from the most recent entry.
func (r *Realm) CurrentRole(user UserID) RealmRole {
	for i := len(r.Roles) - 1; i >= 0; i-- {
		if r.Roles[i].UserID == user {
			return r.Roles[i].Role
		}
	}
	return RealmRoleNone
}

// CurrentMembers returns the set of users currently holding a non-None role.
func (r *Realm) CurrentMembers() map[UserID]RealmRole {
	out := make(map[UserID]RealmRole)
	for _, entry := range r.Roles {
		if entry.Role == RealmRoleNone {
			delete(out, entry.UserID)
			continue
		}
		out[entry.UserID] = entry.Role
	}
	return out
}
