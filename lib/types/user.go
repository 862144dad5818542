package types

// HumanHandle pairs a user's email with a display label. The email is
// unique per organization among non-revoked users.
type HumanHandle struct {
	Email string
	Label string
}

// ProfileUpdate records a single profile change in a user's history.
type ProfileUpdate struct {
	Profile   Profile
	Timestamp Timestamp
	Author    DeviceID
}

// User is a member of an organization (spec §3).
type User struct {
	ID              UserID
	HumanHandle     HumanHandle
	InitialProfile  Profile
	ProfileUpdates  []ProfileUpdate
	CreatedOn       Timestamp
	CreatedBy       DeviceID
	RevokedOn       *Timestamp
	RevokedBy       *DeviceID
	Frozen          bool
}

// IsRevoked reports whether the user has been revoked.
func (u *User) IsRevoked() bool {
	return u.RevokedOn != nil
}

// CurrentProfile returns the user's current profile: the last entry of
// ProfileUpdates, or InitialProfile if there have been no updates.
func (u *User) CurrentProfile() Profile {
	if len(u.ProfileUpdates) == 0 {
		return u.InitialProfile
	}
	return u.ProfileUpdates[len(u.ProfileUpdates)-1].Profile
}

// Device is one of a user's enrolled signing keys (spec §3).
type Device struct {
	ID          DeviceID
	VerifyKey   []byte
	CreatedOn   Timestamp
	CreatedBy   DeviceID
	DeviceLabel string
}

// IsUsable reports whether the device may author new certificates: its
// owning user is neither revoked nor frozen, and the organization is not
// expired. orgExpired and user are supplied by the caller, which already
// holds both records.
func (d *Device) IsUsable(user *User, orgExpired bool) bool {
	return !orgExpired && !user.IsRevoked() && !user.Frozen
}
