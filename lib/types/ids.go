// Package types defines the entities of the Parsec datamodel: organizations,
// users, devices, realms, vlobs, blocks, invitations and sequester services.
package types

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
)

// ID is an opaque 128-bit identifier rendered as lowercase hex on the wire.
type ID [16]byte

// NewID generates a fresh random ID.
func NewID() ID {
	return ID(uuid.New())
}

// String renders the ID as lowercase hex.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool {
	return id == ID{}
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := ParseID(string(text))
	if err != nil {
		return trace.Wrap(err)
	}
	*id = parsed
	return nil
}

// ParseID parses a lowercase-hex 128-bit identifier.
func ParseID(s string) (ID, error) {
	s = strings.TrimSpace(s)
	raw, err := hex.DecodeString(s)
	if err != nil {
		return ID{}, trace.BadParameter("malformed identifier %q: %v", s, err)
	}
	if len(raw) != 16 {
		return ID{}, trace.BadParameter("malformed identifier %q: want 16 bytes, got %d", s, len(raw))
	}
	var id ID
	copy(id[:], raw)
	return id, nil
}

// The domain distinguishes several identifier flavors. They all share the
// same 128-bit representation; the distinct Go types prevent accidentally
// passing a VlobID where a RealmID is expected.
type (
	// UserID identifies a user within an organization.
	UserID ID
	// RealmID identifies a realm within an organization.
	RealmID ID
	// VlobID identifies a versioned encrypted metadata blob.
	VlobID ID
	// BlockID identifies an immutable encrypted file chunk.
	BlockID ID
	// InvitationToken identifies an invitation within an organization.
	InvitationToken ID
	// SequesterServiceID identifies a sequester service within an organization.
	SequesterServiceID ID
	// EventID uniquely identifies an event published on the bus.
	EventID ID
)

func (id UserID) String() string               { return ID(id).String() }
func (id RealmID) String() string               { return ID(id).String() }
func (id VlobID) String() string                { return ID(id).String() }
func (id BlockID) String() string               { return ID(id).String() }
func (id InvitationToken) String() string       { return ID(id).String() }
func (id SequesterServiceID) String() string    { return ID(id).String() }
func (id EventID) String() string               { return ID(id).String() }

// NewUserID, NewRealmID, etc. generate fresh random identifiers.
func NewUserID() UserID                       { return UserID(NewID()) }
func NewRealmID() RealmID                     { return RealmID(NewID()) }
func NewVlobID() VlobID                       { return VlobID(NewID()) }
func NewBlockID() BlockID                     { return BlockID(NewID()) }
func NewInvitationToken() InvitationToken     { return InvitationToken(NewID()) }
func NewSequesterServiceID() SequesterServiceID { return SequesterServiceID(NewID()) }
func NewEventID() EventID                     { return EventID(NewID()) }

// OrganizationID is a short printable string, unique cluster-wide.
type OrganizationID string

// DeviceName is the user-chosen label distinguishing a user's devices.
type DeviceName string

// DeviceID is the pair (UserID, DeviceName).
type DeviceID struct {
	UserID UserID
	Name   DeviceName
}

// String renders the device id as "<user_id>@<device_name>", the
// conventional Parsec wire rendering.
func (d DeviceID) String() string {
	return d.UserID.String() + "@" + string(d.Name)
}

// ParseDeviceID parses the "<user_id>@<device_name>" wire rendering.
func ParseDeviceID(s string) (DeviceID, error) {
	at := strings.IndexByte(s, '@')
	if at < 0 {
		return DeviceID{}, trace.BadParameter("malformed device id %q", s)
	}
	uid, err := ParseID(s[:at])
	if err != nil {
		return DeviceID{}, trace.Wrap(err)
	}
	return DeviceID{UserID: UserID(uid), Name: DeviceName(s[at+1:])}, nil
}
