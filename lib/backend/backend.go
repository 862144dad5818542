// Package backend defines the transactional datamodel adapter consumed by
// every engine (spec §4.9): typed getters/inserts over the entities of
// lib/types, plus advisory per-(organization, topic) locks taken for the
// duration of a handler to serialize the causal-clock check and the
// corresponding insert.
//
// Two concrete implementations are provided: memstore (in-memory, for tests
// and single-node deployments) and sqlstore (database/sql over sqlite).
package backend

import (
	"context"

	"github.com/parsec-io/parsec-server/lib/types"
)

// Topic names an advisory lock scope. Certificate inserts are serialized per
// organization and per topic so the causal-clock check-then-insert sequence
// is atomic without requiring a database-level transaction (spec §4.3, §5).
type Topic string

const (
	TopicCommon    Topic = "common"
	TopicSequester Topic = "sequester"
	TopicShamir    Topic = "shamir"
)

// RealmTopic returns the advisory lock topic for a specific realm.
func RealmTopic(id types.RealmID) Topic {
	return Topic("realm:" + id.String())
}

// Unlock releases a lock acquired via Store.Lock.
type Unlock func()

// Store is the transactional datamodel interface. All methods are
// trace-wrapped on error (gravitational/trace, per DESIGN.md). Callers are
// expected to acquire the relevant topic lock(s) via Lock before reading
// "last timestamp" state and inserting a new certificate or vlob, per the
// ordering guarantees in spec §5.
type Store interface {
	// Lock acquires the advisory lock for (org, topic), returning a function
	// that releases it. Locks are re-entrant-free: do not acquire the same
	// topic twice from the same goroutine.
	Lock(ctx context.Context, org types.OrganizationID, topic Topic) (Unlock, error)

	// Organizations.
	CreateOrganization(ctx context.Context, org *types.Organization) error
	GetOrganization(ctx context.Context, org types.OrganizationID) (*types.Organization, error)
	UpdateOrganization(ctx context.Context, org *types.Organization) error

	// Users.
	CreateUser(ctx context.Context, org types.OrganizationID, user *types.User) error
	GetUser(ctx context.Context, org types.OrganizationID, id types.UserID) (*types.User, error)
	GetUserByEmail(ctx context.Context, org types.OrganizationID, email string) (*types.User, error)
	ListUsers(ctx context.Context, org types.OrganizationID) ([]*types.User, error)
	UpdateUser(ctx context.Context, org types.OrganizationID, user *types.User) error

	// Devices.
	CreateDevice(ctx context.Context, org types.OrganizationID, device *types.Device) error
	GetDevice(ctx context.Context, org types.OrganizationID, id types.DeviceID) (*types.Device, error)
	ListDevicesForUser(ctx context.Context, org types.OrganizationID, user types.UserID) ([]*types.Device, error)

	// Realms.
	CreateRealm(ctx context.Context, org types.OrganizationID, realm *types.Realm) error
	GetRealm(ctx context.Context, org types.OrganizationID, id types.RealmID) (*types.Realm, error)
	UpdateRealm(ctx context.Context, org types.OrganizationID, realm *types.Realm) error
	ListRealmsForUser(ctx context.Context, org types.OrganizationID, user types.UserID) (map[types.RealmID]types.RealmRole, error)

	// Vlobs.
	CreateVlob(ctx context.Context, org types.OrganizationID, vlob *types.Vlob) error
	AppendVlobVersion(ctx context.Context, org types.OrganizationID, id types.VlobID, version types.VlobVersion) error
	GetVlob(ctx context.Context, org types.OrganizationID, id types.VlobID) (*types.Vlob, error)
	PollChanges(ctx context.Context, org types.OrganizationID, realm types.RealmID, since uint64) (current uint64, changed map[types.VlobID]uint64, err error)
	RealmStats(ctx context.Context, org types.OrganizationID, realm types.RealmID) (blocksSize, vlobsSize int64, err error)

	// Blocks.
	CreateBlockMeta(ctx context.Context, org types.OrganizationID, block *types.Block) error
	GetBlockMeta(ctx context.Context, org types.OrganizationID, id types.BlockID) (*types.Block, error)

	// Invitations.
	CreateInvitation(ctx context.Context, org types.OrganizationID, inv *types.Invitation) error
	GetInvitation(ctx context.Context, org types.OrganizationID, token types.InvitationToken) (*types.Invitation, error)
	ListInvitations(ctx context.Context, org types.OrganizationID) ([]*types.Invitation, error)
	FindPendingUserInvitation(ctx context.Context, org types.OrganizationID, email string) (*types.Invitation, error)
	UpdateInvitationStatus(ctx context.Context, org types.OrganizationID, token types.InvitationToken, status types.InvitationStatus) error

	// Sequester.
	CreateSequesterService(ctx context.Context, org types.OrganizationID, svc *types.SequesterService) error
	GetSequesterService(ctx context.Context, org types.OrganizationID, id types.SequesterServiceID) (*types.SequesterService, error)
	ListSequesterServices(ctx context.Context, org types.OrganizationID) ([]*types.SequesterService, error)
	DisableSequesterService(ctx context.Context, org types.OrganizationID, id types.SequesterServiceID, when types.Timestamp) error
	StoreSequesterCiphertext(ctx context.Context, org types.OrganizationID, vlobID types.VlobID, version uint64, service types.SequesterServiceID, ciphertext []byte) error

	// Shamir recovery.
	SetShamirRecoverySetup(ctx context.Context, org types.OrganizationID, setup *types.ShamirRecoverySetup) error
	GetShamirRecoverySetup(ctx context.Context, org types.OrganizationID, user types.UserID) (*types.ShamirRecoverySetup, error)
}

// Store implementations report absence with trace.NotFound and conflicts
// with trace.AlreadyExists; the engines translate these into the right
// EngineError code (REALM_NOT_FOUND vs VLOB_NOT_FOUND, etc.) since the
// backend itself has no notion of which entity kind is missing beyond what
// those errors convey.
