// Package realm implements realm creation, role sharing/unsharing, key
// rotation and stats (spec §4.4).
package realm

import (
	"context"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/parsec-io/parsec-server/lib/backend"
	"github.com/parsec-io/parsec-server/lib/certs"
	"github.com/parsec-io/parsec-server/lib/events"
	"github.com/parsec-io/parsec-server/lib/types"
)

// Engine implements the realm & role engine of spec §4.4.
type Engine struct {
	log       *logrus.Entry
	store     backend.Store
	clock     clockwork.Clock
	ballpark  certs.BallparkConfig
	causal    *certs.CausalClock
	bus       *events.Bus
}

// New builds a realm Engine.
func New(store backend.Store, clock clockwork.Clock, bus *events.Bus) *Engine {
	return &Engine{
		log:      logrus.WithField(trace.Component, "realm"),
		store:    store,
		clock:    clock,
		ballpark: certs.DefaultBallparkConfig(),
		causal:   certs.NewCausalClock(store),
		bus:      bus,
	}
}

// SetBallparkConfig overrides the default ballpark clock-skew window (spec
// §4.3); used by the process wiring layer to apply operator-configured
// offsets instead of the 300s/320s defaults.
func (e *Engine) SetBallparkConfig(cfg certs.BallparkConfig) {
	e.ballpark = cfg
}

// RoleCertificate is the decoded content of a realm_role certificate: a
// signed statement that `author` grants `role` to `user` in `realm`,
// wire-decoded by lib/wire before reaching the engine (client-side crypto
// and the exact msgpack shape are out of this package's concern).
type RoleCertificate struct {
	Realm     types.RealmID
	User      types.UserID
	Role      types.RealmRole
	KeyIndex  uint64
	Author    types.DeviceID
	Timestamp types.Timestamp
	Raw       []byte
}

// Create handles realm_create: the author's certificate must grant
// themselves Owner, and the author's profile must not be Outsider.
func (e *Engine) Create(ctx context.Context, org types.OrganizationID, authorProfile types.Profile, cert RoleCertificate) error {
	if authorProfile == types.ProfileOutsider {
		return types.Simple(types.ErrAuthorNotAllowed)
	}
	if cert.Role != types.RealmRoleOwner || cert.User != cert.Author.UserID {
		return trace.BadParameter("realm_create certificate must self-grant Owner")
	}

	unlockCommon, err := e.store.Lock(ctx, org, backend.TopicCommon)
	if err != nil {
		return trace.Wrap(err)
	}
	defer unlockCommon()
	unlockRealm, err := e.store.Lock(ctx, org, backend.RealmTopic(cert.Realm))
	if err != nil {
		return trace.Wrap(err)
	}
	defer unlockRealm()

	if _, err := e.store.GetRealm(ctx, org, cert.Realm); err == nil {
		return types.Simple(types.ErrRealmAlreadyExists)
	} else if !trace.IsNotFound(err) {
		return trace.Wrap(err)
	}

	if err := certs.CheckBallpark(e.clock, e.ballpark, cert.Timestamp); err != nil {
		return trace.Wrap(err)
	}
	if err := e.causal.CheckAndAdvanceRealm(ctx, org, cert.Realm, cert.Timestamp); err != nil {
		return trace.Wrap(err)
	}

	r := &types.Realm{
		ID:        cert.Realm,
		CreatedOn: cert.Timestamp,
		Roles: []types.RealmUserRole{{
			UserID:      cert.User,
			Role:        types.RealmRoleOwner,
			Certificate: cert.Raw,
			Author:      cert.Author,
			Timestamp:   cert.Timestamp,
		}},
	}
	if err := e.store.CreateRealm(ctx, org, r); err != nil {
		return trace.Wrap(err)
	}

	e.bus.Publish(org, events.RealmCertificateEvent(org, cert.Realm, cert.Timestamp, cert.User, false))
	return nil
}

// authorizeRoleChange enforces spec §4.4(b)/(c): Owner/Manager grants and
// revokes require an Owner author; Reader/Contributor changes require at
// least Manager. The rule that Outsiders can never hold Manager or Owner is
// enforced by Share, not here.
func authorizeRoleChange(authorRole, targetNewRole types.RealmRole) error {
	touchesTopTier := targetNewRole == types.RealmRoleOwner || targetNewRole == types.RealmRoleManager
	if touchesTopTier {
		if authorRole != types.RealmRoleOwner {
			return types.Simple(types.ErrAuthorNotAllowed)
		}
		return nil
	}
	if !authorRole.IsManagerOrAbove() {
		return types.Simple(types.ErrAuthorNotAllowed)
	}
	return nil
}

// Share handles realm_share: grants or changes a role.
func (e *Engine) Share(ctx context.Context, org types.OrganizationID, targetProfile types.Profile, targetRevoked bool, cert RoleCertificate) error {
	if cert.Role == types.RealmRoleManager || cert.Role == types.RealmRoleOwner {
		if targetProfile == types.ProfileOutsider {
			return types.Simple(types.ErrRoleIncompatibleWithOutsider)
		}
	}
	if targetRevoked {
		return types.Simple(types.ErrUserRevoked)
	}

	unlockCommon, err := e.store.Lock(ctx, org, backend.TopicCommon)
	if err != nil {
		return trace.Wrap(err)
	}
	defer unlockCommon()
	unlockRealm, err := e.store.Lock(ctx, org, backend.RealmTopic(cert.Realm))
	if err != nil {
		return trace.Wrap(err)
	}
	defer unlockRealm()

	r, err := e.store.GetRealm(ctx, org, cert.Realm)
	if trace.IsNotFound(err) {
		return types.Simple(types.ErrRealmNotFound)
	}
	if err != nil {
		return trace.Wrap(err)
	}

	authorRole := r.CurrentRole(cert.Author.UserID)
	if err := authorizeRoleChange(authorRole, cert.Role); err != nil {
		return trace.Wrap(err)
	}

	current := r.CurrentRole(cert.User)
	if current == cert.Role {
		return types.Simple(types.ErrRoleAlreadyGranted)
	}

	if cert.KeyIndex != r.CurrentKeyIndex() {
		return types.BadKeyIndex(e.lastRealmTimestamp(ctx, org, cert.Realm))
	}

	if err := certs.CheckBallpark(e.clock, e.ballpark, cert.Timestamp); err != nil {
		return trace.Wrap(err)
	}
	if err := e.causal.CheckAndAdvanceRealm(ctx, org, cert.Realm, cert.Timestamp); err != nil {
		return trace.Wrap(err)
	}

	r.Roles = append(r.Roles, types.RealmUserRole{
		UserID:      cert.User,
		Role:        cert.Role,
		Certificate: cert.Raw,
		Author:      cert.Author,
		Timestamp:   cert.Timestamp,
	})
	if err := e.store.UpdateRealm(ctx, org, r); err != nil {
		return trace.Wrap(err)
	}

	e.bus.Publish(org, events.RealmCertificateEvent(org, cert.Realm, cert.Timestamp, cert.User, false))
	return nil
}

// Unshare handles realm_unshare: a role-None certificate.
func (e *Engine) Unshare(ctx context.Context, org types.OrganizationID, cert RoleCertificate) error {
	if cert.Role != types.RealmRoleNone {
		return trace.BadParameter("realm_unshare certificate must carry role=None")
	}
	if cert.User == cert.Author.UserID {
		return types.Simple(types.ErrCannotSelfUnshare)
	}

	unlockCommon, err := e.store.Lock(ctx, org, backend.TopicCommon)
	if err != nil {
		return trace.Wrap(err)
	}
	defer unlockCommon()
	unlockRealm, err := e.store.Lock(ctx, org, backend.RealmTopic(cert.Realm))
	if err != nil {
		return trace.Wrap(err)
	}
	defer unlockRealm()

	r, err := e.store.GetRealm(ctx, org, cert.Realm)
	if trace.IsNotFound(err) {
		return types.Simple(types.ErrRealmNotFound)
	}
	if err != nil {
		return trace.Wrap(err)
	}

	authorRole := r.CurrentRole(cert.Author.UserID)
	current := r.CurrentRole(cert.User)
	if current == types.RealmRoleNone {
		return types.Simple(types.ErrUserAlreadyUnshared)
	}
	if err := authorizeRoleChange(authorRole, current); err != nil {
		return trace.Wrap(err)
	}

	if err := certs.CheckBallpark(e.clock, e.ballpark, cert.Timestamp); err != nil {
		return trace.Wrap(err)
	}
	if err := e.causal.CheckAndAdvanceRealm(ctx, org, cert.Realm, cert.Timestamp); err != nil {
		return trace.Wrap(err)
	}

	r.Roles = append(r.Roles, types.RealmUserRole{
		UserID:      cert.User,
		Role:        types.RealmRoleNone,
		Certificate: cert.Raw,
		Author:      cert.Author,
		Timestamp:   cert.Timestamp,
	})
	if err := e.store.UpdateRealm(ctx, org, r); err != nil {
		return trace.Wrap(err)
	}

	e.bus.Publish(org, events.RealmCertificateEvent(org, cert.Realm, cert.Timestamp, cert.User, true))
	return nil
}

func (e *Engine) lastRealmTimestamp(ctx context.Context, org types.OrganizationID, realm types.RealmID) types.Timestamp {
	o, err := e.store.GetOrganization(ctx, org)
	if err != nil {
		return 0
	}
	return o.LastRealmCertificateTimestamp[realm]
}

// RotateKeyRequest is the decoded content of a key-rotation call.
type RotateKeyRequest struct {
	Realm                     types.RealmID
	Author                    types.DeviceID
	Timestamp                 types.Timestamp
	Certificate               []byte
	PerParticipantKeysAccess  map[types.UserID][]byte
}

// RotateKey handles realm_rotate_key: requires Owner, and the participant
// map must cover exactly the realm's current non-revoked members (spec §4.4,
// supplemented per SPEC_FULL.md §C.2: exact match, not subset).
func (e *Engine) RotateKey(ctx context.Context, org types.OrganizationID, req RotateKeyRequest) (uint64, error) {
	unlockCommon, err := e.store.Lock(ctx, org, backend.TopicCommon)
	if err != nil {
		return 0, trace.Wrap(err)
	}
	defer unlockCommon()
	unlockRealm, err := e.store.Lock(ctx, org, backend.RealmTopic(req.Realm))
	if err != nil {
		return 0, trace.Wrap(err)
	}
	defer unlockRealm()

	r, err := e.store.GetRealm(ctx, org, req.Realm)
	if trace.IsNotFound(err) {
		return 0, types.Simple(types.ErrRealmNotFound)
	}
	if err != nil {
		return 0, trace.Wrap(err)
	}

	if r.CurrentRole(req.Author.UserID) != types.RealmRoleOwner {
		return 0, types.Simple(types.ErrAuthorNotAllowed)
	}

	members := r.CurrentMembers()
	if len(members) != len(req.PerParticipantKeysAccess) {
		return 0, types.BadKeyIndex(e.lastRealmTimestamp(ctx, org, req.Realm))
	}
	for user := range members {
		if _, ok := req.PerParticipantKeysAccess[user]; !ok {
			return 0, types.BadKeyIndex(e.lastRealmTimestamp(ctx, org, req.Realm))
		}
	}
	for user := range req.PerParticipantKeysAccess {
		if _, ok := members[user]; !ok {
			return 0, types.BadKeyIndex(e.lastRealmTimestamp(ctx, org, req.Realm))
		}
	}

	if err := certs.CheckBallpark(e.clock, e.ballpark, req.Timestamp); err != nil {
		return 0, trace.Wrap(err)
	}
	if err := e.causal.CheckAndAdvanceRealm(ctx, org, req.Realm, req.Timestamp); err != nil {
		return 0, trace.Wrap(err)
	}

	newIndex := r.CurrentKeyIndex() + 1
	r.Keys = append(r.Keys, types.KeyRotation{
		KeyIndex:    newIndex,
		Certificate: req.Certificate,
		Author:      req.Author,
		Timestamp:   req.Timestamp,
	})
	if err := e.store.UpdateRealm(ctx, org, r); err != nil {
		return 0, trace.Wrap(err)
	}

	e.bus.Publish(org, events.RealmCertificateEvent(org, req.Realm, req.Timestamp, req.Author.UserID, false))
	return newIndex, nil
}

// Stats returns (blocks_size, vlobs_size) for a realm, used by
// realm_get_stats_as_user.
func (e *Engine) Stats(ctx context.Context, org types.OrganizationID, realm types.RealmID) (blocksSize, vlobsSize int64, err error) {
	if _, err := e.store.GetRealm(ctx, org, realm); trace.IsNotFound(err) {
		return 0, 0, types.Simple(types.ErrRealmNotFound)
	} else if err != nil {
		return 0, 0, trace.Wrap(err)
	}
	return e.store.RealmStats(ctx, org, realm)
}

// CurrentRealm is one entry of get_current_realms_for_user's result.
// KeyIndex is reported alongside the role per SPEC_FULL.md §C.1.
type CurrentRealm struct {
	Role     types.RealmRole
	KeyIndex uint64
}

// CurrentRealmsForUser handles get_current_realms_for_user.
func (e *Engine) CurrentRealmsForUser(ctx context.Context, org types.OrganizationID, user types.UserID) (map[types.RealmID]CurrentRealm, error) {
	roles, err := e.store.ListRealmsForUser(ctx, org, user)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out := make(map[types.RealmID]CurrentRealm, len(roles))
	for id, role := range roles {
		r, err := e.store.GetRealm(ctx, org, id)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out[id] = CurrentRealm{Role: role, KeyIndex: r.CurrentKeyIndex()}
	}
	return out, nil
}
