// Package org implements organization bootstrap and the common-certificate
// operations that are not scoped to any one realm: user_create, device_create,
// user_update, user_revoke and user_freeze (spec §3, §C.4 supplement).
package org

import (
	"context"
	"crypto/subtle"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/parsec-io/parsec-server/lib/backend"
	"github.com/parsec-io/parsec-server/lib/certs"
	"github.com/parsec-io/parsec-server/lib/events"
	"github.com/parsec-io/parsec-server/lib/types"
)

// Engine implements the organization/user/device lifecycle operations.
type Engine struct {
	log      *logrus.Entry
	store    backend.Store
	clock    clockwork.Clock
	ballpark certs.BallparkConfig
	causal   *certs.CausalClock
	bus      *events.Bus
}

// New builds an org Engine.
func New(store backend.Store, clock clockwork.Clock, bus *events.Bus) *Engine {
	return &Engine{
		log:      logrus.WithField(trace.Component, "org"),
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

// Create handles the administrative organization-create operation: it is
// invoked out-of-band from the anonymous/invited/authenticated dispatch
// trees (typically by a command-line tool or an internal admin endpoint), so
// it takes no author and performs no causal-clock bookkeeping beyond
// recording the entity.
func (e *Engine) Create(ctx context.Context, id types.OrganizationID, bootstrapToken string, activeUsersLimit types.ActiveUsersLimit, outsiderAllowed bool) error {
	return trace.Wrap(e.store.CreateOrganization(ctx, &types.Organization{
		ID:                         id,
		BootstrapToken:             bootstrapToken,
		ActiveUsersLimit:           activeUsersLimit,
		UserProfileOutsiderAllowed: outsiderAllowed,
	}))
}

// BootstrapRequest is the decoded content of an organization_bootstrap call:
// the first user and its first device, created atomically with the
// organization's root verify key.
type BootstrapRequest struct {
	BootstrapToken  string
	RootVerifyKey   []byte
	User            types.UserID
	HumanHandle     types.HumanHandle
	Device          types.DeviceID
	DeviceVerifyKey []byte
	DeviceLabel     string
	Timestamp       types.Timestamp
}

// Bootstrap handles organization_bootstrap: the invited caller that holds the
// organization's bootstrap token creates the first (necessarily Admin) user
// and device. A second bootstrap attempt fails with
// ORGANIZATION_ALREADY_BOOTSTRAPPED and a wrong token with
// ORGANIZATION_INVALID_BOOTSTRAP_TOKEN.
func (e *Engine) Bootstrap(ctx context.Context, org types.OrganizationID, req BootstrapRequest) error {
	unlock, err := e.store.Lock(ctx, org, backend.TopicCommon)
	if err != nil {
		return trace.Wrap(err)
	}
	defer unlock()

	o, err := e.store.GetOrganization(ctx, org)
	if trace.IsNotFound(err) {
		return types.Simple(types.ErrOrganizationNotFound)
	}
	if err != nil {
		return trace.Wrap(err)
	}
	if o.IsBootstrapped {
		return types.Simple(types.ErrOrganizationAlreadyBootstrapped)
	}
	if subtle.ConstantTimeCompare([]byte(o.BootstrapToken), []byte(req.BootstrapToken)) != 1 {
		return types.Simple(types.ErrOrganizationInvalidBootstrapToken)
	}

	if err := certs.CheckBallpark(e.clock, e.ballpark, req.Timestamp); err != nil {
		return trace.Wrap(err)
	}
	if err := e.causal.CheckAndAdvanceCommon(ctx, org, req.Timestamp); err != nil {
		return trace.Wrap(err)
	}

	user := &types.User{
		ID:             req.User,
		HumanHandle:    req.HumanHandle,
		InitialProfile: types.ProfileAdmin,
		CreatedOn:      req.Timestamp,
		CreatedBy:      req.Device,
	}
	if err := e.store.CreateUser(ctx, org, user); err != nil {
		return trace.Wrap(err)
	}
	device := &types.Device{
		ID:          req.Device,
		VerifyKey:   req.DeviceVerifyKey,
		CreatedOn:   req.Timestamp,
		CreatedBy:   req.Device,
		DeviceLabel: req.DeviceLabel,
	}
	if err := e.store.CreateDevice(ctx, org, device); err != nil {
		return trace.Wrap(err)
	}

	o.IsBootstrapped = true
	o.RootVerifyKey = req.RootVerifyKey
	if err := e.store.UpdateOrganization(ctx, o); err != nil {
		return trace.Wrap(err)
	}

	e.bus.Publish(org, events.CommonCertificateEvent(org, req.Timestamp, req.User))
	return nil
}

// UserCreateRequest is the decoded content of a user_create call, normally
// issued by the greeter device once the invitation conduit's final phase has
// completed.
type UserCreateRequest struct {
	Author          types.DeviceID
	AuthorProfile   types.Profile
	User            types.UserID
	HumanHandle     types.HumanHandle
	InitialProfile  types.Profile
	Device          types.DeviceID
	DeviceVerifyKey []byte
	DeviceLabel     string
	Timestamp       types.Timestamp
}

// CreateUser handles user_create: the author must be an Admin, the human
// handle and user id must be fresh, and an Outsider profile is only
// acceptable if the organization allows it (spec §3 Organization entity).
func (e *Engine) CreateUser(ctx context.Context, org types.OrganizationID, req UserCreateRequest) error {
	if req.AuthorProfile != types.ProfileAdmin {
		return types.Simple(types.ErrAuthorNotAllowed)
	}
	if req.InitialProfile == types.ProfileOutsider {
		o, err := e.store.GetOrganization(ctx, org)
		if err != nil {
			return trace.Wrap(err)
		}
		if !o.UserProfileOutsiderAllowed {
			return types.Simple(types.ErrRoleIncompatibleWithOutsider)
		}
	}

	unlock, err := e.store.Lock(ctx, org, backend.TopicCommon)
	if err != nil {
		return trace.Wrap(err)
	}
	defer unlock()

	if _, err := e.store.GetUserByEmail(ctx, org, req.HumanHandle.Email); err == nil {
		return types.Simple(types.ErrHumanHandleAlreadyTaken)
	} else if !trace.IsNotFound(err) {
		return trace.Wrap(err)
	}
	if _, err := e.store.GetUser(ctx, org, req.User); err == nil {
		return types.Simple(types.ErrUserAlreadyExists)
	} else if !trace.IsNotFound(err) {
		return trace.Wrap(err)
	}

	if err := e.checkActiveUsersLimit(ctx, org); err != nil {
		return err
	}

	if err := certs.CheckBallpark(e.clock, e.ballpark, req.Timestamp); err != nil {
		return trace.Wrap(err)
	}
	if err := e.causal.CheckAndAdvanceCommon(ctx, org, req.Timestamp); err != nil {
		return trace.Wrap(err)
	}

	user := &types.User{
		ID:             req.User,
		HumanHandle:    req.HumanHandle,
		InitialProfile: req.InitialProfile,
		CreatedOn:      req.Timestamp,
		CreatedBy:      req.Author,
	}
	if err := e.store.CreateUser(ctx, org, user); err != nil {
		return trace.Wrap(err)
	}
	device := &types.Device{
		ID:          req.Device,
		VerifyKey:   req.DeviceVerifyKey,
		CreatedOn:   req.Timestamp,
		CreatedBy:   req.Author,
		DeviceLabel: req.DeviceLabel,
	}
	if err := e.store.CreateDevice(ctx, org, device); err != nil {
		return trace.Wrap(err)
	}

	e.bus.Publish(org, events.CommonCertificateEvent(org, req.Timestamp, req.User))
	return nil
}

// DeviceCreateRequest is the decoded content of a device_create call: any
// authenticated, non-revoked user may enroll a new device for themselves.
type DeviceCreateRequest struct {
	Author          types.DeviceID
	Device          types.DeviceID
	DeviceVerifyKey []byte
	DeviceLabel     string
	Timestamp       types.Timestamp
}

// CreateDevice handles device_create.
func (e *Engine) CreateDevice(ctx context.Context, org types.OrganizationID, req DeviceCreateRequest) error {
	if req.Device.UserID != req.Author.UserID {
		return types.Simple(types.ErrAuthorNotAllowed)
	}

	unlock, err := e.store.Lock(ctx, org, backend.TopicCommon)
	if err != nil {
		return trace.Wrap(err)
	}
	defer unlock()

	if _, err := e.store.GetDevice(ctx, org, req.Device); err == nil {
		return types.Simple(types.ErrDeviceAlreadyExists)
	} else if !trace.IsNotFound(err) {
		return trace.Wrap(err)
	}

	if err := certs.CheckBallpark(e.clock, e.ballpark, req.Timestamp); err != nil {
		return trace.Wrap(err)
	}
	if err := e.causal.CheckAndAdvanceCommon(ctx, org, req.Timestamp); err != nil {
		return trace.Wrap(err)
	}

	if err := e.store.CreateDevice(ctx, org, &types.Device{
		ID:          req.Device,
		VerifyKey:   req.DeviceVerifyKey,
		CreatedOn:   req.Timestamp,
		CreatedBy:   req.Author,
		DeviceLabel: req.DeviceLabel,
	}); err != nil {
		return trace.Wrap(err)
	}

	e.bus.Publish(org, events.CommonCertificateEvent(org, req.Timestamp, req.Device.UserID))
	return nil
}

// UpdateProfile handles user_update: only an Admin may change another user's
// profile.
func (e *Engine) UpdateProfile(ctx context.Context, org types.OrganizationID, author types.DeviceID, authorProfile types.Profile, target types.UserID, newProfile types.Profile, ts types.Timestamp) error {
	if authorProfile != types.ProfileAdmin {
		return types.Simple(types.ErrAuthorNotAllowed)
	}

	unlock, err := e.store.Lock(ctx, org, backend.TopicCommon)
	if err != nil {
		return trace.Wrap(err)
	}
	defer unlock()

	user, err := e.store.GetUser(ctx, org, target)
	if trace.IsNotFound(err) {
		return types.Simple(types.ErrUserNotFound)
	}
	if err != nil {
		return trace.Wrap(err)
	}
	if user.IsRevoked() {
		return types.Simple(types.ErrUserRevoked)
	}
	if newProfile == types.ProfileOutsider {
		o, err := e.store.GetOrganization(ctx, org)
		if err != nil {
			return trace.Wrap(err)
		}
		if !o.UserProfileOutsiderAllowed {
			return types.Simple(types.ErrRoleIncompatibleWithOutsider)
		}
	}

	if err := certs.CheckBallpark(e.clock, e.ballpark, ts); err != nil {
		return trace.Wrap(err)
	}
	if err := e.causal.CheckAndAdvanceCommon(ctx, org, ts); err != nil {
		return trace.Wrap(err)
	}

	user.ProfileUpdates = append(user.ProfileUpdates, types.ProfileUpdate{
		Profile:   newProfile,
		Timestamp: ts,
		Author:    author,
	})
	if err := e.store.UpdateUser(ctx, org, user); err != nil {
		return trace.Wrap(err)
	}

	e.bus.Publish(org, events.CommonCertificateEvent(org, ts, target))
	return nil
}

// Revoke handles user_revoke: only an Admin may revoke a user, and an Admin
// may never revoke themselves (spec §7.2 CANNOT_SELF_REVOKE, shared with
// realm_unshare's analogous CANNOT_SELF_UNSHARE).
func (e *Engine) Revoke(ctx context.Context, org types.OrganizationID, author types.DeviceID, authorProfile types.Profile, target types.UserID, ts types.Timestamp) error {
	if authorProfile != types.ProfileAdmin {
		return types.Simple(types.ErrAuthorNotAllowed)
	}
	if author.UserID == target {
		return types.Simple(types.ErrCannotSelfRevoke)
	}

	unlock, err := e.store.Lock(ctx, org, backend.TopicCommon)
	if err != nil {
		return trace.Wrap(err)
	}
	defer unlock()

	user, err := e.store.GetUser(ctx, org, target)
	if trace.IsNotFound(err) {
		return types.Simple(types.ErrUserNotFound)
	}
	if err != nil {
		return trace.Wrap(err)
	}
	if user.IsRevoked() {
		return types.Simple(types.ErrUserRevoked)
	}

	if err := certs.CheckBallpark(e.clock, e.ballpark, ts); err != nil {
		return trace.Wrap(err)
	}
	if err := e.causal.CheckAndAdvanceCommon(ctx, org, ts); err != nil {
		return trace.Wrap(err)
	}

	revokedOn, revokedBy := ts, author
	user.RevokedOn = &revokedOn
	user.RevokedBy = &revokedBy
	if err := e.store.UpdateUser(ctx, org, user); err != nil {
		return trace.Wrap(err)
	}

	e.bus.Publish(org, events.CommonCertificateEvent(org, ts, target))
	return nil
}

// Freeze handles user_freeze: an Admin-only membership lockout toggle. Unlike
// the other operations in this file it is not a signed certificate (spec §3
// lists "frozen" as a plain administrative flag, not a certificate kind), so
// it bypasses the causal clock and ballpark checks entirely and is not
// published as a common certificate event.
func (e *Engine) Freeze(ctx context.Context, org types.OrganizationID, authorProfile types.Profile, target types.UserID, frozen bool) error {
	if authorProfile != types.ProfileAdmin {
		return types.Simple(types.ErrAuthorNotAllowed)
	}

	unlock, err := e.store.Lock(ctx, org, backend.TopicCommon)
	if err != nil {
		return trace.Wrap(err)
	}
	defer unlock()

	user, err := e.store.GetUser(ctx, org, target)
	if trace.IsNotFound(err) {
		return types.Simple(types.ErrUserNotFound)
	}
	if err != nil {
		return trace.Wrap(err)
	}

	user.Frozen = frozen
	return trace.Wrap(e.store.UpdateUser(ctx, org, user))
}

func (e *Engine) checkActiveUsersLimit(ctx context.Context, org types.OrganizationID) error {
	o, err := e.store.GetOrganization(ctx, org)
	if err != nil {
		return trace.Wrap(err)
	}
	if o.ActiveUsersLimit == nil {
		return nil
	}
	users, err := e.store.ListUsers(ctx, org)
	if err != nil {
		return trace.Wrap(err)
	}
	active := 0
	for _, u := range users {
		if !u.IsRevoked() {
			active++
		}
	}
	if active >= *o.ActiveUsersLimit {
		return types.Simple(types.ErrActiveUsersLimitReached)
	}
	return nil
}
