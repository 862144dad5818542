// Package vlob implements vlob create/update/read/poll-changes (spec §4.5).
package vlob

import (
	"context"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/parsec-io/parsec-server/lib/backend"
	"github.com/parsec-io/parsec-server/lib/certs"
	"github.com/parsec-io/parsec-server/lib/events"
	"github.com/parsec-io/parsec-server/lib/sequester"
	"github.com/parsec-io/parsec-server/lib/types"
)

// maxReadAsUserItems is the spec §4.5 cap on vlob_read_as_user batch size.
const maxReadAsUserItems = 1000

// Engine implements the vlob storage engine.
type Engine struct {
	log      *logrus.Entry
	store    backend.Store
	clock    clockwork.Clock
	ballpark certs.BallparkConfig
	causal   *certs.CausalClock
	bus      *events.Bus
	sequest  *sequester.Pipeline
}

// New builds a vlob Engine. sequest may be nil for non-sequestered
// deployments; the engine checks for nil before dispatching.
func New(store backend.Store, clock clockwork.Clock, bus *events.Bus, sequest *sequester.Pipeline) *Engine {
	return &Engine{
		log:      logrus.WithField(trace.Component, "vlob"),
		store:    store,
		clock:    clock,
		ballpark: certs.DefaultBallparkConfig(),
		causal:   certs.NewCausalClock(store),
		bus:      bus,
		sequest:  sequest,
	}
}

// SetBallparkConfig overrides the default ballpark clock-skew window (spec
// §4.3); used by the process wiring layer to apply operator-configured
// offsets instead of the 300s/320s defaults.
func (e *Engine) SetBallparkConfig(cfg certs.BallparkConfig) {
	e.ballpark = cfg
}

// realmRoleChecker is the subset of lib/realm's Engine the vlob engine needs
// to authorize writers/readers, kept as a narrow interface to avoid an
// import cycle between lib/realm and lib/vlob.
type realmRoleChecker struct {
	store backend.Store
}

func (c realmRoleChecker) roleOf(ctx context.Context, org types.OrganizationID, realm types.RealmID, user types.UserID) (types.RealmRole, error) {
	r, err := c.store.GetRealm(ctx, org, realm)
	if trace.IsNotFound(err) {
		return types.RealmRoleNone, types.Simple(types.ErrRealmNotFound)
	}
	if err != nil {
		return types.RealmRoleNone, trace.Wrap(err)
	}
	return r.CurrentRole(user), nil
}

func (e *Engine) checker() realmRoleChecker { return realmRoleChecker{store: e.store} }

// CreateRequest is the decoded content of a vlob_create call.
type CreateRequest struct {
	Realm         types.RealmID
	Vlob          types.VlobID
	Author        types.DeviceID
	KeyIndex      uint64
	Timestamp     types.Timestamp
	Blob          []byte
	SequesterBlob map[types.SequesterServiceID][]byte
}

// Create handles vlob_create: the author must be at least Contributor in the
// realm, and the vlob id must not already be in use.
func (e *Engine) Create(ctx context.Context, org types.OrganizationID, req CreateRequest) error {
	unlockCommon, err := e.store.Lock(ctx, org, backend.TopicCommon)
	if err != nil {
		return trace.Wrap(err)
	}
	defer unlockCommon()
	unlockRealm, err := e.store.Lock(ctx, org, backend.RealmTopic(req.Realm))
	if err != nil {
		return trace.Wrap(err)
	}
	defer unlockRealm()

	role, err := e.checker().roleOf(ctx, org, req.Realm, req.Author.UserID)
	if err != nil {
		return trace.Wrap(err)
	}
	if !role.IsWriter() {
		return types.Simple(types.ErrAuthorNotAllowed)
	}

	if _, err := e.store.GetVlob(ctx, org, req.Vlob); err == nil {
		return types.Simple(types.ErrVlobAlreadyExists)
	} else if !trace.IsNotFound(err) {
		return trace.Wrap(err)
	}

	r, err := e.store.GetRealm(ctx, org, req.Realm)
	if err != nil {
		return trace.Wrap(err)
	}
	if req.KeyIndex != r.CurrentKeyIndex() {
		return types.BadKeyIndex(e.lastRealmTimestamp(ctx, org, req.Realm))
	}

	if req.SequesterBlob != nil {
		if err := e.runSequester(ctx, org, req.Vlob, 1, req.SequesterBlob); err != nil {
			return trace.Wrap(err)
		}
	} else if e.sequest != nil && e.sequest.OrganizationIsSequestered(ctx, org) {
		return types.Simple(types.ErrSequesterInconsistency)
	}

	if err := certs.CheckBallpark(e.clock, e.ballpark, req.Timestamp); err != nil {
		return trace.Wrap(err)
	}
	if err := e.causal.CheckAndAdvanceRealm(ctx, org, req.Realm, req.Timestamp); err != nil {
		return trace.Wrap(err)
	}

	v := &types.Vlob{
		ID:      req.Vlob,
		RealmID: req.Realm,
		Versions: []types.VlobVersion{{
			Version:       1,
			Blob:          req.Blob,
			AuthorDevice:  req.Author,
			Timestamp:     req.Timestamp,
			KeyIndex:      req.KeyIndex,
			SequesterBlob: req.SequesterBlob,
		}},
	}
	if err := e.store.CreateVlob(ctx, org, v); err != nil {
		return trace.Wrap(err)
	}

	e.bus.Publish(org, events.VlobUpdatedEvent(org, req.Realm, req.Vlob, 1, req.Timestamp))
	return nil
}

// UpdateRequest is the decoded content of a vlob_update call.
type UpdateRequest struct {
	Vlob          types.VlobID
	Author        types.DeviceID
	Version       uint64
	KeyIndex      uint64
	Timestamp     types.Timestamp
	Blob          []byte
	SequesterBlob map[types.SequesterServiceID][]byte
}

// Update handles vlob_update: version must be exactly latest+1.
func (e *Engine) Update(ctx context.Context, org types.OrganizationID, req UpdateRequest) error {
	unlockCommon, err := e.store.Lock(ctx, org, backend.TopicCommon)
	if err != nil {
		return trace.Wrap(err)
	}
	defer unlockCommon()

	existing, err := e.store.GetVlob(ctx, org, req.Vlob)
	if trace.IsNotFound(err) {
		return types.Simple(types.ErrVlobNotFound)
	}
	if err != nil {
		return trace.Wrap(err)
	}

	unlockRealm, err := e.store.Lock(ctx, org, backend.RealmTopic(existing.RealmID))
	if err != nil {
		return trace.Wrap(err)
	}
	defer unlockRealm()

	role, err := e.checker().roleOf(ctx, org, existing.RealmID, req.Author.UserID)
	if err != nil {
		return trace.Wrap(err)
	}
	if !role.IsWriter() {
		return types.Simple(types.ErrAuthorNotAllowed)
	}

	latest := existing.Latest()
	if req.Version != latest.Version+1 {
		return types.NewEngineError(types.ErrBadVlobVersion, map[string]any{"last_version": latest.Version})
	}

	r, err := e.store.GetRealm(ctx, org, existing.RealmID)
	if err != nil {
		return trace.Wrap(err)
	}
	if req.KeyIndex != r.CurrentKeyIndex() {
		return types.BadKeyIndex(e.lastRealmTimestamp(ctx, org, existing.RealmID))
	}

	if req.SequesterBlob != nil {
		if err := e.runSequester(ctx, org, req.Vlob, req.Version, req.SequesterBlob); err != nil {
			return trace.Wrap(err)
		}
	} else if e.sequest != nil && e.sequest.OrganizationIsSequestered(ctx, org) {
		return types.Simple(types.ErrSequesterInconsistency)
	}

	if err := certs.CheckBallpark(e.clock, e.ballpark, req.Timestamp); err != nil {
		return trace.Wrap(err)
	}
	if err := e.causal.CheckAndAdvanceRealm(ctx, org, existing.RealmID, req.Timestamp); err != nil {
		return trace.Wrap(err)
	}

	if err := e.store.AppendVlobVersion(ctx, org, req.Vlob, types.VlobVersion{
		Version:       req.Version,
		Blob:          req.Blob,
		AuthorDevice:  req.Author,
		Timestamp:     req.Timestamp,
		KeyIndex:      req.KeyIndex,
		SequesterBlob: req.SequesterBlob,
	}); err != nil {
		return trace.Wrap(err)
	}

	e.bus.Publish(org, events.VlobUpdatedEvent(org, existing.RealmID, req.Vlob, req.Version, req.Timestamp))
	return nil
}

func (e *Engine) runSequester(ctx context.Context, org types.OrganizationID, vlob types.VlobID, version uint64, blobs map[types.SequesterServiceID][]byte) error {
	if e.sequest == nil {
		return types.Simple(types.ErrOrganizationNotSequestered)
	}
	return e.sequest.Dispatch(ctx, org, vlob, version, blobs)
}

func (e *Engine) lastRealmTimestamp(ctx context.Context, org types.OrganizationID, realm types.RealmID) types.Timestamp {
	o, err := e.store.GetOrganization(ctx, org)
	if err != nil {
		return 0
	}
	return o.LastRealmCertificateTimestamp[realm]
}

// ReadResult is one entry of a vlob_read_as_user response.
type ReadResult struct {
	VlobID       types.VlobID
	Version      uint64
	AuthorDevice types.DeviceID
	Timestamp    types.Timestamp
	Blob         []byte
}

// ReadAsUserResult is the full outcome of vlob_read_as_user: the requested
// items plus the two certificate timestamps the client must have synced up
// to before trusting them (spec §4.5).
type ReadAsUserResult struct {
	Items                           []ReadResult
	LastCommonCertificateTimestamp types.Timestamp
	LastRealmCertificateTimestamp  types.Timestamp
}

// ReadAsUser handles vlob_read_as_user: the caller must hold at least Reader
// in realm; every named vlob not found or outside the realm is silently
// skipped, matching the original implementation's best-effort semantics.
func (e *Engine) ReadAsUser(ctx context.Context, org types.OrganizationID, author types.UserID, realm types.RealmID, vlobIDs []types.VlobID) (ReadAsUserResult, error) {
	if len(vlobIDs) > maxReadAsUserItems {
		return ReadAsUserResult{}, types.Simple(types.ErrTooManyElements)
	}

	role, err := e.checker().roleOf(ctx, org, realm, author)
	if err != nil {
		return ReadAsUserResult{}, trace.Wrap(err)
	}
	if role == types.RealmRoleNone {
		return ReadAsUserResult{}, types.Simple(types.ErrAuthorNotAllowed)
	}

	out := make([]ReadResult, 0, len(vlobIDs))
	for _, id := range vlobIDs {
		v, err := e.store.GetVlob(ctx, org, id)
		if trace.IsNotFound(err) {
			continue
		}
		if err != nil {
			return ReadAsUserResult{}, trace.Wrap(err)
		}
		if v.RealmID != realm {
			continue
		}
		latest := v.Latest()
		out = append(out, ReadResult{
			VlobID:       id,
			Version:      latest.Version,
			AuthorDevice: latest.AuthorDevice,
			Timestamp:    latest.Timestamp,
			Blob:         latest.Blob,
		})
	}

	o, err := e.store.GetOrganization(ctx, org)
	if err != nil {
		return ReadAsUserResult{}, trace.Wrap(err)
	}
	return ReadAsUserResult{
		Items:                           out,
		LastCommonCertificateTimestamp: o.LastCommonCertificateTimestamp,
		LastRealmCertificateTimestamp:   o.LastRealmCertificateTimestamp[realm],
	}, nil
}

// PollChangesAsUser handles vlob_poll_changes_as_user.
func (e *Engine) PollChangesAsUser(ctx context.Context, org types.OrganizationID, author types.UserID, realm types.RealmID, checkpoint uint64) (current uint64, changed map[types.VlobID]uint64, err error) {
	role, err := e.checker().roleOf(ctx, org, realm, author)
	if err != nil {
		return 0, nil, trace.Wrap(err)
	}
	if role == types.RealmRoleNone {
		return 0, nil, types.Simple(types.ErrAuthorNotAllowed)
	}
	current, changed, err = e.store.PollChanges(ctx, org, realm, checkpoint)
	return current, changed, trace.Wrap(err)
}
