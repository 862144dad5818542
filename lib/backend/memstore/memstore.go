// Package memstore is the in-memory Store implementation used for tests and
// single-node deployments (spec §4.9).
package memstore

import (
	"context"
	"sync"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	"github.com/parsec-io/parsec-server/lib/backend"
	"github.com/parsec-io/parsec-server/lib/types"
)

type orgData struct {
	org         *types.Organization
	users       map[types.UserID]*types.User
	usersByMail map[string]types.UserID
	devices     map[types.DeviceID]*types.Device
	realms      map[types.RealmID]*types.Realm
	vlobs       map[types.VlobID]*types.Vlob
	blocks      map[types.BlockID]*types.Block
	invitations map[types.InvitationToken]*types.Invitation
	sequester   map[types.SequesterServiceID]*types.SequesterService
	sequesterCiphertexts map[types.VlobID]map[uint64]map[types.SequesterServiceID][]byte
	shamir      map[types.UserID]*types.ShamirRecoverySetup
}

func newOrgData() *orgData {
	return &orgData{
		users:       make(map[types.UserID]*types.User),
		usersByMail: make(map[string]types.UserID),
		devices:     make(map[types.DeviceID]*types.Device),
		realms:      make(map[types.RealmID]*types.Realm),
		vlobs:       make(map[types.VlobID]*types.Vlob),
		blocks:      make(map[types.BlockID]*types.Block),
		invitations: make(map[types.InvitationToken]*types.Invitation),
		sequester:   make(map[types.SequesterServiceID]*types.SequesterService),
		sequesterCiphertexts: make(map[types.VlobID]map[uint64]map[types.SequesterServiceID][]byte),
		shamir:      make(map[types.UserID]*types.ShamirRecoverySetup),
	}
}

// Store is a mutex-guarded in-memory backend.Store.
type Store struct {
	log *logrus.Entry

	mu    sync.Mutex
	orgs  map[types.OrganizationID]*orgData
	locks map[string]*sync.Mutex
}

// New returns a ready-to-use empty Store.
func New() *Store {
	return &Store{
		log:   logrus.WithField(trace.Component, "memstore"),
		orgs:  make(map[types.OrganizationID]*orgData),
		locks: make(map[string]*sync.Mutex),
	}
}

func (s *Store) data(org types.OrganizationID) (*orgData, error) {
	d, ok := s.orgs[org]
	if !ok {
		return nil, trace.NotFound("organization %q not found", org)
	}
	return d, nil
}

// Lock implements backend.Store.
func (s *Store) Lock(ctx context.Context, org types.OrganizationID, topic backend.Topic) (backend.Unlock, error) {
	key := string(org) + "/" + string(topic)

	s.mu.Lock()
	m, ok := s.locks[key]
	if !ok {
		m = &sync.Mutex{}
		s.locks[key] = m
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.Lock()
		close(done)
	}()
	select {
	case <-done:
		return func() { m.Unlock() }, nil
	case <-ctx.Done():
		go func() { <-done; m.Unlock() }()
		return nil, trace.Wrap(ctx.Err())
	}
}

// CreateOrganization implements backend.Store.
func (s *Store) CreateOrganization(ctx context.Context, org *types.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[org.ID]; ok {
		return trace.AlreadyExists("organization %q already exists", org.ID)
	}
	d := newOrgData()
	cp := *org
	d.org = &cp
	s.orgs[org.ID] = d
	return nil
}

// GetOrganization implements backend.Store.
func (s *Store) GetOrganization(ctx context.Context, org types.OrganizationID) (*types.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(org)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	cp := *d.org
	return &cp, nil
}

// UpdateOrganization implements backend.Store.
func (s *Store) UpdateOrganization(ctx context.Context, org *types.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(org.ID)
	if err != nil {
		return trace.Wrap(err)
	}
	cp := *org
	d.org = &cp
	return nil
}

// CreateUser implements backend.Store.
func (s *Store) CreateUser(ctx context.Context, org types.OrganizationID, user *types.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(org)
	if err != nil {
		return trace.Wrap(err)
	}
	if _, ok := d.users[user.ID]; ok {
		return trace.AlreadyExists("user %q already exists", user.ID)
	}
	email := user.HumanHandle.Email
	if existing, ok := d.usersByMail[email]; ok {
		if other := d.users[existing]; other != nil && !other.IsRevoked() {
			return trace.AlreadyExists("human handle %q already taken", email)
		}
	}
	cp := *user
	d.users[user.ID] = &cp
	d.usersByMail[email] = user.ID
	return nil
}

// GetUser implements backend.Store.
func (s *Store) GetUser(ctx context.Context, org types.OrganizationID, id types.UserID) (*types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(org)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	u, ok := d.users[id]
	if !ok {
		return nil, trace.NotFound("user %q not found", id)
	}
	cp := *u
	return &cp, nil
}

// GetUserByEmail implements backend.Store.
func (s *Store) GetUserByEmail(ctx context.Context, org types.OrganizationID, email string) (*types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(org)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	id, ok := d.usersByMail[email]
	if !ok {
		return nil, trace.NotFound("user with email %q not found", email)
	}
	cp := *d.users[id]
	return &cp, nil
}

// ListUsers implements backend.Store.
func (s *Store) ListUsers(ctx context.Context, org types.OrganizationID) ([]*types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(org)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out := make([]*types.User, 0, len(d.users))
	for _, u := range d.users {
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}

// UpdateUser implements backend.Store.
func (s *Store) UpdateUser(ctx context.Context, org types.OrganizationID, user *types.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(org)
	if err != nil {
		return trace.Wrap(err)
	}
	if _, ok := d.users[user.ID]; !ok {
		return trace.NotFound("user %q not found", user.ID)
	}
	cp := *user
	d.users[user.ID] = &cp
	return nil
}

// CreateDevice implements backend.Store.
func (s *Store) CreateDevice(ctx context.Context, org types.OrganizationID, device *types.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(org)
	if err != nil {
		return trace.Wrap(err)
	}
	if _, ok := d.devices[device.ID]; ok {
		return trace.AlreadyExists("device %q already exists", device.ID)
	}
	cp := *device
	d.devices[device.ID] = &cp
	return nil
}

// GetDevice implements backend.Store.
func (s *Store) GetDevice(ctx context.Context, org types.OrganizationID, id types.DeviceID) (*types.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(org)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	dev, ok := d.devices[id]
	if !ok {
		return nil, trace.NotFound("device %q not found", id)
	}
	cp := *dev
	return &cp, nil
}

// ListDevicesForUser implements backend.Store.
func (s *Store) ListDevicesForUser(ctx context.Context, org types.OrganizationID, user types.UserID) ([]*types.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(org)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var out []*types.Device
	for _, dev := range d.devices {
		if dev.ID.UserID == user {
			cp := *dev
			out = append(out, &cp)
		}
	}
	return out, nil
}

// CreateRealm implements backend.Store.
func (s *Store) CreateRealm(ctx context.Context, org types.OrganizationID, realm *types.Realm) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(org)
	if err != nil {
		return trace.Wrap(err)
	}
	if _, ok := d.realms[realm.ID]; ok {
		return trace.AlreadyExists("realm %q already exists", realm.ID)
	}
	cp := *realm
	cp.Roles = append([]types.RealmUserRole(nil), realm.Roles...)
	cp.Keys = append([]types.KeyRotation(nil), realm.Keys...)
	d.realms[realm.ID] = &cp
	return nil
}

// GetRealm implements backend.Store.
func (s *Store) GetRealm(ctx context.Context, org types.OrganizationID, id types.RealmID) (*types.Realm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(org)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	r, ok := d.realms[id]
	if !ok {
		return nil, trace.NotFound("realm %q not found", id)
	}
	cp := *r
	cp.Roles = append([]types.RealmUserRole(nil), r.Roles...)
	cp.Keys = append([]types.KeyRotation(nil), r.Keys...)
	return &cp, nil
}

// UpdateRealm implements backend.Store.
func (s *Store) UpdateRealm(ctx context.Context, org types.OrganizationID, realm *types.Realm) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(org)
	if err != nil {
		return trace.Wrap(err)
	}
	if _, ok := d.realms[realm.ID]; !ok {
		return trace.NotFound("realm %q not found", realm.ID)
	}
	cp := *realm
	cp.Roles = append([]types.RealmUserRole(nil), realm.Roles...)
	cp.Keys = append([]types.KeyRotation(nil), realm.Keys...)
	d.realms[realm.ID] = &cp
	return nil
}

// ListRealmsForUser implements backend.Store.
func (s *Store) ListRealmsForUser(ctx context.Context, org types.OrganizationID, user types.UserID) (map[types.RealmID]types.RealmRole, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(org)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out := make(map[types.RealmID]types.RealmRole)
	for id, r := range d.realms {
		if role := r.CurrentRole(user); role != types.RealmRoleNone {
			out[id] = role
		}
	}
	return out, nil
}

// CreateVlob implements backend.Store.
func (s *Store) CreateVlob(ctx context.Context, org types.OrganizationID, vlob *types.Vlob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(org)
	if err != nil {
		return trace.Wrap(err)
	}
	if _, ok := d.vlobs[vlob.ID]; ok {
		return trace.AlreadyExists("vlob %q already exists", vlob.ID)
	}
	cp := *vlob
	cp.Versions = append([]types.VlobVersion(nil), vlob.Versions...)
	d.vlobs[vlob.ID] = &cp

	r, ok := d.realms[vlob.RealmID]
	if ok {
		r.Checkpoint++
	}
	return nil
}

// AppendVlobVersion implements backend.Store.
func (s *Store) AppendVlobVersion(ctx context.Context, org types.OrganizationID, id types.VlobID, version types.VlobVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(org)
	if err != nil {
		return trace.Wrap(err)
	}
	v, ok := d.vlobs[id]
	if !ok {
		return trace.NotFound("vlob %q not found", id)
	}
	v.Versions = append(v.Versions, version)
	if r, ok := d.realms[v.RealmID]; ok {
		r.Checkpoint++
	}
	return nil
}

// GetVlob implements backend.Store.
func (s *Store) GetVlob(ctx context.Context, org types.OrganizationID, id types.VlobID) (*types.Vlob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(org)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	v, ok := d.vlobs[id]
	if !ok {
		return nil, trace.NotFound("vlob %q not found", id)
	}
	cp := *v
	cp.Versions = append([]types.VlobVersion(nil), v.Versions...)
	return &cp, nil
}

// PollChanges implements backend.Store. It returns the realm's current
// checkpoint and, when that checkpoint is past `since`, the latest version
// of every vlob in the realm (one entry per vlob). Vlobs are not filtered by
// when they were last written: any write since `since` reports all of the
// realm's vlobs, including ones unchanged since `since`.
func (s *Store) PollChanges(ctx context.Context, org types.OrganizationID, realm types.RealmID, since uint64) (uint64, map[types.VlobID]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(org)
	if err != nil {
		return 0, nil, trace.Wrap(err)
	}
	r, ok := d.realms[realm]
	if !ok {
		return 0, nil, trace.NotFound("realm %q not found", realm)
	}
	changed := make(map[types.VlobID]uint64)
	if r.Checkpoint > since {
		for id, v := range d.vlobs {
			if v.RealmID == realm && len(v.Versions) > 0 {
				changed[id] = v.Latest().Version
			}
		}
	}
	return r.Checkpoint, changed, nil
}

// RealmStats implements backend.Store.
func (s *Store) RealmStats(ctx context.Context, org types.OrganizationID, realm types.RealmID) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(org)
	if err != nil {
		return 0, 0, trace.Wrap(err)
	}
	var blocksSize, vlobsSize int64
	for _, b := range d.blocks {
		if b.RealmID == realm {
			blocksSize += b.Size
		}
	}
	for _, v := range d.vlobs {
		if v.RealmID == realm {
			for _, ver := range v.Versions {
				vlobsSize += int64(len(ver.Blob))
			}
		}
	}
	return blocksSize, vlobsSize, nil
}

// CreateBlockMeta implements backend.Store.
func (s *Store) CreateBlockMeta(ctx context.Context, org types.OrganizationID, block *types.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(org)
	if err != nil {
		return trace.Wrap(err)
	}
	if _, ok := d.blocks[block.ID]; ok {
		return trace.AlreadyExists("block %q already exists", block.ID)
	}
	cp := *block
	d.blocks[block.ID] = &cp
	return nil
}

// GetBlockMeta implements backend.Store.
func (s *Store) GetBlockMeta(ctx context.Context, org types.OrganizationID, id types.BlockID) (*types.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(org)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	b, ok := d.blocks[id]
	if !ok {
		return nil, trace.NotFound("block %q not found", id)
	}
	cp := *b
	return &cp, nil
}

// CreateInvitation implements backend.Store.
func (s *Store) CreateInvitation(ctx context.Context, org types.OrganizationID, inv *types.Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(org)
	if err != nil {
		return trace.Wrap(err)
	}
	if _, ok := d.invitations[inv.Token]; ok {
		return trace.AlreadyExists("invitation %q already exists", inv.Token)
	}
	cp := *inv
	d.invitations[inv.Token] = &cp
	return nil
}

// GetInvitation implements backend.Store.
func (s *Store) GetInvitation(ctx context.Context, org types.OrganizationID, token types.InvitationToken) (*types.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(org)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	inv, ok := d.invitations[token]
	if !ok {
		return nil, trace.NotFound("invitation %q not found", token)
	}
	cp := *inv
	return &cp, nil
}

// ListInvitations implements backend.Store.
func (s *Store) ListInvitations(ctx context.Context, org types.OrganizationID) ([]*types.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(org)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out := make([]*types.Invitation, 0, len(d.invitations))
	for _, inv := range d.invitations {
		cp := *inv
		out = append(out, &cp)
	}
	return out, nil
}

// FindPendingUserInvitation implements backend.Store.
func (s *Store) FindPendingUserInvitation(ctx context.Context, org types.OrganizationID, email string) (*types.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(org)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	for _, inv := range d.invitations {
		if inv.Type == types.InvitationTypeUser && inv.ClaimerEmail == email && !inv.Status.IsTerminal() {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, trace.NotFound("no pending invitation for %q", email)
}

// UpdateInvitationStatus implements backend.Store.
func (s *Store) UpdateInvitationStatus(ctx context.Context, org types.OrganizationID, token types.InvitationToken, status types.InvitationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(org)
	if err != nil {
		return trace.Wrap(err)
	}
	inv, ok := d.invitations[token]
	if !ok {
		return trace.NotFound("invitation %q not found", token)
	}
	inv.Status = status
	return nil
}

// CreateSequesterService implements backend.Store.
func (s *Store) CreateSequesterService(ctx context.Context, org types.OrganizationID, svc *types.SequesterService) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(org)
	if err != nil {
		return trace.Wrap(err)
	}
	if _, ok := d.sequester[svc.ID]; ok {
		return trace.AlreadyExists("sequester service %q already exists", svc.ID)
	}
	cp := *svc
	d.sequester[svc.ID] = &cp
	return nil
}

// GetSequesterService implements backend.Store.
func (s *Store) GetSequesterService(ctx context.Context, org types.OrganizationID, id types.SequesterServiceID) (*types.SequesterService, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(org)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	svc, ok := d.sequester[id]
	if !ok {
		return nil, trace.NotFound("sequester service %q not found", id)
	}
	cp := *svc
	return &cp, nil
}

// ListSequesterServices implements backend.Store.
func (s *Store) ListSequesterServices(ctx context.Context, org types.OrganizationID) ([]*types.SequesterService, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(org)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out := make([]*types.SequesterService, 0, len(d.sequester))
	for _, svc := range d.sequester {
		cp := *svc
		out = append(out, &cp)
	}
	return out, nil
}

// DisableSequesterService implements backend.Store.
func (s *Store) DisableSequesterService(ctx context.Context, org types.OrganizationID, id types.SequesterServiceID, when types.Timestamp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(org)
	if err != nil {
		return trace.Wrap(err)
	}
	svc, ok := d.sequester[id]
	if !ok {
		return trace.NotFound("sequester service %q not found", id)
	}
	svc.DisabledOn = &when
	return nil
}

// StoreSequesterCiphertext implements backend.Store.
func (s *Store) StoreSequesterCiphertext(ctx context.Context, org types.OrganizationID, vlobID types.VlobID, version uint64, service types.SequesterServiceID, ciphertext []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(org)
	if err != nil {
		return trace.Wrap(err)
	}
	byVersion, ok := d.sequesterCiphertexts[vlobID]
	if !ok {
		byVersion = make(map[uint64]map[types.SequesterServiceID][]byte)
		d.sequesterCiphertexts[vlobID] = byVersion
	}
	byService, ok := byVersion[version]
	if !ok {
		byService = make(map[types.SequesterServiceID][]byte)
		byVersion[version] = byService
	}
	byService[service] = ciphertext
	return nil
}

// SetShamirRecoverySetup implements backend.Store.
func (s *Store) SetShamirRecoverySetup(ctx context.Context, org types.OrganizationID, setup *types.ShamirRecoverySetup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(org)
	if err != nil {
		return trace.Wrap(err)
	}
	cp := *setup
	d.shamir[setup.UserID] = &cp
	return nil
}

// GetShamirRecoverySetup implements backend.Store.
func (s *Store) GetShamirRecoverySetup(ctx context.Context, org types.OrganizationID, user types.UserID) (*types.ShamirRecoverySetup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.data(org)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	setup, ok := d.shamir[user]
	if !ok {
		return nil, trace.NotFound("no shamir recovery setup for user %q", user)
	}
	cp := *setup
	return &cp, nil
}

var _ backend.Store = (*Store)(nil)
