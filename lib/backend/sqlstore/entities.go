package sqlstore

import (
	"context"
	"database/sql"

	"github.com/gravitational/trace"

	"github.com/parsec-io/parsec-server/lib/types"
)

// CreateOrganization implements backend.Store.
func (s *Store) CreateOrganization(ctx context.Context, org *types.Organization) error {
	doc, err := marshal(org)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO organizations(id, doc) VALUES (?, ?)`, string(org.ID), doc)
	if isUniqueViolation(err) {
		return trace.AlreadyExists("organization %q already exists", org.ID)
	}
	return trace.Wrap(err)
}

// GetOrganization implements backend.Store.
func (s *Store) GetOrganization(ctx context.Context, org types.OrganizationID) (*types.Organization, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM organizations WHERE id = ?`, string(org)).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, trace.NotFound("organization %q not found", org)
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out := &types.Organization{}
	if err := unmarshal(doc, out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateOrganization implements backend.Store.
func (s *Store) UpdateOrganization(ctx context.Context, org *types.Organization) error {
	doc, err := marshal(org)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE organizations SET doc = ? WHERE id = ?`, doc, string(org.ID))
	if err != nil {
		return trace.Wrap(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return trace.NotFound("organization %q not found", org.ID)
	}
	return nil
}

// CreateUser implements backend.Store.
func (s *Store) CreateUser(ctx context.Context, org types.OrganizationID, user *types.User) error {
	if _, err := s.GetOrganization(ctx, org); err != nil {
		return err
	}
	if existing, err := s.GetUserByEmail(ctx, org, user.HumanHandle.Email); err == nil && !existing.IsRevoked() {
		return trace.AlreadyExists("human handle %q already taken", user.HumanHandle.Email)
	}
	doc, err := marshal(user)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO users(org_id, id, email, doc) VALUES (?, ?, ?, ?)`,
		string(org), user.ID.String(), user.HumanHandle.Email, doc)
	if isUniqueViolation(err) {
		return trace.AlreadyExists("user %q already exists", user.ID)
	}
	return trace.Wrap(err)
}

// GetUser implements backend.Store.
func (s *Store) GetUser(ctx context.Context, org types.OrganizationID, id types.UserID) (*types.User, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM users WHERE org_id = ? AND id = ?`, string(org), id.String()).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, trace.NotFound("user %q not found", id)
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out := &types.User{}
	if err := unmarshal(doc, out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetUserByEmail implements backend.Store.
func (s *Store) GetUserByEmail(ctx context.Context, org types.OrganizationID, email string) (*types.User, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM users WHERE org_id = ? AND email = ?`, string(org), email).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, trace.NotFound("user with email %q not found", email)
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out := &types.User{}
	if err := unmarshal(doc, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListUsers implements backend.Store.
func (s *Store) ListUsers(ctx context.Context, org types.OrganizationID) ([]*types.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM users WHERE org_id = ?`, string(org))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()
	var out []*types.User
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, trace.Wrap(err)
		}
		u := &types.User{}
		if err := unmarshal(doc, u); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, trace.Wrap(rows.Err())
}

// UpdateUser implements backend.Store.
func (s *Store) UpdateUser(ctx context.Context, org types.OrganizationID, user *types.User) error {
	doc, err := marshal(user)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET doc = ?, email = ? WHERE org_id = ? AND id = ?`,
		doc, user.HumanHandle.Email, string(org), user.ID.String())
	if err != nil {
		return trace.Wrap(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return trace.NotFound("user %q not found", user.ID)
	}
	return nil
}

// CreateDevice implements backend.Store.
func (s *Store) CreateDevice(ctx context.Context, org types.OrganizationID, device *types.Device) error {
	doc, err := marshal(device)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO devices(org_id, id, user_id, doc) VALUES (?, ?, ?, ?)`,
		string(org), device.ID.String(), device.ID.UserID.String(), doc)
	if isUniqueViolation(err) {
		return trace.AlreadyExists("device %q already exists", device.ID)
	}
	return trace.Wrap(err)
}

// GetDevice implements backend.Store.
func (s *Store) GetDevice(ctx context.Context, org types.OrganizationID, id types.DeviceID) (*types.Device, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM devices WHERE org_id = ? AND id = ?`, string(org), id.String()).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, trace.NotFound("device %q not found", id)
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out := &types.Device{}
	if err := unmarshal(doc, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListDevicesForUser implements backend.Store.
func (s *Store) ListDevicesForUser(ctx context.Context, org types.OrganizationID, user types.UserID) ([]*types.Device, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM devices WHERE org_id = ? AND user_id = ?`, string(org), user.String())
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()
	var out []*types.Device
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, trace.Wrap(err)
		}
		d := &types.Device{}
		if err := unmarshal(doc, d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, trace.Wrap(rows.Err())
}

// CreateRealm implements backend.Store.
func (s *Store) CreateRealm(ctx context.Context, org types.OrganizationID, realm *types.Realm) error {
	doc, err := marshal(realm)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO realms(org_id, id, doc, checkpoint) VALUES (?, ?, ?, ?)`,
		string(org), realm.ID.String(), doc, realm.Checkpoint)
	if isUniqueViolation(err) {
		return trace.AlreadyExists("realm %q already exists", realm.ID)
	}
	return trace.Wrap(err)
}

// GetRealm implements backend.Store.
func (s *Store) GetRealm(ctx context.Context, org types.OrganizationID, id types.RealmID) (*types.Realm, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM realms WHERE org_id = ? AND id = ?`, string(org), id.String()).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, trace.NotFound("realm %q not found", id)
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out := &types.Realm{}
	if err := unmarshal(doc, out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateRealm implements backend.Store.
func (s *Store) UpdateRealm(ctx context.Context, org types.OrganizationID, realm *types.Realm) error {
	doc, err := marshal(realm)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE realms SET doc = ?, checkpoint = ? WHERE org_id = ? AND id = ?`,
		doc, realm.Checkpoint, string(org), realm.ID.String())
	if err != nil {
		return trace.Wrap(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return trace.NotFound("realm %q not found", realm.ID)
	}
	return nil
}

// ListRealmsForUser implements backend.Store.
func (s *Store) ListRealmsForUser(ctx context.Context, org types.OrganizationID, user types.UserID) (map[types.RealmID]types.RealmRole, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM realms WHERE org_id = ?`, string(org))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()
	out := make(map[types.RealmID]types.RealmRole)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, trace.Wrap(err)
		}
		r := &types.Realm{}
		if err := unmarshal(doc, r); err != nil {
			return nil, err
		}
		if role := r.CurrentRole(user); role != types.RealmRoleNone {
			out[r.ID] = role
		}
	}
	return out, trace.Wrap(rows.Err())
}

// CreateVlob implements backend.Store.
func (s *Store) CreateVlob(ctx context.Context, org types.OrganizationID, vlob *types.Vlob) error {
	doc, err := marshal(vlob)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO vlobs(org_id, id, realm_id, doc) VALUES (?, ?, ?, ?)`,
		string(org), vlob.ID.String(), vlob.RealmID.String(), doc)
	if isUniqueViolation(err) {
		return trace.AlreadyExists("vlob %q already exists", vlob.ID)
	}
	if err != nil {
		return trace.Wrap(err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE realms SET checkpoint = checkpoint + 1 WHERE org_id = ? AND id = ?`,
		string(org), vlob.RealmID.String())
	return trace.Wrap(err)
}

// AppendVlobVersion implements backend.Store.
func (s *Store) AppendVlobVersion(ctx context.Context, org types.OrganizationID, id types.VlobID, version types.VlobVersion) error {
	v, err := s.GetVlob(ctx, org, id)
	if err != nil {
		return err
	}
	v.Versions = append(v.Versions, version)
	doc, err := marshal(v)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE vlobs SET doc = ? WHERE org_id = ? AND id = ?`, doc, string(org), id.String()); err != nil {
		return trace.Wrap(err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE realms SET checkpoint = checkpoint + 1 WHERE org_id = ? AND id = ?`,
		string(org), v.RealmID.String())
	return trace.Wrap(err)
}

// GetVlob implements backend.Store.
func (s *Store) GetVlob(ctx context.Context, org types.OrganizationID, id types.VlobID) (*types.Vlob, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM vlobs WHERE org_id = ? AND id = ?`, string(org), id.String()).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, trace.NotFound("vlob %q not found", id)
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out := &types.Vlob{}
	if err := unmarshal(doc, out); err != nil {
		return nil, err
	}
	return out, nil
}

// PollChanges implements backend.Store.
func (s *Store) PollChanges(ctx context.Context, org types.OrganizationID, realm types.RealmID, since uint64) (uint64, map[types.VlobID]uint64, error) {
	var checkpoint uint64
	err := s.db.QueryRowContext(ctx, `SELECT checkpoint FROM realms WHERE org_id = ? AND id = ?`, string(org), realm.String()).Scan(&checkpoint)
	if err == sql.ErrNoRows {
		return 0, nil, trace.NotFound("realm %q not found", realm)
	}
	if err != nil {
		return 0, nil, trace.Wrap(err)
	}
	changed := make(map[types.VlobID]uint64)
	if checkpoint > since {
		rows, err := s.db.QueryContext(ctx, `SELECT doc FROM vlobs WHERE org_id = ? AND realm_id = ?`, string(org), realm.String())
		if err != nil {
			return 0, nil, trace.Wrap(err)
		}
		defer rows.Close()
		for rows.Next() {
			var doc []byte
			if err := rows.Scan(&doc); err != nil {
				return 0, nil, trace.Wrap(err)
			}
			v := &types.Vlob{}
			if err := unmarshal(doc, v); err != nil {
				return 0, nil, err
			}
			if len(v.Versions) > 0 {
				changed[v.ID] = v.Latest().Version
			}
		}
		if err := rows.Err(); err != nil {
			return 0, nil, trace.Wrap(err)
		}
	}
	return checkpoint, changed, nil
}

// RealmStats implements backend.Store.
func (s *Store) RealmStats(ctx context.Context, org types.OrganizationID, realm types.RealmID) (int64, int64, error) {
	var blocksSize, vlobsSize int64

	brows, err := s.db.QueryContext(ctx, `SELECT doc FROM blocks WHERE org_id = ? AND realm_id = ?`, string(org), realm.String())
	if err != nil {
		return 0, 0, trace.Wrap(err)
	}
	defer brows.Close()
	for brows.Next() {
		var doc []byte
		if err := brows.Scan(&doc); err != nil {
			return 0, 0, trace.Wrap(err)
		}
		b := &types.Block{}
		if err := unmarshal(doc, b); err != nil {
			return 0, 0, err
		}
		blocksSize += b.Size
	}
	if err := brows.Err(); err != nil {
		return 0, 0, trace.Wrap(err)
	}

	vrows, err := s.db.QueryContext(ctx, `SELECT doc FROM vlobs WHERE org_id = ? AND realm_id = ?`, string(org), realm.String())
	if err != nil {
		return 0, 0, trace.Wrap(err)
	}
	defer vrows.Close()
	for vrows.Next() {
		var doc []byte
		if err := vrows.Scan(&doc); err != nil {
			return 0, 0, trace.Wrap(err)
		}
		v := &types.Vlob{}
		if err := unmarshal(doc, v); err != nil {
			return 0, 0, err
		}
		for _, ver := range v.Versions {
			vlobsSize += int64(len(ver.Blob))
		}
	}
	return blocksSize, vlobsSize, trace.Wrap(vrows.Err())
}

// CreateBlockMeta implements backend.Store.
func (s *Store) CreateBlockMeta(ctx context.Context, org types.OrganizationID, block *types.Block) error {
	doc, err := marshal(block)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO blocks(org_id, id, realm_id, doc) VALUES (?, ?, ?, ?)`,
		string(org), block.ID.String(), block.RealmID.String(), doc)
	if isUniqueViolation(err) {
		return trace.AlreadyExists("block %q already exists", block.ID)
	}
	return trace.Wrap(err)
}

// GetBlockMeta implements backend.Store.
func (s *Store) GetBlockMeta(ctx context.Context, org types.OrganizationID, id types.BlockID) (*types.Block, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM blocks WHERE org_id = ? AND id = ?`, string(org), id.String()).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, trace.NotFound("block %q not found", id)
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out := &types.Block{}
	if err := unmarshal(doc, out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateInvitation implements backend.Store.
func (s *Store) CreateInvitation(ctx context.Context, org types.OrganizationID, inv *types.Invitation) error {
	doc, err := marshal(inv)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO invitations(org_id, token, claimer_email, status, doc) VALUES (?, ?, ?, ?, ?)`,
		string(org), inv.Token.String(), inv.ClaimerEmail, string(inv.Status), doc)
	if isUniqueViolation(err) {
		return trace.AlreadyExists("invitation %q already exists", inv.Token)
	}
	return trace.Wrap(err)
}

// GetInvitation implements backend.Store.
func (s *Store) GetInvitation(ctx context.Context, org types.OrganizationID, token types.InvitationToken) (*types.Invitation, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM invitations WHERE org_id = ? AND token = ?`, string(org), token.String()).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, trace.NotFound("invitation %q not found", token)
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out := &types.Invitation{}
	if err := unmarshal(doc, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListInvitations implements backend.Store.
func (s *Store) ListInvitations(ctx context.Context, org types.OrganizationID) ([]*types.Invitation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM invitations WHERE org_id = ?`, string(org))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()
	var out []*types.Invitation
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, trace.Wrap(err)
		}
		inv := &types.Invitation{}
		if err := unmarshal(doc, inv); err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, trace.Wrap(rows.Err())
}

// FindPendingUserInvitation implements backend.Store.
func (s *Store) FindPendingUserInvitation(ctx context.Context, org types.OrganizationID, email string) (*types.Invitation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM invitations WHERE org_id = ? AND claimer_email = ?`, string(org), email)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, trace.Wrap(err)
		}
		inv := &types.Invitation{}
		if err := unmarshal(doc, inv); err != nil {
			return nil, err
		}
		if inv.Type == types.InvitationTypeUser && !inv.Status.IsTerminal() {
			return inv, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, trace.Wrap(err)
	}
	return nil, trace.NotFound("no pending invitation for %q", email)
}

// UpdateInvitationStatus implements backend.Store.
func (s *Store) UpdateInvitationStatus(ctx context.Context, org types.OrganizationID, token types.InvitationToken, status types.InvitationStatus) error {
	inv, err := s.GetInvitation(ctx, org, token)
	if err != nil {
		return err
	}
	inv.Status = status
	doc, err := marshal(inv)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE invitations SET doc = ?, status = ? WHERE org_id = ? AND token = ?`,
		doc, string(status), string(org), token.String())
	if err != nil {
		return trace.Wrap(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return trace.NotFound("invitation %q not found", token)
	}
	return nil
}

// CreateSequesterService implements backend.Store.
func (s *Store) CreateSequesterService(ctx context.Context, org types.OrganizationID, svc *types.SequesterService) error {
	doc, err := marshal(svc)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO sequester_services(org_id, id, doc) VALUES (?, ?, ?)`,
		string(org), svc.ID.String(), doc)
	if isUniqueViolation(err) {
		return trace.AlreadyExists("sequester service %q already exists", svc.ID)
	}
	return trace.Wrap(err)
}

// GetSequesterService implements backend.Store.
func (s *Store) GetSequesterService(ctx context.Context, org types.OrganizationID, id types.SequesterServiceID) (*types.SequesterService, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM sequester_services WHERE org_id = ? AND id = ?`, string(org), id.String()).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, trace.NotFound("sequester service %q not found", id)
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out := &types.SequesterService{}
	if err := unmarshal(doc, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListSequesterServices implements backend.Store.
func (s *Store) ListSequesterServices(ctx context.Context, org types.OrganizationID) ([]*types.SequesterService, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM sequester_services WHERE org_id = ?`, string(org))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()
	var out []*types.SequesterService
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, trace.Wrap(err)
		}
		svc := &types.SequesterService{}
		if err := unmarshal(doc, svc); err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	return out, trace.Wrap(rows.Err())
}

// DisableSequesterService implements backend.Store.
func (s *Store) DisableSequesterService(ctx context.Context, org types.OrganizationID, id types.SequesterServiceID, when types.Timestamp) error {
	svc, err := s.GetSequesterService(ctx, org, id)
	if err != nil {
		return err
	}
	svc.DisabledOn = &when
	doc, err := marshal(svc)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE sequester_services SET doc = ? WHERE org_id = ? AND id = ?`, doc, string(org), id.String())
	return trace.Wrap(err)
}

// StoreSequesterCiphertext implements backend.Store.
func (s *Store) StoreSequesterCiphertext(ctx context.Context, org types.OrganizationID, vlobID types.VlobID, version uint64, service types.SequesterServiceID, ciphertext []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sequester_ciphertexts(org_id, vlob_id, version, service_id, ciphertext) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(org_id, vlob_id, version, service_id) DO UPDATE SET ciphertext = excluded.ciphertext`,
		string(org), vlobID.String(), version, service.String(), ciphertext)
	return trace.Wrap(err)
}

// SetShamirRecoverySetup implements backend.Store.
func (s *Store) SetShamirRecoverySetup(ctx context.Context, org types.OrganizationID, setup *types.ShamirRecoverySetup) error {
	doc, err := marshal(setup)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO shamir_setups(org_id, user_id, doc) VALUES (?, ?, ?)
		 ON CONFLICT(org_id, user_id) DO UPDATE SET doc = excluded.doc`,
		string(org), setup.UserID.String(), doc)
	return trace.Wrap(err)
}

// GetShamirRecoverySetup implements backend.Store.
func (s *Store) GetShamirRecoverySetup(ctx context.Context, org types.OrganizationID, user types.UserID) (*types.ShamirRecoverySetup, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM shamir_setups WHERE org_id = ? AND user_id = ?`, string(org), user.String()).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, trace.NotFound("no shamir recovery setup for user %q", user)
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out := &types.ShamirRecoverySetup{}
	if err := unmarshal(doc, out); err != nil {
		return nil, err
	}
	return out, nil
}
