package dispatch

import (
	"context"
	"net/http"

	"github.com/gravitational/trace"

	"github.com/parsec-io/parsec-server/lib/authctx"
	"github.com/parsec-io/parsec-server/lib/realm"
	"github.com/parsec-io/parsec-server/lib/types"
	"github.com/parsec-io/parsec-server/lib/wire"
)

func decodeRoleCertificate(authed *authctx.Authenticated, req wire.RoleCertificateReq) (realm.RoleCertificate, error) {
	role, err := parseRealmRole(req.Role)
	if err != nil {
		return realm.RoleCertificate{}, err
	}
	return realm.RoleCertificate{
		Realm:     req.RealmID.RealmID(),
		User:      req.UserID.UserID(),
		Role:      role,
		KeyIndex:  req.KeyIndex,
		Author:    authed.DeviceID,
		Timestamp: req.Timestamp.ToTimestamp(),
		Raw:       req.Certificate,
	}, nil
}

func (s *Server) authRealmCreate(ctx context.Context, w http.ResponseWriter, authed *authctx.Authenticated, raw []byte) {
	var req wire.RoleCertificateReq
	if err := wire.Decode(raw, &req); err != nil {
		dispatchError(w, err)
		return
	}
	cert, err := decodeRoleCertificate(authed, req)
	if err != nil {
		dispatchError(w, err)
		return
	}
	if err := s.deps.Realm.Create(ctx, authed.OrganizationID, authed.Profile, cert); err != nil {
		dispatchError(w, err)
		return
	}
	writeRep(w, map[string]string{"status": wire.OkStatus})
}

func (s *Server) authRealmShare(ctx context.Context, w http.ResponseWriter, authed *authctx.Authenticated, raw []byte) {
	var req wire.RoleCertificateReq
	if err := wire.Decode(raw, &req); err != nil {
		dispatchError(w, err)
		return
	}
	cert, err := decodeRoleCertificate(authed, req)
	if err != nil {
		dispatchError(w, err)
		return
	}

	target, err := s.deps.Store.GetUser(ctx, authed.OrganizationID, cert.User)
	if trace.IsNotFound(err) {
		dispatchError(w, types.Simple(types.ErrUserNotFound))
		return
	}
	if err != nil {
		dispatchError(w, err)
		return
	}

	if err := s.deps.Realm.Share(ctx, authed.OrganizationID, target.CurrentProfile(), target.IsRevoked(), cert); err != nil {
		dispatchError(w, err)
		return
	}
	writeRep(w, map[string]string{"status": wire.OkStatus})
}

func (s *Server) authRealmUnshare(ctx context.Context, w http.ResponseWriter, authed *authctx.Authenticated, raw []byte) {
	var req wire.RoleCertificateReq
	if err := wire.Decode(raw, &req); err != nil {
		dispatchError(w, err)
		return
	}
	cert, err := decodeRoleCertificate(authed, req)
	if err != nil {
		dispatchError(w, err)
		return
	}
	if err := s.deps.Realm.Unshare(ctx, authed.OrganizationID, cert); err != nil {
		dispatchError(w, err)
		return
	}
	writeRep(w, map[string]string{"status": wire.OkStatus})
}

func (s *Server) authRealmRotateKey(ctx context.Context, w http.ResponseWriter, authed *authctx.Authenticated, raw []byte) {
	var req wire.RealmRotateKeyReq
	if err := wire.Decode(raw, &req); err != nil {
		dispatchError(w, err)
		return
	}
	access := make(map[types.UserID][]byte, len(req.PerParticipantKeysAccess))
	for id, blob := range req.PerParticipantKeysAccess {
		access[id.UserID()] = blob
	}

	keyIndex, err := s.deps.Realm.RotateKey(ctx, authed.OrganizationID, realm.RotateKeyRequest{
		Realm:                    req.RealmID.RealmID(),
		Author:                   authed.DeviceID,
		Timestamp:                req.Timestamp.ToTimestamp(),
		Certificate:              req.Certificate,
		PerParticipantKeysAccess: access,
	})
	if err != nil {
		dispatchError(w, err)
		return
	}
	writeRep(w, wire.RealmRotateKeyRep{Status: wire.OkStatus, KeyIndex: keyIndex})
}

func (s *Server) authRealmStats(ctx context.Context, w http.ResponseWriter, authed *authctx.Authenticated, raw []byte) {
	var req wire.RealmStatsReq
	if err := wire.Decode(raw, &req); err != nil {
		dispatchError(w, err)
		return
	}
	blocksSize, vlobsSize, err := s.deps.Realm.Stats(ctx, authed.OrganizationID, req.RealmID.RealmID())
	if err != nil {
		dispatchError(w, err)
		return
	}
	writeRep(w, wire.RealmStatsRep{Status: wire.OkStatus, BlocksSize: blocksSize, VlobsSize: vlobsSize})
}

func (s *Server) authCurrentRealms(ctx context.Context, w http.ResponseWriter, authed *authctx.Authenticated) {
	realms, err := s.deps.Realm.CurrentRealmsForUser(ctx, authed.OrganizationID, authed.UserID)
	if err != nil {
		dispatchError(w, err)
		return
	}
	entries := make([]wire.CurrentRealmEntry, 0, len(realms))
	for id, cur := range realms {
		entries = append(entries, wire.CurrentRealmEntry{
			RealmID:  wire.RealmID(id),
			Role:     string(cur.Role),
			KeyIndex: cur.KeyIndex,
		})
	}
	writeRep(w, wire.CurrentRealmsForUserRep{Status: wire.OkStatus, Realms: entries})
}
