package dispatch

import (
	"context"
	"net/http"

	"github.com/parsec-io/parsec-server/lib/authctx"
	"github.com/parsec-io/parsec-server/lib/block"
	"github.com/parsec-io/parsec-server/lib/types"
	"github.com/parsec-io/parsec-server/lib/vlob"
	"github.com/parsec-io/parsec-server/lib/wire"
)

func decodeSequesterBlob(m map[wire.ID][]byte) map[types.SequesterServiceID][]byte {
	if m == nil {
		return nil
	}
	out := make(map[types.SequesterServiceID][]byte, len(m))
	for id, blob := range m {
		out[id.SequesterServiceID()] = blob
	}
	return out
}

func (s *Server) authVlobCreate(ctx context.Context, w http.ResponseWriter, authed *authctx.Authenticated, raw []byte) {
	var req wire.VlobCreateReq
	if err := wire.Decode(raw, &req); err != nil {
		dispatchError(w, err)
		return
	}
	err := s.deps.Vlob.Create(ctx, authed.OrganizationID, vlob.CreateRequest{
		Realm:         req.RealmID.RealmID(),
		Vlob:          req.VlobID.VlobID(),
		Author:        authed.DeviceID,
		KeyIndex:      req.KeyIndex,
		Timestamp:     req.Timestamp.ToTimestamp(),
		Blob:          req.Blob,
		SequesterBlob: decodeSequesterBlob(req.SequesterBlob),
	})
	if err != nil {
		dispatchError(w, err)
		return
	}
	writeRep(w, map[string]string{"status": wire.OkStatus})
}

func (s *Server) authVlobUpdate(ctx context.Context, w http.ResponseWriter, authed *authctx.Authenticated, raw []byte) {
	var req wire.VlobUpdateReq
	if err := wire.Decode(raw, &req); err != nil {
		dispatchError(w, err)
		return
	}
	err := s.deps.Vlob.Update(ctx, authed.OrganizationID, vlob.UpdateRequest{
		Vlob:          req.VlobID.VlobID(),
		Author:        authed.DeviceID,
		Version:       req.Version,
		KeyIndex:      req.KeyIndex,
		Timestamp:     req.Timestamp.ToTimestamp(),
		Blob:          req.Blob,
		SequesterBlob: decodeSequesterBlob(req.SequesterBlob),
	})
	if err != nil {
		dispatchError(w, err)
		return
	}
	writeRep(w, map[string]string{"status": wire.OkStatus})
}

func (s *Server) authVlobReadAsUser(ctx context.Context, w http.ResponseWriter, authed *authctx.Authenticated, raw []byte) {
	var req wire.VlobReadAsUserReq
	if err := wire.Decode(raw, &req); err != nil {
		dispatchError(w, err)
		return
	}
	ids := make([]types.VlobID, 0, len(req.VlobIDs))
	for _, id := range req.VlobIDs {
		ids = append(ids, id.VlobID())
	}
	result, err := s.deps.Vlob.ReadAsUser(ctx, authed.OrganizationID, authed.UserID, req.RealmID.RealmID(), ids)
	if err != nil {
		dispatchError(w, err)
		return
	}
	items := make([]wire.VlobReadItem, 0, len(result.Items))
	for _, r := range result.Items {
		items = append(items, wire.VlobReadItem{
			VlobID:       wire.VlobID(r.VlobID),
			Version:      r.Version,
			AuthorDevice: wire.FromDeviceID(r.AuthorDevice),
			Timestamp:    wire.FromTimestamp(r.Timestamp),
			Blob:         r.Blob,
		})
	}
	writeRep(w, wire.VlobReadAsUserRep{
		Status:                          wire.OkStatus,
		Items:                           items,
		LastCommonCertificateTimestamp: wire.FromTimestamp(result.LastCommonCertificateTimestamp),
		LastRealmCertificateTimestamp:   wire.FromTimestamp(result.LastRealmCertificateTimestamp),
	})
}

func (s *Server) authVlobPollChanges(ctx context.Context, w http.ResponseWriter, authed *authctx.Authenticated, raw []byte) {
	var req wire.VlobPollChangesAsUserReq
	if err := wire.Decode(raw, &req); err != nil {
		dispatchError(w, err)
		return
	}
	current, changed, err := s.deps.Vlob.PollChangesAsUser(ctx, authed.OrganizationID, authed.UserID, req.RealmID.RealmID(), req.Checkpoint)
	if err != nil {
		dispatchError(w, err)
		return
	}
	changes := make(map[wire.ID]uint64, len(changed))
	for id, version := range changed {
		changes[wire.VlobID(id)] = version
	}
	writeRep(w, wire.VlobPollChangesAsUserRep{Status: wire.OkStatus, CurrentCheckpoint: current, Changes: changes})
}

func (s *Server) authBlockCreate(ctx context.Context, w http.ResponseWriter, authed *authctx.Authenticated, raw []byte) {
	var req wire.BlockCreateReq
	if err := wire.Decode(raw, &req); err != nil {
		dispatchError(w, err)
		return
	}
	err := s.deps.Block.Create(ctx, authed.OrganizationID, block.CreateRequest{
		Block:     req.BlockID.BlockID(),
		Realm:     req.RealmID.RealmID(),
		Author:    authed.DeviceID,
		KeyIndex:  req.KeyIndex,
		Timestamp: req.Timestamp.ToTimestamp(),
		Data:      req.Block,
	})
	if err != nil {
		dispatchError(w, err)
		return
	}
	writeRep(w, map[string]string{"status": wire.OkStatus})
}

func (s *Server) authBlockRead(ctx context.Context, w http.ResponseWriter, authed *authctx.Authenticated, raw []byte) {
	var req wire.BlockReadReq
	if err := wire.Decode(raw, &req); err != nil {
		dispatchError(w, err)
		return
	}
	data, err := s.deps.Block.Read(ctx, authed.OrganizationID, authed.UserID, req.BlockID.BlockID())
	if err != nil {
		dispatchError(w, err)
		return
	}
	writeRep(w, wire.BlockReadRep{Status: wire.OkStatus, Block: data})
}
