package dispatch

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/parsec-io/parsec-server/lib/authctx"
	"github.com/parsec-io/parsec-server/lib/org"
	"github.com/parsec-io/parsec-server/lib/types"
	"github.com/parsec-io/parsec-server/lib/wire"
)

// handleAuthenticated serves /authenticated/:org: every command that
// requires a signed, already-enrolled device (spec §4.2). The request body
// doubles as the bytes the Signature header must verify.
func (s *Server) handleAuthenticated(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := negotiateAPIVersion(r); err != nil {
		writeAbort(w, err)
		return
	}
	if err := checkContentType(r); err != nil {
		writeAbort(w, err)
		return
	}
	orgID, err := parseOrganizationID(ps)
	if err != nil {
		writeAbort(w, err)
		return
	}

	raw, err := readBody(r)
	if err != nil {
		writeAbort(w, err)
		return
	}

	headers, err := parseAuthHeaders(r)
	if err != nil {
		writeAbort(w, err)
		return
	}

	ctx := r.Context()
	authed, err := authctx.ResolveAuthenticated(ctx, s.deps.Store, orgID, headers.Device, raw, headers.Signature, verifyEd25519)
	if err != nil {
		writeAbort(w, err)
		return
	}

	cmd, err := wire.PeekCommand(raw)
	if err != nil {
		writeAbort(w, err)
		return
	}

	switch cmd {
	case "user_create":
		s.authUserCreate(ctx, w, authed, raw)
	case "device_create":
		s.authDeviceCreate(ctx, w, authed, raw)
	case "user_update":
		s.authUserUpdate(ctx, w, authed, raw)
	case "user_revoke":
		s.authUserRevoke(ctx, w, authed, raw)
	case "user_freeze":
		s.authUserFreeze(ctx, w, authed, raw)

	case "invite_new_user":
		s.authInviteNewUser(ctx, w, authed, raw)
	case "invite_new_device":
		s.authInviteNewDevice(ctx, w, authed)
	case "invite_cancel":
		s.authInviteCancel(ctx, w, authed, raw)
	case "invite_list":
		s.authInviteList(ctx, w, authed)
	case "invite_list_as_user":
		s.authInviteListAsUser(ctx, w, authed, raw)
	case "invite_1_greeter_wait_peer":
		s.authGreeterWaitPeer(ctx, w, authed, raw)
	case "invite_greeter_exchange":
		s.authGreeterExchange(ctx, w, authed, raw)

	case "realm_create":
		s.authRealmCreate(ctx, w, authed, raw)
	case "realm_share":
		s.authRealmShare(ctx, w, authed, raw)
	case "realm_unshare":
		s.authRealmUnshare(ctx, w, authed, raw)
	case "realm_rotate_key":
		s.authRealmRotateKey(ctx, w, authed, raw)
	case "realm_get_stats_as_user":
		s.authRealmStats(ctx, w, authed, raw)
	case "get_current_realms_for_user":
		s.authCurrentRealms(ctx, w, authed)

	case "vlob_create":
		s.authVlobCreate(ctx, w, authed, raw)
	case "vlob_update":
		s.authVlobUpdate(ctx, w, authed, raw)
	case "vlob_read_as_user":
		s.authVlobReadAsUser(ctx, w, authed, raw)
	case "vlob_poll_changes_as_user":
		s.authVlobPollChanges(ctx, w, authed, raw)

	case "block_create":
		s.authBlockCreate(ctx, w, authed, raw)
	case "block_read":
		s.authBlockRead(ctx, w, authed, raw)

	case "sequester_service_create":
		s.authSequesterServiceCreate(ctx, w, authed, raw)
	case "sequester_service_revoke":
		s.authSequesterServiceRevoke(ctx, w, authed, raw)

	case "shamir_recovery_setup":
		s.authShamirSetup(ctx, w, authed, raw)
	case "shamir_recovery_list_as_user":
		s.authShamirListAsUser(ctx, w, authed)

	default:
		dispatchError(w, types.Simple(types.ErrInvalidMessage))
	}
}

func (s *Server) authUserCreate(ctx context.Context, w http.ResponseWriter, authed *authctx.Authenticated, raw []byte) {
	var req wire.UserCreateReq
	if err := wire.Decode(raw, &req); err != nil {
		dispatchError(w, err)
		return
	}
	profile, err := parseProfile(req.InitialProfile)
	if err != nil {
		dispatchError(w, err)
		return
	}
	device, err := req.DeviceID.ToDeviceID()
	if err != nil {
		dispatchError(w, types.Simple(types.ErrInvalidMessage))
		return
	}

	err = s.deps.Org.CreateUser(ctx, authed.OrganizationID, org.UserCreateRequest{
		Author:        authed.DeviceID,
		AuthorProfile: authed.Profile,
		User:          req.UserID.UserID(),
		HumanHandle: types.HumanHandle{
			Email: req.HumanHandleEmail,
			Label: req.HumanHandleLabel,
		},
		InitialProfile:  profile,
		Device:          device,
		DeviceVerifyKey: req.DeviceVerifyKey,
		DeviceLabel:     req.DeviceLabel,
		Timestamp:       req.Timestamp.ToTimestamp(),
	})
	if err != nil {
		dispatchError(w, err)
		return
	}
	writeRep(w, wire.UserCreateRep{Status: wire.OkStatus})
}

func (s *Server) authDeviceCreate(ctx context.Context, w http.ResponseWriter, authed *authctx.Authenticated, raw []byte) {
	var req wire.DeviceCreateReq
	if err := wire.Decode(raw, &req); err != nil {
		dispatchError(w, err)
		return
	}
	device, err := req.DeviceID.ToDeviceID()
	if err != nil {
		dispatchError(w, types.Simple(types.ErrInvalidMessage))
		return
	}

	err = s.deps.Org.CreateDevice(ctx, authed.OrganizationID, org.DeviceCreateRequest{
		Author:          authed.DeviceID,
		Device:          device,
		DeviceVerifyKey: req.DeviceVerifyKey,
		DeviceLabel:     req.DeviceLabel,
		Timestamp:       req.Timestamp.ToTimestamp(),
	})
	if err != nil {
		dispatchError(w, err)
		return
	}
	writeRep(w, map[string]string{"status": wire.OkStatus})
}

func (s *Server) authUserUpdate(ctx context.Context, w http.ResponseWriter, authed *authctx.Authenticated, raw []byte) {
	var req wire.UserUpdateReq
	if err := wire.Decode(raw, &req); err != nil {
		dispatchError(w, err)
		return
	}
	profile, err := parseProfile(req.Profile)
	if err != nil {
		dispatchError(w, err)
		return
	}
	err = s.deps.Org.UpdateProfile(ctx, authed.OrganizationID, authed.DeviceID, authed.Profile, req.UserID.UserID(), profile, req.Timestamp.ToTimestamp())
	if err != nil {
		dispatchError(w, err)
		return
	}
	writeRep(w, map[string]string{"status": wire.OkStatus})
}

func (s *Server) authUserRevoke(ctx context.Context, w http.ResponseWriter, authed *authctx.Authenticated, raw []byte) {
	var req wire.UserRevokeReq
	if err := wire.Decode(raw, &req); err != nil {
		dispatchError(w, err)
		return
	}
	err := s.deps.Org.Revoke(ctx, authed.OrganizationID, authed.DeviceID, authed.Profile, req.UserID.UserID(), req.Timestamp.ToTimestamp())
	if err != nil {
		dispatchError(w, err)
		return
	}
	writeRep(w, map[string]string{"status": wire.OkStatus})
}

func (s *Server) authUserFreeze(ctx context.Context, w http.ResponseWriter, authed *authctx.Authenticated, raw []byte) {
	var req wire.UserFreezeReq
	if err := wire.Decode(raw, &req); err != nil {
		dispatchError(w, err)
		return
	}
	err := s.deps.Org.Freeze(ctx, authed.OrganizationID, authed.Profile, req.UserID.UserID(), req.Frozen)
	if err != nil {
		dispatchError(w, err)
		return
	}
	writeRep(w, map[string]string{"status": wire.OkStatus})
}
