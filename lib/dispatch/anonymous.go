package dispatch

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/parsec-io/parsec-server/lib/org"
	"github.com/parsec-io/parsec-server/lib/types"
	"github.com/parsec-io/parsec-server/lib/wire"
)

// handleAnonymous serves /anonymous/:org: the only command reachable here
// is organization_bootstrap, issued by the invited caller holding the
// organization's bootstrap token before any user exists.
func (s *Server) handleAnonymous(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
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
	cmd, err := wire.PeekCommand(raw)
	if err != nil {
		writeAbort(w, err)
		return
	}

	switch cmd {
	case "organization_bootstrap":
		s.anonymousBootstrap(r.Context(), w, orgID, raw)
	default:
		dispatchError(w, types.Simple(types.ErrInvalidMessage))
	}
}

func (s *Server) anonymousBootstrap(ctx context.Context, w http.ResponseWriter, orgID types.OrganizationID, raw []byte) {
	var req wire.OrganizationBootstrapReq
	if err := wire.Decode(raw, &req); err != nil {
		dispatchError(w, err)
		return
	}

	device, err := req.DeviceID.ToDeviceID()
	if err != nil {
		dispatchError(w, types.Simple(types.ErrInvalidMessage))
		return
	}

	err = s.deps.Org.Bootstrap(ctx, orgID, org.BootstrapRequest{
		BootstrapToken: req.BootstrapToken,
		RootVerifyKey:  req.RootVerifyKey,
		User:           req.UserID.UserID(),
		HumanHandle: types.HumanHandle{
			Email: req.HumanHandleEmail,
			Label: req.HumanHandleLabel,
		},
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
