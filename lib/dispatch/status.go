package dispatch

import (
	"net/http"

	"github.com/gravitational/trace"

	"github.com/parsec-io/parsec-server/lib/types"
)

// abortStatus maps a dispatcher/protocol-level abort to the HTTP status
// spec §7.1 assigns it. Engine-level outcomes never reach here: they are
// always reported as a 200 with a wire ErrorRep body.
func abortStatus(err error) int {
	if trace.IsAccessDenied(err) {
		return http.StatusUnauthorized
	}

	ee, ok := types.AsEngineError(err)
	if !ok {
		return http.StatusInternalServerError
	}

	switch ee.Code {
	case types.ErrOrganizationNotFound, types.ErrBadOrganization:
		return http.StatusNotFound
	case types.ErrOrganizationExpired:
		return http.StatusGone
	case types.ErrAuthorNotFound, types.ErrAuthorRevoked, types.ErrInvalidAuthentication:
		return http.StatusUnauthorized
	case types.ErrUserFrozen:
		return http.StatusForbidden
	case types.ErrInvitationInvalid:
		return http.StatusGone
	case types.ErrIncompatibleAPIVersion:
		return http.StatusUpgradeRequired
	case types.ErrBadContentType:
		return http.StatusUnsupportedMediaType
	case types.ErrBadAcceptType:
		return http.StatusNotAcceptable
	case types.ErrInvalidMessage:
		return http.StatusBadRequest
	case types.ErrMissingEvents:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}
