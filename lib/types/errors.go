package types

import (
	"errors"
	"fmt"

	"github.com/gravitational/trace"
)

// ErrorCode is a protocol-level outcome: every value enumerable here maps to
// exactly one Rep status or context abort (spec §7).
type ErrorCode string

const (
	// Validation (spec §7.2)
	ErrInvalidCertificate      ErrorCode = "INVALID_CERTIFICATE"
	ErrTimestampOutOfBallpark  ErrorCode = "TIMESTAMP_OUT_OF_BALLPARK"
	ErrRequireGreaterTimestamp ErrorCode = "REQUIRE_GREATER_TIMESTAMP"
	ErrUserIDMismatch          ErrorCode = "USER_ID_MISMATCH"
	ErrRedactedMismatch        ErrorCode = "REDACTED_MISMATCH"
	ErrInvalidRole             ErrorCode = "INVALID_ROLE"
	ErrCannotSelfRevoke        ErrorCode = "CANNOT_SELF_REVOKE"
	ErrCannotSelfUnshare       ErrorCode = "CANNOT_SELF_UNSHARE"

	// Authorization (spec §7.3)
	ErrAuthorNotAllowed            ErrorCode = "AUTHOR_NOT_ALLOWED"
	ErrRoleIncompatibleWithOutsider ErrorCode = "ROLE_INCOMPATIBLE_WITH_OUTSIDER"
	ErrRoleAlreadyGranted          ErrorCode = "ROLE_ALREADY_GRANTED"
	ErrUserAlreadyUnshared         ErrorCode = "USER_ALREADY_UNSHARED"

	// Not-found / already-exists (spec §7.4)
	ErrRealmNotFound              ErrorCode = "REALM_NOT_FOUND"
	ErrRealmAlreadyExists         ErrorCode = "REALM_ALREADY_EXISTS"
	ErrVlobNotFound               ErrorCode = "VLOB_NOT_FOUND"
	ErrVlobAlreadyExists          ErrorCode = "VLOB_ALREADY_EXISTS"
	ErrBlockNotFound              ErrorCode = "BLOCK_NOT_FOUND"
	ErrUserAlreadyExists          ErrorCode = "USER_ALREADY_EXISTS"
	ErrHumanHandleAlreadyTaken    ErrorCode = "HUMAN_HANDLE_ALREADY_TAKEN"
	ErrDeviceAlreadyExists        ErrorCode = "DEVICE_ALREADY_EXISTS"
	ErrActiveUsersLimitReached    ErrorCode = "ACTIVE_USERS_LIMIT_REACHED"
	ErrInvitationNotFound         ErrorCode = "INVITATION_NOT_FOUND"
	ErrInvitationAlreadyDeleted   ErrorCode = "INVITATION_ALREADY_DELETED"
	ErrInvitationAlreadyUsed      ErrorCode = "INVITATION_ALREADY_USED"
	ErrOrganizationAlreadyBootstrapped ErrorCode = "ORGANIZATION_ALREADY_BOOTSTRAPPED"
	ErrOrganizationInvalidBootstrapToken ErrorCode = "ORGANIZATION_INVALID_BOOTSTRAP_TOKEN"
	ErrUserNotFound               ErrorCode = "USER_NOT_FOUND"
	ErrUserRevoked                ErrorCode = "USER_REVOKED"

	// Consistency (spec §7.5)
	ErrBadKeyIndex              ErrorCode = "BAD_KEY_INDEX"
	ErrBadVlobVersion           ErrorCode = "BAD_VLOB_VERSION"
	ErrSequesterInconsistency   ErrorCode = "SEQUESTER_INCONSISTENCY"
	ErrOrganizationNotSequestered ErrorCode = "ORGANIZATION_NOT_SEQUESTERED"
	ErrEnrollmentWrongState     ErrorCode = "ENROLLMENT_WRONG_STATE"
	ErrTooManyElements          ErrorCode = "TOO_MANY_ELEMENTS"

	// External dependency (spec §7.6)
	ErrSequesterServiceUnavailable ErrorCode = "SEQUESTER_SERVICE_UNAVAILABLE"
	ErrRejectedBySequesterService  ErrorCode = "REJECTED_BY_SEQUESTER_SERVICE"
	ErrStoreUnavailable            ErrorCode = "STORE_UNAVAILABLE"

	// Conduit liveness (spec §4.6)
	ErrInvitationDeleted ErrorCode = "INVITATION_DELETED"

	// Protocol-level aborts (spec §7.1) — normally short-circuited by
	// authctx, but still represented here so engines can return them
	// uniformly when they discover the condition mid-call.
	ErrOrganizationNotFound ErrorCode = "ORGANIZATION_NOT_FOUND"
	ErrOrganizationExpired  ErrorCode = "ORGANIZATION_EXPIRED"
	ErrAuthorNotFound       ErrorCode = "AUTHOR_NOT_FOUND"
	ErrAuthorRevoked        ErrorCode = "AUTHOR_REVOKED"
	ErrUserFrozen           ErrorCode = "USER_FROZEN"
	ErrInvitationInvalid    ErrorCode = "INVITATION_INVALID"

	// Dispatcher-level aborts (spec §4.1, §6 HTTP status mapping). These
	// never reach an engine; lib/dispatch maps them straight to an HTTP
	// status with an empty body.
	ErrIncompatibleAPIVersion ErrorCode = "INCOMPATIBLE_API_VERSION"
	ErrBadAcceptType          ErrorCode = "BAD_ACCEPT_TYPE"
	ErrBadContentType         ErrorCode = "BAD_CONTENT_TYPE"
	ErrInvalidAuthentication  ErrorCode = "INVALID_AUTHENTICATION"
	ErrBadOrganization        ErrorCode = "BAD_ORGANIZATION"
	ErrInvalidMessage         ErrorCode = "INVALID_MESSAGE"
	ErrMissingEvents          ErrorCode = "MISSED_EVENTS"
)

// EngineError is a tagged outcome carrying structured fields (spec §7
// "Propagation policy": engines return tagged outcome values, never
// exceptions). It always travels wrapped by trace so stack traces and
// trace.Is* classification keep working.
type EngineError struct {
	Code   ErrorCode
	Fields map[string]any
}

func (e *EngineError) Error() string {
	if len(e.Fields) == 0 {
		return string(e.Code)
	}
	return fmt.Sprintf("%s %v", e.Code, e.Fields)
}

// NewEngineError builds and trace-wraps a protocol-level outcome.
func NewEngineError(code ErrorCode, fields map[string]any) error {
	return trace.Wrap(&EngineError{Code: code, Fields: fields})
}

// AsEngineError extracts the EngineError from err, unwrapping any trace
// wrapping along the way.
func AsEngineError(err error) (*EngineError, bool) {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

// Is reports whether err is an EngineError with the given code, the usual
// way call sites branch on outcome in this codebase.
func Is(err error, code ErrorCode) bool {
	ee, ok := AsEngineError(err)
	return ok && ee.Code == code
}

// RequireGreaterTimestamp builds the REQUIRE_GREATER_TIMESTAMP outcome.
func RequireGreaterTimestamp(strictlyGreaterThan Timestamp) error {
	return NewEngineError(ErrRequireGreaterTimestamp, map[string]any{
		"strictly_greater_than": strictlyGreaterThan,
	})
}

// BadKeyIndex builds the BAD_KEY_INDEX outcome.
func BadKeyIndex(lastRealmCertificateTimestamp Timestamp) error {
	return NewEngineError(ErrBadKeyIndex, map[string]any{
		"last_realm_certificate_timestamp": lastRealmCertificateTimestamp,
	})
}

// RejectedBySequesterService builds the REJECTED_BY_SEQUESTER_SERVICE outcome.
func RejectedBySequesterService(service SequesterServiceID, reason string) error {
	return NewEngineError(ErrRejectedBySequesterService, map[string]any{
		"service_id": service,
		"reason":     reason,
	})
}

// SequesterServiceUnavailable builds the SEQUESTER_SERVICE_UNAVAILABLE outcome.
func SequesterServiceUnavailable(service SequesterServiceID) error {
	return NewEngineError(ErrSequesterServiceUnavailable, map[string]any{
		"service_id": service,
	})
}

// TimestampOutOfBallpark builds the TIMESTAMP_OUT_OF_BALLPARK outcome.
func TimestampOutOfBallpark(clientTimestamp, serverTimestamp Timestamp, earlyOffsetSeconds, lateOffsetSeconds float64) error {
	return NewEngineError(ErrTimestampOutOfBallpark, map[string]any{
		"client_timestamp": clientTimestamp,
		"server_timestamp": serverTimestamp,
		"ballpark_client_early_offset": earlyOffsetSeconds,
		"ballpark_client_late_offset":  lateOffsetSeconds,
	})
}

// Simple returns a fieldless EngineError for the given code.
func Simple(code ErrorCode) error {
	return NewEngineError(code, nil)
}
