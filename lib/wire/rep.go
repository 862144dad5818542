package wire

import (
	"strings"

	"github.com/parsec-io/parsec-server/lib/types"
)

// status renders an ErrorCode as the lowercase wire status token (spec §6):
// TIMESTAMP_OUT_OF_BALLPARK becomes "timestamp_out_of_ballpark".
func status(code types.ErrorCode) string {
	return strings.ToLower(string(code))
}

// OkRep wraps a successful response payload with the mandatory "status": "ok"
// field. Callers embed their own response fields alongside it via msgpack's
// inline-map convention, so this package exposes ErrorRep/status rather than
// a generic "ok" envelope: each command's own Rep struct sets Status itself.
const OkStatus = "ok"

// ErrorRep renders an EngineError (or any trace-wrapped error carrying one)
// into the self-describing map the wire format uses for non-ok responses: a
// "status" token plus whatever structured fields the error carries, with
// domain identifiers and timestamps converted to their wire forms.
func ErrorRep(err error) map[string]any {
	ee, ok := types.AsEngineError(err)
	if !ok {
		return map[string]any{"status": "internal_error"}
	}

	rep := map[string]any{"status": status(ee.Code)}
	for k, v := range ee.Fields {
		rep[k] = wireValue(v)
	}
	return rep
}

// wireValue converts a typed EngineError field value into the shape the
// msgpack encoder should see on the wire.
func wireValue(v any) any {
	switch x := v.(type) {
	case types.Timestamp:
		return FromTimestamp(x)
	case types.SequesterServiceID:
		return SequesterServiceID(x)
	case types.UserID:
		return UserID(x)
	case types.RealmID:
		return RealmID(x)
	case types.VlobID:
		return VlobID(x)
	case types.BlockID:
		return BlockID(x)
	default:
		return v
	}
}
