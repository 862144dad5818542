// Package wire implements the self-describing msgpack request/response codec
// of spec §6: every command is a msgpack map keyed by field name, carrying a
// "cmd" field that names the operation, decoded generically here and then
// dispatched to a family-specific Req/Rep pair by lib/dispatch.
package wire

import (
	"github.com/gravitational/trace"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/parsec-io/parsec-server/lib/types"
)

// cmdPeek is the minimal shape decoded first to discover which command a
// request body carries, before the full typed decode happens.
type cmdPeek struct {
	Cmd string `msgpack:"cmd"`
}

// PeekCommand extracts the "cmd" field from a raw msgpack request body
// without fully decoding it. A malformed body yields INVALID_MESSAGE.
func PeekCommand(raw []byte) (string, error) {
	var peek cmdPeek
	if err := msgpack.Unmarshal(raw, &peek); err != nil {
		return "", trace.Wrap(types.Simple(types.ErrInvalidMessage))
	}
	if peek.Cmd == "" {
		return "", trace.Wrap(types.Simple(types.ErrInvalidMessage))
	}
	return peek.Cmd, nil
}

// Decode unmarshals a raw msgpack request body into dst, translating any
// decode failure into the protocol-level INVALID_MESSAGE outcome (spec §7.1)
// rather than leaking a msgpack-specific error to the caller.
func Decode(raw []byte, dst any) error {
	if err := msgpack.Unmarshal(raw, dst); err != nil {
		return trace.Wrap(types.Simple(types.ErrInvalidMessage))
	}
	return nil
}

// Encode marshals a response value to its msgpack wire form.
func Encode(src any) ([]byte, error) {
	raw, err := msgpack.Marshal(src)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return raw, nil
}
