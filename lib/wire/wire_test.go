package wire_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/parsec-io/parsec-server/lib/types"
	"github.com/parsec-io/parsec-server/lib/wire"
)

func TestPeekCommand(t *testing.T) {
	raw, err := wire.Encode(wire.InviteCancelReq{Cmd: "invite_cancel", Token: wire.ID(types.NewID())})
	require.NoError(t, err)

	cmd, err := wire.PeekCommand(raw)
	require.NoError(t, err)
	require.Equal(t, "invite_cancel", cmd)
}

func TestPeekCommandRejectsMalformedBody(t *testing.T) {
	_, err := wire.PeekCommand([]byte{0xff, 0xff, 0xff})
	require.True(t, types.Is(err, types.ErrInvalidMessage))
}

func TestIDRoundtrip(t *testing.T) {
	id := types.NewVlobID()

	raw, err := wire.Encode(wire.BlockReadReq{Cmd: "block_read", BlockID: wire.ID(id)})
	require.NoError(t, err)

	var decoded wire.BlockReadReq
	require.NoError(t, wire.Decode(raw, &decoded))
	require.Equal(t, types.VlobID(decoded.BlockID), id)
}

func TestTimestampRoundtrip(t *testing.T) {
	ts := types.TimestampFromFloatSeconds(1700000000.123456)
	wireTS := wire.FromTimestamp(ts)
	require.Equal(t, ts, wireTS.ToTimestamp())
}

func TestErrorRepConvertsFields(t *testing.T) {
	err := types.RequireGreaterTimestamp(types.TimestampFromFloatSeconds(42))
	rep := wire.ErrorRep(err)
	require.Equal(t, "require_greater_timestamp", rep["status"])
	require.IsType(t, wire.Timestamp(0), rep["strictly_greater_than"])
}
