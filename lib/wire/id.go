package wire

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/parsec-io/parsec-server/lib/types"
)

// ID is the wire representation of every domain identifier: a fixed 16-byte
// string (msgpack bin), never hex text. Every lib/types identifier kind
// shares ID's underlying [16]byte array and converts to/from it directly.
type ID [16]byte

var (
	_ msgpack.CustomEncoder = ID{}
	_ msgpack.CustomDecoder = (*ID)(nil)
)

// EncodeMsgpack writes the id as a 16-byte bin value.
func (id ID) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.EncodeBytes(id[:])
}

// DecodeMsgpack reads a 16-byte bin value into id.
func (id *ID) DecodeMsgpack(dec *msgpack.Decoder) error {
	raw, err := dec.DecodeBytes()
	if err != nil {
		return err
	}
	if len(raw) != 16 {
		return fmt.Errorf("wire: malformed identifier: want 16 bytes, got %d", len(raw))
	}
	copy(id[:], raw)
	return nil
}

func UserID(id types.UserID) ID                       { return ID(id) }
func (id ID) UserID() types.UserID                     { return types.UserID(id) }
func RealmID(id types.RealmID) ID                      { return ID(id) }
func (id ID) RealmID() types.RealmID                   { return types.RealmID(id) }
func VlobID(id types.VlobID) ID                        { return ID(id) }
func (id ID) VlobID() types.VlobID                     { return types.VlobID(id) }
func BlockID(id types.BlockID) ID                      { return ID(id) }
func (id ID) BlockID() types.BlockID                   { return types.BlockID(id) }
func InvitationToken(id types.InvitationToken) ID      { return ID(id) }
func (id ID) InvitationToken() types.InvitationToken   { return types.InvitationToken(id) }
func SequesterServiceID(id types.SequesterServiceID) ID { return ID(id) }
func (id ID) SequesterServiceID() types.SequesterServiceID { return types.SequesterServiceID(id) }
func EventID(id types.EventID) ID                      { return ID(id) }
func (id ID) EventID() types.EventID                   { return types.EventID(id) }

// Timestamp is the wire representation of types.Timestamp: an IEEE-754
// double counting seconds since the Unix epoch (spec §6, §9).
type Timestamp float64

// FromTimestamp converts a domain Timestamp to its wire double.
func FromTimestamp(ts types.Timestamp) Timestamp {
	return Timestamp(ts.AsFloatSeconds())
}

// ToTimestamp converts a wire double back to a domain Timestamp.
func (t Timestamp) ToTimestamp() types.Timestamp {
	return types.TimestampFromFloatSeconds(float64(t))
}

// DeviceID is the wire rendering of a device identifier:
// "<user_id_hex>@<device_name>", matching types.DeviceID.String().
type DeviceID string

// FromDeviceID converts a domain DeviceID to its wire string form.
func FromDeviceID(d types.DeviceID) DeviceID {
	return DeviceID(d.String())
}

// ToDeviceID parses the wire string form back into a domain DeviceID.
func (d DeviceID) ToDeviceID() (types.DeviceID, error) {
	return types.ParseDeviceID(string(d))
}
