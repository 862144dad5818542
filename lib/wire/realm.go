package wire

// RoleCertificateReq is shared by realm_create, realm_share and
// realm_unshare: the decoded content of a realm_role certificate plus its raw
// signed bytes (spec §4.4).
type RoleCertificateReq struct {
	Cmd         string    `msgpack:"cmd"`
	RealmID     ID        `msgpack:"realm_id"`
	UserID      ID        `msgpack:"user_id"`
	Role        string    `msgpack:"role"` // "" denotes an unshare
	KeyIndex    uint64    `msgpack:"key_index"`
	Timestamp   Timestamp `msgpack:"timestamp"`
	Certificate []byte    `msgpack:"role_certificate"`
}

// RealmRotateKeyReq is the realm_rotate_key command body.
type RealmRotateKeyReq struct {
	Cmd                      string            `msgpack:"cmd"`
	RealmID                  ID                `msgpack:"realm_id"`
	Timestamp                Timestamp         `msgpack:"timestamp"`
	Certificate              []byte            `msgpack:"keys_bundle"`
	PerParticipantKeysAccess map[ID][]byte     `msgpack:"per_participant_keys_bundle_access"`
}

// RealmRotateKeyRep is the successful realm_rotate_key response.
type RealmRotateKeyRep struct {
	Status   string `msgpack:"status"`
	KeyIndex uint64 `msgpack:"key_index"`
}

// RealmStatsReq is the realm_get_stats_as_user command body.
type RealmStatsReq struct {
	Cmd     string `msgpack:"cmd"`
	RealmID ID     `msgpack:"realm_id"`
}

// RealmStatsRep is the successful realm_get_stats_as_user response.
type RealmStatsRep struct {
	Status    string `msgpack:"status"`
	BlocksSize int64 `msgpack:"blocks_size"`
	VlobsSize  int64 `msgpack:"vlobs_size"`
}

// CurrentRealmsForUserReq is the get_current_realms_for_user command body.
type CurrentRealmsForUserReq struct {
	Cmd string `msgpack:"cmd"`
}

// CurrentRealmEntry is one realm entry in CurrentRealmsForUserRep, carrying
// the key index alongside the role per SPEC_FULL.md §C.1.
type CurrentRealmEntry struct {
	RealmID  ID     `msgpack:"realm_id"`
	Role     string `msgpack:"role"`
	KeyIndex uint64 `msgpack:"key_index"`
}

// CurrentRealmsForUserRep is the successful get_current_realms_for_user
// response.
type CurrentRealmsForUserRep struct {
	Status string              `msgpack:"status"`
	Realms []CurrentRealmEntry `msgpack:"realms"`
}
