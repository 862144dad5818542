package wire

// InviteNewUserReq is the invite_new command body for a USER invitation.
type InviteNewUserReq struct {
	Cmd          string `msgpack:"cmd"`
	Type         string `msgpack:"type"` // "USER"
	ClaimerEmail string `msgpack:"claimer_email"`
	SendEmail    bool   `msgpack:"send_email,omitempty"`
}

// InviteNewDeviceReq is the invite_new command body for a DEVICE invitation.
type InviteNewDeviceReq struct {
	Cmd  string `msgpack:"cmd"`
	Type string `msgpack:"type"` // "DEVICE"
}

// InviteNewRep is the successful invite_new response.
type InviteNewRep struct {
	Status string `msgpack:"status"`
	Token  ID     `msgpack:"token"`
}

// InviteCancelReq is the invite_cancel command body.
type InviteCancelReq struct {
	Cmd   string `msgpack:"cmd"`
	Token ID     `msgpack:"token"`
}

// InviteListEntry is one entry of an invite_list response.
type InviteListEntry struct {
	Token     ID        `msgpack:"token"`
	Type      string    `msgpack:"type"`
	CreatedOn Timestamp `msgpack:"created_on"`
	Status    string    `msgpack:"status"`
}

// InviteListReq is the invite_list command body.
type InviteListReq struct {
	Cmd string `msgpack:"cmd"`
}

// InviteListRep is the successful invite_list response.
type InviteListRep struct {
	Status      string            `msgpack:"status"`
	Invitations []InviteListEntry `msgpack:"invitations"`
}

// InviteInfoReq is the invite_info command body, sent by an invited caller.
type InviteInfoReq struct {
	Cmd string `msgpack:"cmd"`
}

// InviteInfoRep is the successful invite_info response.
type InviteInfoRep struct {
	Status       string `msgpack:"status"`
	Type         string `msgpack:"type"`
	ClaimerEmail string `msgpack:"claimer_email,omitempty"`
}

// Invite1ClaimerWaitPeerReq / Invite1GreeterWaitPeerReq are phase 1 of the
// conduit: each side submits its public key and blocks for the other.
type Invite1ClaimerWaitPeerReq struct {
	Cmd              string `msgpack:"cmd"`
	ClaimerPublicKey []byte `msgpack:"claimer_public_key"`
}

// Invite1GreeterWaitPeerReq is the greeter's phase 1 submission.
type Invite1GreeterWaitPeerReq struct {
	Cmd              string `msgpack:"cmd"`
	Token            ID     `msgpack:"token"`
	GreeterPublicKey []byte `msgpack:"greeter_public_key"`
}

// InvitePhaseRep wraps whatever payload the peer submitted for the phase just
// completed; every conduit step beyond phase 1 shares this shape on both the
// greeter and claimer sides, with Payload carrying the phase-specific
// ciphertext (hashed nonce, nonce, trust blob or communicate message).
type InvitePhaseRep struct {
	Status  string `msgpack:"status"`
	Payload []byte `msgpack:"payload"`
}

// InvitePhaseReq is the shared shape of conduit phases 2 through 4: a single
// opaque payload for the current phase, plus (greeter only, final phase)
// whether this is the last exchange.
type InvitePhaseReq struct {
	Cmd     string `msgpack:"cmd"`
	Token   ID     `msgpack:"token,omitempty"` // claimer omits: token comes from the URL
	Phase   int    `msgpack:"phase"`
	Payload []byte `msgpack:"payload"`
	Last    bool   `msgpack:"last_trust_list_item,omitempty"`
}

// InviteListAsUserReq lists the claimers currently waiting at phase 1 for an
// invitation the caller greets (SPEC_FULL.md §C.3 supplement).
type InviteListAsUserReq struct {
	Cmd   string `msgpack:"cmd"`
	Token ID     `msgpack:"token"`
}

// InviteListAsUserRep reports whether a claimer is presently connected.
type InviteListAsUserRep struct {
	Status string `msgpack:"status"`
	Ready  bool   `msgpack:"ready"`
}
