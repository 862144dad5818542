package wire

// ShamirRecoveryShareEntry is one recipient's share allotment.
type ShamirRecoveryShareEntry struct {
	Recipient  ID  `msgpack:"recipient"`
	ShareCount int `msgpack:"share_count"`
}

// ShamirRecoverySetupReq is the shamir_recovery_setup command body.
type ShamirRecoverySetupReq struct {
	Cmd               string                     `msgpack:"cmd"`
	BriefCertificate  []byte                     `msgpack:"brief_certificate"`
	ShareCertificates map[ID][]byte              `msgpack:"share_certificates"`
	Threshold         int                        `msgpack:"threshold"`
	Shares            []ShamirRecoveryShareEntry `msgpack:"shares"`
	Timestamp         Timestamp                  `msgpack:"timestamp"`
}

// ShamirRecoverySetupEntry describes one setup returned by
// shamir_recovery_list_as_user: either the caller's own setup or one naming
// the caller as a recipient.
type ShamirRecoverySetupEntry struct {
	UserID           ID                         `msgpack:"user_id"`
	BriefCertificate []byte                     `msgpack:"brief_certificate"`
	Threshold        int                        `msgpack:"threshold"`
	Shares           []ShamirRecoveryShareEntry `msgpack:"shares"`
	CreatedOn        Timestamp                  `msgpack:"created_on"`
}

// ShamirRecoveryListAsUserReq is the shamir_recovery_list_as_user command
// body.
type ShamirRecoveryListAsUserReq struct {
	Cmd string `msgpack:"cmd"`
}

// ShamirRecoveryListAsUserRep is the successful
// shamir_recovery_list_as_user response.
type ShamirRecoveryListAsUserRep struct {
	Status      string                     `msgpack:"status"`
	Own         *ShamirRecoverySetupEntry  `msgpack:"own,omitempty"`
	RecipientOf []ShamirRecoverySetupEntry `msgpack:"recipient_of"`
}
