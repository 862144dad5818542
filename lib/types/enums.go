package types

import "github.com/gravitational/trace"

// Profile is a user's authorization tier within an organization.
type Profile string

const (
	ProfileAdmin    Profile = "ADMIN"
	ProfileStandard Profile = "STANDARD"
	ProfileOutsider Profile = "OUTSIDER"
)

// CheckAndSetDefaults validates the profile value.
func (p Profile) CheckAndSetDefaults() error {
	switch p {
	case ProfileAdmin, ProfileStandard, ProfileOutsider:
		return nil
	default:
		return trace.BadParameter("unknown profile %q", p)
	}
}

// RealmRole is a user's role within a realm. The zero value RealmRoleNone
// denotes "no role" (used to express an unshare certificate).
type RealmRole string

const (
	RealmRoleNone        RealmRole = ""
	RealmRoleOwner       RealmRole = "OWNER"
	RealmRoleManager     RealmRole = "MANAGER"
	RealmRoleContributor RealmRole = "CONTRIBUTOR"
	RealmRoleReader      RealmRole = "READER"
)

// IsWriter reports whether the role may create/update vlobs and blocks.
func (r RealmRole) IsWriter() bool {
	switch r {
	case RealmRoleOwner, RealmRoleManager, RealmRoleContributor:
		return true
	default:
		return false
	}
}

// IsManagerOrAbove reports whether the role may grant/revoke Reader and
// Contributor roles.
func (r RealmRole) IsManagerOrAbove() bool {
	return r == RealmRoleOwner || r == RealmRoleManager
}

// InvitationType distinguishes what an invitation enrolls.
type InvitationType string

const (
	InvitationTypeUser            InvitationType = "USER"
	InvitationTypeDevice          InvitationType = "DEVICE"
	InvitationTypeShamirRecovery  InvitationType = "SHAMIR_RECOVERY"
)

// InvitationStatus is the lifecycle state of an invitation.
type InvitationStatus string

const (
	InvitationStatusPending   InvitationStatus = "PENDING"
	InvitationStatusReady     InvitationStatus = "READY"
	InvitationStatusCancelled InvitationStatus = "CANCELLED"
	InvitationStatusFinished  InvitationStatus = "FINISHED"
)

// IsTerminal reports whether the invitation can no longer transition.
func (s InvitationStatus) IsTerminal() bool {
	return s == InvitationStatusCancelled || s == InvitationStatusFinished
}

// SequesterServiceType distinguishes the two sequester service kinds.
type SequesterServiceType string

const (
	SequesterServiceTypeStorage SequesterServiceType = "STORAGE"
	SequesterServiceTypeWebhook SequesterServiceType = "WEBHOOK"
)

// ConduitPhase is a step of the six-phase invitation rendezvous (spec §4.6).
type ConduitPhase int

const (
	ConduitPhaseWaitPeers       ConduitPhase = iota + 1 // 1
	ConduitPhaseClaimerHashedNonce                       // 2.1
	ConduitPhaseGreeterNonce                             // 2.2
	ConduitPhaseClaimerNonce                             // 2.3
	ConduitPhaseClaimerTrust                             // 3.1
	ConduitPhaseGreeterTrust                             // 3.2
	ConduitPhaseCommunicate                              // 4
)

func (p ConduitPhase) String() string {
	switch p {
	case ConduitPhaseWaitPeers:
		return "1_WAIT_PEERS"
	case ConduitPhaseClaimerHashedNonce:
		return "2_1_CLAIMER_HASHED_NONCE"
	case ConduitPhaseGreeterNonce:
		return "2_2_GREETER_NONCE"
	case ConduitPhaseClaimerNonce:
		return "2_3_CLAIMER_NONCE"
	case ConduitPhaseClaimerTrust:
		return "3_1_CLAIMER_TRUST"
	case ConduitPhaseGreeterTrust:
		return "3_2_GREETER_TRUST"
	case ConduitPhaseCommunicate:
		return "4_COMMUNICATE"
	default:
		return "UNKNOWN"
	}
}

// ConduitRole distinguishes the two rendezvous participants.
type ConduitRole string

const (
	ConduitRoleGreeter ConduitRole = "GREETER"
	ConduitRoleClaimer ConduitRole = "CLAIMER"
)
