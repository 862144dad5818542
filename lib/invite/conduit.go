// Package invite implements the invitation lifecycle and the six-phase
// conduit rendezvous state machine greeters and claimers use to exchange
// key-exchange payloads without either peer ever seeing the other's secret
// material (spec §4.6).
package invite

import (
	"context"
	"sync"

	"github.com/gravitational/trace"

	"github.com/parsec-io/parsec-server/lib/types"
)

// ErrConduitReset is returned to a blocked Exchange call when the peer
// resets the rendezvous (phase 1, a fresh claimer connection) out from
// under it.
var ErrConduitReset = trace.BadParameter("conduit reset by peer")

// mailbox holds the two-peer rendezvous state for one invitation token. Each
// phase is a barrier: both peers submit a payload for the phase, and once
// both have, each receives the other's payload and the mailbox advances.
type mailbox struct {
	mu   sync.Mutex
	cond *sync.Cond

	phase types.ConduitPhase

	greeterUserID  types.UserID
	greeterPayload []byte
	greeterDone    bool
	greeterLast    bool

	claimerPayload []byte
	claimerDone    bool
	claimerLast    bool

	// epoch identifies the current phase attempt. A submission records the
	// epoch it was made under; when a phase barrier completes, its result is
	// copied into completed* fields tagged with that epoch so a peer that
	// wakes up after the mailbox has already advanced to the next phase can
	// still retrieve its result instead of racing the cleanup.
	epoch int

	completedEpoch          int
	completedGreeterPayload []byte
	completedClaimerPayload []byte
	completedGreeterLast    bool

	deleted bool
}

func newMailbox(greeter types.UserID) *mailbox {
	m := &mailbox{phase: types.ConduitPhaseWaitPeers, greeterUserID: greeter, completedEpoch: -1}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Registry tracks one mailbox per (organization, token) and the set of
// claimer tokens currently waiting at phase 1, which is the conduit's
// "claimers ready" liveness signal (spec §4.6, best-effort/in-memory per the
// Open Question resolution in DESIGN.md).
type Registry struct {
	mu       sync.Mutex
	mailboxes map[types.OrganizationID]map[types.InvitationToken]*mailbox
	ready     map[types.OrganizationID]map[types.InvitationToken]struct{}
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		mailboxes: make(map[types.OrganizationID]map[types.InvitationToken]*mailbox),
		ready:     make(map[types.OrganizationID]map[types.InvitationToken]struct{}),
	}
}

func (r *Registry) mailboxFor(org types.OrganizationID, token types.InvitationToken, greeter types.UserID) *mailbox {
	r.mu.Lock()
	defer r.mu.Unlock()
	byToken, ok := r.mailboxes[org]
	if !ok {
		byToken = make(map[types.InvitationToken]*mailbox)
		r.mailboxes[org] = byToken
	}
	m, ok := byToken[token]
	if !ok {
		m = newMailbox(greeter)
		byToken[token] = m
	}
	return m
}

func (r *Registry) setReady(org types.OrganizationID, token types.InvitationToken, ready bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.ready[org]
	if !ok {
		set = make(map[types.InvitationToken]struct{})
		r.ready[org] = set
	}
	if ready {
		set[token] = struct{}{}
	} else {
		delete(set, token)
	}
}

// ReadyClaimers returns the tokens currently waiting at phase 1 for org.
func (r *Registry) ReadyClaimers(org types.OrganizationID) []types.InvitationToken {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.ready[org]
	out := make([]types.InvitationToken, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	return out
}

// Delete drops a mailbox and wakes any blocked peer with ErrConduitReset, for
// use when an invitation is cancelled or completes.
func (r *Registry) Delete(org types.OrganizationID, token types.InvitationToken) {
	r.mu.Lock()
	byToken := r.mailboxes[org]
	var m *mailbox
	if byToken != nil {
		m = byToken[token]
		delete(byToken, token)
	}
	r.mu.Unlock()
	r.setReady(org, token, false)

	if m == nil {
		return
	}
	m.mu.Lock()
	m.deleted = true
	m.epoch++
	m.cond.Broadcast()
	m.mu.Unlock()
}

// Exchange runs one phase of the conduit for either peer. isGreeter
// distinguishes the two roles; greeter must be the realm/org greeter's user
// id (ignored for claimers). phase is the phase this call submits a payload
// for; last is only meaningful for the greeter's final phase 4 submission.
// It blocks until the peer has submitted its payload for the same phase,
// then returns the peer's payload and its last flag.
func (r *Registry) Exchange(ctx context.Context, org types.OrganizationID, token types.InvitationToken, greeter types.UserID, isGreeter bool, phase types.ConduitPhase, payload []byte, last bool) ([]byte, bool, error) {
	m := r.mailboxFor(org, token, greeter)

	if !isGreeter && phase == types.ConduitPhaseWaitPeers {
		r.setReady(org, token, true)
		defer r.setReady(org, token, false)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deleted {
		return nil, false, types.Simple(types.ErrInvitationInvalid)
	}
	if m.phase != phase {
		return nil, false, types.Simple(types.ErrEnrollmentWrongState)
	}

	startEpoch := m.epoch

	if isGreeter {
		m.greeterPayload, m.greeterDone, m.greeterLast = payload, true, last
	} else {
		m.claimerPayload, m.claimerDone, m.claimerLast = payload, true, false
	}

	if m.greeterDone && m.claimerDone {
		m.completedEpoch = startEpoch
		m.completedGreeterPayload = m.greeterPayload
		m.completedClaimerPayload = m.claimerPayload
		m.completedGreeterLast = m.greeterLast

		// Advance the mailbox to the next phase, wiping both slots, but
		// leave the completed* snapshot above in place for the peer.
		m.phase = nextPhase(m.phase)
		m.greeterPayload, m.claimerPayload = nil, nil
		m.greeterDone, m.claimerDone = false, false
		m.epoch++
	}
	m.cond.Broadcast()

	for m.completedEpoch != startEpoch && !m.deleted {
		if done := waitOrCancel(ctx, m); !done {
			return nil, false, trace.Wrap(ctx.Err())
		}
	}
	if m.deleted && m.completedEpoch != startEpoch {
		return nil, false, types.Simple(types.ErrInvitationInvalid)
	}

	if isGreeter {
		return m.completedClaimerPayload, false, nil
	}
	return m.completedGreeterPayload, m.completedGreeterLast, nil
}

func nextPhase(p types.ConduitPhase) types.ConduitPhase {
	if p == types.ConduitPhaseCommunicate {
		return types.ConduitPhaseCommunicate
	}
	return p + 1
}

// waitOrCancel blocks on m.cond until either it is signalled or ctx is done.
// m.mu must be held on entry and is held again on return; it reports false
// if ctx was the reason it woke.
func waitOrCancel(ctx context.Context, m *mailbox) bool {
	if ctx.Err() != nil {
		return false
	}
	done := make(chan struct{})
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			m.cond.Broadcast()
			m.mu.Unlock()
		case <-stop:
		}
		close(done)
	}()
	m.cond.Wait()
	close(stop)
	<-done
	return ctx.Err() == nil
}
