package invite_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parsec-io/parsec-server/lib/invite"
	"github.com/parsec-io/parsec-server/lib/types"
)

// P6 / scenario 3: conduit_exchange advances the phase exactly once both
// payloads are deposited, and a peer arriving first waits for the other.
func TestConduitHappyPathAllPhases(t *testing.T) {
	r := invite.NewRegistry()
	org := types.OrganizationID("OrgA")
	token := types.NewInvitationToken()
	greeter := types.NewUserID()

	phases := []types.ConduitPhase{
		types.ConduitPhaseWaitPeers,
		types.ConduitPhaseClaimerHashedNonce,
		types.ConduitPhaseGreeterNonce,
		types.ConduitPhaseClaimerNonce,
		types.ConduitPhaseClaimerTrust,
		types.ConduitPhaseGreeterTrust,
	}

	for _, phase := range phases {
		gk := []byte("greeter-" + phase.String())
		ck := []byte("claimer-" + phase.String())

		var wg sync.WaitGroup
		var greeterPeer, claimerPeer []byte
		var greeterErr, claimerErr error

		wg.Add(2)
		go func() {
			defer wg.Done()
			greeterPeer, _, greeterErr = r.Exchange(context.Background(), org, token, greeter, true, phase, gk, false)
		}()
		go func() {
			defer wg.Done()
			// Give the greeter a head start so it genuinely blocks waiting
			// on the claimer at least once, exercising the "arrives first"
			// path.
			time.Sleep(5 * time.Millisecond)
			claimerPeer, _, claimerErr = r.Exchange(context.Background(), org, token, greeter, false, phase, ck, false)
		}()
		wg.Wait()

		require.NoError(t, greeterErr)
		require.NoError(t, claimerErr)
		require.Equal(t, ck, greeterPeer)
		require.Equal(t, gk, claimerPeer)
	}

	// Final phase 4 exchange, greeter marks last=true.
	var wg sync.WaitGroup
	var greeterPeer, claimerPeer []byte
	var greeterLast, claimerLast bool
	var greeterErr, claimerErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		greeterPeer, greeterLast, greeterErr = r.Exchange(context.Background(), org, token, greeter, true, types.ConduitPhaseCommunicate, []byte("final-greeter"), true)
	}()
	go func() {
		defer wg.Done()
		claimerPeer, claimerLast, claimerErr = r.Exchange(context.Background(), org, token, greeter, false, types.ConduitPhaseCommunicate, []byte("final-claimer"), false)
	}()
	wg.Wait()

	require.NoError(t, greeterErr)
	require.NoError(t, claimerErr)
	require.Equal(t, []byte("final-claimer"), greeterPeer)
	require.Equal(t, []byte("final-greeter"), claimerPeer)
	require.False(t, greeterLast, "ExchangeAsGreeter's own return value never carries its own 'last'")
	require.True(t, claimerLast, "the claimer observes the greeter's last=true")
}

// P6 / scenario 4: a call at the wrong phase fails with a conduit-state
// mismatch rather than blocking forever.
func TestConduitWrongStateFails(t *testing.T) {
	r := invite.NewRegistry()
	org := types.OrganizationID("OrgA")
	token := types.NewInvitationToken()
	greeter := types.NewUserID()

	_, _, err := r.Exchange(context.Background(), org, token, greeter, true, types.ConduitPhaseClaimerTrust, []byte("x"), false)
	require.True(t, types.Is(err, types.ErrEnrollmentWrongState))
}

// P7: cancelling a conduit call after payload deposit does not erase the
// payload — the peer that already deposited still completes the barrier
// once the other peer shows up on the SAME mailbox (a retried call would
// resubmit against phase 1 after a reset; here we check that a deposit
// survives the depositor's own context being done by having the depositor
// NOT be the one cancelled, and that the deposit is visible to a
// late-arriving peer).
func TestConduitCancellationAfterDepositIsNotUndone(t *testing.T) {
	r := invite.NewRegistry()
	org := types.OrganizationID("OrgA")
	token := types.NewInvitationToken()
	greeter := types.NewUserID()

	depositCtx, cancelDeposit := context.WithCancel(context.Background())
	done := make(chan struct{})
	var claimerErr error
	go func() {
		defer close(done)
		_, _, claimerErr = r.Exchange(depositCtx, org, token, greeter, false, types.ConduitPhaseWaitPeers, []byte("ck"), false)
	}()

	// Give the claimer time to deposit and start waiting, then cancel its
	// own context. Cancellation unblocks the waiter with an error, but must
	// not retract the payload it already stored.
	time.Sleep(10 * time.Millisecond)
	cancelDeposit()
	<-done
	require.Error(t, claimerErr)

	// The greeter now arrives at the same phase; it must still observe the
	// claimer's already-deposited payload and complete the barrier.
	greeterPeer, _, err := r.Exchange(context.Background(), org, token, greeter, true, types.ConduitPhaseWaitPeers, []byte("gk"), false)
	require.NoError(t, err)
	require.Equal(t, []byte("ck"), greeterPeer)
}

// Registry.Delete wakes a blocked waiter with an "invitation deleted"
// outcome instead of leaving it parked forever (cancellation/invitation
// lifecycle interaction, spec §4.6).
func TestConduitDeleteWakesWaiter(t *testing.T) {
	r := invite.NewRegistry()
	org := types.OrganizationID("OrgA")
	token := types.NewInvitationToken()
	greeter := types.NewUserID()

	done := make(chan error, 1)
	go func() {
		_, _, err := r.Exchange(context.Background(), org, token, greeter, true, types.ConduitPhaseWaitPeers, []byte("gk"), false)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	r.Delete(org, token)

	select {
	case err := <-done:
		require.Error(t, err)
		require.True(t, types.Is(err, types.ErrInvitationInvalid))
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by Delete")
	}
}

// ReadyClaimers reflects the best-effort "claimer present" liveness signal
// (spec §4.6): set when a claimer enters phase 1, cleared once it leaves.
func TestReadyClaimersLiveness(t *testing.T) {
	r := invite.NewRegistry()
	org := types.OrganizationID("OrgA")
	token := types.NewInvitationToken()
	greeter := types.NewUserID()

	require.Empty(t, r.ReadyClaimers(org))

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Exchange(context.Background(), org, token, greeter, false, types.ConduitPhaseWaitPeers, []byte("ck"), false)
	}()

	require.Eventually(t, func() bool {
		return len(r.ReadyClaimers(org)) == 1
	}, time.Second, time.Millisecond)

	_, _, _ = r.Exchange(context.Background(), org, token, greeter, true, types.ConduitPhaseWaitPeers, []byte("gk"), false)
	<-done

	require.Eventually(t, func() bool {
		return len(r.ReadyClaimers(org)) == 0
	}, time.Second, time.Millisecond)
}
