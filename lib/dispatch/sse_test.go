package dispatch_test

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parsec-io/parsec-server/lib/types"
)

func TestSSEReceivesPublishedEvent(t *testing.T) {
	h := newHarness(t)
	defer h.close()
	ctx := context.Background()

	orgID := types.OrganizationID("acme")
	_, admin := bootstrapOrg(ctx, t, h, orgID, "s3cr3t")

	path := "/authenticated/" + string(orgID) + "/events"
	sig := ed25519.Sign(admin.private, []byte(path))

	reqCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, h.server.URL+path, nil)
	require.NoError(t, err)
	req.Header.Set("Author", admin.id.String())
	req.Header.Set("Signature", base64.StdEncoding.EncodeToString(sig))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	lines := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	// Give the subscriber goroutine time to register before publishing.
	time.Sleep(50 * time.Millisecond)

	rep := h.postAuthenticated(t, orgID, admin, map[string]any{"cmd": "invite_new_device"})
	require.Equal(t, "ok", rep["status"])

	deadline := time.After(4 * time.Second)
	for {
		select {
		case line := <-lines:
			if strings.HasPrefix(line, "event: invitation.changed") {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for invitation.changed SSE event")
		}
	}
}

func TestSSEMissedEventsAborts(t *testing.T) {
	h := newHarness(t)
	defer h.close()
	ctx := context.Background()

	orgID := types.OrganizationID("acme")
	_, admin := bootstrapOrg(ctx, t, h, orgID, "s3cr3t")

	path := "/authenticated/" + string(orgID) + "/events"
	sig := ed25519.Sign(admin.private, []byte(path))

	unknown := types.NewEventID()
	req, err := http.NewRequest(http.MethodGet, h.server.URL+path, nil)
	require.NoError(t, err)
	req.Header.Set("Author", admin.id.String())
	req.Header.Set("Signature", base64.StdEncoding.EncodeToString(sig))
	req.Header.Set("Last-Event-ID", unknown.String())

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusGone, resp.StatusCode)
}
