package notifications

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/pilgrimops/domain/jobs"
	"github.com/emergent-company/pilgrimops/domain/realtime"
)

type sent struct {
	tenantID string
	userID   string
	n        realtime.Notification
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (f *fakeNotifier) Notify(_ context.Context, tenantID, userID string, n realtime.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sent{tenantID: tenantID, userID: userID, n: n})
	return nil
}

func job(t *testing.T, kind jobs.Kind, userID string, req any) jobs.Job {
	t.Helper()
	payload, err := jobs.NewPayload("agency-1", userID, req)
	require.NoError(t, err)
	return jobs.Job{ID: "job-1", Queue: jobs.QueueNotifications, Kind: kind, Payload: payload}
}

func TestWorker_Tenant(t *testing.T) {
	n := &fakeNotifier{}
	mux := NewWorker(n, slog.New(slog.DiscardHandler)).Mux()
	require.NoError(t, mux.Validate())

	res, err := mux.Dispatch(context.Background(), job(t, KindTenant, "user-1", Request{
		Title: "Group departure", Message: "Bus leaves the hotel at 06:00",
	}), nil)
	require.NoError(t, err)
	assert.Equal(t, Result{Delivered: 1}, res)

	require.Len(t, n.sent, 1)
	assert.Equal(t, "agency-1", n.sent[0].tenantID)
	assert.Empty(t, n.sent[0].userID)
	assert.Equal(t, SeverityInfo, n.sent[0].n.Severity)
}

func TestWorker_User(t *testing.T) {
	n := &fakeNotifier{}
	mux := NewWorker(n, slog.New(slog.DiscardHandler)).Mux()

	var progress []int
	res, err := mux.Dispatch(context.Background(), job(t, KindUser, "", Request{
		Title: "Visa approved", Severity: SeveritySuccess, UserIDs: []string{"u2", "u1", "u2", ""},
	}), func(p int) { progress = append(progress, p) })
	require.NoError(t, err)
	assert.Equal(t, Result{Delivered: 2}, res)
	assert.Equal(t, []int{50, 100}, progress)

	require.Len(t, n.sent, 2)
	assert.Equal(t, "u1", n.sent[0].userID)
	assert.Equal(t, "u2", n.sent[1].userID)

	// falls back to the submitting user
	n.sent = nil
	_, err = mux.Dispatch(context.Background(), job(t, KindUser, "u9", Request{Message: "Room assigned"}), nil)
	require.NoError(t, err)
	require.Len(t, n.sent, 1)
	assert.Equal(t, "u9", n.sent[0].userID)
}

func TestWorker_Errors(t *testing.T) {
	tests := []struct {
		name string
		kind jobs.Kind
		user string
		req  any
	}{
		{name: "empty notification", kind: KindTenant, req: Request{}},
		{name: "unknown severity", kind: KindTenant, req: Request{Title: "x", Severity: "panic"}},
		{name: "no recipients", kind: KindUser, req: Request{Title: "x"}},
		{name: "no payload data", kind: KindTenant, req: nil},
	}

	mux := NewWorker(&fakeNotifier{}, slog.New(slog.DiscardHandler)).Mux()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mux.Dispatch(context.Background(), job(t, tt.kind, tt.user, tt.req), nil)
			assert.Error(t, err)
		})
	}

	failing := NewWorker(&fakeNotifier{err: errors.New("relay down")}, slog.New(slog.DiscardHandler)).Mux()
	_, err := failing.Dispatch(context.Background(), job(t, KindUser, "u1", Request{Title: "x"}), nil)
	assert.ErrorContains(t, err, "relay down")
}
