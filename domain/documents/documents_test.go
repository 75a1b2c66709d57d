package documents

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/pilgrimops/domain/jobs"
	"github.com/emergent-company/pilgrimops/domain/realtime"
	"github.com/emergent-company/pilgrimops/domain/tenantcache"
	"github.com/emergent-company/pilgrimops/pkg/auth"
)

type stack struct {
	broker   *jobs.Broker
	registry *realtime.Registry
	bcast    *realtime.Broadcaster
	cache    *tenantcache.Cache
}

func newStack(t *testing.T) *stack {
	t.Helper()
	log := slog.New(slog.DiscardHandler)

	registry := realtime.NewRegistry(realtime.NewPolicy(), log)
	bcast := realtime.NewBroadcaster(registry, realtime.NewHistory(0), log)
	emitter := realtime.NewEmitter(bcast, log)
	cache := tenantcache.New(tenantcache.NewMemoryStore(), log, tenantcache.WithInvalidator(emitter))

	b := jobs.NewBroker(log, jobs.WithNotifier(emitter))
	require.NoError(t, RegisterQueue(b, jobs.DefaultQueues(), NewWorker(emitter, cache, log)))
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { _ = b.Stop(context.Background()) })

	return &stack{broker: b, registry: registry, bcast: bcast, cache: cache}
}

func (s *stack) connect(t *testing.T, tenantID, userID string, types ...string) *realtime.Connection {
	t.Helper()
	c := realtime.NewConnection(auth.Identity{UserID: userID, TenantID: tenantID, Role: auth.RoleAgent}, "test", 32)
	require.NoError(t, s.registry.Connect(c))
	if len(types) > 0 {
		_, err := s.registry.Subscribe(context.Background(), c.ID, types, "")
		require.NoError(t, err)
	}
	return c
}

func (s *stack) submit(t *testing.T, kind jobs.Kind, data any) string {
	t.Helper()
	payload, err := jobs.NewPayload("agency-1", "reviewer-1", data)
	require.NoError(t, err)
	id, err := s.broker.Submit(context.Background(), jobs.QueueDocuments, kind, payload, jobs.Options{Attempts: 1})
	require.NoError(t, err)
	return id
}

func (s *stack) waitFor(t *testing.T, id string, want jobs.State) jobs.Job {
	t.Helper()
	var job jobs.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = s.broker.GetStatus(context.Background(), jobs.QueueDocuments, id)
		return err == nil && job.State == want
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

// nextEvent returns the next event frame of the given type, skipping others.
func nextEvent(t *testing.T, c *realtime.Connection, want realtime.EventType) *realtime.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case f := <-c.Outbound():
			if f.Type == realtime.FrameEvent && f.Event != nil && f.Event.Type == want {
				return f.Event
			}
		case <-timeout:
			t.Fatalf("no %s event delivered", want)
			return nil
		}
	}
}

func TestReview_ApprovedReachesSubscribers(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	watcher := s.connect(t, "agency-1", "agent-1", string(realtime.EventDocumentApproved))

	require.NoError(t, s.cache.Set(ctx, "agency-1", cacheResource, "doc-1", map[string]string{"status": "pending"}, 0))

	id := s.submit(t, KindReview, Review{DocumentID: "doc-1", PilgrimID: "p-1", Decision: DecisionApproved})
	job := s.waitFor(t, id, jobs.StateCompleted)
	assert.Equal(t, map[string]string{"documentId": "doc-1", "decision": "approved"}, job.Result)

	ev := nextEvent(t, watcher, realtime.EventDocumentApproved)
	assert.Equal(t, "doc-1", ev.EntityID)
	assert.Equal(t, "reviewer-1", ev.ActorID)

	var cached map[string]string
	hit, err := s.cache.Get(ctx, "agency-1", cacheResource, "doc-1", &cached)
	require.NoError(t, err)
	assert.False(t, hit)

	history, err := s.bcast.History(ctx, realtime.HistoryQuery{
		TenantID: "agency-1",
		Types:    []realtime.EventType{realtime.EventDocumentApproved},
	})
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestUploaded(t *testing.T) {
	s := newStack(t)
	watcher := s.connect(t, "agency-1", "agent-1")

	id := s.submit(t, KindUploaded, Uploaded{DocumentID: "doc-2", Kind: "passport", FileName: "passport.pdf"})
	s.waitFor(t, id, jobs.StateCompleted)

	ev := nextEvent(t, watcher, realtime.EventDocumentUploaded)
	assert.Equal(t, "doc-2", ev.EntityID)
}

func TestReview_Invalid(t *testing.T) {
	s := newStack(t)

	tests := []struct {
		name string
		req  Review
		want string
	}{
		{name: "missing document", req: Review{Decision: DecisionApproved}, want: "documentId is required"},
		{name: "unknown decision", req: Review{DocumentID: "d", Decision: "maybe"}, want: "unknown review decision"},
		{name: "rejection without reason", req: Review{DocumentID: "d", Decision: DecisionRejected}, want: "needs a reason"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := s.waitFor(t, s.submit(t, KindReview, tt.req), jobs.StateFailed)
			assert.Contains(t, job.Error, tt.want)
		})
	}
}
