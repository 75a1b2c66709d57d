package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistory_Bound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 1; i <= 150; i++ {
		require.NoError(t, f.broadcaster.Publish(ctx, Event{Type: EventPilgrimUpdated, TenantID: "T1", Data: i}))
	}

	events, err := f.broadcaster.History(ctx, HistoryQuery{TenantID: "T1"})
	require.NoError(t, err)
	require.Len(t, events, 100)
	assert.Equal(t, 51, events[0].Data)
	assert.Equal(t, 150, events[99].Data)
}

func TestHistory_Filters(t *testing.T) {
	h := NewHistory(10)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	h.Append(Event{Type: EventLeadAssigned, TenantID: "t1", Timestamp: base})
	h.Append(Event{Type: EventLeadUpdated, TenantID: "t1", Timestamp: base.Add(time.Second)})
	h.Append(Event{Type: EventLeadAssigned, TenantID: "t1", Timestamp: base.Add(2 * time.Second)})
	h.Append(Event{Type: EventNotification, TenantID: "t1", Timestamp: base.Add(3 * time.Second), targetUserID: "u9"})
	h.Append(Event{Type: EventLeadAssigned, TenantID: "t2", Timestamp: base})

	tests := []struct {
		name  string
		query HistoryQuery
		want  int
	}{
		{name: "all visible", query: HistoryQuery{TenantID: "t1", UserID: "u1"}, want: 3},
		{name: "target sees own", query: HistoryQuery{TenantID: "t1", UserID: "u9"}, want: 4},
		{name: "since is exclusive", query: HistoryQuery{TenantID: "t1", Since: base.Add(time.Second)}, want: 1},
		{name: "types", query: HistoryQuery{TenantID: "t1", Types: []EventType{EventLeadAssigned}}, want: 2},
		{name: "other tenant", query: HistoryQuery{TenantID: "t2"}, want: 1},
		{name: "unknown tenant", query: HistoryQuery{TenantID: "t3"}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, h.Query(tt.query), tt.want)
		})
	}
}

func TestHistory_Replace(t *testing.T) {
	h := NewHistory(3)
	events := make([]Event, 5)
	for i := range events {
		events[i] = Event{Type: EventNotification, TenantID: "t1", Data: i}
	}

	h.Replace("t1", events)
	got := h.Events("t1")
	require.Len(t, got, 3)
	assert.Equal(t, 2, got[0].Data)

	h.Append(Event{Type: EventNotification, TenantID: "t1", Data: 5})
	got = h.Events("t1")
	assert.Equal(t, []any{3, 4, 5}, []any{got[0].Data, got[1].Data, got[2].Data})

	assert.Equal(t, DefaultHistorySize, NewHistory(0).Capacity())
}
