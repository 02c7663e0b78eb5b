package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nexus-labs/nexus/core/pkg/contracts"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAggregateAssignsID(t *testing.T) {
	es := NewEventStore(newTestStore(t))
	id, err := es.CreateAggregate(context.Background(), "")
	require.NoError(t, err)
	require.NotEmpty(t, id)
}

func TestCreateAggregateDuplicateFails(t *testing.T) {
	es := NewEventStore(newTestStore(t))
	ctx := context.Background()
	_, err := es.CreateAggregate(ctx, "dec_1")
	require.NoError(t, err)
	_, err = es.CreateAggregate(ctx, "dec_1")
	require.Error(t, err)
	require.Equal(t, contracts.CodeDecisionExists, contracts.ErrCode(err))
}

func TestAppendEventAllocatesMonotonicSeq(t *testing.T) {
	es := NewEventStore(newTestStore(t))
	ctx := context.Background()
	id, err := es.CreateAggregate(ctx, "")
	require.NoError(t, err)

	actor := contracts.Actor{Type: contracts.ActorHuman, ID: "alice"}
	for i := 0; i < 3; i++ {
		ev, err := es.AppendEvent(ctx, id, contracts.EventApprovalGranted, actor, map[string]any{})
		require.NoError(t, err)
		require.Equal(t, int64(i), ev.Seq)
		require.NotEmpty(t, ev.Digest)
	}

	events, err := es.GetEvents(ctx, id)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, ev := range events {
		require.Equal(t, int64(i), ev.Seq)
	}
}

func TestAppendEventMissingAggregate(t *testing.T) {
	es := NewEventStore(newTestStore(t))
	_, err := es.AppendEvent(context.Background(), "nope",
		contracts.EventDecisionCreated, contracts.Actor{Type: contracts.ActorSystem, ID: "s"}, map[string]any{})
	require.Error(t, err)
	require.Equal(t, contracts.CodeDecisionNotFound, contracts.ErrCode(err))
}

func TestEventDigestPureFunctionOfTypeAndPayload(t *testing.T) {
	es := NewEventStore(newTestStore(t))
	ctx := context.Background()
	id1, _ := es.CreateAggregate(ctx, "")
	id2, _ := es.CreateAggregate(ctx, "")

	payload := map[string]any{"goal": "rotate keys", "labels": []any{}}
	a := contracts.Actor{Type: contracts.ActorHuman, ID: "a"}
	ev1, err := es.AppendEvent(ctx, id1, contracts.EventDecisionCreated, a, payload)
	require.NoError(t, err)
	ev2, err := es.AppendEvent(ctx, id2, contracts.EventDecisionCreated, a, payload)
	require.NoError(t, err)
	require.Equal(t, ev1.Digest, ev2.Digest)
}

func TestListAggregatesNewestFirst(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	es := NewEventStore(s).WithClock(func() time.Time {
		tick++
		return now.Add(time.Duration(tick) * time.Second)
	})
	ctx := context.Background()
	for _, id := range []string{"dec_a", "dec_b", "dec_c"} {
		_, err := es.CreateAggregate(ctx, id)
		require.NoError(t, err)
	}
	list, err := es.ListAggregates(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, "dec_c", list[0].ID)
	require.Equal(t, "dec_a", list[2].ID)
}

func TestImportAtomicRejectsExistingWithoutOverwrite(t *testing.T) {
	es := NewEventStore(newTestStore(t))
	ctx := context.Background()
	_, err := es.CreateAggregate(ctx, "dec_x")
	require.NoError(t, err)

	err = es.ImportAtomic(ctx, "dec_x", time.Now(), nil, false)
	require.Error(t, err)
	require.Equal(t, contracts.CodeDecisionExists, contracts.ErrCode(err))
}

func TestImportAtomicOverwriteReplacesLog(t *testing.T) {
	es := NewEventStore(newTestStore(t))
	ctx := context.Background()
	id, _ := es.CreateAggregate(ctx, "dec_ow")
	actor := contracts.Actor{Type: contracts.ActorSystem, ID: "sys"}
	_, err := es.AppendEvent(ctx, id, contracts.EventDecisionCreated, actor, map[string]any{"goal": "old"})
	require.NoError(t, err)

	replacement := []contracts.StoredEvent{{
		AggregateID: id, Seq: 0,
		Type:      contracts.EventDecisionCreated,
		Timestamp: time.Now().UTC(),
		Actor:     actor,
		Payload:   map[string]any{"goal": "new"},
		Digest:    "d0",
	}}
	require.NoError(t, es.ImportAtomic(ctx, id, time.Now(), replacement, true))

	events, err := es.GetEvents(ctx, id)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "new", events[0].Payload["goal"])
	require.Equal(t, "d0", events[0].Digest) // preserved verbatim
}

func TestImportAtomicPreservesSeqAndPayload(t *testing.T) {
	es := NewEventStore(newTestStore(t))
	ctx := context.Background()
	actor := contracts.Actor{Type: contracts.ActorHuman, ID: "alice"}
	events := []contracts.StoredEvent{
		{Seq: 0, Type: contracts.EventDecisionCreated, Timestamp: time.Now().UTC(), Actor: actor,
			Payload: map[string]any{"goal": "g"}, Digest: "aa"},
		{Seq: 1, Type: contracts.EventPolicyAttached, Timestamp: time.Now().UTC(), Actor: actor,
			Payload: map[string]any{"min_approvals": 2}, Digest: "bb"},
	}
	require.NoError(t, es.ImportAtomic(ctx, "dec_imp", time.Now(), events, false))

	got, err := es.GetEvents(ctx, "dec_imp")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, int64(1), got[1].Seq)
	require.Equal(t, "bb", got[1].Digest)
}

func TestDeleteAggregate(t *testing.T) {
	es := NewEventStore(newTestStore(t))
	ctx := context.Background()
	id, _ := es.CreateAggregate(ctx, "dec_del")
	_, err := es.AppendEvent(ctx, id, contracts.EventDecisionCreated,
		contracts.Actor{Type: contracts.ActorSystem, ID: "s"}, map[string]any{})
	require.NoError(t, err)

	ok, err := es.DeleteAggregate(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)

	hdr, err := es.GetAggregate(ctx, id)
	require.NoError(t, err)
	require.Nil(t, hdr)

	ok, err = es.DeleteAggregate(ctx, id)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestErrCodeFallsBackToUnknown(t *testing.T) {
	if got := contracts.ErrCode(errors.New("plain")); got != contracts.CodeUnknown {
		t.Fatalf("expected UNKNOWN, got %s", got)
	}
}
