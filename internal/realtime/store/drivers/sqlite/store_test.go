package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/adimov-eth/vibecheck-sub001/internal/realtime/domain"
	"github.com/adimov-eth/vibecheck-sub001/internal/realtime/store"
	"github.com/adimov-eth/vibecheck-sub001/pkg/idx"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, path string) *Store {
	t.Helper()

	s, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, s.ApplyMigrations())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCredentialRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "realtime.db")
	s := newTestStore(t, path)
	ctx := context.Background()

	_, err := s.Credentials().Get(ctx)
	require.ErrorIs(t, err, store.ErrNotFound)

	issued := time.Now().Truncate(time.Second).UTC()
	cred := domain.Credential{
		Raw:       "header.payload.signature",
		IssuedAt:  issued,
		ExpiresAt: issued.Add(time.Hour),
	}
	require.NoError(t, s.Credentials().Put(ctx, cred))

	got, err := s.Credentials().Get(ctx)
	require.NoError(t, err)
	require.Equal(t, cred, got)

	// Upsert replaces the single row rather than growing the table.
	cred.Raw = "header.payload2.signature2"
	require.NoError(t, s.Credentials().Put(ctx, cred))
	got, err = s.Credentials().Get(ctx)
	require.NoError(t, err)
	require.Equal(t, "header.payload2.signature2", got.Raw)

	require.NoError(t, s.Credentials().Delete(ctx))
	_, err = s.Credentials().Get(ctx)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestCredentialWithoutExpiry(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "realtime.db")
	s := newTestStore(t, path)
	ctx := context.Background()

	cred := domain.Credential{
		Raw:      "opaque-token",
		IssuedAt: time.Now().Truncate(time.Second).UTC(),
	}
	require.NoError(t, s.Credentials().Put(ctx, cred))

	got, err := s.Credentials().Get(ctx)
	require.NoError(t, err)
	require.False(t, got.ExpiryKnown())
}

func TestCredentialSurvivesReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "realtime.db")
	ctx := context.Background()

	issued := time.Now().Truncate(time.Second).UTC()
	cred := domain.Credential{Raw: "tok", IssuedAt: issued, ExpiresAt: issued.Add(time.Hour)}

	s := newTestStore(t, path)
	require.NoError(t, s.Credentials().Put(ctx, cred))
	require.NoError(t, s.Close())

	// A fresh process instance sees the persisted credential on cold start.
	s2 := newTestStore(t, path)
	got, err := s2.Credentials().Get(ctx)
	require.NoError(t, err)
	require.Equal(t, cred, got)
}

func outboxMessage(t *testing.T, kind string) domain.OutboundMessage {
	t.Helper()
	payload, err := json.Marshal(map[string]string{"kind": kind})
	require.NoError(t, err)
	return domain.OutboundMessage{
		ID:         idx.New(),
		Frame:      domain.Frame{Type: "client_event", Topic: "conversation:abc", Payload: payload},
		EnqueuedAt: time.Now().Truncate(time.Second).UTC(),
	}
}

func TestOutboxFIFO(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "realtime.db")
	s := newTestStore(t, path)
	ctx := context.Background()

	m1 := outboxMessage(t, "m1")
	m2 := outboxMessage(t, "m2")
	m3 := outboxMessage(t, "m3")
	for _, m := range []domain.OutboundMessage{m1, m2, m3} {
		require.NoError(t, s.Outbox().Append(ctx, m))
	}

	msgs, err := s.Outbox().List(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, []idx.ID{m1.ID, m2.ID, m3.ID}, []idx.ID{msgs[0].ID, msgs[1].ID, msgs[2].ID})
	require.Equal(t, m1.Frame, msgs[0].Frame)

	require.NoError(t, s.Outbox().Delete(ctx, m1.ID))
	msgs, err = s.Outbox().List(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, m2.ID, msgs[0].ID)

	n, err := s.Outbox().Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestOutboxTrimKeepsNewest(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "realtime.db")
	s := newTestStore(t, path)
	ctx := context.Background()

	var ids []idx.ID
	for i := 0; i < 5; i++ {
		m := outboxMessage(t, "event")
		ids = append(ids, m.ID)
		require.NoError(t, s.Outbox().Append(ctx, m))
	}

	require.NoError(t, s.Outbox().TrimToNewest(ctx, 2))

	msgs, err := s.Outbox().List(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, ids[3], msgs[0].ID)
	require.Equal(t, ids[4], msgs[1].ID)
}

func TestMigrationsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "realtime.db")
	s := newTestStore(t, path)
	require.NoError(t, s.ApplyMigrations())
	require.NoError(t, s.Ping(context.Background()))
}
