package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/roa-designer/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "data", "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestUserRoundTrip(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	got, err := repo.GetUser(ctx, "anon_missing")
	if err != nil || got != nil {
		t.Fatalf("expected nil user, got %+v, %v", got, err)
	}

	user := &domain.User{UserID: "anon_1", Username: "guest", LastSeenAt: now, CreatedAt: now, UpdatedAt: now}
	if err := repo.UpsertUser(ctx, user); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}

	later := now.Add(time.Hour)
	if err := repo.UpdateLastSeen(ctx, "anon_1", later); err != nil {
		t.Fatalf("UpdateLastSeen failed: %v", err)
	}

	got, err = repo.GetUser(ctx, "anon_1")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got.Username != "guest" || !got.LastSeenAt.Equal(later) {
		t.Fatalf("unexpected user %+v", got)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()

	sess := domain.NewSession("anon_1", "tab-1")
	sess.Design.SetTemplate("flyer1")
	sess.Design.UpsertModifications([]domain.Modification{domain.TextModification("title", "Sale")})
	sess.Transcript.Append(domain.RoleUser, "make a flyer", false)
	sess.Transcript.Append(domain.RoleAssistant, "Here!\n\n![Generated Image](http://img/x.png)", true)

	rec, err := sess.Record()
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := repo.UpsertSession(ctx, rec); err != nil {
		t.Fatalf("UpsertSession failed: %v", err)
	}

	stored, err := repo.GetSession(ctx, "anon_1", "tab-1")
	if err != nil || stored == nil {
		t.Fatalf("GetSession failed: %+v, %v", stored, err)
	}
	restored, err := domain.SessionFromRecord(stored)
	if err != nil {
		t.Fatalf("SessionFromRecord failed: %v", err)
	}
	if restored.Design.TemplateID != "flyer1" || len(restored.Design.Modifications) != 1 {
		t.Fatalf("unexpected design %+v", restored.Design)
	}
	if restored.Transcript.Len() != 3 || !restored.Transcript.Entries[2].CarriesImage {
		t.Fatalf("unexpected transcript %+v", restored.Transcript)
	}

	other, err := repo.GetSession(ctx, "anon_1", "tab-2")
	if err != nil || other != nil {
		t.Fatalf("sessions must be keyed per tab, got %+v, %v", other, err)
	}
}

func TestDeleteSession(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()

	rec, _ := domain.NewSession("anon_1", "tab-1").Record()
	if err := repo.UpsertSession(ctx, rec); err != nil {
		t.Fatalf("UpsertSession failed: %v", err)
	}
	if err := repo.DeleteSession(ctx, "anon_1", "tab-1"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	got, err := repo.GetSession(ctx, "anon_1", "tab-1")
	if err != nil || got != nil {
		t.Fatalf("expected session gone, got %+v, %v", got, err)
	}
}

func TestCleanupExpiredSessions(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()

	rec, _ := domain.NewSession("anon_1", "tab-1").Record()
	if err := repo.UpsertSession(ctx, rec); err != nil {
		t.Fatalf("UpsertSession failed: %v", err)
	}

	n, err := repo.CleanupExpiredSessions(ctx, time.Hour)
	if err != nil || n != 0 {
		t.Fatalf("fresh session must survive, removed %d, %v", n, err)
	}

	n, err = repo.CleanupExpiredSessions(ctx, -time.Minute)
	if err != nil || n != 1 {
		t.Fatalf("expected one expired session removed, got %d, %v", n, err)
	}
}

func TestWithBusyRetry(t *testing.T) {
	t.Parallel()

	calls := 0
	err := withBusyRetry(context.Background(), "op", func() error {
		calls++
		if calls < 2 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("expected success on second attempt, got calls=%d err=%v", calls, err)
	}

	calls = 0
	err = withBusyRetry(context.Background(), "op", func() error {
		calls++
		return errors.New("constraint failed")
	})
	if err == nil || calls != 1 {
		t.Fatalf("non-conflict errors must not retry, got calls=%d err=%v", calls, err)
	}
}
