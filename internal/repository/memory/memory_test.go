package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/rundy/internal/models"
	"github.com/lalith-99/rundy/internal/realtime"
	"github.com/lalith-99/rundy/internal/repository"
	"go.uber.org/zap"
)

func newMatch(t *testing.T, s *Store, creator uuid.UUID, maxPlayers int) *models.Match {
	t.Helper()
	m, err := s.Matches().CreateWithCreator(context.Background(), models.NewMatch{
		Title:      "Pachanga",
		Location:   models.Location{Address: "Polideportivo"},
		Date:       time.Now().Add(24 * time.Hour),
		Sport:      models.SportFootball,
		MaxPlayers: maxPlayers,
		CreatorID:  creator,
	}, "Ana")
	if err != nil {
		t.Fatalf("create match: %v", err)
	}
	return m
}

func TestParticipantAdd(t *testing.T) {
	ctx := context.Background()
	s := New(nil, zap.NewNop())
	creator := uuid.New()
	m := newMatch(t, s, creator, 2)

	if m.CurrentPlayers != 1 {
		t.Fatalf("creator should count as a player, got %d", m.CurrentPlayers)
	}

	tests := []struct {
		name    string
		matchID uuid.UUID
		userID  uuid.UUID
		want    error
	}{
		{"creator again", m.ID, creator, repository.ErrDuplicate},
		{"unknown match", uuid.New(), uuid.New(), repository.ErrNotFound},
		{"free slot", m.ID, uuid.New(), nil},
		{"full", m.ID, uuid.New(), repository.ErrMatchFull},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Participants().Add(ctx, models.Participant{MatchID: tt.matchID, UserID: tt.userID})
			if !errors.Is(err, tt.want) {
				t.Fatalf("Add() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParticipantAddConcurrentLastSlot(t *testing.T) {
	ctx := context.Background()
	s := New(nil, zap.NewNop())
	m := newMatch(t, s, uuid.New(), 2)

	var wg sync.WaitGroup
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- s.Participants().Add(ctx, models.Participant{MatchID: m.ID, UserID: uuid.New()})
		}()
	}
	wg.Wait()
	close(results)

	joined := 0
	for err := range results {
		if err == nil {
			joined++
		} else if !errors.Is(err, repository.ErrMatchFull) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if joined != 1 {
		t.Fatalf("expected exactly one join to take the last slot, got %d", joined)
	}

	got, _ := s.Matches().GetByID(ctx, m.ID)
	if got.CurrentPlayers != got.MaxPlayers {
		t.Fatalf("current players = %d, want %d", got.CurrentPlayers, got.MaxPlayers)
	}
}

func TestMatchDeleteRemovesParticipants(t *testing.T) {
	ctx := context.Background()
	s := New(nil, zap.NewNop())
	m := newMatch(t, s, uuid.New(), 4)
	if err := s.Participants().Add(ctx, models.Participant{MatchID: m.ID, UserID: uuid.New()}); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := s.Matches().Delete(ctx, m.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	rows, err := s.Participants().ListByMatches(ctx, []uuid.UUID{m.ID})
	if err != nil {
		t.Fatalf("list participants: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no participants after delete, got %d", len(rows))
	}
	if err := s.Matches().Delete(ctx, m.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("second delete error = %v, want ErrNotFound", err)
	}
}

func TestParticipantRemove(t *testing.T) {
	ctx := context.Background()
	s := New(nil, zap.NewNop())
	m := newMatch(t, s, uuid.New(), 4)
	user := uuid.New()
	_ = s.Participants().Add(ctx, models.Participant{MatchID: m.ID, UserID: user})

	removed, err := s.Participants().Remove(ctx, m.ID, user)
	if err != nil || !removed {
		t.Fatalf("Remove() = %v, %v; want true, nil", removed, err)
	}
	removed, err = s.Participants().Remove(ctx, m.ID, user)
	if err != nil || removed {
		t.Fatalf("second Remove() = %v, %v; want false, nil", removed, err)
	}
}

func TestMessageCreatePublishesInsert(t *testing.T) {
	ctx := context.Background()
	hub := realtime.NewHub(8, zap.NewNop())
	defer hub.Close()
	s := New(hub, zap.NewNop())
	m := newMatch(t, s, uuid.New(), 4)

	sub, err := hub.Subscribe(ctx, "test", realtime.Filter{Table: realtime.TableMatchChatMessages, MatchID: m.ID})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	msg, err := s.Messages().Create(ctx, m.ID, m.CreatorID, "hola")
	if err != nil {
		t.Fatalf("create message: %v", err)
	}

	select {
	case evt := <-sub.Events():
		if evt.Type != realtime.EventInsert || evt.MatchID != m.ID {
			t.Fatalf("unexpected event %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("no insert event published")
	}

	if _, err := s.Messages().Create(ctx, m.ID, m.CreatorID, "   "); err == nil {
		t.Fatal("expected blank message to be rejected")
	}

	list, _ := s.Messages().ListByMatch(ctx, m.ID)
	if len(list) != 1 || list[0].ID != msg.ID {
		t.Fatalf("ListByMatch() = %+v", list)
	}
}

func TestUserEmailUnique(t *testing.T) {
	ctx := context.Background()
	s := New(nil, zap.NewNop())
	if _, err := s.Users().Create(ctx, "ana@example.com", "hash"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Users().Create(ctx, "ANA@example.com", "hash"); !errors.Is(err, repository.ErrDuplicate) {
		t.Fatalf("duplicate email error = %v, want ErrDuplicate", err)
	}
	u, err := s.Users().GetByEmail(ctx, "nobody@example.com")
	if err != nil || u != nil {
		t.Fatalf("GetByEmail(missing) = %v, %v; want nil, nil", u, err)
	}
}
