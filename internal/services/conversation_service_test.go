package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"meshly/internal/domain/conversation"
	"meshly/internal/events"
	"meshly/internal/proxy"
	"meshly/internal/repository"
	meshly_errors "meshly/pkg/errors"

	"github.com/google/uuid"
)

type conversationFixture struct {
	svc        *ConversationService
	convRepo   *repository.MemoryConversationRepository
	outboxRepo *repository.MemoryOutboxRepository
	bus        *stubEventBus
}

func newConversationFixture() *conversationFixture {
	convRepo := repository.NewMemoryConversationRepository()
	outboxRepo := repository.NewMemoryOutboxRepository()
	bus := &stubEventBus{}
	access := proxy.NewAccessControl(convRepo)
	return &conversationFixture{
		svc:        NewConversationService(nil, convRepo, outboxRepo, access, bus),
		convRepo:   convRepo,
		outboxRepo: outboxRepo,
		bus:        bus,
	}
}

func TestCreateDirectConversationDeduplicates(t *testing.T) {
	ctx := context.Background()
	f := newConversationFixture()
	alice := uuid.New()
	bob := uuid.New()

	first, err := f.svc.Create(ctx, CreateConversationInput{
		CreatorID:      alice,
		ParticipantIDs: []uuid.UUID{bob},
	})
	if err != nil {
		t.Fatalf("create direct: %v", err)
	}
	if len(first.Participants) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(first.Participants))
	}
	for _, p := range first.Participants {
		if p.UserID == alice && p.Role != conversation.RoleOwner {
			t.Errorf("creator role = %s, want %s", p.Role, conversation.RoleOwner)
		}
		if p.UserID == bob && p.Role != conversation.RoleMember {
			t.Errorf("invitee role = %s, want %s", p.Role, conversation.RoleMember)
		}
	}

	second, err := f.svc.Create(ctx, CreateConversationInput{
		CreatorID:      alice,
		ParticipantIDs: []uuid.UUID{bob},
	})
	if err != nil {
		t.Fatalf("create duplicate direct: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected dedup to return existing conversation, got %s and %s", first.ID, second.ID)
	}

	// Dedup works from either end.
	third, err := f.svc.Create(ctx, CreateConversationInput{
		CreatorID:      bob,
		ParticipantIDs: []uuid.UUID{alice},
	})
	if err != nil {
		t.Fatalf("create reversed direct: %v", err)
	}
	if third.ID != first.ID {
		t.Errorf("expected reversed create to dedup, got %s", third.ID)
	}

	if got := len(f.outboxRepo.Events()); got != 1 {
		t.Errorf("expected a single conversation.created outbox row, got %d", got)
	}
}

func TestCreateConversationValidation(t *testing.T) {
	ctx := context.Background()
	f := newConversationFixture()
	alice := uuid.New()
	bob := uuid.New()

	cases := map[string]CreateConversationInput{
		"missing creator":       {ParticipantIDs: []uuid.UUID{bob}},
		"direct with name":      {CreatorID: alice, Name: "nope", ParticipantIDs: []uuid.UUID{bob}},
		"direct with three":     {CreatorID: alice, ParticipantIDs: []uuid.UUID{bob, uuid.New()}},
		"direct alone":          {CreatorID: alice},
		"group with only self":  {CreatorID: alice, IsGroup: true, Name: "team"},
		"nil participant":       {CreatorID: alice, ParticipantIDs: []uuid.UUID{uuid.Nil}},
	}
	for name, in := range cases {
		if _, err := f.svc.Create(ctx, in); !errors.Is(err, meshly_errors.ErrInvalidInput) {
			t.Errorf("%s: expected ErrInvalidInput, got %v", name, err)
		}
	}
}

func TestCreateGroupConversationAlwaysNew(t *testing.T) {
	ctx := context.Background()
	f := newConversationFixture()
	alice := uuid.New()
	bob := uuid.New()
	carol := uuid.New()

	in := CreateConversationInput{
		CreatorID:      alice,
		IsGroup:        true,
		Name:           "lunch crew",
		ParticipantIDs: []uuid.UUID{bob, carol},
	}
	first, err := f.svc.Create(ctx, in)
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	second, err := f.svc.Create(ctx, in)
	if err != nil {
		t.Fatalf("create second group: %v", err)
	}
	if first.ID == second.ID {
		t.Error("expected group creation to always make a new conversation")
	}
	if !first.IsGroup || first.Name.String != "lunch crew" {
		t.Errorf("unexpected group fields: %+v", first)
	}
	if len(first.Participants) != 3 {
		t.Errorf("expected 3 participants, got %d", len(first.Participants))
	}
}

func TestArchiveConversation(t *testing.T) {
	ctx := context.Background()
	f := newConversationFixture()
	alice := uuid.New()
	bob := uuid.New()

	conv, err := f.svc.Create(ctx, CreateConversationInput{
		CreatorID:      alice,
		IsGroup:        true,
		Name:           "ops",
		ParticipantIDs: []uuid.UUID{bob},
	})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}

	if err := f.svc.Archive(ctx, conv.ID, uuid.New()); !errors.Is(err, meshly_errors.ErrForbidden) {
		t.Errorf("outsider archive: expected ErrForbidden, got %v", err)
	}

	if err := f.svc.Archive(ctx, conv.ID, bob); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if err := f.svc.Archive(ctx, conv.ID, bob); err != nil {
		t.Fatalf("archive again: %v", err)
	}

	got, err := f.convRepo.GetByID(ctx, conv.ID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if !got.Archived {
		t.Error("expected conversation to be archived")
	}

	listed, _, err := f.svc.List(ctx, alice, 1, 50)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 0 {
		t.Errorf("expected archived conversation to drop out of the list, got %d", len(listed))
	}
}

func TestMuteAndUnmute(t *testing.T) {
	ctx := context.Background()
	f := newConversationFixture()
	alice := uuid.New()
	bob := uuid.New()

	conv, err := f.svc.Create(ctx, CreateConversationInput{
		CreatorID:      alice,
		ParticipantIDs: []uuid.UUID{bob},
	})
	if err != nil {
		t.Fatalf("create direct: %v", err)
	}

	if err := f.svc.Mute(ctx, conv.ID, bob, time.Now().Add(-time.Minute)); !errors.Is(err, meshly_errors.ErrInvalidInput) {
		t.Errorf("past mute: expected ErrInvalidInput, got %v", err)
	}

	outsider := uuid.New()
	if err := f.svc.Mute(ctx, conv.ID, outsider, time.Now().Add(time.Hour)); !errors.Is(err, meshly_errors.ErrForbidden) {
		t.Errorf("outsider mute: expected ErrForbidden, got %v", err)
	}
	if err := f.svc.Unmute(ctx, conv.ID, outsider); !errors.Is(err, meshly_errors.ErrForbidden) {
		t.Errorf("outsider unmute: expected ErrForbidden, got %v", err)
	}

	until := time.Now().Add(time.Hour)
	if err := f.svc.Mute(ctx, conv.ID, bob, until); err != nil {
		t.Fatalf("mute: %v", err)
	}

	p, err := f.convRepo.GetParticipant(ctx, conv.ID, bob)
	if err != nil {
		t.Fatalf("get participant: %v", err)
	}
	if !p.MutedUntil.Valid || !p.MutedUntil.Time.Equal(until) {
		t.Errorf("expected muted_until %v, got %+v", until, p.MutedUntil)
	}

	other, err := f.convRepo.GetParticipant(ctx, conv.ID, alice)
	if err != nil {
		t.Fatalf("get other participant: %v", err)
	}
	if other.MutedUntil.Valid {
		t.Error("mute must not affect other participants")
	}

	if err := f.svc.Unmute(ctx, conv.ID, bob); err != nil {
		t.Fatalf("unmute: %v", err)
	}
	p, _ = f.convRepo.GetParticipant(ctx, conv.ID, bob)
	if p.MutedUntil.Valid {
		t.Error("expected mute to be cleared")
	}
}

func TestCreateDirectWritesThroughGivenRepositories(t *testing.T) {
	ctx := context.Background()
	f := newConversationFixture()
	alice := uuid.New()
	bob := uuid.New()

	// Alternate repositories stand in for tx-bound ones. The new conversation,
	// its participants and the outbox row must land there, not in the
	// service's own repos.
	altConvRepo := repository.NewMemoryConversationRepository()
	altOutboxRepo := repository.NewMemoryOutboxRepository()

	conv, err := f.svc.createDirect(ctx, CreateConversationInput{
		CreatorID:      alice,
		ParticipantIDs: []uuid.UUID{bob},
	}, []uuid.UUID{alice, bob}, altConvRepo, altOutboxRepo)
	if err != nil {
		t.Fatalf("create direct: %v", err)
	}

	stored, err := altConvRepo.GetByID(ctx, conv.ID)
	if err != nil {
		t.Fatalf("conversation missing from given repo: %v", err)
	}
	if len(stored.Participants) != 2 {
		t.Errorf("expected 2 participants in given repo, got %d", len(stored.Participants))
	}
	if n := len(altOutboxRepo.Events()); n != 1 {
		t.Errorf("expected 1 outbox row in given repo, got %d", n)
	}

	if _, err := f.convRepo.GetByID(ctx, conv.ID); !errors.Is(err, meshly_errors.ErrNotFound) {
		t.Errorf("service conversation repo must stay untouched, got %v", err)
	}
	if n := len(f.outboxRepo.Events()); n != 0 {
		t.Errorf("service outbox repo must stay untouched, got %d rows", n)
	}
}

func TestTypingLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newConversationFixture()
	alice := uuid.New()
	bob := uuid.New()

	conv, err := f.svc.Create(ctx, CreateConversationInput{
		CreatorID:      alice,
		ParticipantIDs: []uuid.UUID{bob},
	})
	if err != nil {
		t.Fatalf("create direct: %v", err)
	}
	outboxBefore := len(f.outboxRepo.Events())

	if err := f.svc.StartTyping(ctx, conv.ID, uuid.New()); !errors.Is(err, meshly_errors.ErrForbidden) {
		t.Errorf("outsider typing: expected ErrForbidden, got %v", err)
	}

	if err := f.svc.StartTyping(ctx, conv.ID, bob); err != nil {
		t.Fatalf("start typing: %v", err)
	}

	states, err := f.svc.TypingUsers(ctx, conv.ID, alice)
	if err != nil {
		t.Fatalf("typing users: %v", err)
	}
	if len(states) != 1 || states[0].UserID != bob {
		t.Fatalf("expected bob typing, got %+v", states)
	}

	if err := f.svc.StopTyping(ctx, conv.ID, bob); err != nil {
		t.Fatalf("stop typing: %v", err)
	}
	states, _ = f.svc.TypingUsers(ctx, conv.ID, alice)
	if len(states) != 0 {
		t.Errorf("expected no typing states after stop, got %d", len(states))
	}

	// Typing is ephemeral: published straight to the bus, never queued.
	types := f.bus.publishedTypes()
	if len(types) != 2 || types[0] != events.EventTypingStarted || types[1] != events.EventTypingStopped {
		t.Errorf("unexpected published events: %v", types)
	}
	if got := len(f.outboxRepo.Events()); got != outboxBefore {
		t.Errorf("typing must not write outbox rows, got %d extra", got-outboxBefore)
	}
}
