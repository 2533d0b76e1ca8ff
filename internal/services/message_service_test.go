package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"meshly/internal/domain/conversation"
	"meshly/internal/domain/message"
	"meshly/internal/events"
	"meshly/internal/proxy"
	"meshly/internal/repository"
	meshly_errors "meshly/pkg/errors"

	"github.com/google/uuid"
)

type messageFixture struct {
	svc        *MessageService
	convSvc    *ConversationService
	convRepo   *repository.MemoryConversationRepository
	msgRepo    *repository.MemoryMessageRepository
	outboxRepo *repository.MemoryOutboxRepository
}

func newMessageFixture() *messageFixture {
	convRepo := repository.NewMemoryConversationRepository()
	msgRepo := repository.NewMemoryMessageRepository()
	outboxRepo := repository.NewMemoryOutboxRepository()
	access := proxy.NewAccessControl(convRepo)
	return &messageFixture{
		svc:        NewMessageService(nil, msgRepo, convRepo, outboxRepo, access),
		convSvc:    NewConversationService(nil, convRepo, outboxRepo, access, nil),
		convRepo:   convRepo,
		msgRepo:    msgRepo,
		outboxRepo: outboxRepo,
	}
}

func (f *messageFixture) newGroup(t *testing.T, creator uuid.UUID, others ...uuid.UUID) conversation.Conversation {
	t.Helper()
	conv, err := f.convSvc.Create(context.Background(), CreateConversationInput{
		CreatorID:      creator,
		IsGroup:        true,
		Name:           "room",
		ParticipantIDs: others,
	})
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	return conv
}

func (f *messageFixture) send(t *testing.T, convID, sender uuid.UUID, content string) message.Message {
	t.Helper()
	msg, err := f.svc.Send(context.Background(), SendMessageInput{
		ConversationID: convID,
		SenderID:       sender,
		Type:           message.TypeText,
		Content:        content,
	})
	if err != nil {
		t.Fatalf("send %q: %v", content, err)
	}
	return msg
}

func (f *messageFixture) outboxTypes() []string {
	var out []string
	for _, e := range f.outboxRepo.Events() {
		out = append(out, e.EventType)
	}
	return out
}

func manyAttachments(n int) []AttachmentInput {
	out := make([]AttachmentInput, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, AttachmentInput{Kind: "file", URL: fmt.Sprintf("https://cdn.example.com/f%d", i)})
	}
	return out
}

func countOutboxType(types []string, want events.EventType) int {
	n := 0
	for _, t := range types {
		if t == string(want) {
			n++
		}
	}
	return n
}

func TestSendAssignsSequentialSeqs(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture()
	alice := uuid.New()
	bob := uuid.New()
	conv := f.newGroup(t, alice, bob)

	var last message.Message
	for i, content := range []string{"one", "two", "three"} {
		msg := f.send(t, conv.ID, alice, content)
		if msg.Seq != int64(i+1) {
			t.Errorf("message %q seq = %d, want %d", content, msg.Seq, i+1)
		}
		last = msg
	}

	got, err := f.convRepo.GetByID(ctx, conv.ID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if got.LastSeq != 3 {
		t.Errorf("conversation last_seq = %d, want 3", got.LastSeq)
	}
	if !got.LastMessageID.Valid || got.LastMessageID.UUID != last.ID {
		t.Errorf("last_message_id not pointing at newest message")
	}

	if n := countOutboxType(f.outboxTypes(), events.EventMessageNew); n != 3 {
		t.Errorf("expected 3 message.new outbox rows, got %d", n)
	}
}

func TestSendValidation(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture()
	alice := uuid.New()
	bob := uuid.New()
	conv := f.newGroup(t, alice, bob)

	_, err := f.svc.Send(ctx, SendMessageInput{
		ConversationID: conv.ID,
		SenderID:       uuid.New(),
		Type:           message.TypeText,
		Content:        "hi",
	})
	if !errors.Is(err, meshly_errors.ErrForbidden) {
		t.Errorf("outsider send: expected ErrForbidden, got %v", err)
	}

	cases := map[string]SendMessageInput{
		"unknown type": {ConversationID: conv.ID, SenderID: alice, Type: "SMOKE", Content: "hi"},
		"empty body":   {ConversationID: conv.ID, SenderID: alice, Type: message.TypeText},
		"bad attachment": {ConversationID: conv.ID, SenderID: alice, Type: message.TypeImage,
			Attachments: []AttachmentInput{{Kind: "image"}}},
		"too many attachments": {ConversationID: conv.ID, SenderID: alice, Type: message.TypeFile,
			Attachments: manyAttachments(maxAttachments + 1)},
	}
	for name, in := range cases {
		if _, err := f.svc.Send(ctx, in); !errors.Is(err, meshly_errors.ErrInvalidInput) {
			t.Errorf("%s: expected ErrInvalidInput, got %v", name, err)
		}
	}

	_, err = f.svc.Send(ctx, SendMessageInput{
		ConversationID: conv.ID,
		SenderID:       alice,
		Type:           message.TypeText,
		Content:        strings.Repeat("x", maxContentLength+1),
	})
	if !errors.Is(err, meshly_errors.ErrTooLarge) {
		t.Errorf("oversized content: expected ErrTooLarge, got %v", err)
	}
}

func TestSendWithAttachments(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture()
	alice := uuid.New()
	conv := f.newGroup(t, alice, uuid.New())

	msg, err := f.svc.Send(ctx, SendMessageInput{
		ConversationID: conv.ID,
		SenderID:       alice,
		Type:           message.TypeImage,
		Attachments: []AttachmentInput{
			{Kind: "image", URL: "https://cdn.example.com/a.png", Name: "a.png", Size: 2048},
		},
	})
	if err != nil {
		t.Fatalf("send with attachment: %v", err)
	}
	if len(msg.Attachments) != 1 {
		t.Fatalf("expected 1 attachment on message, got %d", len(msg.Attachments))
	}

	stored, err := f.msgRepo.GetMessageAttachments(ctx, msg.ID)
	if err != nil {
		t.Fatalf("get attachments: %v", err)
	}
	if len(stored) != 1 || stored[0].URL != "https://cdn.example.com/a.png" {
		t.Errorf("unexpected stored attachments: %+v", stored)
	}
}

func TestFetchPageOrdersOldestFirstAndMarksRead(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture()
	alice := uuid.New()
	bob := uuid.New()
	conv := f.newGroup(t, alice, bob)

	for _, content := range []string{"first", "second", "third"} {
		f.send(t, conv.ID, alice, content)
	}

	page, total, err := f.svc.FetchPage(ctx, conv.ID, bob, 1, 50)
	if err != nil {
		t.Fatalf("fetch page: %v", err)
	}
	if total != 3 || len(page) != 3 {
		t.Fatalf("expected 3 messages, got len=%d total=%d", len(page), total)
	}
	for i, msg := range page {
		if msg.Seq != int64(i+1) {
			t.Errorf("page[%d].Seq = %d, want %d", i, msg.Seq, i+1)
		}
	}

	unread, err := f.msgRepo.GetUnreadMessageIDs(ctx, conv.ID, bob)
	if err != nil {
		t.Fatalf("get unread: %v", err)
	}
	if len(unread) != 0 {
		t.Errorf("expected fetch to mark everything read, %d still unread", len(unread))
	}

	receipts, err := f.msgRepo.GetMessageReceipts(ctx, page[0].ID)
	if err != nil {
		t.Fatalf("get receipts: %v", err)
	}
	if len(receipts) != 1 || receipts[0].UserID != bob || !receipts[0].ReadAt.Valid {
		t.Errorf("expected read receipt for bob, got %+v", receipts)
	}

	// Re-fetching and sender fetching add no further read events.
	if _, _, err := f.svc.FetchPage(ctx, conv.ID, bob, 1, 50); err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if _, _, err := f.svc.FetchPage(ctx, conv.ID, alice, 1, 50); err != nil {
		t.Fatalf("sender fetch: %v", err)
	}
	if n := countOutboxType(f.outboxTypes(), events.EventMessageRead); n != 1 {
		t.Errorf("expected one message.read outbox row, got %d", n)
	}

	if _, _, err := f.svc.FetchPage(ctx, conv.ID, uuid.New(), 1, 50); !errors.Is(err, meshly_errors.ErrForbidden) {
		t.Errorf("outsider fetch: expected ErrForbidden, got %v", err)
	}
}

func TestFetchPagePagination(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture()
	alice := uuid.New()
	conv := f.newGroup(t, alice, uuid.New())

	for i := 0; i < 5; i++ {
		f.send(t, conv.ID, alice, strings.Repeat("m", i+1))
	}

	// Page 1 holds the newest two, oldest first within the page.
	page, total, err := f.svc.FetchPage(ctx, conv.ID, alice, 1, 2)
	if err != nil {
		t.Fatalf("fetch page 1: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(page) != 2 || page[0].Seq != 4 || page[1].Seq != 5 {
		t.Errorf("unexpected page 1 seqs: %+v", seqsOf(page))
	}

	page, _, err = f.svc.FetchPage(ctx, conv.ID, alice, 3, 2)
	if err != nil {
		t.Fatalf("fetch page 3: %v", err)
	}
	if len(page) != 1 || page[0].Seq != 1 {
		t.Errorf("unexpected page 3 seqs: %+v", seqsOf(page))
	}
}

func seqsOf(msgs []message.Message) []int64 {
	out := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Seq)
	}
	return out
}

func TestEditMessage(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture()
	alice := uuid.New()
	bob := uuid.New()
	conv := f.newGroup(t, alice, bob)
	msg := f.send(t, conv.ID, alice, "draft")

	if _, err := f.svc.Edit(ctx, msg.ID, bob, "hijack"); !errors.Is(err, meshly_errors.ErrForbidden) {
		t.Errorf("non-sender edit: expected ErrForbidden, got %v", err)
	}
	if _, err := f.svc.Edit(ctx, msg.ID, alice, ""); !errors.Is(err, meshly_errors.ErrInvalidInput) {
		t.Errorf("empty edit: expected ErrInvalidInput, got %v", err)
	}

	edited, err := f.svc.Edit(ctx, msg.ID, alice, "final")
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if edited.Content != "final" || !edited.EditedAt.Valid {
		t.Errorf("unexpected edited message: %+v", edited)
	}

	if err := f.svc.Delete(ctx, msg.ID, alice); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.svc.Edit(ctx, msg.ID, alice, "too late"); !errors.Is(err, meshly_errors.ErrConflict) {
		t.Errorf("edit after delete: expected ErrConflict, got %v", err)
	}
}

func TestDeleteMessageTombstones(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture()
	alice := uuid.New()
	bob := uuid.New()
	conv := f.newGroup(t, alice, bob)
	msg := f.send(t, conv.ID, alice, "oops")

	if err := f.svc.Delete(ctx, msg.ID, bob); !errors.Is(err, meshly_errors.ErrForbidden) {
		t.Errorf("non-sender delete: expected ErrForbidden, got %v", err)
	}

	if err := f.svc.Delete(ctx, msg.ID, alice); err != nil {
		t.Fatalf("delete: %v", err)
	}

	got, err := f.svc.GetByID(ctx, msg.ID, bob)
	if err != nil {
		t.Fatalf("get deleted message: %v", err)
	}
	if !got.Deleted || got.Content != message.DeletedPlaceholder {
		t.Errorf("expected tombstone, got %+v", got)
	}
	if got.Seq != msg.Seq {
		t.Errorf("delete must not change seq: %d != %d", got.Seq, msg.Seq)
	}

	if err := f.svc.Delete(ctx, msg.ID, alice); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
	if n := countOutboxType(f.outboxTypes(), events.EventMessageDeleted); n != 1 {
		t.Errorf("expected one message.deleted outbox row, got %d", n)
	}
}

func TestSearchMessages(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture()
	alice := uuid.New()
	bob := uuid.New()
	conv := f.newGroup(t, alice, bob)

	f.send(t, conv.ID, alice, "Alpha release notes")
	doomed := f.send(t, conv.ID, alice, "beta feedback")
	if err := f.svc.Delete(ctx, doomed.ID, alice); err != nil {
		t.Fatalf("delete: %v", err)
	}

	results, total, err := f.svc.Search(ctx, bob, "alpha", uuid.NullUUID{}, 1, 50)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if total != 1 || len(results) != 1 || !strings.Contains(results[0].Content, "Alpha") {
		t.Errorf("case-insensitive search failed: total=%d results=%+v", total, results)
	}

	if _, total, err := f.svc.Search(ctx, bob, "beta", uuid.NullUUID{}, 1, 50); err != nil || total != 0 {
		t.Errorf("deleted messages must not match: total=%d err=%v", total, err)
	}

	if results, _, err := f.svc.Search(ctx, uuid.New(), "alpha", uuid.NullUUID{}, 1, 50); err != nil || len(results) != 0 {
		t.Errorf("search without conversations should be empty: %v %v", results, err)
	}

	if _, _, err := f.svc.Search(ctx, bob, "", uuid.NullUUID{}, 1, 50); !errors.Is(err, meshly_errors.ErrInvalidInput) {
		t.Errorf("empty pattern: expected ErrInvalidInput, got %v", err)
	}

	scoped := uuid.NullUUID{UUID: conv.ID, Valid: true}
	if _, total, err := f.svc.Search(ctx, bob, "alpha", scoped, 1, 50); err != nil || total != 1 {
		t.Errorf("scoped search: total=%d err=%v", total, err)
	}
	if _, _, err := f.svc.Search(ctx, uuid.New(), "alpha", scoped, 1, 50); !errors.Is(err, meshly_errors.ErrForbidden) {
		t.Errorf("scoped search by outsider: expected ErrForbidden, got %v", err)
	}
}

func TestMarkDeliveredAndReceipts(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture()
	alice := uuid.New()
	bob := uuid.New()
	conv := f.newGroup(t, alice, bob)
	msg := f.send(t, conv.ID, alice, "ping")

	if err := f.svc.MarkDelivered(ctx, msg.ID, uuid.New()); !errors.Is(err, meshly_errors.ErrForbidden) {
		t.Errorf("outsider delivery: expected ErrForbidden, got %v", err)
	}

	if err := f.svc.MarkDelivered(ctx, msg.ID, bob); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}

	receipts, err := f.svc.Receipts(ctx, msg.ID, alice)
	if err != nil {
		t.Fatalf("receipts: %v", err)
	}
	if len(receipts) != 1 || receipts[0].UserID != bob || !receipts[0].DeliveredAt.Valid {
		t.Errorf("expected delivered receipt for bob, got %+v", receipts)
	}

	if _, err := f.svc.Receipts(ctx, msg.ID, uuid.New()); !errors.Is(err, meshly_errors.ErrForbidden) {
		t.Errorf("outsider receipts: expected ErrForbidden, got %v", err)
	}
}

func TestSendDirectWritesThroughGivenRepositories(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture()
	alice := uuid.New()
	conv := f.newGroup(t, alice, uuid.New())

	// A second set of repositories stands in for tx-bound ones. Everything
	// sendDirect writes must land there, not in the service's own repos.
	altConvRepo := repository.NewMemoryConversationRepository()
	altMsgRepo := repository.NewMemoryMessageRepository()
	altOutboxRepo := repository.NewMemoryOutboxRepository()
	altConv := conv
	altConv.Participants = nil
	if err := altConvRepo.Create(ctx, &altConv); err != nil {
		t.Fatalf("seed alternate conversation: %v", err)
	}

	msg, err := f.svc.sendDirect(ctx, SendMessageInput{
		ConversationID: conv.ID,
		SenderID:       alice,
		Type:           message.TypeText,
		Content:        "routed",
	}, altMsgRepo, altConvRepo, altOutboxRepo)
	if err != nil {
		t.Fatalf("send direct: %v", err)
	}

	if _, err := altMsgRepo.GetByID(ctx, msg.ID); err != nil {
		t.Errorf("message missing from given repo: %v", err)
	}
	if n := len(altOutboxRepo.Events()); n != 1 {
		t.Errorf("expected 1 outbox row in given repo, got %d", n)
	}

	if _, err := f.msgRepo.GetByID(ctx, msg.ID); !errors.Is(err, meshly_errors.ErrNotFound) {
		t.Errorf("service message repo must stay untouched, got %v", err)
	}
	if n := countOutboxType(f.outboxTypes(), events.EventMessageNew); n != 0 {
		t.Errorf("service outbox repo must stay untouched, got %d message.new rows", n)
	}
	got, err := f.convRepo.GetByID(ctx, conv.ID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if got.LastSeq != 0 {
		t.Errorf("service conversation repo must stay untouched, last_seq = %d", got.LastSeq)
	}
}

func TestConcurrentSendsAssignUniqueSeqs(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture()
	alice := uuid.New()
	conv := f.newGroup(t, alice, uuid.New())

	const senders = 20
	seqs := make(chan int64, senders)
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg, err := f.svc.Send(ctx, SendMessageInput{
				ConversationID: conv.ID,
				SenderID:       alice,
				Type:           message.TypeText,
				Content:        fmt.Sprintf("burst %d", i),
			})
			if err != nil {
				t.Errorf("concurrent send %d: %v", i, err)
				return
			}
			seqs <- msg.Seq
		}(i)
	}
	wg.Wait()
	close(seqs)

	seen := map[int64]bool{}
	for seq := range seqs {
		if seq < 1 || seq > senders {
			t.Errorf("seq %d out of range 1..%d", seq, senders)
		}
		if seen[seq] {
			t.Errorf("seq %d assigned twice", seq)
		}
		seen[seq] = true
	}
	if len(seen) != senders {
		t.Errorf("expected %d distinct seqs, got %d", senders, len(seen))
	}
}

func TestSendAllowsDanglingReply(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture()
	alice := uuid.New()
	conv := f.newGroup(t, alice, uuid.New())

	msg, err := f.svc.Send(ctx, SendMessageInput{
		ConversationID: conv.ID,
		SenderID:       alice,
		Type:           message.TypeText,
		Content:        "re: something long gone",
		ReplyToMsgID:   uuid.NullUUID{UUID: uuid.New(), Valid: true},
	})
	if err != nil {
		t.Fatalf("send with dangling reply: %v", err)
	}
	if !msg.ReplyToMsgID.Valid {
		t.Error("expected reply reference to be kept")
	}
}
