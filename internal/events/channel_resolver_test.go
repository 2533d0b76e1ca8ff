package events

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
)

func TestResolveChannelsConversationScoped(t *testing.T) {
	resolver := NewHybridChannelResolver()
	convID := uuid.New()
	want := fmt.Sprintf("channel:conversation:%s", convID)

	conversationEvents := []Event{
		&MessageNewEvent{BaseEvent: NewBaseEvent(EventMessageNew), ConversationID: convID},
		&MessageEditedEvent{BaseEvent: NewBaseEvent(EventMessageEdited), ConversationID: convID},
		&MessageDeletedEvent{BaseEvent: NewBaseEvent(EventMessageDeleted), ConversationID: convID},
		&MessageReadEvent{BaseEvent: NewBaseEvent(EventMessageRead), ConversationID: convID},
		&TypingEvent{BaseEvent: NewBaseEvent(EventTypingStarted), ConversationID: convID},
		&ConversationCreatedEvent{BaseEvent: NewBaseEvent(EventConversationCreated), ConversationID: convID},
		&ConversationArchivedEvent{BaseEvent: NewBaseEvent(EventConversationArchived), ConversationID: convID},
	}
	for _, evt := range conversationEvents {
		channels := resolver.ResolveChannels(evt)
		if len(channels) != 1 || channels[0] != want {
			t.Errorf("%s: expected [%s], got %v", evt.EventType(), want, channels)
		}
	}
}

func TestResolveChannelsUserScoped(t *testing.T) {
	resolver := NewHybridChannelResolver()
	userID := uuid.New()

	channels := resolver.ResolveChannels(&NotificationNewEvent{
		BaseEvent:      NewBaseEvent(EventNotificationNew),
		NotificationID: uuid.New(),
		UserID:         userID,
	})
	want := fmt.Sprintf("channel:user:%s", userID)
	if len(channels) != 1 || channels[0] != want {
		t.Errorf("expected [%s], got %v", want, channels)
	}
}

func TestResolveChannelsUnknownEvent(t *testing.T) {
	resolver := NewHybridChannelResolver()
	if channels := resolver.ResolveChannels(&BaseEvent{}); len(channels) != 0 {
		t.Errorf("expected no channels for unknown event, got %v", channels)
	}
}
