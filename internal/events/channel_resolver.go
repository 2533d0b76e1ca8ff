package events

import (
	"fmt"
)

// ChannelResolver determines which Redis channels to publish to
type ChannelResolver interface {
	ResolveChannels(event Event) []string
}

// HybridChannelResolver routes conversation-scoped events to the
// conversation channel and user-scoped events to the user channel.
type HybridChannelResolver struct{}

func NewHybridChannelResolver() *HybridChannelResolver {
	return &HybridChannelResolver{}
}

func (r *HybridChannelResolver) ResolveChannels(event Event) []string {
	var channels []string

	switch e := event.(type) {
	case *MessageNewEvent:
		channels = append(channels, fmt.Sprintf("channel:conversation:%s", e.ConversationID))
	case *MessageEditedEvent:
		channels = append(channels, fmt.Sprintf("channel:conversation:%s", e.ConversationID))
	case *MessageDeletedEvent:
		channels = append(channels, fmt.Sprintf("channel:conversation:%s", e.ConversationID))
	case *MessageReadEvent:
		channels = append(channels, fmt.Sprintf("channel:conversation:%s", e.ConversationID))
	case *TypingEvent:
		channels = append(channels, fmt.Sprintf("channel:conversation:%s", e.ConversationID))
	case *ConversationCreatedEvent:
		channels = append(channels, fmt.Sprintf("channel:conversation:%s", e.ConversationID))
	case *ConversationArchivedEvent:
		channels = append(channels, fmt.Sprintf("channel:conversation:%s", e.ConversationID))
	case *NotificationNewEvent:
		channels = append(channels, fmt.Sprintf("channel:user:%s", e.UserID))
	}

	return channels
}
