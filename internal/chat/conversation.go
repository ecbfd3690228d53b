// Package chat implements two-party messaging on top of the tree store,
// using the inbox conventions the platform's clients already speak: a
// directional conversation key per send direction, one node per message
// keyed by its write timestamp, and lazily initialized unread counters.
package chat

import (
	"sort"
	"strconv"

	"counselhub/api/internal/treestore"
)

const (
	inboxesPath = "University Data/Inboxes"

	// countsSegment is a reserved child under Inboxes; it can never be
	// decoded as a conversation, so message readers must skip it.
	countsSegment = "Counts"
)

type Message struct {
	ID            string `json:"id"`
	SenderName    string `json:"senderName"`
	RecipientName string `json:"recipientName"`
	Content       string `json:"content"`
	Timestamp     int64  `json:"timestamp"`
}

// ChatID derives the storage key for one direction of a conversation.
// Plain concatenation, no delimiter: "Ann"+"aBen" and "Anna"+"Ben"
// collide. That weakness is part of the wire format and is kept for
// compatibility; readers merge both directions via conversationPath.
func ChatID(a, b string) string {
	return a + b
}

func conversationPath(sender, recipient string) string {
	return treestore.Join(inboxesPath, ChatID(sender, recipient))
}

// unreadCountPath is the counter a reader checks: their own leaf under
// the conversation key in their reading direction.
func unreadCountPath(user, other string) string {
	return treestore.Join(inboxesPath, countsSegment, ChatID(user, other), user)
}

// initCountPath is where first-contact initialization places a zero
// counter for a participant.
func initCountPath(user, participant string) string {
	return treestore.Join(inboxesPath, countsSegment, ChatID(user, participant), participant)
}

// encodeMessage produces the two-child node stored per message: the
// recipient's child is an empty marker, the sender's child carries the
// text.
func encodeMessage(sender, recipient, content string) map[string]any {
	return map[string]any{
		recipient: "",
		sender:    content,
	}
}

// decodeMessage recovers a message from its node: the sender is the child
// with a non-empty value, the recipient the child with an empty one.
// Nodes violating that invariant (both empty, both populated, missing
// children) fail to decode and are skipped by callers.
func decodeMessage(node treestore.Node, timestampKey string) (Message, bool) {
	children := treestore.Children(node)
	if children == nil {
		return Message{}, false
	}
	timestamp, err := strconv.ParseInt(timestampKey, 10, 64)
	if err != nil {
		return Message{}, false
	}

	names := make([]string, 0, len(children))
	for name := range children {
		names = append(names, name)
	}
	sort.Strings(names)

	var sender, recipient, content string
	for _, name := range names {
		value, ok := children[name].(string)
		if !ok {
			continue
		}
		if value != "" && sender == "" {
			sender = name
			content = value
		} else if value == "" && recipient == "" {
			recipient = name
		}
	}
	if sender == "" || recipient == "" {
		return Message{}, false
	}

	return Message{
		ID:            timestampKey,
		SenderName:    sender,
		RecipientName: recipient,
		Content:       content,
		Timestamp:     timestamp,
	}, true
}
