package chat

import (
	"testing"

	"counselhub/api/internal/treestore"
)

func TestChatIDIsDirectional(t *testing.T) {
	if got := ChatID("Student X", "Dr. Sarah Johnson"); got != "Student XDr. Sarah Johnson" {
		t.Errorf("ChatID = %q", got)
	}
	if ChatID("A", "B") == ChatID("B", "A") {
		t.Error("chat ids must differ per direction")
	}
}

func TestEncodeMessageShape(t *testing.T) {
	node := encodeMessage("Alice", "Bob", "hello")
	if node["Alice"] != "hello" {
		t.Errorf("sender child = %v, want message text", node["Alice"])
	}
	if node["Bob"] != "" {
		t.Errorf("recipient child = %v, want empty marker", node["Bob"])
	}
	if len(node) != 2 {
		t.Errorf("message node has %d children, want 2", len(node))
	}
}

func TestDecodeMessage(t *testing.T) {
	node := treestore.Node(map[string]treestore.Node{
		"Alice": "hello",
		"Bob":   "",
	})
	msg, ok := decodeMessage(node, "1000")
	if !ok {
		t.Fatal("expected decode to succeed")
	}
	if msg.SenderName != "Alice" || msg.RecipientName != "Bob" {
		t.Errorf("decoded %s -> %s, want Alice -> Bob", msg.SenderName, msg.RecipientName)
	}
	if msg.Content != "hello" || msg.Timestamp != 1000 || msg.ID != "1000" {
		t.Errorf("decoded message = %+v", msg)
	}
}

func TestDecodeMessageRejectsInvariantViolations(t *testing.T) {
	bothEmpty := map[string]treestore.Node{"Alice": "", "Bob": ""}
	if _, ok := decodeMessage(treestore.Node(bothEmpty), "1000"); ok {
		t.Error("both-empty node must not decode")
	}

	bothPopulated := map[string]treestore.Node{"Alice": "x", "Bob": "y"}
	if _, ok := decodeMessage(treestore.Node(bothPopulated), "1000"); ok {
		t.Error("both-populated node must not decode")
	}

	if _, ok := decodeMessage(treestore.Node("leaf"), "1000"); ok {
		t.Error("leaf node must not decode")
	}

	valid := map[string]treestore.Node{"Alice": "x", "Bob": ""}
	if _, ok := decodeMessage(treestore.Node(valid), "not-a-timestamp"); ok {
		t.Error("non-numeric timestamp key must not decode")
	}
}
