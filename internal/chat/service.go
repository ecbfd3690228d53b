package chat

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"sync"
	"time"

	"counselhub/api/internal/treestore"
)

// Service exposes the messaging operations the presentation shell calls.
// Send is the only operation that propagates failure; every read degrades
// to an empty or zero result, logged, matching the store contract of
// "absence is empty, not an error".
type Service struct {
	store treestore.Store
	now   func() time.Time
}

func NewService(store treestore.Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Send writes the message node, then bumps the recipient's unread counter
// by read-then-write. The increment is not atomic: two in-flight sends to
// the same recipient can lose one. The generic tree-write contract has no
// increment primitive, so the window stays.
func (s *Service) Send(ctx context.Context, sender, recipient, content string) (Message, error) {
	timestamp := s.now().UnixMilli()
	msg := Message{
		ID:            strconv.FormatInt(timestamp, 10),
		SenderName:    sender,
		RecipientName: recipient,
		Content:       content,
		Timestamp:     timestamp,
	}

	messagePath := treestore.Join(conversationPath(sender, recipient), msg.ID)
	if err := s.store.Set(ctx, messagePath, encodeMessage(sender, recipient, content)); err != nil {
		return Message{}, fmt.Errorf("write message: %w", err)
	}

	countPath := unreadCountPath(recipient, sender)
	current, err := s.store.Get(ctx, countPath)
	if err != nil {
		return Message{}, fmt.Errorf("read unread count: %w", err)
	}
	if err := s.store.Set(ctx, countPath, treestore.Int(current)+1); err != nil {
		return Message{}, fmt.Errorf("bump unread count: %w", err)
	}
	return msg, nil
}

// Messages returns the merged history of both conversation directions,
// sorted ascending by timestamp. The sort is stable, so same-millisecond
// messages keep their insertion order.
func (s *Service) Messages(ctx context.Context, user, other string) []Message {
	messages := s.readDirection(ctx, user, other)
	messages = append(messages, s.readDirection(ctx, other, user)...)
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp < messages[j].Timestamp
	})
	return messages
}

func (s *Service) readDirection(ctx context.Context, sender, recipient string) []Message {
	node, err := s.store.Get(ctx, conversationPath(sender, recipient))
	if err != nil {
		log.Printf("chat: read conversation %s->%s: %v", sender, recipient, err)
		return nil
	}

	children := treestore.Children(node)
	keys := make([]string, 0, len(children))
	for key := range children {
		if key != countsSegment {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var messages []Message
	for _, key := range keys {
		if msg, ok := decodeMessage(children[key], key); ok {
			messages = append(messages, msg)
		}
	}
	return messages
}

// LastMessage returns the content of the newest message in either
// direction, or "" for an empty conversation.
func (s *Service) LastMessage(ctx context.Context, user, other string) string {
	messages := s.Messages(ctx, user, other)
	if len(messages) == 0 {
		return ""
	}
	return messages[len(messages)-1].Content
}

// UnreadCount reads the user's counter for a conversation; absent means 0.
func (s *Service) UnreadCount(ctx context.Context, user, other string) int {
	node, err := s.store.Get(ctx, unreadCountPath(user, other))
	if err != nil {
		log.Printf("chat: read unread count %s/%s: %v", user, other, err)
		return 0
	}
	return treestore.Int(node)
}

// ResetUnread zeroes the user's counter after they read a conversation.
func (s *Service) ResetUnread(ctx context.Context, user, other string) {
	if err := s.store.Set(ctx, unreadCountPath(user, other), 0); err != nil {
		log.Printf("chat: reset unread count %s/%s: %v", user, other, err)
	}
}

// InitCounts lazily creates zero counters on first contact. Idempotent:
// an existing counter, zero or not, is left alone.
func (s *Service) InitCounts(ctx context.Context, user string, participantNames []string) {
	for _, participant := range participantNames {
		path := initCountPath(user, participant)
		existing, err := s.store.Get(ctx, path)
		if err != nil {
			log.Printf("chat: init count %s/%s: %v", user, participant, err)
			continue
		}
		if existing != nil {
			continue
		}
		if err := s.store.Set(ctx, path, 0); err != nil {
			log.Printf("chat: init count %s/%s: %v", user, participant, err)
		}
	}
}

// SubscribeMessages watches both directions of a conversation and delivers
// the complete re-fetched, re-sorted history on every change - never a
// delta. The returned cancel releases both watches.
func (s *Service) SubscribeMessages(ctx context.Context, user, other string, fn func([]Message)) (func(), error) {
	var mu sync.Mutex
	deliver := func() {
		messages := s.Messages(ctx, user, other)
		mu.Lock()
		fn(messages)
		mu.Unlock()
	}

	cancelForward, err := s.store.Subscribe(conversationPath(user, other), deliver)
	if err != nil {
		return nil, fmt.Errorf("subscribe conversation: %w", err)
	}
	cancelReverse, err := s.store.Subscribe(conversationPath(other, user), deliver)
	if err != nil {
		cancelForward()
		return nil, fmt.Errorf("subscribe conversation: %w", err)
	}

	return func() {
		cancelForward()
		cancelReverse()
	}, nil
}

// SubscribeUnreadCounts opens one watch per participant counter. Each
// event delivers a full map over all participants; entries other than the
// one that changed report 0, exactly as the shell expects. All watches
// are torn down together by the returned cancel.
func (s *Service) SubscribeUnreadCounts(ctx context.Context, user string, participantNames []string, fn func(map[string]int)) (func(), error) {
	var mu sync.Mutex
	var cancels []func()

	for _, participant := range participantNames {
		participant := participant
		path := unreadCountPath(user, participant)
		cancel, err := s.store.Subscribe(path, func() {
			counts := make(map[string]int, len(participantNames))
			for _, name := range participantNames {
				counts[name] = 0
			}
			counts[participant] = s.UnreadCount(ctx, user, participant)
			mu.Lock()
			fn(counts)
			mu.Unlock()
		})
		if err != nil {
			for _, c := range cancels {
				c()
			}
			return nil, fmt.Errorf("subscribe count %s: %w", participant, err)
		}
		cancels = append(cancels, cancel)
	}

	return func() {
		for _, c := range cancels {
			c()
		}
	}, nil
}
