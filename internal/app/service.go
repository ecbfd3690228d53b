package app

import (
	"context"
	"net/http"
	"strings"

	"counselhub/api/internal/auth"
	"counselhub/api/internal/chat"
	"counselhub/api/internal/config"
	"counselhub/api/internal/directory"
	"counselhub/api/internal/metrics"
	"counselhub/api/internal/search"
	"counselhub/api/internal/treestore"
)

// Service composes the chat core behind the HTTP surface: it resolves the
// actor from their token, guards recipients against the directory, and
// feeds the metrics and search collaborators.
type Service struct {
	cfg      config.Config
	store    treestore.Store
	chat     *chat.Service
	resolver *directory.Resolver
	search   *search.Service
	metrics  *metrics.Metrics
}

func New(cfg config.Config, store treestore.Store, chatService *chat.Service, resolver *directory.Resolver, searchService *search.Service, m *metrics.Metrics) *Service {
	return &Service{
		cfg:      cfg,
		store:    store,
		chat:     chatService,
		resolver: resolver,
		search:   searchService,
		metrics:  m,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Authenticate validates a bearer actor token.
func (s *Service) Authenticate(token string) (auth.Actor, error) {
	if strings.TrimSpace(token) == "" {
		return auth.Actor{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Missing actor token", nil)
	}
	actor, err := auth.ParseActorToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return auth.Actor{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Invalid actor token", nil)
	}
	return actor, nil
}

// Participants lists everyone the actor may message.
func (s *Service) Participants(ctx context.Context, actor auth.Actor) []directory.Participant {
	return s.resolver.Participants(ctx, actor.Name, actor.Role)
}

// SendMessage validates the recipient against the directory, writes the
// message and feeds the search index. This is the one chat operation that
// surfaces failures to the caller.
func (s *Service) SendMessage(ctx context.Context, actor auth.Actor, recipient, content string) (chat.Message, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return chat.Message{}, domainError(http.StatusBadRequest, "VALIDATION", "Recipient is required", nil)
	}
	if strings.TrimSpace(content) == "" {
		return chat.Message{}, domainError(http.StatusBadRequest, "VALIDATION", "Message content is required", nil)
	}
	if recipient == actor.Name {
		return chat.Message{}, domainError(http.StatusBadRequest, "VALIDATION", "Cannot message yourself", nil)
	}
	if !s.mayMessage(ctx, actor, recipient) {
		return chat.Message{}, domainError(http.StatusForbidden, "INVALID_RECIPIENT", "Recipient is not in your participant list", nil)
	}

	msg, err := s.chat.Send(ctx, actor.Name, recipient, content)
	if err != nil {
		s.metrics.SendFailures.Inc()
		return chat.Message{}, domainError(http.StatusBadGateway, "SEND_FAILED", "Message could not be stored", nil)
	}
	s.metrics.MessagesSent.Inc()

	s.search.IndexMessage(search.MessageRecord{
		ID:            search.RecordID(chat.ChatID(msg.SenderName, msg.RecipientName), msg.Timestamp),
		ChatID:        chat.ChatID(msg.SenderName, msg.RecipientName),
		SenderName:    msg.SenderName,
		RecipientName: msg.RecipientName,
		Participants:  []string{msg.SenderName, msg.RecipientName},
		Content:       msg.Content,
		Timestamp:     msg.Timestamp,
	})
	return msg, nil
}

func (s *Service) mayMessage(ctx context.Context, actor auth.Actor, recipient string) bool {
	for _, participant := range s.Participants(ctx, actor) {
		if participant.Name == recipient {
			return true
		}
	}
	return false
}

func (s *Service) Messages(ctx context.Context, actor auth.Actor, other string) []chat.Message {
	return s.chat.Messages(ctx, actor.Name, other)
}

func (s *Service) LastMessage(ctx context.Context, actor auth.Actor, other string) string {
	return s.chat.LastMessage(ctx, actor.Name, other)
}

func (s *Service) UnreadCount(ctx context.Context, actor auth.Actor, other string) int {
	return s.chat.UnreadCount(ctx, actor.Name, other)
}

func (s *Service) ResetUnread(ctx context.Context, actor auth.Actor, other string) {
	s.chat.ResetUnread(ctx, actor.Name, other)
}

// InitCounts lazily creates unread counters for every resolved
// participant of the actor.
func (s *Service) InitCounts(ctx context.Context, actor auth.Actor) []directory.Participant {
	participants := s.Participants(ctx, actor)
	s.chat.InitCounts(ctx, actor.Name, participantNames(participants))
	return participants
}

func (s *Service) SearchMessages(ctx context.Context, actor auth.Actor, text string, limit int) search.Response {
	s.metrics.SearchQueries.Inc()
	return s.search.Search(ctx, search.Query{
		Actor: actor.Name,
		Role:  actor.Role,
		Text:  text,
		Limit: limit,
	})
}

// SubscribeMessages proxies the chat stream subscription for the
// WebSocket layer, tracking the live-subscription gauge.
func (s *Service) SubscribeMessages(ctx context.Context, actor auth.Actor, other string, fn func([]chat.Message)) (func(), error) {
	cancel, err := s.chat.SubscribeMessages(ctx, actor.Name, other, fn)
	if err != nil {
		return nil, err
	}
	s.metrics.LiveSubscriptions.Inc()
	return func() {
		cancel()
		s.metrics.LiveSubscriptions.Dec()
	}, nil
}

// SubscribeUnreadCounts proxies the unread-count subscription for the
// WebSocket layer.
func (s *Service) SubscribeUnreadCounts(ctx context.Context, actor auth.Actor, fn func(map[string]int)) (func(), error) {
	participants := s.Participants(ctx, actor)
	cancel, err := s.chat.SubscribeUnreadCounts(ctx, actor.Name, participantNames(participants), fn)
	if err != nil {
		return nil, err
	}
	s.metrics.LiveSubscriptions.Inc()
	return func() {
		cancel()
		s.metrics.LiveSubscriptions.Dec()
	}, nil
}

func participantNames(participants []directory.Participant) []string {
	names := make([]string, 0, len(participants))
	for _, participant := range participants {
		names = append(names, participant.Name)
	}
	return names
}
