package search

import (
	"context"
	"sort"
	"strings"

	"counselhub/api/internal/chat"
	"counselhub/api/internal/directory"
)

// Scan is the fallback searcher: it walks every conversation the actor
// can see and substring-matches message content. Fine at caseload scale;
// Meilisearch takes over wherever it is deployed.
type Scan struct {
	chat     *chat.Service
	resolver *directory.Resolver
}

func NewScan(chatService *chat.Service, resolver *directory.Resolver) *Scan {
	return &Scan{chat: chatService, resolver: resolver}
}

// Search returns the newest matches first, capped at the query limit.
func (s *Scan) Search(ctx context.Context, q Query) []Result {
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	if needle == "" {
		return nil
	}
	limit := q.Limit
	if limit == 0 {
		limit = 20
	}

	var results []Result
	for _, participant := range s.resolver.Participants(ctx, q.Actor, q.Role) {
		for _, msg := range s.chat.Messages(ctx, q.Actor, participant.Name) {
			if !strings.Contains(strings.ToLower(msg.Content), needle) {
				continue
			}
			results = append(results, Result{
				ID:            RecordID(chat.ChatID(msg.SenderName, msg.RecipientName), msg.Timestamp),
				SenderName:    msg.SenderName,
				RecipientName: msg.RecipientName,
				Content:       msg.Content,
				Timestamp:     msg.Timestamp,
			})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Timestamp > results[j].Timestamp
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}
