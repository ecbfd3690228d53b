// Package search finds messages across all of an actor's conversations.
// Meilisearch serves queries when configured and healthy; otherwise a
// direct scan over the actor's conversations answers them.
package search

import (
	"context"
	"log"

	"counselhub/api/internal/roles"
)

// Result is a single message hit.
type Result struct {
	ID            string `json:"id"`
	SenderName    string `json:"senderName"`
	RecipientName string `json:"recipientName"`
	Content       string `json:"content"`
	Timestamp     int64  `json:"timestamp"`
}

// Query describes a search over one actor's conversations.
type Query struct {
	Actor string
	Role  roles.Role
	Text  string
	Limit int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// MessageRecord is the data indexed per message. The ID is a digest of
// chat key and timestamp because Meilisearch document IDs cannot carry
// the spaces display names contain.
type MessageRecord struct {
	ID            string   `json:"id"`
	ChatID        string   `json:"chatId"`
	SenderName    string   `json:"senderName"`
	RecipientName string   `json:"recipientName"`
	Participants  []string `json:"participants"`
	Content       string   `json:"content"`
	Timestamp     int64    `json:"timestamp"`
}

// Service is the facade that tries Meilisearch first and falls back to a
// conversation scan.
type Service struct {
	meili *Meili
	scan  *Scan
}

// NewService creates a search service. meili may be nil when Meilisearch
// is not configured.
func NewService(meili *Meili, scan *Scan) *Service {
	return &Service{meili: meili, scan: scan}
}

// Search tries Meilisearch if healthy, otherwise scans conversations.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to scan: %v", err)
	}

	results := s.scan.Search(ctx, q)
	return Response{Results: nonNil(results), Total: len(results), Query: q.Text}
}

// IndexMessage pushes a sent message into the index (fire-and-forget).
func (s *Service) IndexMessage(record MessageRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexMessage(record); err != nil {
			log.Printf("search: index message %s: %v", record.ID, err)
		}
	}()
}

func nonNil(results []Result) []Result {
	if results == nil {
		return []Result{}
	}
	return results
}
