package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: sanitizeResults(nonNil(results), q.IsStaff), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: sanitizeResults(nonNil(results), q.IsStaff), Total: total, Query: q.Text}
}

// IndexApplication indexes an application (fire-and-forget to Meilisearch).
func (s *Service) IndexApplication(record ApplicationRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexApplication(record); err != nil {
			log.Printf("search: index application %s: %v", record.ID, err)
		}
	}()
}

// IndexComment indexes a comment (fire-and-forget to Meilisearch).
func (s *Service) IndexComment(record CommentRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexComment(record); err != nil {
			log.Printf("search: index comment %s: %v", record.ID, err)
		}
	}()
}

// DeleteApplication removes an application from the search index (fire-and-forget).
func (s *Service) DeleteApplication(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteApplication(id); err != nil {
			log.Printf("search: delete application %s: %v", id, err)
		}
	}()
}

// ReindexAllFromPG reindexes all searchable entities from PostgreSQL into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	applications, comments, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if len(applications) > 0 {
		if err := s.meili.IndexApplications(applications); err != nil {
			log.Printf("search: reindex applications: %v", err)
		}
	}
	if len(comments) > 0 {
		if err := s.meili.IndexComments(comments); err != nil {
			log.Printf("search: reindex comments: %v", err)
		}
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

// sanitizeResults drops internal comments for non-staff callers. The
// backends already filter, this is the final pass before results leave the
// service.
func sanitizeResults(results []Result, isStaff bool) []Result {
	if isStaff {
		return results
	}
	filtered := make([]Result, 0, len(results))
	for _, result := range results {
		if result.Type == ResultComment && result.IsInternal {
			continue
		}
		filtered = append(filtered, result)
	}
	return filtered
}
