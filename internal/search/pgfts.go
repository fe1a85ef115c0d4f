package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"civicgate/api/internal/workflow"
)

// PgFTS implements search using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across the application tables and their
// comment tables using plainto_tsquery and ts_rank, with ts_headline for
// snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	municipalityArg := 0
	if q.FilterMunicipalityID != "" {
		municipalityArg = argN
		args = append(args, q.FilterMunicipalityID)
		argN++
	}

	var subQueries []string
	for _, kind := range workflow.Kinds() {
		if q.FilterKind != "" && q.FilterKind != string(kind) {
			continue
		}
		descriptor, err := workflow.Describe(kind)
		if err != nil {
			return nil, 0, err
		}

		if q.FilterType == "" || q.FilterType == ResultApplication {
			where := "a.fts @@ " + tsQuery
			if municipalityArg > 0 {
				where += fmt.Sprintf(" AND a.municipality_id = $%d", municipalityArg)
			}
			subQueries = append(subQueries, fmt.Sprintf(`
				SELECT 'application'::text AS type, a.id, '%s'::text AS kind, a.title,
					ts_headline('english', coalesce(a.details, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
					a.id AS application_id, a.municipality_id, a.status,
					FALSE AS is_internal,
					ts_rank(a.fts, %s) AS rank
				FROM %s a
				WHERE %s`, kind, tsQuery, tsQuery, descriptor.Table, where))
		}

		if q.FilterType == "" || q.FilterType == ResultComment {
			where := "c.fts @@ " + tsQuery
			if municipalityArg > 0 {
				where += fmt.Sprintf(" AND a.municipality_id = $%d", municipalityArg)
			}
			if !q.IsStaff {
				where += " AND NOT c.is_internal"
			}
			subQueries = append(subQueries, fmt.Sprintf(`
				SELECT 'comment'::text AS type, c.id, '%s'::text AS kind, ''::text AS title,
					ts_headline('english', coalesce(c.body, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
					c.application_id, a.municipality_id, ''::text AS status,
					c.is_internal,
					ts_rank(c.fts, %s) AS rank
				FROM %s c
				JOIN %s a ON a.id = c.application_id
				WHERE %s`, kind, tsQuery, tsQuery, descriptor.CommentsTable, descriptor.Table, where))
		}
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, kind, title, snippet, application_id, municipality_id, status, is_internal
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Kind, &r.Title, &r.Snippet, &r.ApplicationID, &r.MunicipalityID, &r.Status, &r.IsInternal); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ApplicationRecord, []CommentRecord, error) {
	applications := make([]ApplicationRecord, 0)
	comments := make([]CommentRecord, 0)

	for _, kind := range workflow.Kinds() {
		descriptor, err := workflow.Describe(kind)
		if err != nil {
			return nil, nil, err
		}

		appRows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
			SELECT id, title, COALESCE(details, ''), status, municipality_id
			FROM %s
		`, descriptor.Table))
		if err != nil {
			return nil, nil, fmt.Errorf("load %s applications: %w", kind, err)
		}
		for appRows.Next() {
			record := ApplicationRecord{Kind: string(kind)}
			if err := appRows.Scan(&record.ID, &record.Title, &record.Details, &record.Status, &record.MunicipalityID); err != nil {
				appRows.Close()
				return nil, nil, fmt.Errorf("scan %s application: %w", kind, err)
			}
			applications = append(applications, record)
		}
		if err := appRows.Err(); err != nil {
			appRows.Close()
			return nil, nil, fmt.Errorf("iterate %s applications: %w", kind, err)
		}
		appRows.Close()

		commentRows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
			SELECT c.id, c.application_id, c.body, c.is_internal, a.municipality_id
			FROM %s c
			JOIN %s a ON a.id = c.application_id
		`, descriptor.CommentsTable, descriptor.Table))
		if err != nil {
			return nil, nil, fmt.Errorf("load %s comments: %w", kind, err)
		}
		for commentRows.Next() {
			record := CommentRecord{Kind: string(kind)}
			if err := commentRows.Scan(&record.ID, &record.ApplicationID, &record.Body, &record.IsInternal, &record.MunicipalityID); err != nil {
				commentRows.Close()
				return nil, nil, fmt.Errorf("scan %s comment: %w", kind, err)
			}
			comments = append(comments, record)
		}
		if err := commentRows.Err(); err != nil {
			commentRows.Close()
			return nil, nil, fmt.Errorf("iterate %s comments: %w", kind, err)
		}
		commentRows.Close()
	}

	return applications, comments, nil
}
