package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"docforge/api/internal/generate"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs a UNION ALL over projects and documents using plainto_tsquery
// and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" || len(q.ProjectIDs) == 0 {
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

	dataSQL, countSQL, ok := buildFTSQuery(q.FilterType, limit, offset)
	if !ok {
		return nil, 0, nil
	}
	args := []any{q.Text, q.ProjectIDs}

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
		if err := rows.Scan(&typ, &r.ID, &r.ProjectID, &r.Title, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// buildFTSQuery returns the data and count statements for the requested
// result types. $1 is the query text and $2 the accessible project ids.
func buildFTSQuery(filter ResultType, limit, offset int) (string, string, bool) {
	const tsQuery = "plainto_tsquery('english', $1)"

	var subQueries []string
	if filter == "" || filter == ResultProject {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'project'::text AS type, p.id, p.id AS project_id, p.name AS title,
				ts_headline('english', coalesce(p.description, ''), %[1]s, 'MaxFragments=1,MaxWords=30,StartSel=<mark>,StopSel=</mark>') AS snippet,
				ts_rank(p.fts, %[1]s) AS rank
			FROM projects p
			WHERE p.fts @@ %[1]s AND p.id = ANY($2)`, tsQuery))
	}
	if filter == "" || filter == ResultDocument {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'document'::text AS type, d.id, d.project_id, d.title,
				ts_headline('english', coalesce(d.content, ''), %[1]s, 'MaxFragments=1,MaxWords=30,StartSel=<mark>,StopSel=</mark>') AS snippet,
				ts_rank(d.fts, %[1]s) AS rank
			FROM documents d
			WHERE d.fts @@ %[1]s AND d.project_id = ANY($2)`, tsQuery))
	}
	if len(subQueries) == 0 {
		return "", "", false
	}

	union := strings.Join(subQueries, " UNION ALL ")
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", union)
	dataSQL := fmt.Sprintf(`SELECT type, id, project_id, title, snippet
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`, union, limit, offset)
	return dataSQL, countSQL, true
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ProjectRecord, []DocumentRecord, error) {
	projectRows, err := p.db.QueryContext(ctx, `
		SELECT id, name, coalesce(description, ''), coalesce(idea, '')
		FROM projects
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load projects: %w", err)
	}
	defer projectRows.Close()

	projects := make([]ProjectRecord, 0)
	for projectRows.Next() {
		var r ProjectRecord
		if err := projectRows.Scan(&r.ID, &r.Name, &r.Description, &r.Idea); err != nil {
			return nil, nil, fmt.Errorf("scan project: %w", err)
		}
		r.ProjectID = r.ID
		projects = append(projects, r)
	}
	if err := projectRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate projects: %w", err)
	}

	docRows, err := p.db.QueryContext(ctx, `
		SELECT id, project_id, title, coalesce(content, ''), type, status
		FROM documents
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load documents: %w", err)
	}
	defer docRows.Close()

	documents := make([]DocumentRecord, 0)
	for docRows.Next() {
		var d DocumentRecord
		var content string
		if err := docRows.Scan(&d.ID, &d.ProjectID, &d.Title, &content, &d.Type, &d.Status); err != nil {
			return nil, nil, fmt.Errorf("scan document: %w", err)
		}
		d.Body = generate.PlainText(content)
		documents = append(documents, d)
	}
	if err := docRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate documents: %w", err)
	}

	return projects, documents, nil
}
