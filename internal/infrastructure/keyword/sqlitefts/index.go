package sqlitefts

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kirillkom/idp-pipeline/internal/core/domain"

	_ "modernc.org/sqlite"
)

const createTableSQL = `
CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
	chunk_id UNINDEXED,
	doc_id UNINDEXED,
	pipeline_version UNINDEXED,
	chunk_index UNINDEXED,
	input_type UNINDEXED,
	source UNINDEXED,
	job_id UNINDEXED,
	text UNINDEXED,
	content,
	tokenize='unicode61'
)`

// contentColumn is the position of the searchable column for snippet().
const contentColumn = 8

// Index is a SQLite FTS5 keyword index. bm25() is negative with smaller
// meaning a better match, which is the cost order callers expect.
type Index struct {
	mu sync.RWMutex
	db *sql.DB
}

// Open opens or creates the index file. An empty path keeps the index in
// memory, which is what tests use.
func Open(ctx context.Context, path string) (*Index, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create fts directory: %w", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open fts database: %w", err)
	}
	// single writer; an in-memory database also lives on one connection only
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if path != "" {
		for _, pragma := range []string{
			"PRAGMA journal_mode = WAL",
			"PRAGMA busy_timeout = 5000",
			"PRAGMA synchronous = NORMAL",
		} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("set pragma: %w", err)
			}
		}
	}

	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create fts table: %w", err)
	}
	return &Index{db: db}, nil
}

func (i *Index) Close() error {
	return i.db.Close()
}

// Reset drops and recreates the table.
func (i *Index) Reset(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if _, err := i.db.ExecContext(ctx, `DROP TABLE IF EXISTS chunks_fts`); err != nil {
		return domain.WrapError(domain.ErrUnavailable, "fts reset", err)
	}
	if _, err := i.db.ExecContext(ctx, createTableSQL); err != nil {
		return domain.WrapError(domain.ErrUnavailable, "fts reset", err)
	}
	return nil
}

// BulkWrite upserts docs in one transaction. FTS5 has no REPLACE, so each
// row is deleted by chunk id before insert. Docs without an id or text are
// skipped.
func (i *Index) BulkWrite(ctx context.Context, docs []domain.KeywordDoc) error {
	if len(docs) == 0 {
		return nil
	}
	i.mu.Lock()
	defer i.mu.Unlock()

	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.WrapError(domain.ErrUnavailable, "fts bulk write", err)
	}
	defer func() { _ = tx.Rollback() }()

	deleteStmt, err := tx.PrepareContext(ctx, `DELETE FROM chunks_fts WHERE chunk_id = ?`)
	if err != nil {
		return domain.WrapError(domain.ErrUnavailable, "fts bulk write", err)
	}
	defer deleteStmt.Close()

	insertStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks_fts(chunk_id, doc_id, pipeline_version, chunk_index, input_type, source, job_id, text, content)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return domain.WrapError(domain.ErrUnavailable, "fts bulk write", err)
	}
	defer insertStmt.Close()

	for _, doc := range docs {
		if doc.ChunkID == "" || strings.TrimSpace(doc.Text) == "" {
			continue
		}
		content := doc.Content
		if content == "" {
			content = doc.Text
		}
		if _, err := deleteStmt.ExecContext(ctx, doc.ChunkID); err != nil {
			return domain.WrapError(domain.ErrUnavailable, "fts bulk write", fmt.Errorf("delete %s: %w", doc.ChunkID, err))
		}
		if _, err := insertStmt.ExecContext(ctx,
			doc.ChunkID, doc.DocID, doc.PipelineVersion, doc.ChunkIndex,
			doc.InputType, doc.Source, doc.JobID, doc.Text, content,
		); err != nil {
			return domain.WrapError(domain.ErrUnavailable, "fts bulk write", fmt.Errorf("insert %s: %w", doc.ChunkID, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.WrapError(domain.ErrUnavailable, "fts bulk write", err)
	}
	return nil
}

// Search runs an FTS5 MATCH query. Code-like terms are quoted first; a query
// FTS5 still cannot parse is a validation error.
func (i *Index) Search(ctx context.Context, query string, limit int, filter domain.SearchFilter) ([]domain.Candidate, error) {
	query = strings.TrimSpace(query)
	if query == "" || limit <= 0 {
		return []domain.Candidate{}, nil
	}
	match := matchExpression(query)

	where := []string{"chunks_fts MATCH ?"}
	args := []any{match}
	if filter.DocID != "" {
		where = append(where, "doc_id = ?")
		args = append(args, filter.DocID)
	}
	if filter.PipelineVersion != "" {
		where = append(where, "pipeline_version = ?")
		args = append(args, filter.PipelineVersion)
	}
	args = append(args, limit)

	stmt := fmt.Sprintf(`
		SELECT chunk_id, doc_id, pipeline_version, chunk_index, input_type, source, job_id, text,
			bm25(chunks_fts) AS cost,
			snippet(chunks_fts, %d, '[', ']', '…', 12) AS snippet
		FROM chunks_fts
		WHERE %s
		ORDER BY cost ASC
		LIMIT ?`, contentColumn, strings.Join(where, " AND "))

	i.mu.RLock()
	defer i.mu.RUnlock()

	rows, err := i.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		if isQuerySyntaxError(err) {
			slog.Debug("fts_query_rejected", slog.String("query", match), slog.String("error", err.Error()))
			return nil, domain.WrapError(domain.ErrValidation, "fts search", fmt.Errorf("query %q: %w", query, err))
		}
		return nil, domain.WrapError(domain.ErrUnavailable, "fts search", err)
	}
	defer rows.Close()

	out := make([]domain.Candidate, 0, limit)
	for rows.Next() {
		var (
			c                                 domain.Candidate
			chunkIndex                        sql.NullInt64
			inputType, source, jobID, snippet sql.NullString
			docID, version                    sql.NullString
		)
		if err := rows.Scan(&c.ChunkID, &docID, &version, &chunkIndex, &inputType, &source, &jobID, &c.Text, &c.Score, &snippet); err != nil {
			return nil, domain.WrapError(domain.ErrUnavailable, "fts search", err)
		}
		c.DocID = docID.String
		c.PipelineVersion = version.String
		c.ChunkIndex = int(chunkIndex.Int64)
		c.Payload = map[string]any{
			"doc_id":           c.DocID,
			"pipeline_version": c.PipelineVersion,
			"chunk_index":      c.ChunkIndex,
			"input_type":       inputType.String,
			"source":           source.String,
			"job_id":           jobID.String,
			"text":             c.Text,
			"snippet":          snippet.String,
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrUnavailable, "fts search", err)
	}
	return out, nil
}

func isQuerySyntaxError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "fts5:") || strings.Contains(msg, "syntax error") || strings.Contains(msg, "no such column")
}

// matchExpression rewrites terms FTS5 would reject as barewords, such as
// INV-2024 or v1.2, into quoted phrases. A trailing * stays outside the
// quotes so the phrase keeps its prefix match. Terms that already use quotes
// or grouping are passed through.
func matchExpression(query string) string {
	terms := strings.Fields(query)
	for n, term := range terms {
		switch term {
		case "AND", "OR", "NOT":
			continue
		}
		if strings.ContainsAny(term, `"()`) {
			continue
		}
		stem, star := strings.CutSuffix(term, "*")
		if stem == "" || isBareword(stem) {
			continue
		}
		quoted := `"` + stem + `"`
		if star {
			quoted += "*"
		}
		terms[n] = quoted
	}
	return strings.Join(terms, " ")
}

func isBareword(term string) bool {
	for _, r := range term {
		if r >= 0x80 || r == '_' || r == 0x1a {
			continue
		}
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			continue
		}
		return false
	}
	return true
}
