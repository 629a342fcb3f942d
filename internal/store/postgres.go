package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/audit"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/document"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/postgres"
	"github.com/lib/pq"
)

const documentColumns = `id, filename, mime_type, file_size, location, checksum, uploaded_by,
	classification, status, metadata, created_at, updated_at`

// Postgres is the lib/pq backed Store.
type Postgres struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewPostgres(db *postgres.Client) *Postgres {
	return &Postgres{
		db:     db,
		logger: slog.Default().With("component", "store"),
	}
}

// Migrate applies the embedded schema. Statements are idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
	if err := p.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	p.logger.Info("schema applied")
	return nil
}

func (p *Postgres) InTx(ctx context.Context, fn func(Session) error) error {
	return p.db.InTx(ctx, func(tx *sql.Tx) error {
		return fn(&pgSession{q: tx})
	})
}

func (p *Postgres) Document(ctx context.Context, id string) (*document.Document, error) {
	return getDocument(ctx, p.db.DB, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
}

func (p *Postgres) Chunks(ctx context.Context, documentID string) ([]document.Chunk, error) {
	return listChunks(ctx, p.db.DB, documentID)
}

func (p *Postgres) AuditHistory(ctx context.Context, documentID string) ([]audit.Entry, error) {
	rows, err := p.db.DB.QueryContext(ctx,
		`SELECT action, resource_type, resource_id, result, COALESCE(previous_status, ''),
			COALESCE(new_status, ''), metadata_json, created_at
		FROM audit_logs WHERE resource_id = $1 ORDER BY id`, documentID)
	if err != nil {
		return nil, apperrors.Infrastructure("querying audit history", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var (
			e     audit.Entry
			prev  string
			next  string
			attrs []byte
		)
		if err := rows.Scan(&e.Action, &e.ResourceType, &e.DocumentID, &e.Result, &prev, &next, &attrs, &e.Timestamp); err != nil {
			return nil, apperrors.Infrastructure("scanning audit row", err)
		}
		e.PreviousStatus = document.Status(prev)
		e.NewStatus = document.Status(next)
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &e.Attributes); err != nil {
				return nil, fmt.Errorf("decoding audit attributes: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Infrastructure("iterating audit rows", err)
	}
	return entries, nil
}

func (p *Postgres) ListByStatus(ctx context.Context, status document.Status, limit int) ([]*document.Document, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.DB.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE status = $1 ORDER BY created_at LIMIT $2`,
		string(status), limit)
	if err != nil {
		return nil, apperrors.Infrastructure("listing documents", err)
	}
	defer rows.Close()

	var docs []*document.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Infrastructure("iterating documents", err)
	}
	return docs, nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type pgSession struct {
	q querier
}

func (s *pgSession) GetDocument(ctx context.Context, id string) (*document.Document, error) {
	return getDocument(ctx, s.q, `SELECT `+documentColumns+` FROM documents WHERE id = $1 FOR UPDATE`, id)
}

func (s *pgSession) FindByChecksum(ctx context.Context, uploadedBy, checksum string) (*document.Document, error) {
	return getDocument(ctx, s.q,
		`SELECT `+documentColumns+` FROM documents WHERE uploaded_by = $1 AND checksum = $2`,
		uploadedBy, checksum)
}

func (s *pgSession) CreateDocument(ctx context.Context, doc *document.Document) error {
	meta, err := marshalMetadata(doc.Metadata)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO documents (`+documentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT DO NOTHING`,
		doc.ID, doc.Filename, doc.MimeType, doc.FileSize, doc.Location, doc.Checksum, doc.UploadedBy,
		nullableString(doc.Classification), string(doc.Status), meta, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return apperrors.Infrastructure("inserting document", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", apperrors.ErrDocumentExists, doc.ID)
	}
	return nil
}

func (s *pgSession) UpdateDocument(ctx context.Context, doc *document.Document) error {
	meta, err := marshalMetadata(doc.Metadata)
	if err != nil {
		return err
	}
	doc.UpdatedAt = time.Now().UTC()
	res, err := s.q.ExecContext(ctx,
		`UPDATE documents SET status = $2, metadata = $3, classification = $4, updated_at = $5
		WHERE id = $1`,
		doc.ID, string(doc.Status), meta, nullableString(doc.Classification), doc.UpdatedAt)
	if err != nil {
		return apperrors.Infrastructure("updating document", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", apperrors.ErrDocumentNotFound, doc.ID)
	}
	return nil
}

func (s *pgSession) ReplaceChunks(ctx context.Context, documentID string, chunks []document.Chunk) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return apperrors.Infrastructure("deleting chunks", err)
	}
	for _, c := range chunks {
		var embedding any
		if len(c.Embedding) > 0 {
			embedding = pq.Array(c.Embedding)
		}
		_, err := s.q.ExecContext(ctx,
			`INSERT INTO chunks (id, document_id, chunk_index, text, embedding, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			c.ID, documentID, c.ChunkIndex, c.Text, embedding, c.CreatedAt)
		if err != nil {
			return apperrors.Infrastructure("inserting chunk", err)
		}
	}
	return nil
}

func (s *pgSession) ListChunks(ctx context.Context, documentID string) ([]document.Chunk, error) {
	return listChunks(ctx, s.q, documentID)
}

func (s *pgSession) AppendAudit(ctx context.Context, e audit.Entry) error {
	attrs, err := json.Marshal(e.Attributes)
	if err != nil {
		return fmt.Errorf("encoding audit attributes: %w", err)
	}
	if e.Attributes == nil {
		attrs = []byte("{}")
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err = s.q.ExecContext(ctx,
		`INSERT INTO audit_logs (action, resource_type, resource_id, result, previous_status, new_status, metadata_json, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8)`,
		e.Action, e.ResourceType, e.DocumentID, e.Result, string(e.PreviousStatus), string(e.NewStatus), attrs, ts)
	if err != nil {
		return apperrors.Infrastructure("inserting audit entry", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func getDocument(ctx context.Context, q querier, query string, args ...any) (*document.Document, error) {
	doc, err := scanDocument(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrDocumentNotFound, args[len(args)-1])
	}
	return doc, err
}

func scanDocument(row rowScanner) (*document.Document, error) {
	var (
		doc            document.Document
		classification sql.NullString
		status         string
		meta           []byte
	)
	err := row.Scan(&doc.ID, &doc.Filename, &doc.MimeType, &doc.FileSize, &doc.Location, &doc.Checksum,
		&doc.UploadedBy, &classification, &status, &meta, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, apperrors.Infrastructure("scanning document", err)
	}
	doc.Status = document.Status(status)
	if classification.Valid {
		doc.Classification = &classification.String
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata for %s: %w", doc.ID, err)
		}
	}
	return &doc, nil
}

func listChunks(ctx context.Context, q querier, documentID string) ([]document.Chunk, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, document_id, chunk_index, text, embedding, created_at
		FROM chunks WHERE document_id = $1 ORDER BY chunk_index`, documentID)
	if err != nil {
		return nil, apperrors.Infrastructure("querying chunks", err)
	}
	defer rows.Close()

	var chunks []document.Chunk
	for rows.Next() {
		var (
			c         document.Chunk
			embedding pq.Float32Array
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Text, &embedding, &c.CreatedAt); err != nil {
			return nil, apperrors.Infrastructure("scanning chunk", err)
		}
		c.Embedding = []float32(embedding)
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Infrastructure("iterating chunks", err)
	}
	return chunks, nil
}

func marshalMetadata(m document.Metadata) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	return data, nil
}

func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
