package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DocType is the role a document plays.
type DocType string

const (
	// DocTypeKnowledgeBase is company material answers are drawn from.
	DocTypeKnowledgeBase DocType = "knowledge_base"
	// DocTypeRFP is a request for proposal whose questions get answered.
	DocTypeRFP DocType = "rfp"
)

// Valid reports whether t is a known document type.
func (t DocType) Valid() bool {
	return t == DocTypeKnowledgeBase || t == DocTypeRFP
}

// Document is an uploaded source document with its extracted text.
type Document struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Filename    string     `json:"filename,omitempty"`
	Type        DocType    `json:"doc_type"`
	Text        string     `json:"-"`
	Processed   bool       `json:"processed"`
	ChunkCount  int        `json:"chunk_count"`
	UploadedAt  time.Time  `json:"uploaded_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// Stats summarises the document table.
type Stats struct {
	Total         int `json:"total"`
	KnowledgeBase int `json:"knowledge_base"`
	RFP           int `json:"rfp"`
	Processed     int `json:"processed"`
	Pending       int `json:"pending"`
}

const documentColumns = `id, title, filename, doc_type, content, processed, chunk_count, uploaded_at, processed_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*Document, error) {
	var (
		d           Document
		docType     string
		processed   int
		uploaded    int64
		processedAt sql.NullInt64
	)
	if err := row.Scan(&d.ID, &d.Title, &d.Filename, &docType, &d.Text, &processed, &d.ChunkCount, &uploaded, &processedAt); err != nil {
		return nil, err
	}
	d.Type = DocType(docType)
	d.Processed = processed != 0
	d.UploadedAt = time.Unix(uploaded, 0).UTC()
	d.ProcessedAt = timePtr(processedAt)
	return &d, nil
}

// CreateDocument inserts d and sets its ID and UploadedAt.
func (s *SQLiteStore) CreateDocument(ctx context.Context, d *Document) error {
	if !d.Type.Valid() {
		return fmt.Errorf("store: create document: invalid type %q", d.Type)
	}
	d.UploadedAt = s.now().UTC().Truncate(time.Second)
	const q = `INSERT INTO documents (title, filename, doc_type, content, uploaded_at) VALUES (?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, q, d.Title, d.Filename, string(d.Type), d.Text, d.UploadedAt.Unix())
	if err != nil {
		return fmt.Errorf("store: create document: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("store: create document id: %w", err)
	}
	d.ID = id
	return nil
}

// GetDocument returns the document with its text.
func (s *SQLiteStore) GetDocument(ctx context.Context, id int64) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: document %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get document: %w", err)
	}
	return d, nil
}

// GetDocumentText returns only the text of a document.
func (s *SQLiteStore) GetDocumentText(ctx context.Context, id int64) (string, error) {
	d, err := s.GetDocument(ctx, id)
	if err != nil {
		return "", err
	}
	return d.Text, nil
}

// ListDocuments returns documents newest first, optionally filtered by type.
// An empty docType lists all.
func (s *SQLiteStore) ListDocuments(ctx context.Context, docType DocType) ([]*Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents`
	var args []any
	if docType != "" {
		q += ` WHERE doc_type = ?`
		args = append(args, string(docType))
	}
	q += ` ORDER BY uploaded_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list documents: %w", err)
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list documents scan: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list documents rows: %w", err)
	}
	return out, nil
}

// ListDocumentIDs returns the IDs of all documents of docType, oldest first.
func (s *SQLiteStore) ListDocumentIDs(ctx context.Context, docType DocType) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM documents WHERE doc_type = ? ORDER BY id`, string(docType))
	if err != nil {
		return nil, fmt.Errorf("store: list document ids: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: list document ids scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list document ids rows: %w", err)
	}
	return ids, nil
}

// MarkProcessed records that a document was indexed into chunkCount chunks.
func (s *SQLiteStore) MarkProcessed(ctx context.Context, id int64, chunkCount int) error {
	const q = `UPDATE documents SET processed = 1, chunk_count = ?, processed_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, chunkCount, s.now().Unix(), id)
	if err != nil {
		return fmt.Errorf("store: mark processed: %w", err)
	}
	return requireRow(res, "document", id)
}

// DeleteDocument removes a document. Its questions and their answers are
// removed by the foreign-key cascade; vector-index chunks are the caller's
// concern.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete document: %w", err)
	}
	return requireRow(res, "document", id)
}

// DocumentStats counts documents by type and processing state.
func (s *SQLiteStore) DocumentStats(ctx context.Context) (*Stats, error) {
	const q = `
SELECT COUNT(*),
       COALESCE(SUM(doc_type = 'knowledge_base'), 0),
       COALESCE(SUM(doc_type = 'rfp'), 0),
       COALESCE(SUM(processed = 1), 0),
       COALESCE(SUM(processed = 0), 0)
FROM documents`
	var st Stats
	if err := s.db.QueryRowContext(ctx, q).Scan(&st.Total, &st.KnowledgeBase, &st.RFP, &st.Processed, &st.Pending); err != nil {
		return nil, fmt.Errorf("store: document stats: %w", err)
	}
	return &st, nil
}

func requireRow(res sql.Result, kind string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("store: %s %d: %w", kind, id, ErrNotFound)
	}
	return nil
}
