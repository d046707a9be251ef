package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-procurement/internal/database"
	"github.com/pesio-ai/be-procurement/internal/errors"
)

// DocumentRepository reads purchase requisition / purchase order headers and
// their lines, and writes the one field the engine owns: status. Both kinds
// share the documents table, discriminated by the kind column.
type DocumentRepository struct {
	db database.Querier
}

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(db database.Querier) *DocumentRepository {
	return &DocumentRepository{db: db}
}

const documentColumns = `
	id, kind, doc_number, status, total_amount, currency,
	base_amount, exchange_rate, cost_center_id, source_id,
	created_by, created_at, updated_at`

// Get loads a document with its lines.
func (r *DocumentRepository) Get(ctx context.Context, ref DocumentRef) (*Document, error) {
	return r.get(ctx, ref, false)
}

// GetForUpdate loads a document with its lines under an exclusive row lock on
// the header.
func (r *DocumentRepository) GetForUpdate(ctx context.Context, ref DocumentRef) (*Document, error) {
	return r.get(ctx, ref, true)
}

func (r *DocumentRepository) get(ctx context.Context, ref DocumentRef, forUpdate bool) (*Document, error) {
	query := `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE kind = $1::document_kind AND id = $2
	`
	if forUpdate {
		query += " FOR UPDATE"
	}

	doc, err := scanDocument(r.db.QueryRow(ctx, query, ref.Kind, ref.ID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("document", ref.ID)
	}
	if err != nil {
		return nil, err
	}

	lines, err := r.linesFor(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	doc.Lines = lines
	return doc, nil
}

// Create inserts a document header and its lines.
func (r *DocumentRepository) Create(ctx context.Context, doc *Document) error {
	query := `
		INSERT INTO documents
		    (kind, doc_number, status, total_amount, currency,
		     base_amount, exchange_rate, cost_center_id, source_id, created_by)
		VALUES ($1::document_kind, $2, $3::document_status, $4, $5,
		        $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		doc.Kind,
		doc.Number,
		doc.Status,
		doc.TotalAmount,
		doc.Currency,
		doc.BaseAmount,
		doc.ExchangeRate,
		doc.CostCenterID,
		doc.SourceID,
		doc.CreatedBy,
	).Scan(&doc.ID, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create document")
	}

	lineQuery := `
		INSERT INTO document_lines
		    (document_id, line_number, description, cost_center_id, gl_account_id, subtotal)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	for _, line := range doc.Lines {
		line.DocumentID = doc.ID
		err := r.db.QueryRow(ctx, lineQuery,
			line.DocumentID,
			line.LineNumber,
			line.Description,
			line.CostCenterID,
			line.GLAccountID,
			line.Subtotal,
		).Scan(&line.ID)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create document line")
		}
	}
	return nil
}

// UpdateStatus writes the document's status.
func (r *DocumentRepository) UpdateStatus(ctx context.Context, ref DocumentRef, status string) error {
	query := `
		UPDATE documents
		SET status     = $3::document_status,
		    updated_at = NOW()
		WHERE kind = $1::document_kind AND id = $2
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, ref.Kind, ref.ID, status).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("document", ref.ID)
	}
	return err
}

// LastNumberForPrefix returns the lexicographically greatest document number
// starting with prefix, or "" when none exists. The row lock is held until
// the surrounding transaction (which inserts the next document) commits, so
// concurrent submissions in the same period serialize here instead of racing
// to the same sequence number. Zero-padded suffixes keep the lexicographic
// ORDER BY equivalent to numeric ordering.
func (r *DocumentRepository) LastNumberForPrefix(ctx context.Context, kind DocumentKind, prefix string) (string, error) {
	query := `
		SELECT doc_number
		FROM documents
		WHERE kind = $1::document_kind
		  AND doc_number LIKE $2
		ORDER BY doc_number DESC
		LIMIT 1
		FOR UPDATE
	`

	var number string
	err := r.db.QueryRow(ctx, query, kind, prefix+"/%").Scan(&number)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "failed to query last document number")
	}
	return number, nil
}

// linesFor loads the ordered lines of one document.
func (r *DocumentRepository) linesFor(ctx context.Context, documentID string) ([]*DocumentLine, error) {
	query := `
		SELECT id, document_id, line_number, description,
		       cost_center_id, gl_account_id, subtotal
		FROM document_lines
		WHERE document_id = $1
		ORDER BY line_number ASC
	`

	rows, err := r.db.Query(ctx, query, documentID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to query document lines")
	}
	defer rows.Close()

	var lines []*DocumentLine
	for rows.Next() {
		line := &DocumentLine{}
		err := rows.Scan(
			&line.ID,
			&line.DocumentID,
			&line.LineNumber,
			&line.Description,
			&line.CostCenterID,
			&line.GLAccountID,
			&line.Subtotal,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan document line")
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// ── scan helper ──────────────────────────────────────────────────────────────

func scanDocument(row rowScanner) (*Document, error) {
	doc := &Document{}
	err := row.Scan(
		&doc.ID,
		&doc.Kind,
		&doc.Number,
		&doc.Status,
		&doc.TotalAmount,
		&doc.Currency,
		&doc.BaseAmount,
		&doc.ExchangeRate,
		&doc.CostCenterID,
		&doc.SourceID,
		&doc.CreatedBy,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return doc, nil
}
