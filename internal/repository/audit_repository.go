package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-procurement/internal/database"
	"github.com/pesio-ai/be-procurement/internal/errors"
)

// AuditRepository appends and reads immutable approval audit log entries.
type AuditRepository struct {
	db database.Querier
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db database.Querier) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts one audit entry. Append is the only mutation exposed.
func (r *AuditRepository) Append(ctx context.Context, entry *AuditEntry) error {
	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal audit metadata")
		}
	}

	query := `
		INSERT INTO approval_audit_log
		    (document_type, document_id, action, performed_by,
		     status_before, status_after, metadata)
		VALUES ($1::document_kind, $2, $3, $4,
		        $5, $6, $7)
		RETURNING id, performed_at
	`

	return r.db.QueryRow(ctx, query,
		entry.DocumentType,
		entry.DocumentID,
		entry.Action,
		entry.PerformedBy,
		entry.StatusBefore,
		entry.StatusAfter,
		metadataJSON,
	).Scan(&entry.ID, &entry.PerformedAt)
}

// TrailForDocument returns the full audit trail for a document oldest-first.
func (r *AuditRepository) TrailForDocument(ctx context.Context, ref DocumentRef) ([]*AuditEntry, error) {
	query := `
		SELECT id, document_type, document_id, action, performed_by,
		       performed_at, status_before, status_after, metadata
		FROM approval_audit_log
		WHERE document_type = $1::document_kind AND document_id = $2
		ORDER BY performed_at ASC
	`

	rows, err := r.db.Query(ctx, query, ref.Kind, ref.ID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list audit entries")
	}
	defer rows.Close()

	return scanAuditEntries(rows)
}

func scanAuditEntries(rows pgx.Rows) ([]*AuditEntry, error) {
	var out []*AuditEntry
	for rows.Next() {
		e := &AuditEntry{}
		var metadataJSON []byte

		err := rows.Scan(
			&e.ID,
			&e.DocumentType,
			&e.DocumentID,
			&e.Action,
			&e.PerformedBy,
			&e.PerformedAt,
			&e.StatusBefore,
			&e.StatusAfter,
			&metadataJSON,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan audit entry")
		}

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal audit metadata")
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
