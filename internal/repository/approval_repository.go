package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-procurement/internal/database"
	"github.com/pesio-ai/be-procurement/internal/errors"
)

// ApprovalRepository owns the document_approvals table: one row per
// (document, step), created in bulk when a chain is initialized.
type ApprovalRepository struct {
	db database.Querier
}

// NewApprovalRepository creates a new ApprovalRepository.
func NewApprovalRepository(db database.Querier) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

const approvalColumns = `
	id, document_type, document_id, step_order, role_name,
	approver_id, status, remarks, approved_at,
	created_at, updated_at`

// DeleteForDocument purges every approval row of the document. Used on
// resubmission: the chain is fully replaced, never patched.
func (r *ApprovalRepository) DeleteForDocument(ctx context.Context, ref DocumentRef) error {
	query := `
		DELETE FROM document_approvals
		WHERE document_type = $1::document_kind AND document_id = $2
	`
	_, err := r.db.Exec(ctx, query, ref.Kind, ref.ID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to delete approval rows")
	}
	return nil
}

// CreateChain inserts the full chain in step order.
func (r *ApprovalRepository) CreateChain(ctx context.Context, rows []*DocumentApproval) error {
	query := `
		INSERT INTO document_approvals
		    (document_type, document_id, step_order, role_name, status)
		VALUES ($1::document_kind, $2, $3, $4, $5::approval_status)
		RETURNING id, created_at, updated_at
	`

	for _, row := range rows {
		err := r.db.QueryRow(ctx, query,
			row.DocumentType,
			row.DocumentID,
			row.StepOrder,
			row.RoleName,
			row.Status,
		).Scan(&row.ID, &row.CreatedAt, &row.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval row")
		}
	}
	return nil
}

// FindPending returns all pending rows for the document ordered by step_order.
// The rows are locked so two concurrent approvals serialize on them.
func (r *ApprovalRepository) FindPending(ctx context.Context, ref DocumentRef) ([]*DocumentApproval, error) {
	query := `
		SELECT ` + approvalColumns + `
		FROM document_approvals
		WHERE document_type = $1::document_kind
		  AND document_id = $2
		  AND status = 'pending'::approval_status
		ORDER BY step_order ASC
		FOR UPDATE
	`

	rows, err := r.db.Query(ctx, query, ref.Kind, ref.ID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to query pending approvals")
	}
	defer rows.Close()

	return scanApprovals(rows)
}

// FindByStep returns the row at step order, or nil when absent.
func (r *ApprovalRepository) FindByStep(ctx context.Context, ref DocumentRef, stepOrder int) (*DocumentApproval, error) {
	query := `
		SELECT ` + approvalColumns + `
		FROM document_approvals
		WHERE document_type = $1::document_kind
		  AND document_id = $2
		  AND step_order = $3
	`

	row, err := scanApproval(r.db.QueryRow(ctx, query, ref.Kind, ref.ID, stepOrder))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return row, err
}

// MarkActioned records an approve/reject outcome on one row.
func (r *ApprovalRepository) MarkActioned(ctx context.Context, id, status, approverID string, remarks *string, at time.Time) error {
	query := `
		UPDATE document_approvals
		SET status      = $2::approval_status,
		    approver_id = $3,
		    remarks     = $4,
		    approved_at = $5,
		    updated_at  = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, status, approverID, remarks, at).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("document_approval", id)
	}
	return err
}

// SetStatus flips a row's status without recording an actor (the
// waiting→pending advance).
func (r *ApprovalRepository) SetStatus(ctx context.Context, id, status string) error {
	query := `
		UPDATE document_approvals
		SET status     = $2::approval_status,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, status).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("document_approval", id)
	}
	return err
}

// CancelAll marks every non-terminal row of the document cancelled.
func (r *ApprovalRepository) CancelAll(ctx context.Context, ref DocumentRef) error {
	query := `
		UPDATE document_approvals
		SET status     = 'cancelled'::approval_status,
		    updated_at = NOW()
		WHERE document_type = $1::document_kind
		  AND document_id = $2
		  AND status IN ('waiting'::approval_status, 'pending'::approval_status)
	`
	_, err := r.db.Exec(ctx, query, ref.Kind, ref.ID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to cancel approval rows")
	}
	return nil
}

// ListForDocument returns the full chain ordered by step_order.
func (r *ApprovalRepository) ListForDocument(ctx context.Context, ref DocumentRef) ([]*DocumentApproval, error) {
	query := `
		SELECT ` + approvalColumns + `
		FROM document_approvals
		WHERE document_type = $1::document_kind AND document_id = $2
		ORDER BY step_order ASC
	`

	rows, err := r.db.Query(ctx, query, ref.Kind, ref.ID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval rows")
	}
	defer rows.Close()

	return scanApprovals(rows)
}

// ListPendingForRole returns pending rows gated on the given role, the work
// queue for one approver role.
func (r *ApprovalRepository) ListPendingForRole(ctx context.Context, role string) ([]*DocumentApproval, error) {
	query := `
		SELECT ` + approvalColumns + `
		FROM document_approvals
		WHERE role_name = $1
		  AND status = 'pending'::approval_status
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, role)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list pending approvals for role")
	}
	defer rows.Close()

	return scanApprovals(rows)
}

// ── scan helpers ─────────────────────────────────────────────────────────────

func scanApproval(row rowScanner) (*DocumentApproval, error) {
	a := &DocumentApproval{}
	err := row.Scan(
		&a.ID,
		&a.DocumentType,
		&a.DocumentID,
		&a.StepOrder,
		&a.RoleName,
		&a.ApproverID,
		&a.Status,
		&a.Remarks,
		&a.ApprovedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func scanApprovals(rows pgx.Rows) ([]*DocumentApproval, error) {
	var out []*DocumentApproval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval row")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
