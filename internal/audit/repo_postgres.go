package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresRepo appends to pbx_call_control_audit. The table carries an
// INSERT-only grant for the service role.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO pbx_call_control_audit (
  id, organization_id, action, call_id, actor_user_id, actor_role,
  ip_address, outcome, detail, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.OrganizationID,
		string(e.Action),
		e.CallID,
		e.ActorUserID,
		e.ActorRole,
		e.IPAddress,
		e.Outcome,
		e.Detail,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: append %s: %w", e.ID, err)
	}
	return nil
}
