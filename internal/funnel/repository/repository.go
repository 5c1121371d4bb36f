package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"funnel_sync_backend/internal/funnel/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound  = errors.New("lead not found")
	ErrDuplicate = errors.New("lead already exists")
)

// uniqueViolation is the Postgres error code for duplicate-key conflicts.
// Conflicts are detected by code, never by message substring.
const uniqueViolation = "23505"

var aliasFields = map[string]struct{}{
	domain.MetaDBID:           {},
	domain.MetaRealID:         {},
	domain.MetaOriginalLeadID: {},
}

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const leadColumns = `id, tenant_id, display_name, email, phone, stage, metadata, created_at, updated_at`

func scanLead(row pgx.Row) (domain.Lead, error) {
	var lead domain.Lead
	var stage string
	var metadata []byte
	err := row.Scan(
		&lead.ID, &lead.TenantID, &lead.DisplayName, &lead.Email, &lead.Phone,
		&stage, &metadata, &lead.CreatedAt, &lead.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Lead{}, ErrNotFound
	}
	if err != nil {
		return domain.Lead{}, err
	}

	lead.Stage = domain.Stage(stage)
	lead.Metadata = map[string]any{}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &lead.Metadata); err != nil {
			return domain.Lead{}, fmt.Errorf("decode lead metadata: %w", err)
		}
	}
	return lead, nil
}

func (r *Repository) GetByID(ctx context.Context, tenantID uuid.UUID, id string) (domain.Lead, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE id = $1 AND tenant_id = $2
		  AND COALESCE((metadata->>'is_deleted')::boolean, false) = false
	`, id, tenantID)
	return scanLead(row)
}

func (r *Repository) GetByAlias(ctx context.Context, tenantID uuid.UUID, field, ref string) (domain.Lead, error) {
	if _, ok := aliasFields[field]; !ok {
		return domain.Lead{}, fmt.Errorf("unsupported alias field %q", field)
	}

	// field is validated against a fixed allowlist above, so splicing it
	// into the query is safe. Each alias field has an expression index.
	row := r.pool.QueryRow(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE tenant_id = $1 AND metadata->>'`+field+`' = $2
		  AND COALESCE((metadata->>'is_deleted')::boolean, false) = false
		ORDER BY updated_at DESC
		LIMIT 1
	`, tenantID, ref)
	return scanLead(row)
}

func (r *Repository) FindByContact(ctx context.Context, tenantID uuid.UUID, key, value string) ([]domain.Lead, error) {
	var column string
	switch key {
	case "email":
		column = "email"
	case "phone":
		column = "phone"
	case "display_name":
		column = "display_name"
	default:
		return nil, fmt.Errorf("unsupported contact key %q", key)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE tenant_id = $1 AND `+column+` = $2 AND `+column+` <> ''
		  AND COALESCE((metadata->>'is_deleted')::boolean, false) = false
		ORDER BY updated_at DESC
	`, tenantID, value)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	leads := make([]domain.Lead, 0)
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, lead)
	}
	return leads, rows.Err()
}

// UpdateStage sets the stage and additively merges metadata in one
// conditional statement. The jsonb || operator keeps unrelated metadata
// keys intact. Zero affected rows means the id raced with a delete.
func (r *Repository) UpdateStage(ctx context.Context, tenantID uuid.UUID, id string, stage domain.Stage, metadata map[string]any) (int64, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	patch, err := json.Marshal(metadata)
	if err != nil {
		return 0, fmt.Errorf("encode metadata patch: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET stage = $3, metadata = metadata || $4::jsonb, updated_at = now()
		WHERE id = $1 AND tenant_id = $2
		  AND COALESCE((metadata->>'is_deleted')::boolean, false) = false
	`, id, tenantID, string(stage), patch)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) CreateLead(ctx context.Context, lead domain.Lead) error {
	metadata := lead.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode lead metadata: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO leads (id, tenant_id, display_name, email, phone, stage, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
	`, lead.ID, lead.TenantID, lead.DisplayName, lead.Email, lead.Phone, string(lead.Stage), encoded)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}

const snapshotQuery = `
	SELECT tenant_id, id, stage, display_name, updated_at
	FROM leads
	WHERE COALESCE((metadata->>'is_deleted')::boolean, false) = false
	  AND COALESCE((metadata->>'removed_from_funnel')::boolean, false) = false
`

func (r *Repository) RecentSnapshots(ctx context.Context, limit int) ([]domain.Snapshot, error) {
	rows, err := r.pool.Query(ctx, snapshotQuery+`
		ORDER BY updated_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSnapshots(rows)
}

func (r *Repository) TenantSnapshots(ctx context.Context, tenantID uuid.UUID, limit int) ([]domain.Snapshot, error) {
	rows, err := r.pool.Query(ctx, snapshotQuery+`
		  AND tenant_id = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSnapshots(rows)
}

func collectSnapshots(rows pgx.Rows) ([]domain.Snapshot, error) {
	snapshots := make([]domain.Snapshot, 0)
	for rows.Next() {
		var snap domain.Snapshot
		var stage string
		var updatedAt time.Time
		if err := rows.Scan(&snap.TenantID, &snap.LeadID, &stage, &snap.DisplayName, &updatedAt); err != nil {
			return nil, err
		}
		snap.Stage = domain.Stage(stage)
		snap.UpdatedAt = updatedAt
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}

var _ Store = (*Repository)(nil)
