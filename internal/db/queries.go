package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"vendorbox/internal/model"
	"vendorbox/internal/schema"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres error codes
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// Queries wraps database queries
type Queries struct {
	*pgxpool.Pool
}

// NewQueries creates a new Queries instance
func NewQueries(pool *pgxpool.Pool) *Queries {
	return &Queries{Pool: pool}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, model.ErrNotFound)
	}
	return err
}

// Schema snapshot queries

func (q *Queries) LoadSchema(ctx context.Context) (*schema.Snapshot, error) {
	var doc schema.Document
	err := q.Pool.QueryRow(ctx,
		"SELECT document FROM schema_snapshots ORDER BY version DESC LIMIT 1",
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return schema.Empty(), nil
	}
	if err != nil {
		return nil, err
	}
	return schema.FromDocument(doc)
}

func (q *Queries) LoadSchemaVersion(ctx context.Context, version int64) (*schema.Snapshot, error) {
	if version == 0 {
		return schema.Empty(), nil
	}
	var doc schema.Document
	err := q.Pool.QueryRow(ctx,
		"SELECT document FROM schema_snapshots WHERE version = $1",
		version,
	).Scan(&doc)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("schema version %d", version))
	}
	return schema.FromDocument(doc)
}

// SaveSchema appends next to the snapshot history. Two writers racing from
// the same expected version collide on the version primary key.
func (q *Queries) SaveSchema(ctx context.Context, expected int64, next *schema.Snapshot) error {
	if next.Version() != expected+1 {
		return fmt.Errorf("%w: snapshot version %d does not follow %d", model.ErrInvalidInput, next.Version(), expected)
	}

	tx, err := q.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var latest int64
	if err := tx.QueryRow(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM schema_snapshots",
	).Scan(&latest); err != nil {
		return err
	}
	if latest != expected {
		return &model.StaleSchemaError{Expected: expected, Actual: latest}
	}

	_, err = tx.Exec(ctx,
		"INSERT INTO schema_snapshots (version, document) VALUES ($1, $2)",
		next.Version(), next.Document(),
	)
	if pgCode(err) == uniqueViolation {
		return &model.StaleSchemaError{Expected: expected, Actual: next.Version()}
	}
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Vendor queries

const vendorColumns = `id, vendor_type, status, latitude, longitude, agent_id, form_data, created_at, updated_at`

func scanVendor(row scanner) (model.Vendor, error) {
	var v model.Vendor
	var status string
	err := row.Scan(&v.ID, &v.VendorType, &status, &v.Latitude, &v.Longitude, &v.AgentID, &v.FormData, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return model.Vendor{}, err
	}
	v.Status = model.VendorStatus(status)
	if v.FormData == nil {
		v.FormData = make(map[string]interface{})
	}
	return v, nil
}

func (q *Queries) LoadVendor(ctx context.Context, id string) (model.Vendor, error) {
	v, err := scanVendor(q.Pool.QueryRow(ctx,
		"SELECT "+vendorColumns+" FROM vendors WHERE id = $1",
		id,
	))
	if err != nil {
		return model.Vendor{}, notFound(err, "vendor "+id)
	}
	return v, nil
}

func (q *Queries) CreateVendor(ctx context.Context, v model.Vendor) (model.Vendor, error) {
	if v.FormData == nil {
		v.FormData = make(map[string]interface{})
	}
	created, err := scanVendor(q.Pool.QueryRow(ctx,
		`INSERT INTO vendors (id, vendor_type, status, latitude, longitude, agent_id, form_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+vendorColumns,
		v.ID, v.VendorType, string(v.Status), v.Latitude, v.Longitude, v.AgentID, v.FormData, v.CreatedAt, v.UpdatedAt,
	))
	if pgCode(err) == uniqueViolation {
		return model.Vendor{}, fmt.Errorf("%w: vendor %s already exists", model.ErrInvalidInput, v.ID)
	}
	return created, err
}

// vendorWhere builds the WHERE clause of a vendor listing. Arguments are
// numbered from 1.
func vendorWhere(f model.VendorFilter) (string, []interface{}) {
	conds := []string{"TRUE"}
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Status != "" {
		conds = append(conds, "status = "+arg(string(f.Status)))
	}
	if f.AgentID != "" {
		conds = append(conds, "agent_id = "+arg(f.AgentID))
	}
	if f.VendorType != "" {
		conds = append(conds, "vendor_type = "+arg(f.VendorType))
	}
	if f.City != "" {
		conds = append(conds, fmt.Sprintf("LOWER(form_data->>'%s') = LOWER(%s)", model.CityKey, arg(f.City)))
	}
	if f.Search != "" {
		p := arg("%" + escapeLike(f.Search) + "%")
		ors := []string{"id ILIKE " + p}
		for _, k := range model.SearchKeys {
			ors = append(ors, fmt.Sprintf("form_data->>'%s' ILIKE %s", k, p))
		}
		conds = append(conds, "("+strings.Join(ors, " OR ")+")")
	}
	return strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (q *Queries) ListVendors(ctx context.Context, filter model.VendorFilter) ([]model.Vendor, model.Pagination, error) {
	filter = filter.Normalized()
	where, args := vendorWhere(filter)

	var total int
	if err := q.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM vendors WHERE "+where, args...).Scan(&total); err != nil {
		return nil, model.Pagination{}, err
	}

	query := fmt.Sprintf(
		"SELECT %s FROM vendors WHERE %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d",
		vendorColumns, where, len(args)+1, len(args)+2,
	)
	rows, err := q.Pool.Query(ctx, query, append(args, filter.Limit, filter.Offset())...)
	if err != nil {
		return nil, model.Pagination{}, err
	}
	defer rows.Close()

	vendors := make([]model.Vendor, 0, filter.Limit)
	for rows.Next() {
		v, err := scanVendor(rows)
		if err != nil {
			return nil, model.Pagination{}, err
		}
		vendors = append(vendors, v)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Pagination{}, err
	}
	return vendors, model.NewPagination(filter, total), nil
}

// SaveVendorPartial merges the update into formData key-wise. Keys not in
// the update are left untouched.
func (q *Queries) SaveVendorPartial(ctx context.Context, id string, update model.PartialUpdate) (model.Vendor, error) {
	v, err := scanVendor(q.Pool.QueryRow(ctx,
		`UPDATE vendors SET form_data = form_data || $2::jsonb, updated_at = NOW()
		WHERE id = $1
		RETURNING `+vendorColumns,
		id, map[string]interface{}(update),
	))
	if err != nil {
		return model.Vendor{}, notFound(err, "vendor "+id)
	}
	return v, nil
}

func (q *Queries) SetVendorStatus(ctx context.Context, id string, status model.VendorStatus) (model.Vendor, error) {
	v, err := scanVendor(q.Pool.QueryRow(ctx,
		`UPDATE vendors SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+vendorColumns,
		id, string(status),
	))
	if err != nil {
		return model.Vendor{}, notFound(err, "vendor "+id)
	}
	return v, nil
}

func (q *Queries) VendorSummary(ctx context.Context) (model.VendorSummary, error) {
	var sum model.VendorSummary
	err := q.Pool.QueryRow(ctx,
		`SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'approved'),
			COUNT(*) FILTER (WHERE status = 'rejected')
		FROM vendors`,
	).Scan(&sum.Total, &sum.Pending, &sum.Approved, &sum.Rejected)
	if err != nil {
		return model.VendorSummary{}, err
	}

	rows, err := q.Pool.Query(ctx,
		`SELECT EXTRACT(YEAR FROM created_at AT TIME ZONE 'UTC')::int AS year,
			EXTRACT(MONTH FROM created_at AT TIME ZONE 'UTC')::int AS month,
			COUNT(*)
		FROM vendors
		GROUP BY 1, 2
		ORDER BY 1, 2`,
	)
	if err != nil {
		return model.VendorSummary{}, err
	}
	defer rows.Close()

	sum.MonthlyRequests = make([]model.MonthlyCount, 0)
	for rows.Next() {
		var m model.MonthlyCount
		if err := rows.Scan(&m.Year, &m.Month, &m.Count); err != nil {
			return model.VendorSummary{}, err
		}
		sum.MonthlyRequests = append(sum.MonthlyRequests, m)
	}
	return sum, rows.Err()
}

// Edit request queries

const editRequestColumns = `id, vendor_id, changes, submitted_at, status, remark, reviewed_by, reviewed_at, seen`

func scanEditRequest(row scanner) (model.EditRequest, error) {
	var r model.EditRequest
	var status string
	var changes map[string]interface{}
	var reviewedAt *time.Time
	err := row.Scan(&r.ID, &r.VendorID, &changes, &r.SubmittedAt, &status, &r.Remark, &r.ReviewedBy, &reviewedAt, &r.Seen)
	if err != nil {
		return model.EditRequest{}, err
	}
	r.Status = model.ReviewState(status)
	r.Changes = model.PartialUpdate(changes)
	if reviewedAt != nil {
		t := reviewedAt.UTC()
		r.ReviewedAt = &t
	}
	return r, nil
}

func collectEditRequests(rows pgx.Rows) ([]model.EditRequest, error) {
	defer rows.Close()
	out := make([]model.EditRequest, 0)
	for rows.Next() {
		r, err := scanEditRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (q *Queries) CreateEditRequest(ctx context.Context, req model.EditRequest) (model.EditRequest, error) {
	created, err := scanEditRequest(q.Pool.QueryRow(ctx,
		`INSERT INTO edit_requests (id, vendor_id, changes, submitted_at, status, seen)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+editRequestColumns,
		req.ID, req.VendorID, map[string]interface{}(req.Changes), req.SubmittedAt, string(req.Status), req.Seen,
	))
	switch pgCode(err) {
	case foreignKeyViolation:
		return model.EditRequest{}, fmt.Errorf("vendor %s: %w", req.VendorID, model.ErrNotFound)
	case uniqueViolation:
		return model.EditRequest{}, fmt.Errorf("%w: edit request %s already exists", model.ErrInvalidInput, req.ID)
	}
	return created, err
}

func (q *Queries) GetEditRequest(ctx context.Context, id string) (model.EditRequest, error) {
	r, err := scanEditRequest(q.Pool.QueryRow(ctx,
		"SELECT "+editRequestColumns+" FROM edit_requests WHERE id = $1",
		id,
	))
	if err != nil {
		return model.EditRequest{}, notFound(err, "edit request "+id)
	}
	return r, nil
}

func (q *Queries) LoadPendingEditRequests(ctx context.Context) ([]model.EditRequest, error) {
	return q.ListEditRequests(ctx, model.ReviewPending)
}

// ListEditRequests lists requests newest first. An empty status lists all.
func (q *Queries) ListEditRequests(ctx context.Context, status model.ReviewState) ([]model.EditRequest, error) {
	rows, err := q.Pool.Query(ctx,
		`SELECT `+editRequestColumns+`
		FROM edit_requests
		WHERE $1::text = '' OR status = $1
		ORDER BY submitted_at DESC, id`,
		string(status),
	)
	if err != nil {
		return nil, err
	}
	return collectEditRequests(rows)
}

// SaveEditRequestTransition decides a pending request with a guarded update
// and merges approved changes into the vendor in the same transaction. A
// concurrent decision blocks on the row lock, then finds the request no
// longer pending.
func (q *Queries) SaveEditRequestTransition(ctx context.Context, id string, decision model.Decision, remark, reviewer string) (model.EditRequest, error) {
	target := decision.Target()
	if target == "" {
		return model.EditRequest{}, fmt.Errorf("%w: unknown decision %q", model.ErrInvalidInput, decision)
	}

	tx, err := q.Pool.Begin(ctx)
	if err != nil {
		return model.EditRequest{}, err
	}
	defer tx.Rollback(ctx)

	req, err := scanEditRequest(tx.QueryRow(ctx,
		`UPDATE edit_requests
		SET status = $2, remark = $3, reviewed_by = NULLIF($4, ''), reviewed_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+editRequestColumns,
		id, string(target), remark, reviewer,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		var current string
		err := tx.QueryRow(ctx, "SELECT status FROM edit_requests WHERE id = $1", id).Scan(&current)
		if err != nil {
			return model.EditRequest{}, notFound(err, "edit request "+id)
		}
		return model.EditRequest{}, &model.InvalidStateTransitionError{ID: id, From: model.ReviewState(current), To: target}
	}
	if err != nil {
		return model.EditRequest{}, err
	}

	if target == model.ReviewApproved {
		result, err := tx.Exec(ctx,
			"UPDATE vendors SET form_data = form_data || $2::jsonb, updated_at = NOW() WHERE id = $1",
			req.VendorID, map[string]interface{}(req.Changes),
		)
		if err != nil {
			return model.EditRequest{}, err
		}
		if result.RowsAffected() == 0 {
			return model.EditRequest{}, fmt.Errorf("vendor %s: %w", req.VendorID, model.ErrNotFound)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return model.EditRequest{}, err
	}
	return req, nil
}

// MarkEditRequestsSeen flips only the seen column, leaving review state to
// concurrent decisions.
func (q *Queries) MarkEditRequestsSeen(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result, err := q.Pool.Exec(ctx,
		"UPDATE edit_requests SET seen = TRUE WHERE id = ANY($1) AND seen = FALSE",
		ids,
	)
	if err != nil {
		return 0, err
	}
	return int(result.RowsAffected()), nil
}

func (q *Queries) CountUnseenEditRequests(ctx context.Context) (int, error) {
	var n int
	err := q.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM edit_requests WHERE seen = FALSE").Scan(&n)
	return n, err
}
