package prereq

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bytedeck/unlock-engine/internal/content"
)

// serializableAttempts bounds how often an aborted serializable transaction
// is replayed before the error surfaces to the caller.
const serializableAttempts = 3

// ErrNotFound is returned when a row id does not exist within the tenant.
var ErrNotFound = errors.New("prerequisite row not found")

// Compile-time check to verify that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// Store defines the persistence operations for prerequisite rows.
type Store interface {
	// Create validates the row (including the cycle check) and persists it,
	// populating the ID. Returns ErrCycle if the row would close a cycle.
	Create(ctx context.Context, row *Row) error

	// Update replaces the clauses of an existing row, re-running validation
	// and the cycle check against the graph without the old version.
	Update(ctx context.Context, row *Row) error

	// Delete removes a row. Returns ErrNotFound if it does not exist.
	Delete(ctx context.Context, tenantID, id int64) error

	// Get loads one row by id.
	Get(ctx context.Context, tenantID, id int64) (*Row, error)

	// ListForParent returns the rows owned by a target, ordered by sort key.
	// A target with zero rows is unconditionally available.
	ListForParent(ctx context.Context, tenantID int64, parent content.Ref) ([]*Row, error)

	// ReliantParents returns the distinct targets whose formulas reference
	// the given object in a required or alternate clause. Used by the
	// dispatcher to fan invalidations out along the dependency chain.
	ReliantParents(ctx context.Context, tenantID int64, ref content.Ref) ([]content.Ref, error)

	// DeleteForParent removes every row owned by a target, for target
	// deletion cascades at the write boundary.
	DeleteForParent(ctx context.Context, tenantID int64, parent content.Ref) (int64, error)
}

// PostgresStore is the pgx-backed implementation of Store.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new store instance with the given connection pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	if db == nil {
		panic("prereq: database pool cannot be nil")
	}
	return &PostgresStore{db: db}
}

const rowColumns = `
	id, tenant_id, parent_kind, parent_id,
	req_kind, req_id, req_count, req_invert,
	alt_kind, alt_id, alt_count, alt_invert, sort_key
`

// Create validates and persists a new row.
//
// The cycle check and the insert run inside one transaction so two concurrent
// writes cannot each pass the check and jointly close a cycle: the second
// transaction's DFS sees the first one's committed row or serializes behind it.
func (s *PostgresStore) Create(ctx context.Context, row *Row) error {
	if err := row.Validate(); err != nil {
		return err
	}

	return withSerializableRetry(func() error {
		return s.runTx(ctx, func(tx pgx.Tx) error {
			if err := checkAcyclic(ctx, txEdges{tx}, row); err != nil {
				return err
			}

			err := tx.QueryRow(ctx, `
				INSERT INTO prereqs (
					tenant_id, parent_kind, parent_id,
					req_kind, req_id, req_count, req_invert,
					alt_kind, alt_id, alt_count, alt_invert, sort_key
				)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
				RETURNING id
			`, row.TenantID, row.Parent.Kind, row.Parent.ID,
				row.Required.Kind, row.Required.ID, row.Required.Count, row.Required.Invert,
				altKind(row), altID(row), altCount(row), altInvert(row), row.SortKey,
			).Scan(&row.ID)
			if err != nil {
				return fmt.Errorf("failed to insert prereq row: %w", err)
			}
			return nil
		})
	})
}

// Update rewrites an existing row's clauses after re-validation. The cycle
// check runs against the graph with the old row excluded, since the update
// replaces it.
func (s *PostgresStore) Update(ctx context.Context, row *Row) error {
	if err := row.Validate(); err != nil {
		return err
	}

	return withSerializableRetry(func() error {
		return s.runTx(ctx, func(tx pgx.Tx) error {
			if err := checkAcyclic(ctx, txEdgesExcluding{tx, row.ID}, row); err != nil {
				return err
			}

			tag, err := tx.Exec(ctx, `
				UPDATE prereqs SET
					parent_kind = $3, parent_id = $4,
					req_kind = $5, req_id = $6, req_count = $7, req_invert = $8,
					alt_kind = $9, alt_id = $10, alt_count = $11, alt_invert = $12,
					sort_key = $13
				WHERE tenant_id = $1 AND id = $2
			`, row.TenantID, row.ID, row.Parent.Kind, row.Parent.ID,
				row.Required.Kind, row.Required.ID, row.Required.Count, row.Required.Invert,
				altKind(row), altID(row), altCount(row), altInvert(row), row.SortKey)
			if err != nil {
				return fmt.Errorf("failed to update prereq row: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return ErrNotFound
			}
			return nil
		})
	})
}

// runTx runs fn inside one serializable transaction, committing on success.
func (s *PostgresStore) runTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// withSerializableRetry replays fn while it fails with a serialization abort
// or deadlock (SQLSTATE 40001/40P01). Concurrent writers race on the cycle
// check, so occasional aborts are expected; replaying keeps them invisible to
// the caller instead of surfacing as spurious write failures.
func withSerializableRetry(fn func() error) error {
	var err error
	for attempt := 1; attempt <= serializableAttempts; attempt++ {
		err = fn()
		if !isSerializationFailure(err) {
			return err
		}
	}
	return err
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}

// Delete removes a row by id.
func (s *PostgresStore) Delete(ctx context.Context, tenantID, id int64) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM prereqs WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to delete prereq row: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Get loads one row by id.
func (s *PostgresStore) Get(ctx context.Context, tenantID, id int64) (*Row, error) {
	row, err := scanRow(s.db.QueryRow(ctx,
		`SELECT `+rowColumns+` FROM prereqs WHERE tenant_id = $1 AND id = $2`,
		tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load prereq row: %w", err)
	}
	return row, nil
}

// ListForParent returns the rows owned by a target, stable-ordered for display.
func (s *PostgresStore) ListForParent(ctx context.Context, tenantID int64, parent content.Ref) ([]*Row, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+rowColumns+`
		FROM prereqs
		WHERE tenant_id = $1 AND parent_kind = $2 AND parent_id = $3
		ORDER BY sort_key, id
	`, tenantID, parent.Kind, parent.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list prereq rows: %w", err)
	}
	defer rows.Close()

	return collectRows(rows)
}

// ReliantParents returns the targets that depend on ref through any clause.
func (s *PostgresStore) ReliantParents(ctx context.Context, tenantID int64, ref content.Ref) ([]content.Ref, error) {
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT parent_kind, parent_id
		FROM prereqs
		WHERE tenant_id = $1
		  AND ((req_kind = $2 AND req_id = $3) OR (alt_kind = $2 AND alt_id = $3))
		ORDER BY parent_kind, parent_id
	`, tenantID, ref.Kind, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reliant parents: %w", err)
	}
	defer rows.Close()

	var refs []content.Ref
	for rows.Next() {
		var kindStr string
		var r content.Ref
		if err := rows.Scan(&kindStr, &r.ID); err != nil {
			return nil, fmt.Errorf("failed to scan reliant parent: %w", err)
		}
		r.Kind = content.Kind(kindStr)
		refs = append(refs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return refs, nil
}

// DeleteForParent removes all rows owned by a target and reports how many.
func (s *PostgresStore) DeleteForParent(ctx context.Context, tenantID int64, parent content.Ref) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM prereqs
		WHERE tenant_id = $1 AND parent_kind = $2 AND parent_id = $3
	`, tenantID, parent.Kind, parent.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete prereq rows for parent: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- cycle check edge listers ---

const edgeQuery = `
	SELECT req_kind, req_id, alt_kind, alt_id
	FROM prereqs
	WHERE tenant_id = $1 AND parent_kind = $2 AND parent_id = $3
`

// txEdges lists dependency edges within the write transaction.
type txEdges struct {
	tx pgx.Tx
}

func (e txEdges) dependencyEdges(ctx context.Context, tenantID int64, parent content.Ref) ([]content.Ref, error) {
	rows, err := e.tx.Query(ctx, edgeQuery, tenantID, parent.Kind, parent.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEdges(rows)
}

// txEdgesExcluding is txEdges minus one row id, used by Update so the row
// being replaced does not contribute stale edges.
type txEdgesExcluding struct {
	tx        pgx.Tx
	excludeID int64
}

func (e txEdgesExcluding) dependencyEdges(ctx context.Context, tenantID int64, parent content.Ref) ([]content.Ref, error) {
	rows, err := e.tx.Query(ctx, edgeQuery+` AND id <> $4`,
		tenantID, parent.Kind, parent.ID, e.excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEdges(rows)
}

func collectEdges(rows pgx.Rows) ([]content.Ref, error) {
	var edges []content.Ref
	for rows.Next() {
		var reqKind string
		var reqID int64
		var altKind *string
		var altID *int64
		if err := rows.Scan(&reqKind, &reqID, &altKind, &altID); err != nil {
			return nil, err
		}
		edges = append(edges, content.Ref{Kind: content.Kind(reqKind), ID: reqID})
		if altKind != nil && altID != nil {
			edges = append(edges, content.Ref{Kind: content.Kind(*altKind), ID: *altID})
		}
	}
	return edges, rows.Err()
}

// --- scanning helpers ---

func scanRow(row pgx.Row) (*Row, error) {
	var r Row
	var parentKind, reqKind string
	var altKind *string
	var altID *int64
	var altCount int
	var altInvert bool

	err := row.Scan(
		&r.ID, &r.TenantID, &parentKind, &r.Parent.ID,
		&reqKind, &r.Required.ID, &r.Required.Count, &r.Required.Invert,
		&altKind, &altID, &altCount, &altInvert, &r.SortKey,
	)
	if err != nil {
		return nil, err
	}

	r.Parent.Kind = content.Kind(parentKind)
	r.Required.Kind = content.Kind(reqKind)
	if altKind != nil && altID != nil {
		r.Alternate = &content.Clause{
			Kind:   content.Kind(*altKind),
			ID:     *altID,
			Count:  altCount,
			Invert: altInvert,
		}
	}

	return &r, nil
}

func collectRows(rows pgx.Rows) ([]*Row, error) {
	var result []*Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prereq row: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return result, nil
}

func altKind(r *Row) *content.Kind {
	if r.Alternate == nil {
		return nil
	}
	return &r.Alternate.Kind
}

func altID(r *Row) *int64 {
	if r.Alternate == nil {
		return nil
	}
	return &r.Alternate.ID
}

func altCount(r *Row) int {
	if r.Alternate == nil {
		return 1
	}
	return r.Alternate.Count
}

func altInvert(r *Row) bool {
	if r.Alternate == nil {
		return false
	}
	return r.Alternate.Invert
}
