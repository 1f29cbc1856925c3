package tenant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/maypok86/otter"
)

// Compile-time check to verify that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// Store defines tenant resolution and settings operations.
type Store interface {
	// ByID resolves a tenant by primary key. Returns ErrNotFound for
	// deleted or never-existing tenants.
	ByID(ctx context.Context, id int64) (*Tenant, error)

	// BySlug resolves a tenant by its unique slug (used by the HTTP layer).
	BySlug(ctx context.Context, slug string) (*Tenant, error)

	// Reload resolves a tenant from the database, bypassing any cache in
	// front of it. Workers bind jobs through Reload so a recompute enqueued
	// right after a settings change never runs against a stale binding.
	Reload(ctx context.Context, id int64) (*Tenant, error)

	// SetActiveSemester switches the tenant's active semester. The caller is
	// responsible for triggering a tenant-wide recompute afterwards.
	SetActiveSemester(ctx context.Context, tenantID, semesterID int64) error

	// SetAutoUpdate toggles event-driven dispatch for the tenant.
	SetAutoUpdate(ctx context.Context, tenantID int64, enabled bool) error
}

// PostgresStore loads tenants from the tenants table and keeps a small
// in-memory cache in front of it. Settings reads happen on every dispatched
// event, so the hot path must not hit Postgres each time. The short TTL
// bounds how stale a toggled auto_update_enabled flag can be.
type PostgresStore struct {
	db     *pgxpool.Pool
	byID   otter.Cache[int64, *Tenant]
	bySlug otter.Cache[string, *Tenant]
}

// NewPostgresStore creates the store with its L1 cache.
func NewPostgresStore(db *pgxpool.Pool) (*PostgresStore, error) {
	if db == nil {
		panic("tenant: database pool cannot be nil")
	}

	byID, err := otter.MustBuilder[int64, *Tenant](1024).
		WithTTL(5 * time.Second).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build tenant id cache: %w", err)
	}

	bySlug, err := otter.MustBuilder[string, *Tenant](1024).
		WithTTL(5 * time.Second).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build tenant slug cache: %w", err)
	}

	return &PostgresStore{db: db, byID: byID, bySlug: bySlug}, nil
}

// ByID resolves a tenant by primary key, consulting the L1 cache first.
func (s *PostgresStore) ByID(ctx context.Context, id int64) (*Tenant, error) {
	if t, ok := s.byID.Get(id); ok {
		return t, nil
	}

	t, err := s.fetch(ctx, `
		SELECT id, slug, auto_update_enabled, COALESCE(active_semester_id, 0)
		FROM tenants WHERE id = $1
	`, id)
	if err != nil {
		return nil, err
	}

	s.cache(t)
	return t, nil
}

// BySlug resolves a tenant by slug, consulting the L1 cache first.
func (s *PostgresStore) BySlug(ctx context.Context, slug string) (*Tenant, error) {
	if t, ok := s.bySlug.Get(slug); ok {
		return t, nil
	}

	t, err := s.fetch(ctx, `
		SELECT id, slug, auto_update_enabled, COALESCE(active_semester_id, 0)
		FROM tenants WHERE slug = $1
	`, slug)
	if err != nil {
		return nil, err
	}

	s.cache(t)
	return t, nil
}

// Reload fetches the tenant directly from the database and refreshes the L1
// entry. Only the writing process evicts on settings changes, so a worker in
// another process could otherwise serve a pre-change row for up to the TTL.
func (s *PostgresStore) Reload(ctx context.Context, id int64) (*Tenant, error) {
	t, err := s.fetch(ctx, `
		SELECT id, slug, auto_update_enabled, COALESCE(active_semester_id, 0)
		FROM tenants WHERE id = $1
	`, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.evict(id)
		}
		return nil, err
	}

	s.cache(t)
	return t, nil
}

// SetActiveSemester updates the active semester and drops the cached entry so
// the next read observes the new value.
func (s *PostgresStore) SetActiveSemester(ctx context.Context, tenantID, semesterID int64) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE tenants SET active_semester_id = $2 WHERE id = $1`, tenantID, semesterID)
	if err != nil {
		return fmt.Errorf("failed to set active semester: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	s.evict(tenantID)
	return nil
}

// SetAutoUpdate toggles event-driven dispatch for the tenant.
func (s *PostgresStore) SetAutoUpdate(ctx context.Context, tenantID int64, enabled bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE tenants SET auto_update_enabled = $2 WHERE id = $1`, tenantID, enabled)
	if err != nil {
		return fmt.Errorf("failed to set auto update flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	s.evict(tenantID)
	return nil
}

func (s *PostgresStore) fetch(ctx context.Context, query string, arg any) (*Tenant, error) {
	var t Tenant
	err := s.db.QueryRow(ctx, query, arg).
		Scan(&t.ID, &t.Slug, &t.AutoUpdateEnabled, &t.ActiveSemesterID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load tenant: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) cache(t *Tenant) {
	s.byID.Set(t.ID, t)
	s.bySlug.Set(t.Slug, t)
}

func (s *PostgresStore) evict(tenantID int64) {
	if t, ok := s.byID.Get(tenantID); ok {
		s.bySlug.Delete(t.Slug)
	}
	s.byID.Delete(tenantID)
}

// Close shuts down the cache goroutines.
func (s *PostgresStore) Close() {
	s.byID.Close()
	s.bySlug.Close()
}
