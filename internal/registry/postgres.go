package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bytedeck/unlock-engine/internal/content"
	"github.com/bytedeck/unlock-engine/internal/tenant"
)

// Compile-time check to verify that PostgresRegistry implements Registry.
var _ Registry = (*PostgresRegistry)(nil)

// PostgresRegistry computes attainment counts directly from the domain
// tables. It holds no state of its own: every answer is a pure function of
// currently persisted rows, which is what makes recomputation idempotent.
type PostgresRegistry struct {
	db *pgxpool.Pool
}

// NewPostgresRegistry creates a registry backed by the given pool.
func NewPostgresRegistry(db *pgxpool.Pool) *PostgresRegistry {
	if db == nil {
		panic("registry: database pool cannot be nil")
	}
	return &PostgresRegistry{db: db}
}

// AttainCount dispatches on the kind tag.
//
// Semantics per kind:
//   - quest: approved submissions for the quest in the active semester
//   - badge: assertions of the badge in the active semester
//   - rank: 1 iff cumulative XP in the active semester >= the rank threshold
//   - course_enrollment: 1 iff at least one active enrollment in the course
func (r *PostgresRegistry) AttainCount(ctx context.Context, tn *tenant.Tenant, kind content.Kind, id, userID int64) (int, error) {
	switch kind {
	case content.KindQuest:
		return r.questCount(ctx, tn, id, userID)
	case content.KindBadge:
		return r.badgeCount(ctx, tn, id, userID)
	case content.KindRank:
		return r.rankCount(ctx, tn, id, userID)
	case content.KindCourseEnrollment:
		return r.enrollmentCount(ctx, tn, id, userID)
	default:
		return 0, fmt.Errorf("%w: %q", content.ErrUnknownKind, kind)
	}
}

func (r *PostgresRegistry) questCount(ctx context.Context, tn *tenant.Tenant, questID, userID int64) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT count(*)
		FROM quest_submissions
		WHERE tenant_id = $1 AND user_id = $2 AND quest_id = $3
		  AND semester_id = $4 AND status = 'approved'
	`, tn.ID, userID, questID, tn.ActiveSemesterID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count approved submissions: %w", err)
	}
	return n, nil
}

func (r *PostgresRegistry) badgeCount(ctx context.Context, tn *tenant.Tenant, badgeID, userID int64) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT count(*)
		FROM badge_assertions
		WHERE tenant_id = $1 AND user_id = $2 AND badge_id = $3 AND semester_id = $4
	`, tn.ID, userID, badgeID, tn.ActiveSemesterID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count badge assertions: %w", err)
	}
	return n, nil
}

// rankCount compares the user's semester XP against the rank threshold.
// XP is derived, never stored: the sum of XP over approved submissions plus
// XP over granted badges, all within the active semester. A missing rank id
// yields count 0 rather than an error.
func (r *PostgresRegistry) rankCount(ctx context.Context, tn *tenant.Tenant, rankID, userID int64) (int, error) {
	var threshold int
	err := r.db.QueryRow(ctx, `
		SELECT xp_threshold FROM ranks WHERE tenant_id = $1 AND id = $2
	`, tn.ID, rankID).Scan(&threshold)
	if errors.Is(err, pgx.ErrNoRows) {
		// The rank was deleted; dependent clauses evaluate against zero.
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load rank threshold: %w", err)
	}

	xp, err := r.semesterXP(ctx, tn, userID)
	if err != nil {
		return 0, err
	}

	if xp >= threshold {
		return 1, nil
	}
	return 0, nil
}

// semesterXP computes the user's cumulative XP in the active semester.
func (r *PostgresRegistry) semesterXP(ctx context.Context, tn *tenant.Tenant, userID int64) (int, error) {
	var xp int
	err := r.db.QueryRow(ctx, `
		SELECT
			COALESCE((
				SELECT sum(q.xp)
				FROM quest_submissions s
				JOIN quests q ON q.id = s.quest_id
				WHERE s.tenant_id = $1 AND s.user_id = $2
				  AND s.semester_id = $3 AND s.status = 'approved'
			), 0)
			+
			COALESCE((
				SELECT sum(b.xp)
				FROM badge_assertions a
				JOIN badges b ON b.id = a.badge_id
				WHERE a.tenant_id = $1 AND a.user_id = $2 AND a.semester_id = $3
			), 0)
	`, tn.ID, userID, tn.ActiveSemesterID).Scan(&xp)
	if err != nil {
		return 0, fmt.Errorf("failed to compute semester xp: %w", err)
	}
	return xp, nil
}

func (r *PostgresRegistry) enrollmentCount(ctx context.Context, tn *tenant.Tenant, courseID, userID int64) (int, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM course_enrollments
			WHERE tenant_id = $1 AND user_id = $2 AND course_id = $3
			  AND semester_id = $4 AND active
		)
	`, tn.ID, userID, courseID, tn.ActiveSemesterID).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("failed to check course enrollment: %w", err)
	}
	if exists {
		return 1, nil
	}
	return 0, nil
}

// AllTargetIDs enumerates the active targets of one kind, ascending.
func (r *PostgresRegistry) AllTargetIDs(ctx context.Context, tn *tenant.Tenant, kind content.Kind) ([]int64, error) {
	var query string
	switch kind {
	case content.KindQuest:
		query = `SELECT id FROM quests WHERE tenant_id = $1 AND active ORDER BY id`
	case content.KindBadge:
		query = `SELECT id FROM badges WHERE tenant_id = $1 AND active ORDER BY id`
	case content.KindRank:
		query = `SELECT id FROM ranks WHERE tenant_id = $1 ORDER BY id`
	case content.KindCourseEnrollment:
		query = `SELECT id FROM courses WHERE tenant_id = $1 AND active ORDER BY id`
	default:
		return nil, fmt.Errorf("%w: %q", content.ErrUnknownKind, kind)
	}

	rows, err := r.db.Query(ctx, query, tn.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s targets: %w", kind, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan target id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return ids, nil
}

// ActiveUserIDs pages through the tenant's active users for batch jobs.
func (r *PostgresRegistry) ActiveUserIDs(ctx context.Context, tn *tenant.Tenant, afterID int64, limit int) ([]int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id FROM users
		WHERE tenant_id = $1 AND is_active AND id > $2
		ORDER BY id
		LIMIT $3
	`, tn.ID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to page users: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0, limit)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return ids, nil
}
