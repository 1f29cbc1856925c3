package evaluator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bytedeck/unlock-engine/internal/content"
	"github.com/bytedeck/unlock-engine/internal/prereq"
	"github.com/bytedeck/unlock-engine/internal/tenant"
)

// fakeRegistry serves attainment counts from a map keyed by (kind, id, user).
type fakeRegistry struct {
	counts map[string]int
	err    error
}

func countKey(kind content.Kind, id, userID int64) string {
	return fmt.Sprintf("%s/%d/%d", kind, id, userID)
}

func (f *fakeRegistry) AttainCount(_ context.Context, _ *tenant.Tenant, kind content.Kind, id, userID int64) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	if !kind.Valid() {
		return 0, fmt.Errorf("%w: %q", content.ErrUnknownKind, kind)
	}
	return f.counts[countKey(kind, id, userID)], nil
}

func (f *fakeRegistry) AllTargetIDs(context.Context, *tenant.Tenant, content.Kind) ([]int64, error) {
	return nil, nil
}

func (f *fakeRegistry) ActiveUserIDs(context.Context, *tenant.Tenant, int64, int) ([]int64, error) {
	return nil, nil
}

// fakeRows serves prereq rows from a map keyed by parent ref.
type fakeRows struct {
	rows map[content.Ref][]*prereq.Row
	err  error
}

func (f *fakeRows) ListForParent(_ context.Context, _ int64, parent content.Ref) ([]*prereq.Row, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rows[parent], nil
}

var (
	testTenant = &tenant.Tenant{ID: 1, Slug: "hackerspace", ActiveSemesterID: 1}
	questQ     = content.Ref{Kind: content.KindQuest, ID: 100}
)

func row(required content.Clause, alternate *content.Clause) *prereq.Row {
	return &prereq.Row{TenantID: 1, Parent: questQ, Required: required, Alternate: alternate}
}

func TestEvaluator_ConditionsMet(t *testing.T) {
	badgeB := content.Clause{Kind: content.KindBadge, ID: 1, Count: 1}
	badgeB2 := content.Clause{Kind: content.KindBadge, ID: 2, Count: 1}
	questQ0x1 := content.Clause{Kind: content.KindQuest, ID: 50, Count: 1}

	tests := []struct {
		name       string
		rows       []*prereq.Row
		counts     map[string]int
		userID     int64
		want       bool
		wantLogMsg string
	}{
		{
			name:   "no rows means unconditionally available",
			rows:   nil,
			counts: map[string]int{},
			userID: 7,
			want:   true,
		},
		{
			name:   "single required clause unmet",
			rows:   []*prereq.Row{row(badgeB, nil)},
			counts: map[string]int{},
			userID: 7,
			want:   false,
		},
		{
			name:   "single required clause met",
			rows:   []*prereq.Row{row(badgeB, nil)},
			counts: map[string]int{countKey(content.KindBadge, 1, 7): 1},
			userID: 7,
			want:   true,
		},
		{
			name:   "alternate clause rescues unmet required",
			rows:   []*prereq.Row{row(badgeB, &badgeB2)},
			counts: map[string]int{countKey(content.KindBadge, 2, 7): 1},
			userID: 7,
			want:   true,
		},
		{
			name:   "inverted clause met while count is zero",
			rows:   []*prereq.Row{row(content.Clause{Kind: content.KindBadge, ID: 1, Count: 1, Invert: true}, nil)},
			counts: map[string]int{},
			userID: 7,
			want:   true,
		},
		{
			name:   "inverted clause unmet once badge granted",
			rows:   []*prereq.Row{row(content.Clause{Kind: content.KindBadge, ID: 1, Count: 1, Invert: true}, nil)},
			counts: map[string]int{countKey(content.KindBadge, 1, 7): 1},
			userID: 7,
			want:   false,
		},
		{
			name:   "three identical rows emulate three approvals, two is not enough",
			rows:   []*prereq.Row{row(questQ0x1, nil), row(questQ0x1, nil), row(questQ0x1, nil)},
			counts: map[string]int{countKey(content.KindQuest, 50, 7): 2},
			userID: 7,
			want:   false,
		},
		{
			name:   "three identical rows satisfied by three approvals",
			rows:   []*prereq.Row{row(questQ0x1, nil), row(questQ0x1, nil), row(questQ0x1, nil)},
			counts: map[string]int{countKey(content.KindQuest, 50, 7): 3},
			userID: 7,
			want:   true,
		},
		{
			name:   "count threshold enforces repeated approvals",
			rows:   []*prereq.Row{row(content.Clause{Kind: content.KindQuest, ID: 50, Count: 3}, nil)},
			counts: map[string]int{countKey(content.KindQuest, 50, 7): 2},
			userID: 7,
			want:   false,
		},
		{
			name:   "conjunction fails when any row fails",
			rows:   []*prereq.Row{row(badgeB, nil), row(badgeB2, nil)},
			counts: map[string]int{countKey(content.KindBadge, 1, 7): 1},
			userID: 7,
			want:   false,
		},
		{
			name:       "unknown kind clause treated as never satisfied",
			rows:       []*prereq.Row{row(content.Clause{Kind: "announcement", ID: 1, Count: 1}, &badgeB2)},
			counts:     map[string]int{countKey(content.KindBadge, 2, 7): 1},
			userID:     7,
			want:       true, // alternate still rescues the row
			wantLogMsg: "skipping clause with unknown kind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logBuffer bytes.Buffer
			localLogger := slog.New(slog.NewTextHandler(&logBuffer, nil))

			eval := New(
				&fakeRows{rows: map[content.Ref][]*prereq.Row{questQ: tt.rows}},
				&fakeRegistry{counts: tt.counts},
				localLogger,
			)

			got, err := eval.ConditionsMet(context.Background(), testTenant, questQ, tt.userID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			if tt.wantLogMsg != "" {
				assert.Contains(t, logBuffer.String(), tt.wantLogMsg)
			}
		})
	}
}

func TestEvaluator_NOfEmulation(t *testing.T) {
	// Authors emulate "approved three times" with a count=3 clause.
	clause := content.Clause{Kind: content.KindQuest, ID: 50, Count: 3}
	reg := &fakeRegistry{counts: map[string]int{countKey(content.KindQuest, 50, 7): 2}}
	eval := New(&fakeRows{rows: map[content.Ref][]*prereq.Row{questQ: {row(clause, nil)}}}, reg, nil)

	got, err := eval.ConditionsMet(context.Background(), testTenant, questQ, 7)
	require.NoError(t, err)
	assert.False(t, got)

	// Third approval arrives.
	reg.counts[countKey(content.KindQuest, 50, 7)] = 3
	got, err = eval.ConditionsMet(context.Background(), testTenant, questQ, 7)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEvaluator_StorageErrorsPropagate(t *testing.T) {
	boom := errors.New("connection refused")

	t.Run("prereq store error", func(t *testing.T) {
		eval := New(&fakeRows{err: boom}, &fakeRegistry{}, nil)
		_, err := eval.ConditionsMet(context.Background(), testTenant, questQ, 7)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("registry error", func(t *testing.T) {
		rows := &fakeRows{rows: map[content.Ref][]*prereq.Row{
			questQ: {row(content.Clause{Kind: content.KindBadge, ID: 1, Count: 1}, nil)},
		}}
		eval := New(rows, &fakeRegistry{err: boom}, nil)
		_, err := eval.ConditionsMet(context.Background(), testTenant, questQ, 7)
		assert.ErrorIs(t, err, boom)
	})
}
