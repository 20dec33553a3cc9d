package goals

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/perfdesk/perfdesk/internal/platform/db"
)

// ErrDuplicateAssignment indicates a goal already has an assignment for
// the same assignee.
var ErrDuplicateAssignment = errors.New("goals: assignment already exists")

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

type sqlRepository struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL-backed goal repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &sqlRepository{db: pool, pool: pool}
}

func (r *sqlRepository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	if _, ok := r.db.(pgx.Tx); ok {
		// Already transactional; nested WithTx joins the outer transaction.
		return fn(ctx, r)
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &sqlRepository{db: tx, pool: r.pool})
	})
}

const goalColumns = `id, title, description, kind, owner_id, organization_id, created_by, parent_goal_id,
start_date, end_date, quarter, year, status, progress_percentage,
frozen, frozen_at, frozen_by, scheduled_unfreeze_at,
approved_by, approved_at, rejection_reason, achieved_at, discarded_at, created_at, updated_at`

func scanGoal(row pgx.Row) (*Goal, error) {
	var g Goal
	var kind, status string
	var quarter *string
	err := row.Scan(&g.ID, &g.Title, &g.Description, &kind, &g.OwnerID, &g.OrganizationID, &g.CreatedBy, &g.ParentGoalID,
		&g.StartDate, &g.EndDate, &quarter, &g.Year, &status, &g.ProgressPercentage,
		&g.Frozen, &g.FrozenAt, &g.FrozenBy, &g.ScheduledUnfreezeAt,
		&g.ApprovedBy, &g.ApprovedAt, &g.RejectionReason, &g.AchievedAt, &g.DiscardedAt, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}
	g.Kind = GoalKind(kind)
	g.Status = GoalStatus(status)
	if quarter != nil {
		q := Quarter(*quarter)
		g.Quarter = &q
	}
	return &g, nil
}

func (r *sqlRepository) GetGoal(ctx context.Context, id uuid.UUID) (*Goal, error) {
	g, err := scanGoal(r.db.QueryRow(ctx, `SELECT `+goalColumns+` FROM goals WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return g, nil
}

func (r *sqlRepository) InsertGoal(ctx context.Context, g Goal) error {
	_, err := r.db.Exec(ctx, `INSERT INTO goals (`+goalColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)`,
		g.ID, g.Title, g.Description, string(g.Kind), g.OwnerID, g.OrganizationID, g.CreatedBy, g.ParentGoalID,
		g.StartDate, g.EndDate, quarterPtr(g.Quarter), g.Year, string(g.Status), g.ProgressPercentage,
		g.Frozen, g.FrozenAt, g.FrozenBy, g.ScheduledUnfreezeAt,
		g.ApprovedBy, g.ApprovedAt, g.RejectionReason, g.AchievedAt, g.DiscardedAt, g.CreatedAt, g.UpdatedAt)
	return err
}

func (r *sqlRepository) UpdateGoal(ctx context.Context, g *Goal) error {
	now := time.Now()
	g.UpdatedAt = &now
	tag, err := r.db.Exec(ctx, `UPDATE goals SET
title=$2, description=$3, owner_id=$4, organization_id=$5, parent_goal_id=$6,
start_date=$7, end_date=$8, quarter=$9, year=$10, status=$11, progress_percentage=$12,
frozen=$13, frozen_at=$14, frozen_by=$15, scheduled_unfreeze_at=$16,
approved_by=$17, approved_at=$18, rejection_reason=$19, achieved_at=$20, discarded_at=$21, updated_at=$22
WHERE id=$1`,
		g.ID, g.Title, g.Description, g.OwnerID, g.OrganizationID, g.ParentGoalID,
		g.StartDate, g.EndDate, quarterPtr(g.Quarter), g.Year, string(g.Status), g.ProgressPercentage,
		g.Frozen, g.FrozenAt, g.FrozenBy, g.ScheduledUnfreezeAt,
		g.ApprovedBy, g.ApprovedAt, g.RejectionReason, g.AchievedAt, g.DiscardedAt, g.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sqlRepository) DeleteGoal(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM goals WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sqlRepository) ListChildren(ctx context.Context, parentID uuid.UUID) ([]Goal, error) {
	rows, err := r.db.Query(ctx, `SELECT `+goalColumns+` FROM goals WHERE parent_goal_id=$1 ORDER BY created_at`, parentID)
	if err != nil {
		return nil, err
	}
	return collectGoals(rows)
}

func (r *sqlRepository) CountChildren(ctx context.Context, parentID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM goals WHERE parent_goal_id=$1`, parentID).Scan(&n)
	return n, err
}

func (r *sqlRepository) ListGoals(ctx context.Context, f ListFilter) ([]Goal, error) {
	query := `SELECT ` + goalColumns + ` FROM goals WHERE 1=1`
	var args []interface{}
	if f.Kind != nil {
		args = append(args, string(*f.Kind))
		query += ` AND kind=$` + strconv.Itoa(len(args))
	}
	if f.Status != nil {
		args = append(args, string(*f.Status))
		query += ` AND status=$` + strconv.Itoa(len(args))
	}
	if f.OwnerID != nil {
		args = append(args, *f.OwnerID)
		query += ` AND owner_id=$` + strconv.Itoa(len(args))
	}
	if len(f.OwnerIDs) > 0 {
		args = append(args, f.OwnerIDs)
		query += ` AND owner_id = ANY($` + strconv.Itoa(len(args)) + `)`
	}
	if f.CreatedBy != nil {
		args = append(args, *f.CreatedBy)
		query += ` AND created_by=$` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectGoals(rows)
}

func (r *sqlRepository) ListByQuarter(ctx context.Context, quarter Quarter, year int, frozen *bool) ([]Goal, error) {
	query := `SELECT ` + goalColumns + ` FROM goals WHERE quarter=$1 AND year=$2`
	args := []interface{}{string(quarter), year}
	if frozen != nil {
		query += ` AND frozen=$3`
		args = append(args, *frozen)
	}
	query += ` ORDER BY created_at`
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectGoals(rows)
}

func (r *sqlRepository) SetFrozen(ctx context.Context, ids []uuid.UUID, p FreezeParams) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var tag pgconn.CommandTag
	var err error
	if p.Frozen {
		tag, err = r.db.Exec(ctx, `UPDATE goals SET frozen=TRUE, frozen_at=$2, frozen_by=$3, scheduled_unfreeze_at=$4, updated_at=$2
WHERE id = ANY($1) AND frozen=FALSE`, ids, p.At, p.By, p.ScheduledUnfreezeAt)
	} else {
		tag, err = r.db.Exec(ctx, `UPDATE goals SET frozen=FALSE, frozen_at=NULL, frozen_by=NULL, scheduled_unfreeze_at=NULL, updated_at=$2
WHERE id = ANY($1) AND frozen=TRUE`, ids, p.At)
	}
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *sqlRepository) ListDueForUnfreeze(ctx context.Context, now time.Time) ([]Goal, error) {
	rows, err := r.db.Query(ctx, `SELECT `+goalColumns+` FROM goals
WHERE frozen=TRUE AND scheduled_unfreeze_at IS NOT NULL AND scheduled_unfreeze_at <= $1
ORDER BY scheduled_unfreeze_at`, now)
	if err != nil {
		return nil, err
	}
	return collectGoals(rows)
}

func (r *sqlRepository) InsertProgressReport(ctx context.Context, pr ProgressReport) error {
	_, err := r.db.Exec(ctx, `INSERT INTO goal_progress_reports (id, goal_id, old_percentage, new_percentage, report, updated_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`, pr.ID, pr.GoalID, pr.OldPercentage, pr.NewPercentage, pr.Report, pr.UpdatedBy, pr.CreatedAt)
	return err
}

func (r *sqlRepository) ListProgressReports(ctx context.Context, goalID uuid.UUID) ([]ProgressReport, error) {
	rows, err := r.db.Query(ctx, `SELECT id, goal_id, old_percentage, new_percentage, report, updated_by, created_at
FROM goal_progress_reports WHERE goal_id=$1 ORDER BY created_at`, goalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var reports []ProgressReport
	for rows.Next() {
		var pr ProgressReport
		if err := rows.Scan(&pr.ID, &pr.GoalID, &pr.OldPercentage, &pr.NewPercentage, &pr.Report, &pr.UpdatedBy, &pr.CreatedAt); err != nil {
			return nil, err
		}
		reports = append(reports, pr)
	}
	return reports, rows.Err()
}

func (r *sqlRepository) CountProgressReports(ctx context.Context, goalID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM goal_progress_reports WHERE goal_id=$1`, goalID).Scan(&n)
	return n, err
}

func (r *sqlRepository) InsertFreezeLog(ctx context.Context, l FreezeLog) error {
	_, err := r.db.Exec(ctx, `INSERT INTO goal_freeze_logs
(id, action, quarter, year, affected_goals_count, scheduled_unfreeze_at, is_emergency_override, emergency_reason, performed_by, performed_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		l.ID, string(l.Action), string(l.Quarter), l.Year, l.AffectedGoalsCount, l.ScheduledUnfreezeAt,
		l.IsEmergencyOverride, l.EmergencyReason, l.PerformedBy, l.PerformedAt)
	return err
}

func (r *sqlRepository) ListFreezeLogs(ctx context.Context, quarter *Quarter, year *int) ([]FreezeLog, error) {
	query := `SELECT id, action, quarter, year, affected_goals_count, scheduled_unfreeze_at, is_emergency_override, emergency_reason, performed_by, performed_at
FROM goal_freeze_logs WHERE 1=1`
	args := []interface{}{}
	if quarter != nil {
		args = append(args, string(*quarter))
		query += ` AND quarter=$` + strconv.Itoa(len(args))
	}
	if year != nil {
		args = append(args, *year)
		query += ` AND year=$` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY performed_at DESC`
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []FreezeLog
	for rows.Next() {
		var l FreezeLog
		var action, q string
		if err := rows.Scan(&l.ID, &action, &q, &l.Year, &l.AffectedGoalsCount, &l.ScheduledUnfreezeAt,
			&l.IsEmergencyOverride, &l.EmergencyReason, &l.PerformedBy, &l.PerformedAt); err != nil {
			return nil, err
		}
		l.Action = FreezeAction(action)
		l.Quarter = Quarter(q)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (r *sqlRepository) InsertAssignment(ctx context.Context, a Assignment) error {
	_, err := r.db.Exec(ctx, `INSERT INTO goal_assignments (id, goal_id, assigned_by, assigned_to, status, response_message, assigned_at, responded_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, a.ID, a.GoalID, a.AssignedBy, a.AssignedTo, string(a.Status), a.ResponseMessage, a.AssignedAt, a.RespondedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateAssignment
		}
		return err
	}
	return nil
}

func (r *sqlRepository) GetAssignment(ctx context.Context, goalID, assignedTo uuid.UUID) (*Assignment, error) {
	var a Assignment
	var status string
	err := r.db.QueryRow(ctx, `SELECT id, goal_id, assigned_by, assigned_to, status, response_message, assigned_at, responded_at
FROM goal_assignments WHERE goal_id=$1 AND assigned_to=$2`, goalID, assignedTo).
		Scan(&a.ID, &a.GoalID, &a.AssignedBy, &a.AssignedTo, &status, &a.ResponseMessage, &a.AssignedAt, &a.RespondedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.Status = GoalStatus(status)
	return &a, nil
}

func (r *sqlRepository) UpdateAssignment(ctx context.Context, a *Assignment) error {
	tag, err := r.db.Exec(ctx, `UPDATE goal_assignments SET status=$2, response_message=$3, responded_at=$4 WHERE id=$1`,
		a.ID, string(a.Status), a.ResponseMessage, a.RespondedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func collectGoals(rows pgx.Rows) ([]Goal, error) {
	defer rows.Close()
	var goals []Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		goals = append(goals, *g)
	}
	return goals, rows.Err()
}

func quarterPtr(q *Quarter) *string {
	if q == nil {
		return nil
	}
	s := string(*q)
	return &s
}
