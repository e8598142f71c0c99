package repository

import (
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/domain"
)

// schedulePayload 为 weekly_schedules.payload 列中保存的 JSON
type schedulePayload struct {
	Schedules            []domain.EmployeeDaySchedule `json:"schedules"`
	DailySummaries       []domain.DayScheduleSummary  `json:"dailySummaries"`
	ComplianceViolations []domain.ComplianceViolation `json:"complianceViolations"`
}

func encodePayload(result *domain.WeeklyScheduleResult) ([]byte, error) {
	return json.Marshal(schedulePayload{
		Schedules:            result.Schedules,
		DailySummaries:       result.DailySummaries,
		ComplianceViolations: result.ComplianceViolations,
	})
}

func decodePayload(data []byte, result *domain.WeeklyScheduleResult) error {
	payload := schedulePayload{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}

	result.Schedules = payload.Schedules
	result.DailySummaries = payload.DailySummaries
	result.ComplianceViolations = payload.ComplianceViolations
	return nil
}

func (r *Repository) GetWeeklySchedule(id int64) (*domain.WeeklyScheduleResult, error) {
	query := `
		SELECT store_name, week_start, week_end, open_time, close_time, payload,
		       total_weekly_cost, total_labor_hours, is_edited, created_at, version
		FROM weekly_schedules WHERE id = $1
	`

	ctx, cancel := r.queryContext()
	defer cancel()

	result := &domain.WeeklyScheduleResult{
		ID: id,
	}

	var payload []byte
	dst := []any{
		&result.StoreName, &result.WeekStart, &result.WeekEnd, &result.OpenTime, &result.CloseTime, &payload,
		&result.TotalWeeklyCost, &result.TotalLaborHours, &result.IsEdited, &result.CreatedAt, &result.Version,
	}
	if err := r.dbpool.QueryRowContext(ctx, query, id).Scan(dst...); err != nil {
		return nil, err
	}

	if err := decodePayload(payload, result); err != nil {
		return nil, err
	}

	return result, nil
}

// GetAllWeeklySchedules 只返回元数据，不包含每天的时段
func (r *Repository) GetAllWeeklySchedules() ([]*domain.WeeklyScheduleResult, error) {
	query := `
		SELECT id, store_name, week_start, week_end, open_time, close_time,
		       total_weekly_cost, total_labor_hours, is_edited, created_at, version
		FROM weekly_schedules ORDER BY week_start DESC, id DESC
	`

	ctx, cancel := r.queryContext()
	defer cancel()

	rows, err := r.dbpool.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]*domain.WeeklyScheduleResult, 0)
	for rows.Next() {
		result := &domain.WeeklyScheduleResult{}
		dst := []any{
			&result.ID, &result.StoreName, &result.WeekStart, &result.WeekEnd, &result.OpenTime, &result.CloseTime,
			&result.TotalWeeklyCost, &result.TotalLaborHours, &result.IsEdited, &result.CreatedAt, &result.Version,
		}
		if err := rows.Scan(dst...); err != nil {
			return nil, err
		}
		results = append(results, result)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

func (r *Repository) InsertWeeklySchedule(result *domain.WeeklyScheduleResult) error {
	payload, err := encodePayload(result)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO weekly_schedules (store_name, week_start, week_end, open_time, close_time, payload, total_weekly_cost, total_labor_hours)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, is_edited, created_at, version
	`

	ctx, cancel := r.queryContext()
	defer cancel()

	args := []any{result.StoreName, result.WeekStart, result.WeekEnd, result.OpenTime, result.CloseTime, payload, result.TotalWeeklyCost, result.TotalLaborHours}
	dst := []any{&result.ID, &result.IsEdited, &result.CreatedAt, &result.Version}
	if err := r.dbpool.QueryRowContext(ctx, query, args...).Scan(dst...); err != nil {
		return err
	}

	return nil
}

// UpdateWeeklySchedule 在同一个事务中保存排班并写入修改日志。
// result.Version 必须是读取时的版本，版本不一致时返回 ErrVersionConflict
func (r *Repository) UpdateWeeklySchedule(result *domain.WeeklyScheduleResult, log *domain.EditLog) error {
	payload, err := encodePayload(result)
	if err != nil {
		return err
	}

	ctx, cancel := r.transactionContext()
	defer cancel()

	tx, err := r.dbpool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `
		UPDATE weekly_schedules
		SET
			payload = $1,
			total_labor_hours = $2,
			is_edited = $3,
			version = version + 1
		WHERE id = $4 AND version = $5
		RETURNING version
	`

	args := []any{payload, result.TotalLaborHours, result.IsEdited, result.ID, result.Version}
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&result.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrVersionConflict
		}
		return err
	}

	if log != nil {
		log.ScheduleID = result.ID
		if err := insertEditLog(ctx, tx, log); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	return nil
}
