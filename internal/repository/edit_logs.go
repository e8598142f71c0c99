package repository

import (
	"context"
	"database/sql"

	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/domain"
)

func insertEditLog(ctx context.Context, tx *sql.Tx, log *domain.EditLog) error {
	query := `
		INSERT INTO edit_logs (schedule_id, username, action, applied, failed)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	args := []any{log.ScheduleID, log.Username, log.Action, log.Applied, log.Failed}
	return tx.QueryRowContext(ctx, query, args...).Scan(&log.ID, &log.CreatedAt)
}

func (r *Repository) GetEditLogs(scheduleID int64) ([]*domain.EditLog, error) {
	query := `
		SELECT id, schedule_id, username, action, applied, failed, created_at
		FROM edit_logs WHERE schedule_id = $1
		ORDER BY created_at DESC, id DESC
	`

	return r.queryEditLogs(query, scheduleID)
}

// GetEditLogsByUsername 返回某个用户最近的 limit 条修改记录
func (r *Repository) GetEditLogsByUsername(username string, limit int) ([]*domain.EditLog, error) {
	query := `
		SELECT id, schedule_id, username, action, applied, failed, created_at
		FROM edit_logs WHERE username = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	return r.queryEditLogs(query, username, limit)
}

func (r *Repository) queryEditLogs(query string, args ...any) ([]*domain.EditLog, error) {
	ctx, cancel := r.queryContext()
	defer cancel()

	rows, err := r.dbpool.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]*domain.EditLog, 0)
	for rows.Next() {
		log := &domain.EditLog{}
		dst := []any{&log.ID, &log.ScheduleID, &log.Username, &log.Action, &log.Applied, &log.Failed, &log.CreatedAt}
		if err := rows.Scan(dst...); err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return logs, nil
}
