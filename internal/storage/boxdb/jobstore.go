package boxdb

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sevalab/boxd/internal/domain/model"
)

// JobStore — журнал запусков и слот-задач. Записывается насквозь при
// каждом изменении состояния, читается целиком при старте сервиса.
type JobStore struct {
	db *DB
}

// NewJobStore создаёт журнал поверх открытой базы.
func NewJobStore(db *DB) *JobStore {
	return &JobStore{db: db}
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// SaveRun сохраняет запуск и все его слот-задачи одной транзакцией.
func (s *JobStore) SaveRun(r *model.Run) error {
	modes, err := json.Marshal(struct {
		Modes  []string                  `json:"modes"`
		Params map[string]map[string]any `json:"params_by_mode"`
	}{Modes: r.Modes, Params: r.ParamsByMode})
	if err != nil {
		return fmt.Errorf("сериализация режимов: %w", err)
	}

	tx, err := s.db.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO runs(run_id, group_id, group_folder, modes, root_dir, started_at, ended_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(run_id) DO UPDATE SET ended_at=excluded.ended_at`,
		r.RunID, r.GroupID, r.GroupFolder, string(modes), r.RootDir,
		fmtTime(r.StartedAt), fmtTime(r.EndedAt),
	)
	if err != nil {
		return err
	}

	for _, j := range r.Jobs {
		files, err := json.Marshal(j.Files)
		if err != nil {
			return err
		}
		_, err = tx.Exec(
			`INSERT INTO slot_jobs(run_id, slot, state, completed_modes, started_at, ended_at, message, files)
			 VALUES(?,?,?,?,?,?,?,?)
			 ON CONFLICT(run_id, slot) DO UPDATE SET
			   state=excluded.state,
			   completed_modes=excluded.completed_modes,
			   started_at=excluded.started_at,
			   ended_at=excluded.ended_at,
			   message=excluded.message,
			   files=excluded.files`,
			r.RunID, j.Slot, string(j.State), j.CompletedModes,
			fmtTime(j.StartedAt), fmtTime(j.EndedAt), j.Message, string(files),
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadAll читает все запуски с их слот-задачами.
func (s *JobStore) LoadAll() ([]*model.Run, error) {
	rows, err := s.db.db.Query(
		`SELECT run_id, group_id, group_folder, modes, root_dir, started_at, ended_at
		 FROM runs ORDER BY started_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[string]*model.Run)
	var runs []*model.Run
	for rows.Next() {
		var r model.Run
		var modesRaw, started, ended string
		if err := rows.Scan(&r.RunID, &r.GroupID, &r.GroupFolder, &modesRaw, &r.RootDir, &started, &ended); err != nil {
			return nil, err
		}
		var payload struct {
			Modes  []string                  `json:"modes"`
			Params map[string]map[string]any `json:"params_by_mode"`
		}
		if err := json.Unmarshal([]byte(modesRaw), &payload); err != nil {
			return nil, fmt.Errorf("запись запуска %s повреждена: %w", r.RunID, err)
		}
		r.Modes = payload.Modes
		r.ParamsByMode = payload.Params
		r.StartedAt = parseTime(started)
		r.EndedAt = parseTime(ended)
		byID[r.RunID] = &r
		runs = append(runs, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	jrows, err := s.db.db.Query(
		`SELECT run_id, slot, state, completed_modes, started_at, ended_at, message, files
		 FROM slot_jobs ORDER BY run_id, slot`)
	if err != nil {
		return nil, err
	}
	defer jrows.Close()
	for jrows.Next() {
		var runID, slot, state, started, ended, message, filesRaw string
		var completed int
		if err := jrows.Scan(&runID, &slot, &state, &completed, &started, &ended, &message, &filesRaw); err != nil {
			return nil, err
		}
		r, ok := byID[runID]
		if !ok {
			continue
		}
		j := &model.SlotJob{
			Slot:           slot,
			State:          model.JobState(state),
			CompletedModes: completed,
			StartedAt:      parseTime(started),
			EndedAt:        parseTime(ended),
			Message:        message,
		}
		if filesRaw != "" {
			_ = json.Unmarshal([]byte(filesRaw), &j.Files)
		}
		r.Jobs = append(r.Jobs, j)
	}
	return runs, jrows.Err()
}


// RecoverInterrupted помечает незавершённые на момент старта сервиса
// слот-задачи как failed: перезапуск процесса прерывает измерение,
// возобновить его нельзя. Возвращает число затронутых задач.
func (s *JobStore) RecoverInterrupted(now time.Time) (int, error) {
	res, err := s.db.db.Exec(
		`UPDATE slot_jobs SET state=?, message=?, ended_at=?
		 WHERE state IN (?,?)`,
		string(model.StateFailed), "прервано перезапуском сервиса", fmtTime(now),
		string(model.StateQueued), string(model.StateRunning),
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		_, err = s.db.db.Exec(
			`UPDATE runs SET ended_at=? WHERE ended_at='' AND run_id IN
			   (SELECT run_id FROM slot_jobs WHERE message=?)`,
			fmtTime(now), "прервано перезапуском сервиса",
		)
		if err != nil {
			return int(n), err
		}
	}
	return int(n), nil
}
