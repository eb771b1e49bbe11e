package boxdb

import (
	"database/sql"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// RunIndex — долговечный индекс run_id → относительный путь
// директории запуска.
type RunIndex struct {
	db *DB
}

// NewRunIndex создаёт индекс поверх открытой базы.
func NewRunIndex(db *DB) *RunIndex {
	return &RunIndex{db: db}
}

// Record записывает или обновляет путь запуска.
func (i *RunIndex) Record(runID, relPath string) error {
	_, err := i.db.db.Exec(
		`INSERT INTO run_paths(run_id, rel_path) VALUES(?,?)
		 ON CONFLICT(run_id) DO UPDATE SET rel_path=excluded.rel_path`,
		runID, relPath,
	)
	return err
}

// Forget удаляет запуск из индекса. Отсутствующая запись не ошибка.
func (i *RunIndex) Forget(runID string) error {
	_, err := i.db.db.Exec(`DELETE FROM run_paths WHERE run_id = ?`, runID)
	return err
}

// Resolve возвращает относительный путь запуска.
func (i *RunIndex) Resolve(runID string) (string, bool, error) {
	var rel string
	err := i.db.db.QueryRow(`SELECT rel_path FROM run_paths WHERE run_id = ?`, runID).Scan(&rel)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return rel, true, nil
}

// All возвращает все записи индекса.
func (i *RunIndex) All() (map[string]string, error) {
	rows, err := i.db.db.Query(`SELECT run_id, rel_path FROM run_paths`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var id, rel string
		if err := rows.Scan(&id, &rel); err != nil {
			return nil, err
		}
		out[id] = rel
	}
	return out, rows.Err()
}

// PruneMissing сверяет индекс с диском: записи, директории которых
// под root больше нет (например, удалена локальной очисткой),
// забываются. Возвращает число удалённых записей. Вызывается при
// старте сервиса.
func (i *RunIndex) PruneMissing(root string) (int, error) {
	entries, err := i.All()
	if err != nil {
		return 0, err
	}
	pruned := 0
	for id, rel := range entries {
		_, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
		if errors.Is(err, fs.ErrNotExist) {
			if err := i.Forget(id); err != nil {
				return pruned, err
			}
			pruned++
		}
	}
	return pruned, nil
}
