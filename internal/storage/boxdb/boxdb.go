// Пакет boxdb — встроенная база сервиса: индекс директорий запусков
// и журнал задач, переживающие перезапуск процесса.
package boxdb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS run_paths (
    run_id   TEXT PRIMARY KEY,
    rel_path TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
    run_id       TEXT PRIMARY KEY,
    group_id     TEXT NOT NULL DEFAULT '',
    group_folder TEXT NOT NULL DEFAULT '',
    modes        TEXT NOT NULL,
    root_dir     TEXT NOT NULL,
    started_at   TEXT NOT NULL,
    ended_at     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS slot_jobs (
    run_id          TEXT NOT NULL,
    slot            TEXT NOT NULL,
    state           TEXT NOT NULL,
    completed_modes INTEGER NOT NULL DEFAULT 0,
    started_at      TEXT NOT NULL DEFAULT '',
    ended_at        TEXT NOT NULL DEFAULT '',
    message         TEXT NOT NULL DEFAULT '',
    files           TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (run_id, slot)
);

CREATE INDEX IF NOT EXISTS idx_slot_jobs_state ON slot_jobs(state);
`

// DB — открытая база сервиса.
type DB struct {
	db *sql.DB
}

// Open открывает базу по указанному пути и применяет схему.
func Open(path string) (*DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("путь базы данных не задан")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// одиночное соединение: sqlite плохо переносит конкурентных писателей
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	_, _ = db.Exec("PRAGMA busy_timeout = 5000")
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("не удалось применить схему: %w", err)
	}
	return &DB{db: db}, nil
}

// Close закрывает базу.
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}
