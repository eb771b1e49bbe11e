// Пакет nas — выгрузка завершённых запусков на сетевой SMB-ресурс
// и локальная очистка подтверждённо выгруженных данных.
package nas

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MarkerName — файл-маркер успешной выгрузки внутри директории запуска.
// Его наличие — строгое предусловие локального удаления.
const MarkerName = "UPLOAD_DONE"

// Config — единственная активная цель выгрузки. Заменяется целиком
// операцией setup; пароль в конфигурации не хранится.
type Config struct {
	Host          string `json:"host"`
	Share         string `json:"share"`
	Username      string `json:"username"`
	CredPath      string `json:"cred_path"`
	BaseSubdir    string `json:"base_subdir"`
	MountRoot     string `json:"mount_root"`
	RetentionDays int    `json:"retention_days"`
	CIFSVers      string `json:"cifs_vers"`
	Domain        string `json:"domain,omitempty"`
}

// UNC возвращает адрес ресурса вида //host/share.
func (c *Config) UNC() string {
	return fmt.Sprintf("//%s/%s", strings.Trim(c.Host, "/"), strings.Trim(c.Share, "/"))
}

// LoadConfig читает конфигурацию. Отсутствие файла не ошибка:
// возвращается nil-конфигурация.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("конфигурация SMB повреждена: %w", err)
	}
	return &cfg, nil
}

// SaveConfig атомарно записывает конфигурацию с правами 0600.
func SaveConfig(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// WriteCredentials записывает файл учётных данных для mount.cifs
// с правами 0600. Пароль нигде больше не сохраняется.
func WriteCredentials(path, username, password, domain string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	lines := []string{"username=" + username, "password=" + password}
	if domain != "" {
		lines = append(lines, "domain="+domain)
	}
	content := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return err
	}
	// страховка: WriteFile не меняет права существующего файла
	return os.Chmod(path, 0o600)
}
