package nas

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Mounter подключает и отключает сетевой ресурс в точке монтирования.
type Mounter interface {
	Mount(ctx context.Context, cfg *Config, mountPoint string, readOnly bool) error
	Unmount(mountPoint string) error
}

// cifsMounter монтирует SMB-ресурс через mount.cifs.
type cifsMounter struct {
	log *slog.Logger
}

// NewCIFSMounter создаёт системный CIFS-монтировщик.
func NewCIFSMounter(log *slog.Logger) Mounter {
	return &cifsMounter{log: log}
}

func (m *cifsMounter) Mount(ctx context.Context, cfg *Config, mountPoint string, readOnly bool) error {
	if err := os.MkdirAll(mountPoint, 0o755); err != nil {
		return err
	}
	opts := []string{
		"credentials=" + cfg.CredPath,
		"vers=" + cfg.CIFSVers,
		"iocharset=utf8",
		fmt.Sprintf("uid=%d", os.Getuid()),
		fmt.Sprintf("gid=%d", os.Getgid()),
		"file_mode=0644",
		"dir_mode=0755",
		"noserverino",
	}
	if readOnly {
		opts = append(opts, "ro")
	}
	cmd := exec.CommandContext(ctx, "mount", "-t", "cifs", cfg.UNC(), mountPoint, "-o", strings.Join(opts, ","))
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("mount %s: %w: %s", cfg.UNC(), err, strings.TrimSpace(string(out)))
	}
	m.log.Debug("смонтирован ресурс", "unc", cfg.UNC(), "mount_point", mountPoint, "ro", readOnly)
	return nil
}

func (m *cifsMounter) Unmount(mountPoint string) error {
	if _, err := os.Stat(mountPoint); err != nil {
		return nil
	}
	// ленивое отмонтирование на случай открытых дескрипторов
	out, err := exec.Command("umount", "-l", mountPoint).CombinedOutput()
	if err != nil {
		return fmt.Errorf("umount %s: %w: %s", mountPoint, err, strings.TrimSpace(string(out)))
	}
	return nil
}
