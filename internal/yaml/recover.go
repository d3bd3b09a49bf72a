package yaml

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/msageha/dbtpilot/internal/log"
)

// QuarantineDir holds corrupted files moved aside by Quarantine.
const QuarantineDir = "quarantine"

// Quarantine moves filePath into <dataDir>/quarantine and returns the new
// location.
func Quarantine(dataDir, filePath string) (string, error) {
	dir := filepath.Join(dataDir, QuarantineDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create quarantine dir: %w", err)
	}

	name := fmt.Sprintf("%s.%s.corrupt", filepath.Base(filePath), time.Now().Format("20060102T150405.000"))
	dst := filepath.Join(dir, name)
	if err := os.Rename(filePath, dst); err != nil {
		return "", fmt.Errorf("move to quarantine: %w", err)
	}
	return dst, nil
}

// RestoreFromBackup replaces filePath with its .bak copy when that copy is
// valid YAML.
func RestoreFromBackup(filePath string) error {
	content, err := os.ReadFile(BackupPath(filePath))
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	if err := validateYAML(content); err != nil {
		return fmt.Errorf("backup is also corrupted: %w", err)
	}
	if err := os.WriteFile(filePath, content, 0644); err != nil {
		return fmt.Errorf("restore from backup: %w", err)
	}
	return nil
}

// Recover quarantines a corrupted filePath, then restores the backup or,
// failing that, writes skeleton in its place.
func Recover(dataDir, filePath string, skeleton any) error {
	logger := log.WithName("yaml")

	quarantined, err := Quarantine(dataDir, filePath)
	if err != nil {
		return fmt.Errorf("quarantine failed: %w", err)
	}
	logger.Warn("quarantined corrupted file", "path", filePath, "moved_to", quarantined)

	err = RestoreFromBackup(filePath)
	if err == nil {
		logger.Info("restored from backup", "path", filePath)
		return nil
	}
	logger.Warn("backup restore failed, writing defaults", "path", filePath, "error", err.Error())

	if err := AtomicWrite(filePath, skeleton); err != nil {
		return fmt.Errorf("write defaults: %w", err)
	}
	return nil
}
