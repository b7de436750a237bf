package servermgr

import (
	"fmt"
	"os"
)

// defaultLogByteBudget bounds a child's stderr log file before rotation.
const defaultLogByteBudget = 10 * 1024 * 1024 // 10MiB

// defaultLogBackups is the bounded number of historical rotated files kept
// alongside the active log (server.log.1, server.log.2, ...).
const defaultLogBackups = 3

// openChildLogFile opens (creating if necessary) the 0600 stderr log file
// for id under dir, rotating any existing file that exceeds budget bytes.
func openChildLogFile(dir, id string, budget int) (*os.File, error) {
	if budget <= 0 {
		budget = defaultLogByteBudget
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("servermgr: create log dir: %w", err)
	}
	path := fmt.Sprintf("%s/%s.log", dir, id)

	if fi, err := os.Stat(path); err == nil && fi.Size() > int64(budget) {
		rotateLogFile(path)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("servermgr: open log file %q: %w", path, err)
	}
	return f, nil
}

// rotateLogFile shifts path -> path.1 -> path.2 ... up to defaultLogBackups,
// dropping the oldest backup.
func rotateLogFile(path string) {
	oldest := fmt.Sprintf("%s.%d", path, defaultLogBackups)
	_ = os.Remove(oldest)
	for i := defaultLogBackups - 1; i >= 1; i-- {
		from := fmt.Sprintf("%s.%d", path, i)
		to := fmt.Sprintf("%s.%d", path, i+1)
		if _, err := os.Stat(from); err == nil {
			_ = os.Rename(from, to)
		}
	}
	_ = os.Rename(path, path+".1")
}
