package report

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// CleanStale removes staging and retired directories left next to outDir
// by runs that were interrupted, when they are older than maxAge. It
// returns the number of directories removed.
func CleanStale(outDir string, maxAge time.Duration, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	parent := filepath.Dir(filepath.Clean(outDir))
	base := filepath.Base(filepath.Clean(outDir))

	entries, err := os.ReadDir(parent)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	threshold := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || !isLeftover(base, entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue // vanished since ReadDir
		}
		if info.ModTime().After(threshold) {
			continue
		}

		path := filepath.Join(parent, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			logger.Warn("failed to remove stale report directory", zap.String("path", path), zap.Error(err))
			continue
		}
		logger.Debug("stale report directory removed", zap.String("path", path))
		removed++
	}
	return removed, nil
}

// isLeftover matches <base>.staging-<run> and <base>.old-<run>.
func isLeftover(base, name string) bool {
	for _, infix := range []string{stagingInfix, retiredInfix} {
		prefix := base + infix
		if strings.HasPrefix(name, prefix) && len(name) > len(prefix) {
			return true
		}
	}
	return false
}
