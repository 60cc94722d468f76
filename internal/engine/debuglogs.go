package engine

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"scanstep/internal/stepconfig"
)

// printDebugLogs streams every file under each database's log directory to
// the console, one group per file. It never affects the outcome.
func (e *Engine) printDebugLogs(cfg *stepconfig.Config) {
	for _, lang := range cfg.Languages {
		dir := filepath.Join(cfg.DatabasePath(lang), "log")
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			e.log.Infof("Directory %s does not exist.", dir)
			continue
		}
		e.walkLogDir(lang, dir)
	}
}

// walkLogDir recurses explicitly; entries come back sorted by name.
func (e *Engine) walkLogDir(lang, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		e.log.Warnf("Could not read %s: %v", dir, err)
		return
	}
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			e.walkLogDir(lang, path)
			continue
		}
		e.platform.StartGroup(fmt.Sprintf("CodeQL Debug Logs - %s - %s", lang, entry.Name()))
		if err := copyFile(e.platform.Writer(), path); err != nil {
			e.log.Warnf("Could not print %s: %v", path, err)
		}
		e.platform.EndGroup()
	}
}

func copyFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return err
	}
	_, err = fmt.Fprintln(w)
	return err
}
