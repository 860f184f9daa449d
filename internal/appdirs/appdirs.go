package appdirs

import (
	"os"
	"path/filepath"
)

const appDirName = "taskbench"

// DataDir is where sessions keep their logs, databases, and diagram output
// unless config points elsewhere. TASKBENCH_DATA_DIR overrides for tests.
func DataDir() (string, error) {
	if override := os.Getenv("TASKBENCH_DATA_DIR"); override != "" {
		return override, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, appDirName), nil
}

func SessionLogDir(dataDir string) string {
	return filepath.Join(dataDir, "session_logs")
}

func WorkspaceDir(dataDir string) string {
	return filepath.Join(dataDir, "workspace")
}

func DiagramDir(dataDir string) string {
	return filepath.Join(dataDir, "diagrams")
}
