package cli

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/antigravity-dev/aurelia/internal/runtime"
)

func resolveDirs() (runtime.Dirs, error) {
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return runtime.Dirs{}, err
	}
	return runtime.Dirs{
		ProjectDir: abs,
		AureliaDir: filepath.Join(abs, ".aurelia"),
	}, nil
}

func pidFilePath(dirs runtime.Dirs) string {
	return filepath.Join(dirs.AureliaDir, "state", "pid")
}

func workflowYAMLPath(dirs runtime.Dirs) string {
	return filepath.Join(dirs.AureliaDir, "config", "workflow.yaml")
}

func eventsPath(dirs runtime.Dirs) string {
	return filepath.Join(dirs.AureliaDir, "logs", "events.jsonl")
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func readPIDFile(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	return pid, true
}
