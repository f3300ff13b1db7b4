package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/aristath/quorum/internal/config"
	"github.com/aristath/quorum/internal/directory"
	"github.com/aristath/quorum/internal/logging"
)

var (
	configPath string
	verbose    bool
)

// loadConfig reads --config when set, otherwise the conventional global and project files.
func loadConfig() (*config.QuorumConfig, error) {
	if configPath != "" {
		return config.Load("", configPath)
	}
	return config.LoadDefault()
}

// loadDirectory resolves the worker profile file: the flag wins, then the
// config's workers_file relative to the config file that named it.
func loadDirectory(cfg *config.QuorumConfig, flagPath string) (*directory.Directory, error) {
	path := flagPath
	if path == "" {
		path = cfg.WorkersFile
		if configPath != "" && !filepath.IsAbs(path) {
			path = filepath.Join(filepath.Dir(configPath), path)
		}
	}
	if path == "" {
		return nil, fmt.Errorf("no workers file configured (use --workers)")
	}
	return directory.Load(path)
}

// newLogger builds the CLI logger. While the TUI owns the terminal, logs go to a file.
func newLogger(tui bool) (*zap.Logger, string, error) {
	opts := logging.Options{Verbose: verbose, Console: true}
	var logPath string
	if tui {
		logPath = filepath.Join(os.TempDir(), "quorum.log")
		opts.OutputPaths = []string{logPath}
		opts.Console = false
	}
	logger, err := logging.New(opts)
	return logger, logPath, err
}

// readTask joins the positional args, or reads stdin when there are none.
func readTask(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.TrimSpace(strings.Join(args, " ")), nil
	}

	var b strings.Builder
	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		b.WriteString(scanner.Text())
		b.WriteString("\n")
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("reading task from stdin: %w", err)
	}

	task := strings.TrimSpace(b.String())
	if task == "" {
		return "", fmt.Errorf("no task given (pass it as arguments or on stdin)")
	}
	return task, nil
}
