package runner

import (
	"bytes"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/keejkrej/mupattern-engine/internal/logger"
	"github.com/keejkrej/mupattern-engine/internal/progress"
)

// errorTailLines bounds how much diagnostic output survives into a failed
// task's error text.
const errorTailLines = 5

// staleBinarySignature shows up when the installed worker binary predates a
// subcommand the engine asks for.
const staleBinarySignature = "unrecognized subcommand"

// Result is the reduced outcome of one worker run.
type Result struct {
	OK    bool
	Error string
	Logs  []string
}

// ProcessRunner launches the mupattern worker binary and reduces its exit to
// a Result. Once spawned, a worker runs to completion; there is no timeout
// and no cancellation.
type ProcessRunner struct {
	workerBin string
}

// NewProcessRunner creates a runner for the given worker binary path.
func NewProcessRunner(workerBin string) *ProcessRunner {
	if !filepath.IsAbs(workerBin) {
		if absPath, err := filepath.Abs(workerBin); err == nil {
			workerBin = absPath
		}
	}
	return &ProcessRunner{workerBin: filepath.Clean(workerBin)}
}

// Run executes the worker with the given arguments, forwarding every
// recognized progress event to onProgress. The first argument is the worker
// subcommand. Stdin is unused; stdout is captured; stderr carries the
// progress protocol.
func (r *ProcessRunner) Run(args []string, onProgress progress.Callback) Result {
	parser := progress.NewParser(onProgress)

	// #nosec G204 - the binary path comes from configuration and the
	// arguments are built by the request types, not free-form user input
	cmd := exec.Command(r.workerBin, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = parser

	logger.Debug("Spawning worker: %s %s", r.workerBin, strings.Join(args, " "))

	if err := cmd.Start(); err != nil {
		logger.Error("Failed to start worker: %v", err)
		return Result{Error: err.Error()}
	}

	err := cmd.Wait()
	parser.Flush()

	result := Result{Logs: parser.Lines()}
	if err == nil {
		result.OK = true
		return result
	}

	tail := parser.Tail(errorTailLines)
	if tail == "" {
		tail = err.Error()
	}
	if strings.Contains(tail, staleBinarySignature) && len(args) > 0 {
		tail += fmt.Sprintf("\nhint: the worker binary does not support %q; rebuild or update mupattern", args[0])
	}
	result.Error = tail

	logger.Debug("Worker exited with error: %v", err)
	return result
}
