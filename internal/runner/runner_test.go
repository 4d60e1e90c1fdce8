package runner

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keejkrej/mupattern-engine/internal/logger"
)

func TestMain(m *testing.M) {
	logger.SetOutput(io.Discard)
	os.Exit(m.Run())
}

// shellRunner runs test scripts through /bin/sh in place of the worker
// binary.
func shellRunner(t *testing.T) *ProcessRunner {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("worker scripts require a POSIX shell")
	}
	return NewProcessRunner("/bin/sh")
}

func TestRunSuccess(t *testing.T) {
	r := shellRunner(t)

	result := r.Run([]string{"-c", "exit 0"}, nil)

	assert.True(t, result.OK)
	assert.Empty(t, result.Error)
	assert.Empty(t, result.Logs)
}

func TestRunFailureErrorIsDiagnosticTail(t *testing.T) {
	r := shellRunner(t)

	script := "echo 'error: bad bbox' >&2; echo 'error: aborting' >&2; exit 1"
	result := r.Run([]string{"-c", script}, nil)

	assert.False(t, result.OK)
	assert.Equal(t, "error: bad bbox\nerror: aborting", result.Error)
}

func TestRunFailureTailKeepsLastFiveLines(t *testing.T) {
	r := shellRunner(t)

	script := "for i in 1 2 3 4 5 6 7; do echo \"line $i\" >&2; done; exit 1"
	result := r.Run([]string{"-c", script}, nil)

	assert.False(t, result.OK)
	assert.Equal(t, "line 3\nline 4\nline 5\nline 6\nline 7", result.Error)
	// full output is still available as logs
	assert.Len(t, result.Logs, 7)
}

func TestRunFailureWithoutOutputUsesExitError(t *testing.T) {
	r := shellRunner(t)

	result := r.Run([]string{"-c", "exit 3"}, nil)

	assert.False(t, result.OK)
	assert.Contains(t, result.Error, "exit status 3")
}

func TestRunForwardsProgressEvents(t *testing.T) {
	r := shellRunner(t)

	var got []string
	script := `printf '{"progress":0.42,"message":"segmenting"}\n' >&2; exit 0`
	result := r.Run([]string{"-c", script}, func(p float64, msg string) {
		got = append(got, msg)
		assert.Equal(t, 0.42, p)
	})

	assert.True(t, result.OK)
	require.Equal(t, []string{"segmenting"}, got)
	// progress lines are not diagnostic log text
	assert.Empty(t, result.Logs)
}

func TestRunLaunchFailure(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "no-such-worker")
	r := NewProcessRunner(missing)

	result := r.Run([]string{"crop"}, nil)

	assert.False(t, result.OK)
	assert.NotEmpty(t, result.Error)
}

func TestRunStaleBinaryHint(t *testing.T) {
	r := shellRunner(t)

	script := `echo "error: unrecognized subcommand 'movie'" >&2; exit 2`
	result := r.Run([]string{"-c", script}, nil)

	assert.False(t, result.OK)
	assert.Contains(t, result.Error, "unrecognized subcommand")
	assert.Contains(t, result.Error, "rebuild or update mupattern")
}
