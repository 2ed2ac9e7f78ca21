//go:build linux

package pty

import (
	"bytes"
	"errors"
	"io"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func spawnSh(t *testing.T, cols, rows uint16) Process {
	t.Helper()
	proc, err := Spawn(Options{Shell: "/bin/sh", Cols: cols, Rows: rows})
	require.NoError(t, err)
	t.Cleanup(func() {
		proc.Close()
		proc.KillAndReap(100 * time.Millisecond)
	})
	return proc
}

// readUntil accumulates output until it contains want or the deadline passes.
func readUntil(t *testing.T, proc Process, want string, within time.Duration) string {
	t.Helper()
	var out bytes.Buffer
	buf := make([]byte, 4096)
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		n, err := proc.Read(buf, 100*time.Millisecond)
		out.Write(buf[:n])
		if strings.Contains(out.String(), want) {
			return out.String()
		}
		if errors.Is(err, io.EOF) {
			break
		}
	}
	t.Fatalf("did not see %q in output: %q", want, out.String())
	return ""
}

func TestSpawnEcho(t *testing.T) {
	proc := spawnSh(t, 0, 0)
	assert.Greater(t, proc.Pid(), 0)

	_, err := proc.Write([]byte("echo hello-$((40+2))\n"), time.Second)
	require.NoError(t, err)

	readUntil(t, proc, "hello-42", 3*time.Second)
}

func TestReadTimeout(t *testing.T) {
	proc := spawnSh(t, 0, 0)
	// Drain the prompt.
	buf := make([]byte, 4096)
	for {
		if _, err := proc.Read(buf, 200*time.Millisecond); errors.Is(err, ErrTimeout) {
			break
		}
	}

	start := time.Now()
	n, err := proc.Read(buf, 50*time.Millisecond)
	assert.Zero(t, n)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestResizeAndSize(t *testing.T) {
	proc := spawnSh(t, 100, 30)

	cols, rows, err := proc.Size()
	require.NoError(t, err)
	assert.Equal(t, uint16(100), cols)
	assert.Equal(t, uint16(30), rows)

	require.NoError(t, proc.Resize(132, 43))
	cols, rows, err = proc.Size()
	require.NoError(t, err)
	assert.Equal(t, uint16(132), cols)
	assert.Equal(t, uint16(43), rows)

	_, err = proc.Write([]byte("stty size\n"), time.Second)
	require.NoError(t, err)
	readUntil(t, proc, "43 132", 3*time.Second)
}

func TestDefaultGeometry(t *testing.T) {
	proc := spawnSh(t, 0, 0)
	cols, rows, err := proc.Size()
	require.NoError(t, err)
	assert.Equal(t, DefaultCols, cols)
	assert.Equal(t, DefaultRows, rows)
}

func TestReadEOFAfterExit(t *testing.T) {
	proc := spawnSh(t, 0, 0)
	_, err := proc.Write([]byte("exit 3\n"), time.Second)
	require.NoError(t, err)

	buf := make([]byte, 4096)
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.True(t, time.Now().Before(deadline), "no EOF after exit")
		_, err := proc.Read(buf, 100*time.Millisecond)
		if errors.Is(err, io.EOF) {
			break
		}
	}

	code, err := proc.KillAndReap(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, code)
}

func TestKillAndReapTakesProcessGroup(t *testing.T) {
	proc := spawnSh(t, 0, 0)

	_, err := proc.Write([]byte("set +m\nsleep 300 &\necho \"BG<$!>\"\n"), time.Second)
	require.NoError(t, err)

	// set +m keeps the job in the shell's process group. The echoed command
	// line shows "$!" literally; only the expanded output matches the digits.
	bgPid := regexp.MustCompile(`BG<(\d+)>`)
	var out string
	require.Eventually(t, func() bool {
		buf := make([]byte, 4096)
		n, _ := proc.Read(buf, 50*time.Millisecond)
		out += string(buf[:n])
		return bgPid.MatchString(out)
	}, 3*time.Second, time.Millisecond, "no background pid in %q", out)
	child, err := strconv.Atoi(bgPid.FindStringSubmatch(out)[1])
	require.NoError(t, err)

	require.NoError(t, proc.Close())
	_, err = proc.KillAndReap(200 * time.Millisecond)
	require.NoError(t, err)

	assert.ErrorIs(t, unix.Kill(proc.Pid(), 0), unix.ESRCH)
	assert.Eventually(t, func() bool {
		return errors.Is(unix.Kill(child, 0), unix.ESRCH)
	}, 2*time.Second, 20*time.Millisecond, "background job survived")
}

func TestKillAndReapIdempotent(t *testing.T) {
	proc := spawnSh(t, 0, 0)
	first, err := proc.KillAndReap(100 * time.Millisecond)
	require.NoError(t, err)
	second, err := proc.KillAndReap(100 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestClosedProcess(t *testing.T) {
	proc := spawnSh(t, 0, 0)
	require.NoError(t, proc.Close())
	require.NoError(t, proc.Close())

	_, err := proc.Read(make([]byte, 16), 10*time.Millisecond)
	assert.Error(t, err)
	_, err = proc.Write([]byte("x"), 10*time.Millisecond)
	assert.Error(t, err)
	assert.Error(t, proc.Resize(80, 24))
}

func TestSpawnMissingShell(t *testing.T) {
	_, err := Spawn(Options{Shell: "/nonexistent/shell"})
	assert.Error(t, err)
}
