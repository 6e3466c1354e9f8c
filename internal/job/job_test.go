package job

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benchrunr/api/internal/apperrors"
	"github.com/benchrunr/api/internal/config"
	"github.com/benchrunr/api/internal/ports"
	"github.com/benchrunr/api/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScript stages an executable stand-in for the workload command. The
// spawn arguments (run --wasmcfgfile ...) are ignored by the scripts.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cmd.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755))
	return path
}

func testConfig(t *testing.T, command string) *config.Config {
	t.Helper()
	return &config.Config{
		Command:       command,
		MaxJobs:       4,
		ReadTimeout:   500 * time.Millisecond,
		TempDirectory: t.TempDir(),
	}
}

// stagedFiles fakes the ingest output the job takes ownership of.
func stagedFiles(t *testing.T, cfg *config.Config) (string, string) {
	t.Helper()
	wasm := filepath.Join(cfg.TempDirectory, "workload.wasm")
	toml := filepath.Join(cfg.TempDirectory, "workload.toml")
	require.NoError(t, os.WriteFile(wasm, []byte{0x00, 0x61, 0x73, 0x6d}, 0644))
	require.NoError(t, os.WriteFile(toml, []byte("[[files]]\nkind = \"stdout\"\n"), 0644))
	return wasm, toml
}

func TestSpawnProducesOutput(t *testing.T) {
	cfg := testConfig(t, writeScript(t, "echo hello\nsleep 5\n"))
	registry := ports.NewRegistry()
	m := NewManager(cfg, registry)
	wasm, toml := stagedFiles(t, cfg)

	j, err := m.Spawn("job-1", wasm, toml, nil)
	require.NoError(t, err)
	defer j.Kill()

	assert.Equal(t, 1, m.Count())
	assert.Equal(t, types.PhaseRunning, j.Phase())

	buf := make([]byte, 4096)
	var got []byte
	require.Eventually(t, func() bool {
		n, err := j.Read(types.StreamStdout, buf)
		if err != nil {
			return false
		}
		got = append(got, buf[:n]...)
		return len(got) > 0
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, "hello\n", string(got))
}

func TestReadBeforeOutputReturnsZero(t *testing.T) {
	cfg := testConfig(t, writeScript(t, "sleep 5\n"))
	m := NewManager(cfg, ports.NewRegistry())
	wasm, toml := stagedFiles(t, cfg)

	j, err := m.Spawn("job-1", wasm, toml, nil)
	require.NoError(t, err)
	defer j.Kill()

	start := time.Now()
	n, err := j.Read(types.StreamStdout, make([]byte, 4096))
	require.NoError(t, err, "deadline must not surface as an error")
	assert.Zero(t, n)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestReadStderr(t *testing.T) {
	cfg := testConfig(t, writeScript(t, "echo oops >&2\nsleep 5\n"))
	m := NewManager(cfg, ports.NewRegistry())
	wasm, toml := stagedFiles(t, cfg)

	j, err := m.Spawn("job-1", wasm, toml, nil)
	require.NoError(t, err)
	defer j.Kill()

	buf := make([]byte, 4096)
	var got []byte
	require.Eventually(t, func() bool {
		n, err := j.Read(types.StreamStderr, buf)
		if err != nil {
			return false
		}
		got = append(got, buf[:n]...)
		return len(got) > 0
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, "oops\n", string(got))
}

func TestKillReleasesPortsExactlyOnce(t *testing.T) {
	cfg := testConfig(t, writeScript(t, "sleep 5\n"))
	registry := ports.NewRegistry()
	m := NewManager(cfg, registry)
	wasm, toml := stagedFiles(t, cfg)

	reserved := []uint16{5000, 5001}
	require.Nil(t, registry.TryReserve("job-1", reserved))

	j, err := m.Spawn("job-1", wasm, toml, reserved)
	require.NoError(t, err)

	// Kill racing with itself and with natural-exit reaping.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.Kill()
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, m.Count())
	assert.Equal(t, 0, registry.Count())
	assert.Equal(t, types.PhaseKilled, j.Phase())

	// The freed ports are immediately reservable by another job.
	require.Nil(t, registry.TryReserve("job-2", reserved))
}

func TestNaturalExitReaps(t *testing.T) {
	cfg := testConfig(t, writeScript(t, "exit 0\n"))
	registry := ports.NewRegistry()
	m := NewManager(cfg, registry)
	wasm, toml := stagedFiles(t, cfg)

	require.Nil(t, registry.TryReserve("job-1", []uint16{6000}))
	j, err := m.Spawn("job-1", wasm, toml, []uint16{6000})
	require.NoError(t, err)

	select {
	case <-j.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("workload did not exit")
	}

	assert.Equal(t, 0, m.Count())
	assert.Equal(t, 0, registry.Count())
	assert.Equal(t, types.PhaseExited, j.Phase())

	// Staged files go with the job.
	_, err = os.Stat(wasm)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	_, err = os.Stat(toml)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestReadAfterExitReturnsZero(t *testing.T) {
	cfg := testConfig(t, writeScript(t, "echo done\n"))
	m := NewManager(cfg, ports.NewRegistry())
	wasm, toml := stagedFiles(t, cfg)

	j, err := m.Spawn("job-1", wasm, toml, nil)
	require.NoError(t, err)

	select {
	case <-j.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("workload did not exit")
	}

	buf := make([]byte, 4096)

	// Drain the final output, then the stream reports empty, not failed.
	require.Eventually(t, func() bool {
		n, err := j.Read(types.StreamStdout, buf)
		return err == nil && n == 0
	}, 3*time.Second, 10*time.Millisecond)
}

func TestSpawnFailure(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "does-not-exist"))
	m := NewManager(cfg, ports.NewRegistry())
	wasm, toml := stagedFiles(t, cfg)

	_, err := m.Spawn("job-1", wasm, toml, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInternal))
	assert.Equal(t, 0, m.Count())
}
