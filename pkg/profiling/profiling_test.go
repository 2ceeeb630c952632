package profiling

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfiler(t *testing.T) {
	t.Run("should do nothing without paths", func(t *testing.T) {
		p := New("", "")
		require.NoError(t, p.Start())
		require.NoError(t, p.Stop())
	})

	t.Run("should write cpu and heap profiles", func(t *testing.T) {
		dir := t.TempDir()
		cpu, mem := filepath.Join(dir, "cpu.prof"), filepath.Join(dir, "mem.prof")
		p := New(cpu, mem)
		require.NoError(t, p.Start())
		require.NoError(t, p.Stop())

		for _, path := range []string{cpu, mem} {
			_, err := os.Stat(path)
			assert.NoError(t, err, path)
		}
	})
}

func TestFitProbe(t *testing.T) {
	probe := NewFitProbe("spectrum.txt")
	buf := make([]byte, 1<<20)
	time.Sleep(time.Millisecond)
	m := probe.Finish()

	assert.Equal(t, "spectrum.txt", m.Name)
	assert.GreaterOrEqual(t, m.Duration, time.Millisecond)
	assert.Len(t, buf, 1<<20)
	assert.Equal(t, 1.0, bToMb(1<<20))
}
