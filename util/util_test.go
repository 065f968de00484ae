package util

import (
	"bufio"
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndReadJson(t *testing.T) {
	file := filepath.Join(t.TempDir(), "nested", "dir", "out.json")
	require.NoError(t, SaveJson(file, map[string]int{"a": 1}))

	out := map[string]int{}
	require.NoError(t, ReadJson(file, &out))
	assert.Equal(t, 1, out["a"])

	_, err := os.Stat(file + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestAppendJsonLine(t *testing.T) {
	file := filepath.Join(t.TempDir(), "lines.jsonl")
	require.NoError(t, AppendJsonLine(file, map[string]int{"n": 1}))
	require.NoError(t, AppendJsonLine(file, map[string]int{"n": 2}))

	f, err := os.Open(file)
	require.NoError(t, err)
	defer f.Close()
	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines++
	}
	assert.Equal(t, 2, lines)
}

func TestJsonHashIsStable(t *testing.T) {
	type c struct{ A, B float64 }
	assert.Equal(t, JsonHash(c{1, 2}), JsonHash(c{1, 2}))
	assert.NotEqual(t, JsonHash(c{1, 2}), JsonHash(c{1, 3}))
}

func TestFiniteHelpers(t *testing.T) {
	assert.True(t, AllFinite([]float64{0, -1, 1e300}))
	assert.False(t, AllFinite([]float64{0, math.NaN()}))
	assert.False(t, IsFinite(math.Inf(-1)))
	assert.Equal(t, 2.0, Clamp(5, -2, 2))
	assert.Equal(t, -2.0, Clamp(-5, -2, 2))
}

func TestCopyStringFloatsMap(t *testing.T) {
	in := map[string][]float64{"w": {1, 2}}
	out := CopyStringFloatsMap(in)
	in["w"][0] = 9
	assert.Equal(t, []float64{1, 2}, out["w"])
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestProgressPrinterFallback(t *testing.T) {
	out := &lockedBuffer{}
	p := NewProgressPrinter(time.Hour, false, out)
	line := p.NewOutput()
	line.Set("episode 1")
	assert.Equal(t, "episode 1", line.Get())

	p.Start(context.Background())
	p.Stop()
	p.Stop()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "episode 1")
	}, time.Second, 5*time.Millisecond)
}
