package wavwriter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteSamplesAndCloseProducesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")

	w, err := New(path)
	require.NoError(t, err)

	require.NoError(t, w.WriteSamples([]float32{0, 0.5, -0.5, 1, -1}))
	require.NoError(t, w.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(44)) // RIFF header is 44 bytes
}

func TestDitherToInt16StaysInRange(t *testing.T) {
	w := &Writer{rng: ditherSeed}
	for _, s := range []float32{-1, -0.5, 0, 0.5, 1} {
		got := w.ditherToInt16(s)
		assert.GreaterOrEqual(t, got, int16(-32767))
		assert.LessOrEqual(t, got, int16(32767))
	}
}

func TestDitherAdvancesRNGDeterministically(t *testing.T) {
	w1 := &Writer{rng: ditherSeed}
	w2 := &Writer{rng: ditherSeed}

	for i := 0; i < 10; i++ {
		assert.Equal(t, w1.ditherToInt16(0.1), w2.ditherToInt16(0.1))
	}
}
