package dataio

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kacperjurak/goimpfit"
	"github.com/kacperjurak/goimpfit/pkg/models"
)

func TestReadColumns(t *testing.T) {
	t.Run("should parse columns and skip comments", func(t *testing.T) {
		input := "# f re im\n1000\t10\t1\n\n100 20 10 extra\n"
		s, err := ReadColumns(strings.NewReader(input))
		require.NoError(t, err)
		assert.Equal(t, []float64{1000, 100}, s.Freqs)
		assert.Equal(t, []complex128{complex(10, -1), complex(20, -10)}, s.Z)
	})

	t.Run("should reject short or non-numeric lines", func(t *testing.T) {
		_, err := ReadColumns(strings.NewReader("1 2\n"))
		assert.ErrorIs(t, err, goimpfit.ErrInvalidData)
		_, err = ReadColumns(strings.NewReader("1 2 x\n"))
		assert.ErrorIs(t, err, goimpfit.ErrInvalidData)
		_, err = ReadColumns(strings.NewReader("# only a comment\n"))
		assert.ErrorIs(t, err, goimpfit.ErrInvalidData)
	})
}

func TestParseCSV(t *testing.T) {
	t.Run("should take values three at a time", func(t *testing.T) {
		s, err := ParseCSV("1000,10,1\r\n100,20,10,\n")
		require.NoError(t, err)
		assert.Equal(t, []float64{1000, 100}, s.Freqs)
		assert.Equal(t, complex(20, -10), s.Z[1])
	})

	t.Run("should reject incomplete triples", func(t *testing.T) {
		_, err := ParseCSV("1,2,3,4")
		assert.ErrorIs(t, err, goimpfit.ErrInvalidData)
		_, err = ParseCSV("1,a,3")
		assert.ErrorIs(t, err, goimpfit.ErrInvalidData)
	})
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	want := goimpfit.Spectrum{
		Freqs: []float64{1e4, 10, 0.1},
		Z:     []complex128{complex(10, -0.5), complex(60, -30), complex(110, -1)},
	}

	t.Run("should read back written columns", func(t *testing.T) {
		path := filepath.Join(dir, "data.txt")
		var buf bytes.Buffer
		require.NoError(t, WriteColumns(&buf, want))
		require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

		got, err := LoadFile(path)
		require.NoError(t, err)
		require.Equal(t, want.Len(), got.Len())
		for i := range want.Z {
			assert.InEpsilon(t, want.Freqs[i], got.Freqs[i], 1e-9)
			assert.InEpsilon(t, real(want.Z[i]), real(got.Z[i]), 1e-9)
			assert.InEpsilon(t, imag(want.Z[i]), imag(got.Z[i]), 1e-9)
		}
		assert.Contains(t, buf.String(), "5.0000000000e-01", "imaginary part is written in the measured sign")
	})

	t.Run("should read csv files", func(t *testing.T) {
		path := filepath.Join(dir, "data.csv")
		require.NoError(t, os.WriteFile(path, []byte("10,1,2\n1,3,4\n"), 0o644))
		got, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, []complex128{complex(1, -2), complex(3, -4)}, got.Z)
	})

	t.Run("should name the file in errors", func(t *testing.T) {
		path := filepath.Join(dir, "bad.txt")
		require.NoError(t, os.WriteFile(path, []byte("1 2\n"), 0o644))
		_, err := LoadFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bad.txt")

		_, err = LoadFile(filepath.Join(dir, "missing.txt"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestWriteFitCSV(t *testing.T) {
	res := &goimpfit.Result{Freqs: []float64{100, 1}, Fitted: []complex128{complex(1, -2), complex(3, -4)}}
	var buf bytes.Buffer
	require.NoError(t, WriteFitCSV(&buf, res))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"frequency", "real", "imag"},
		{"100", "1", "-2"},
		{"1", "3", "-4"},
	}, records)
}

func TestWriteReport(t *testing.T) {
	report := models.FitReport{ID: "abc", Circuit: "R1", Parameters: []models.Parameter{{Name: "R0", Value: 5}}}
	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, report))

	var back models.FitReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &back))
	assert.Equal(t, "R1", back.Circuit)
	assert.Equal(t, 5.0, back.Parameters[0].Value)
}

func TestWriteTimings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "timing.csv")
	timings := []models.SpectrumTiming{
		{Iteration: 0, ProcessingTime: 1500 * time.Microsecond, ChiSquare: 1e-3, Success: true, CircuitCode: "R1"},
	}
	require.NoError(t, WriteTimings(path, timings))
	require.NoError(t, WriteTimings(path, timings))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3, "header is written once")
	assert.Equal(t, "Iteration", records[0][0])
	assert.Equal(t, []string{"0", "R1", "1.50", "1.000000e-03", "true"}, records[1])
}
