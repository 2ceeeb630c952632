// Package dataio reads measured spectra and writes fit results.
//
// Both input forms carry (frequency, Re, Im_measured) triples; the impedance
// is reconstructed as Re - j*Im_measured.
package dataio

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kacperjurak/goimpfit"
	"github.com/kacperjurak/goimpfit/pkg/models"
)

// LoadFile reads a whitespace separated three column file, or a comma
// separated one when path ends in .csv.
func LoadFile(path string) (goimpfit.Spectrum, error) {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		b, err := os.ReadFile(path)
		if err != nil {
			return goimpfit.Spectrum{}, err
		}
		s, err := ParseCSV(string(b))
		if err != nil {
			return goimpfit.Spectrum{}, fmt.Errorf("%s: %w", path, err)
		}
		return s, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return goimpfit.Spectrum{}, err
	}
	defer f.Close()

	s, err := ReadColumns(f)
	if err != nil {
		return goimpfit.Spectrum{}, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// ReadColumns parses "freq real imag" lines. Blank lines and lines starting
// with # are skipped, extra columns are ignored.
func ReadColumns(r io.Reader) (goimpfit.Spectrum, error) {
	var freqs, re, im []float64
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 3 {
			return goimpfit.Spectrum{}, fmt.Errorf("%w: line %d has %d columns, want 3", goimpfit.ErrInvalidData, line, len(fields))
		}
		var vals [3]float64
		for i := 0; i < 3; i++ {
			v, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				return goimpfit.Spectrum{}, fmt.Errorf("%w: line %d: %v", goimpfit.ErrInvalidData, line, err)
			}
			vals[i] = v
		}
		freqs = append(freqs, vals[0])
		re = append(re, vals[1])
		im = append(im, vals[2])
	}
	if err := scanner.Err(); err != nil {
		return goimpfit.Spectrum{}, err
	}
	return goimpfit.NewSpectrum(freqs, re, im)
}

// ParseCSV parses comma and newline separated values taken three at a time,
// as uploaded by a browser form: "f,re,im,f,re,im,...". A trailing separator
// is allowed.
func ParseCSV(input string) (goimpfit.Spectrum, error) {
	input = strings.ReplaceAll(input, "\r\n", ",")
	input = strings.ReplaceAll(input, "\n", ",")

	var vals []float64
	for i, s := range strings.Split(input, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return goimpfit.Spectrum{}, fmt.Errorf("%w: value %d: %v", goimpfit.ErrInvalidData, i, err)
		}
		vals = append(vals, v)
	}
	if len(vals)%3 != 0 {
		return goimpfit.Spectrum{}, fmt.Errorf("%w: %d values is not a multiple of 3", goimpfit.ErrInvalidData, len(vals))
	}

	n := len(vals) / 3
	freqs, re, im := make([]float64, n), make([]float64, n), make([]float64, n)
	for i := 0; i < n; i++ {
		freqs[i], re[i], im[i] = vals[3*i], vals[3*i+1], vals[3*i+2]
	}
	return goimpfit.NewSpectrum(freqs, re, im)
}

// WriteColumns writes a spectrum in the three column form LoadFile reads,
// negating the imaginary part back to the measured convention.
func WriteColumns(w io.Writer, s goimpfit.Spectrum) error {
	bw := bufio.NewWriter(w)
	for i, f := range s.Freqs {
		if _, err := fmt.Fprintf(bw, "%.10e\t%.10e\t%.10e\n", f, real(s.Z[i]), -imag(s.Z[i])); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteFitCSV writes the fitted curve as frequency, Re(Z_fit), Im(Z_fit) rows.
func WriteFitCSV(w io.Writer, res *goimpfit.Result) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"frequency", "real", "imag"}); err != nil {
		return err
	}
	for _, p := range res.FittedPairs() {
		record := []string{
			strconv.FormatFloat(p[0], 'g', -1, 64),
			strconv.FormatFloat(p[1], 'g', -1, 64),
			strconv.FormatFloat(p[2], 'g', -1, 64),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteReport writes the report as indented JSON.
func WriteReport(w io.Writer, report any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// WriteTimings appends per-spectrum timings of a batch to a CSV file,
// writing the header when the file is new.
func WriteTimings(path string, timings []models.SpectrumTiming) error {
	_, statErr := os.Stat(path)
	writeHeader := os.IsNotExist(statErr)

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open timing file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if writeHeader {
		if err := writer.Write([]string{"Iteration", "Circuit", "ProcessingTime_ms", "ChiSquare", "Success"}); err != nil {
			return err
		}
	}
	for _, t := range timings {
		record := []string{
			strconv.Itoa(t.Iteration),
			t.CircuitCode,
			fmt.Sprintf("%.2f", float64(t.ProcessingTime.Nanoseconds())/1e6),
			fmt.Sprintf("%.6e", t.ChiSquare),
			strconv.FormatBool(t.Success),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
