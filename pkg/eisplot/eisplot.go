// Package eisplot draws Nyquist and Bode plots of measured and fitted spectra.
package eisplot

import (
	"fmt"
	"image/color"
	"math"
	"math/cmplx"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
	"gonum.org/v1/plot/vg/vgpdf"
	"gonum.org/v1/plot/vg/vgsvg"

	"github.com/kacperjurak/goimpfit"
)

var (
	dataColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	fitColor  = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// Options sets the output size.
type Options struct {
	// Size is the width in inches, Nyquist plots are square.
	Size float64
	DPI  int
	// Flip plots -Im upwards, the usual electrochemistry convention.
	Flip bool
}

// Nyquist plots Re(Z) against Im(Z) for data and, if non-nil, fit.
func Nyquist(data goimpfit.Spectrum, fit []complex128, flip bool) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Nyquist"
	p.X.Label.Text = "Re(Z) / Ω"
	p.Y.Label.Text = "Im(Z) / Ω"
	sign := 1.0
	if flip {
		p.Y.Label.Text = "-Im(Z) / Ω"
		sign = -1
	}

	xy := func(z []complex128) plotter.XYs {
		pts := make(plotter.XYs, len(z))
		for i, v := range z {
			pts[i].X, pts[i].Y = real(v), sign*imag(v)
		}
		return pts
	}
	if err := addSeries(p, xy(data.Z), xyOrNil(fit, xy)); err != nil {
		return nil, err
	}
	return p, nil
}

// Bode returns the magnitude and phase plots over log frequency.
func Bode(data goimpfit.Spectrum, fit []complex128) (mag, phase *plot.Plot, err error) {
	mag = plot.New()
	mag.Title.Text = "Bode"
	mag.Y.Label.Text = "|Z| / Ω"
	mag.X.Scale, mag.Y.Scale = plot.LogScale{}, plot.LogScale{}
	mag.X.Tick.Marker, mag.Y.Tick.Marker = plot.LogTicks{Prec: -1}, plot.LogTicks{Prec: -1}

	phase = plot.New()
	phase.X.Label.Text = "f / Hz"
	phase.Y.Label.Text = "phase / deg"
	phase.X.Scale = plot.LogScale{}
	phase.X.Tick.Marker = plot.LogTicks{Prec: -1}

	magXY := func(z []complex128) plotter.XYs {
		pts := make(plotter.XYs, len(z))
		for i, v := range z {
			pts[i].X, pts[i].Y = data.Freqs[i], cmplx.Abs(v)
		}
		return pts
	}
	phaseXY := func(z []complex128) plotter.XYs {
		pts := make(plotter.XYs, len(z))
		for i, v := range z {
			pts[i].X, pts[i].Y = data.Freqs[i], cmplx.Phase(v)*180/math.Pi
		}
		return pts
	}

	if err := addSeries(mag, magXY(data.Z), xyOrNil(fit, magXY)); err != nil {
		return nil, nil, err
	}
	if err := addSeries(phase, phaseXY(data.Z), xyOrNil(fit, phaseXY)); err != nil {
		return nil, nil, err
	}
	return mag, phase, nil
}

func xyOrNil(z []complex128, f func([]complex128) plotter.XYs) plotter.XYs {
	if z == nil {
		return nil
	}
	return f(z)
}

func addSeries(p *plot.Plot, data, fit plotter.XYs) error {
	p.Add(plotter.NewGrid())

	s, err := plotter.NewScatter(data)
	if err != nil {
		return fmt.Errorf("data series: %w", err)
	}
	s.GlyphStyle.Color = dataColor
	s.GlyphStyle.Shape = draw.CircleGlyph{}
	p.Add(s)
	p.Legend.Add("data", s)

	if fit != nil {
		l, err := plotter.NewLine(fit)
		if err != nil {
			return fmt.Errorf("fit series: %w", err)
		}
		l.LineStyle.Color = fitColor
		l.LineStyle.Width = vg.Points(1.5)
		p.Add(l)
		p.Legend.Add("fit", l)
	}
	p.Legend.Top = true
	return nil
}

// Save renders the Nyquist plot next to the Bode plots into path. The format
// follows the extension: .svg, .png or .pdf.
func Save(path string, data goimpfit.Spectrum, fit []complex128, opts Options) error {
	if opts.Size <= 0 {
		opts.Size = 4
	}
	if opts.DPI <= 0 {
		opts.DPI = 96
	}

	ny, err := Nyquist(data, fit, opts.Flip)
	if err != nil {
		return err
	}
	mag, phase, err := Bode(data, fit)
	if err != nil {
		return err
	}

	w, h := vg.Length(opts.Size*2)*vg.Inch, vg.Length(opts.Size)*vg.Inch
	canvas, writeTo, err := newCanvas(strings.ToLower(filepath.Ext(path)), w, h, opts.DPI)
	if err != nil {
		return err
	}
	dc := draw.New(canvas)

	halves := draw.Tiles{Rows: 1, Cols: 2}
	ny.Draw(halves.At(dc, 0, 0))
	bode := plot.Align([][]*plot.Plot{{mag}, {phase}}, draw.Tiles{Rows: 2, Cols: 1}, halves.At(dc, 1, 0))
	mag.Draw(bode[0][0])
	phase.Draw(bode[1][0])

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := writeTo(f); err != nil {
		f.Close()
		return fmt.Errorf("write plot %s: %w", path, err)
	}
	return f.Close()
}

func newCanvas(ext string, w, h vg.Length, dpi int) (vg.CanvasSizer, func(f *os.File) error, error) {
	switch ext {
	case ".svg", "":
		c := vgsvg.New(w, h)
		return c, func(f *os.File) error { _, err := c.WriteTo(f); return err }, nil
	case ".png":
		c := vgimg.NewWith(vgimg.UseWH(w, h), vgimg.UseDPI(dpi))
		return c, func(f *os.File) error { _, err := vgimg.PngCanvas{Canvas: c}.WriteTo(f); return err }, nil
	case ".pdf":
		c := vgpdf.New(w, h)
		return c, func(f *os.File) error { _, err := c.WriteTo(f); return err }, nil
	}
	return nil, nil, fmt.Errorf("unsupported plot format %q", ext)
}
