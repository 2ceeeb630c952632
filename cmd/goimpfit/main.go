package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/kacperjurak/goimpfit"
	"github.com/kacperjurak/goimpfit/internal/processing"
	"github.com/kacperjurak/goimpfit/internal/utils"
	"github.com/kacperjurak/goimpfit/pkg/config"
	"github.com/kacperjurak/goimpfit/pkg/dataio"
	"github.com/kacperjurak/goimpfit/pkg/eisplot"
	"github.com/kacperjurak/goimpfit/pkg/models"
	"github.com/kacperjurak/goimpfit/pkg/profiling"
	"github.com/kacperjurak/goimpfit/pkg/worker"
)

const usage = `usage: goimpfit <command> [flags]

commands:
  fit       fit a circuit to one data file (default)
  batch     fit a circuit to several data files concurrently
  simulate  write a synthetic spectrum for a circuit and parameters
`

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	args := os.Args[1:]
	cmd := "fit"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "fit":
		err = runFit(args, os.Stdout)
	case "batch":
		err = runBatch(args, os.Stdout)
	case "simulate":
		err = runSimulate(args, os.Stdout)
	case "help":
		fmt.Fprint(os.Stdout, usage)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatal("❌ ", err)
	}
}

// parseFlags registers the shared fit flags, loads an optional YAML config
// and lets explicit flags override it.
func parseFlags(name string, args []string) (*config.Config, *flag.FlagSet, error) {
	cfg := config.DefaultConfig()
	fs := flag.NewFlagSet(name, flag.ContinueOnError)

	cfgPath := fs.String("config", "", "YAML configuration file")
	noFlip := fs.Bool("noflip", false, "Don't flip imaginary part on image")
	fs.StringVar(&cfg.Code, "c", cfg.Code, "Circuit topology, e.g. s(R1,p(R1,C1))")
	fs.StringVar(&cfg.File, "f", cfg.File, "Measurement data file (freq re im columns)")
	var initValues config.ArrayFlags
	fs.Var(&initValues, "v", "Parameters init values (repeat or comma separated)")
	fs.UintVar(&cfg.CutLow, "b", cfg.CutLow, "Cut X of beginning frequencies from a file")
	fs.UintVar(&cfg.CutHigh, "e", cfg.CutHigh, "Cut X of ending frequencies from a file")
	fs.BoolVar(&cfg.Unity, "unity", cfg.Unity, "Use Unity weighting instead of Modulus for chi-square")
	fs.StringVar(&cfg.OptimMethod, "m", cfg.OptimMethod, "Optimization method: lm, nelder-mead, lbfgs, all")
	fs.BoolVar(&cfg.SkipGuess, "noguess", cfg.SkipGuess, "Start from -v even for the reference circuit")
	fs.IntVar(&cfg.MaxIter, "maxiter", cfg.MaxIter, "Maximum solver iterations")
	fs.IntVar(&cfg.MaxFuncEvals, "maxfev", cfg.MaxFuncEvals, "Maximum residual evaluations")
	fs.Float64Var(&cfg.Tolerance, "tol", cfg.Tolerance, "Convergence tolerance")
	fs.StringVar(&cfg.Output, "o", cfg.Output, "Write fitted curve CSV (or JSON report with -json) to this path")
	fs.BoolVar(&cfg.JSON, "json", cfg.JSON, "Output a JSON report")
	fs.BoolVar(&cfg.ImgSave, "imgsave", cfg.ImgSave, "Save Nyquist/Bode image to file")
	fs.StringVar(&cfg.ImgPath, "imgpath", cfg.ImgPath, "Path to generated image (.svg, .png, .pdf)")
	fs.UintVar(&cfg.ImgDPI, "dpi", cfg.ImgDPI, "Image DPI")
	fs.UintVar(&cfg.ImgSize, "imgsize", cfg.ImgSize, "Image size (inches)")
	fs.UintVar(&cfg.Threads, "threads", cfg.Threads, "Number of concurrent fits in batch mode")
	fs.StringVar(&cfg.TimingsPath, "timings", cfg.TimingsPath, "Batch timing CSV, empty to disable")
	fs.BoolVar(&cfg.Quiet, "q", cfg.Quiet, "Quiet mode")
	fs.StringVar(&cfg.CPUProfile, "cpuprofile", cfg.CPUProfile, "Write CPU profile to file")
	fs.StringVar(&cfg.MemProfile, "memprofile", cfg.MemProfile, "Write heap profile to file")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if *cfgPath != "" {
		if err := cfg.Load(*cfgPath); err != nil {
			return nil, nil, err
		}
		// flags win over the file
		initValues = nil
		if err := fs.Parse(args); err != nil {
			return nil, nil, err
		}
	}
	if len(initValues) > 0 {
		cfg.InitValues = initValues
	}
	if *noFlip {
		cfg.Flip = false
	}
	return cfg, fs, cfg.Validate()
}

func runFit(args []string, out io.Writer) error {
	cfg, _, err := parseFlags("fit", args)
	if err != nil {
		return err
	}
	if cfg.File == "" {
		return fmt.Errorf("no data file given, use -f")
	}

	prof := profiling.New(cfg.CPUProfile, cfg.MemProfile)
	if err := prof.Start(); err != nil {
		return err
	}
	defer func() {
		if err := prof.Stop(); err != nil {
			log.Printf("profiling: %v", err)
		}
	}()

	data, err := dataio.LoadFile(cfg.File)
	if err != nil {
		return err
	}
	processor, err := processing.NewEISProcessor(cfg)
	if err != nil {
		return err
	}

	start := time.Now()
	res, err := processor.Process(data)
	if err != nil {
		return err
	}
	report, err := processor.Report(utils.GenerateID(), res, time.Since(start))
	if err != nil {
		return err
	}
	report.Source = cfg.File

	if err := writeOutput(cfg, res, report, out); err != nil {
		return err
	}
	if cfg.ImgSave {
		measured, err := data.Trim(int(cfg.CutLow), int(cfg.CutHigh))
		if err != nil {
			return err
		}
		if err := savePlot(cfg, cfg.ImgPath, measured, res.Fitted); err != nil {
			return err
		}
		log.Printf("🖼️  Image saved: %s", cfg.ImgPath)
	}
	return nil
}

func runBatch(args []string, out io.Writer) error {
	cfg, fs, err := parseFlags("batch", args)
	if err != nil {
		return err
	}
	files := fs.Args()
	if cfg.File != "" {
		files = append([]string{cfg.File}, files...)
	}
	if len(files) == 0 {
		return fmt.Errorf("no data files given")
	}

	prof := profiling.New(cfg.CPUProfile, cfg.MemProfile)
	if err := prof.Start(); err != nil {
		return err
	}
	defer func() {
		if err := prof.Stop(); err != nil {
			log.Printf("profiling: %v", err)
		}
	}()

	processor, err := processing.NewEISProcessor(cfg)
	if err != nil {
		return err
	}

	batchID := utils.ShortID()
	items := make([]models.WorkItem, 0, len(files))
	for i, path := range files {
		data, err := dataio.LoadFile(path)
		if err != nil {
			return err
		}
		items = append(items, models.WorkItem{ID: i, RequestID: fmt.Sprintf("%s_iter_%03d", batchID, i), Source: path, Data: data})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool := worker.New(worker.Options{
		Workers:   int(cfg.Threads),
		Processor: processor.ProcessorFunc(),
		Profile:   cfg.CPUProfile != "" || cfg.MemProfile != "",
	})

	batchStart := time.Now()
	results, runErr := pool.Run(ctx, items)
	log.Printf("Batch %s completed - %d spectra, total time: %v", batchID, len(results), time.Since(batchStart))
	if cfg.CPUProfile != "" || cfg.MemProfile != "" {
		profiling.LogMemStats()
	}

	var reports []models.FitReport
	failed := 0
	for _, r := range results {
		if !r.Success() {
			failed++
			log.Printf("⚠️  %s: %v", r.Source, r.Err)
			continue
		}
		report, err := processor.Report(r.RequestID, r.Result, r.ProcessingTime)
		if err != nil {
			return err
		}
		report.Source = r.Source
		reports = append(reports, report)

		if cfg.ImgSave {
			ext := filepath.Ext(cfg.ImgPath)
			path := strings.TrimSuffix(cfg.ImgPath, ext) + "_" + strings.TrimSuffix(filepath.Base(r.Source), filepath.Ext(r.Source)) + ext
			measured, err := items[r.ID].Data.Trim(int(cfg.CutLow), int(cfg.CutHigh))
			if err != nil {
				return err
			}
			if err := savePlot(cfg, path, measured, r.Result.Fitted); err != nil {
				return err
			}
		}
	}

	if cfg.Output != "" {
		f, err := os.Create(cfg.Output)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	if cfg.JSON {
		if err := dataio.WriteReport(out, reports); err != nil {
			return err
		}
	} else {
		for _, rep := range reports {
			fmt.Fprintf(out, "== %s (%s)\n", rep.Source, rep.Status)
			printParams(out, rep)
		}
	}

	if cfg.TimingsPath != "" {
		if err := dataio.WriteTimings(cfg.TimingsPath, worker.Timings(results, processor.Circuit().Code())); err != nil {
			log.Printf("Error writing timing results: %v", err)
		}
	}
	if runErr != nil {
		return runErr
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d fits failed", failed, len(results))
	}
	return nil
}

func runSimulate(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("simulate", flag.ContinueOnError)
	var params config.ArrayFlags
	code := fs.String("c", goimpfit.ReferenceTopology, "Circuit topology")
	fs.Var(&params, "v", "Parameter values (repeat or comma separated)")
	fmin := fs.Float64("fmin", 0.01, "Lowest frequency (Hz)")
	fmax := fs.Float64("fmax", 1e5, "Highest frequency (Hz)")
	perDecade := fs.Int("ppd", 10, "Points per decade")
	noise := fs.Float64("noise", 0, "Relative noise on every point")
	noisy := fs.Int("noisy", 0, "Number of outlier points")
	outlier := fs.Float64("outlier", 0.1, "Relative noise on outlier points")
	seed := fs.Uint64("seed", 1, "Noise seed")
	output := fs.String("o", "", "Output file, stdout when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !(*fmin > 0) || *fmax <= *fmin || *perDecade <= 0 {
		return fmt.Errorf("invalid sweep %g..%g Hz with %d points per decade", *fmin, *fmax, *perDecade)
	}

	c, err := goimpfit.Parse(*code)
	if err != nil {
		return err
	}
	freqs := logSweep(*fmin, *fmax, *perDecade)
	z, err := goimpfit.Synthesize(c, freqs, params, goimpfit.NoiseOptions{
		Level:        *noise,
		NoisyPoints:  *noisy,
		OutlierLevel: *outlier,
		Seed:         *seed,
	})
	if err != nil {
		return err
	}

	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	return dataio.WriteColumns(out, goimpfit.Spectrum{Freqs: freqs, Z: z})
}

// logSweep returns frequencies from high to low, as analysers record them.
func logSweep(fmin, fmax float64, perDecade int) []float64 {
	n := int(math.Floor(math.Log10(fmax/fmin)*float64(perDecade)+1e-9)) + 1
	freqs := make([]float64, n)
	for i := range freqs {
		freqs[i] = fmax * math.Pow(10, -float64(i)/float64(perDecade))
		if freqs[i] < fmin {
			freqs[i] = fmin
		}
	}
	return freqs
}

func writeOutput(cfg *config.Config, res *goimpfit.Result, report models.FitReport, out io.Writer) error {
	if cfg.Output != "" {
		f, err := os.Create(cfg.Output)
		if err != nil {
			return err
		}
		defer f.Close()
		if cfg.JSON {
			return dataio.WriteReport(f, report)
		}
		if err := dataio.WriteFitCSV(f, res); err != nil {
			return err
		}
		printParams(out, report)
		return nil
	}
	if cfg.JSON {
		return dataio.WriteReport(out, report)
	}
	printParams(out, report)
	return nil
}

func printParams(out io.Writer, report models.FitReport) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "circuit\t%s\n", report.Circuit)
	fmt.Fprintf(tw, "method\t%s\n", report.Method)
	fmt.Fprintf(tw, "chi-square\t%.6e\n", report.ChiSquare)
	fmt.Fprintln(tw, "parameter\tvalue\tstd error")
	for _, p := range report.Parameters {
		fmt.Fprintf(tw, "%s\t%.6e\t%.3e\n", p.Name, p.Value, p.Error)
	}
	tw.Flush()
}

func savePlot(cfg *config.Config, path string, data goimpfit.Spectrum, fit []complex128) error {
	return eisplot.Save(path, data, fit, eisplot.Options{
		Size: float64(cfg.ImgSize),
		DPI:  int(cfg.ImgDPI),
		Flip: cfg.Flip,
	})
}
