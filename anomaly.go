package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rtm0/era5-anomaly/internal/cds"
	"github.com/rtm0/era5-anomaly/internal/climate"
	"github.com/rtm0/era5-anomaly/internal/config"
	"github.com/rtm0/era5-anomaly/internal/era5"
	"github.com/rtm0/era5-anomaly/internal/observability"
	"github.com/rtm0/era5-anomaly/internal/render"
	"github.com/rtm0/era5-anomaly/internal/report"
	"github.com/rtm0/era5-anomaly/internal/vm"
)

var (
	recipe        = flag.String("recipe", "johannesburg", "built-in recipe name (johannesburg, globe) or path to a recipe file")
	outDir        = flag.String("out", "figures", "directory the figures are written to")
	cacheDir      = flag.String("cacheDir", defaultCacheDir(), "directory CDS results are cached in")
	backend       = flag.String("backend", "png", "figure format: png, jpg, tif, svg, pdf, eps or text")
	coastlines    = flag.String("coastlines", "", "path to a GeoJSON file with coastlines")
	borders       = flag.String("borders", "", "path to a GeoJSON file with country borders")
	vmInsertURL   = flag.String("vmInsertUrl", "", "Victoria Metrics insert API URL, e.g. http://localhost:8428/write for InfluxDB line protocol v2. Empty disables the export")
	metricPrefix  = flag.String("metricPrefix", "era5", "prefix of the metrics exported to Victoria Metrics")
	concurrency   = flag.Int("concurrency", runtime.NumCPU(), "number of concurrent requests to Victoria Metrics")
	recsPerInsert = flag.Int("recsPerInsert", 500, "number of records sent to VM in one batch")
	exportNetcdf  = flag.String("exportNetcdf", "", "path of a NetCDF file to write the anomaly fields to")
	metricsFile   = flag.String("metricsFile", "", "path of a Prometheus textfile to write run metrics to")
	logLevel      = flag.String("logLevel", "info", "log level: debug, info, warn or error")
	logFormat     = flag.String("logFormat", "text", "log format: text or json")
	offline       = flag.Bool("offline", false, "only use cached CDS results")
)

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ".era5-cache"
	}
	return filepath.Join(dir, "era5-anomaly")
}

func main() {
	flag.Parse()
	logger, err := observability.NewLogger(os.Stdout, *logLevel, *logFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	a := &app{
		logger:  logger,
		metrics: observability.NewMetrics(),
		clock:   clockwork.NewRealClock(),
		stdout:  os.Stdout,
		opts: options{
			recipe:        *recipe,
			outDir:        *outDir,
			cacheDir:      *cacheDir,
			backend:       *backend,
			coastlines:    *coastlines,
			borders:       *borders,
			vmInsertURL:   *vmInsertURL,
			metricPrefix:  *metricPrefix,
			concurrency:   *concurrency,
			recsPerInsert: *recsPerInsert,
			exportNetcdf:  *exportNetcdf,
			offline:       *offline,
		},
	}
	err = a.run(ctx)
	stop()

	if *metricsFile != "" {
		if err := a.metrics.WriteTextfile(*metricsFile); err != nil {
			logger.Error("Could not write metrics file", "path", *metricsFile, "err", err)
		}
	}
	if err != nil {
		if stage, ok := climate.StageOf(err); ok {
			logger.Error("Run failed", "stage", stage, "err", err)
		} else {
			logger.Error("Run failed", "err", err)
		}
		os.Exit(1)
	}
}

type options struct {
	recipe        string
	outDir        string
	cacheDir      string
	backend       string
	coastlines    string
	borders       string
	vmInsertURL   string
	metricPrefix  string
	concurrency   int
	recsPerInsert int
	exportNetcdf  string
	offline       bool
}

// app runs one recipe end to end. Console output goes to stdout, progress to
// the logger.
type app struct {
	logger  *slog.Logger
	metrics *observability.Metrics
	clock   clockwork.Clock
	stdout  io.Writer
	opts    options
}

func (a *app) run(ctx context.Context) error {
	rcp, err := config.Load(a.opts.recipe, a.clock)
	if err != nil {
		return err
	}
	// Fail on unusable outputs before spending time on the download.
	bk, err := a.backend()
	if err != nil {
		return climate.Wrap(climate.StageRender, err)
	}
	a.logger.Info("Loaded recipe", "name", rcp.Name, "mode", rcp.Mode, "dataset", rcp.Dataset, "target", rcp.TargetYear, "month", time.Month(rcp.Month))

	start := time.Now()
	path, err := a.fetch(ctx, rcp)
	if err != nil {
		return climate.Wrap(climate.StageFetch, err)
	}
	a.metrics.ObserveStage(string(climate.StageFetch), start)

	start = time.Now()
	ds, err := a.parse(path, rcp)
	if err != nil {
		return climate.Wrap(climate.StageParse, err)
	}
	a.metrics.ObserveStage(string(climate.StageParse), start)

	start = time.Now()
	res, err := climate.Run(ds, rcp.ClimateRecipe())
	if err != nil {
		return err
	}
	a.metrics.ObserveStage(string(climate.StageAggregate), start)
	a.metrics.GridCells.Set(float64(len(res.Anomaly.Values)))
	a.metrics.PointAnomaly.WithLabelValues(res.Recipe.Location.Name).Set(res.Sample.Anomaly)
	a.logger.Info("Computed anomaly", "referenceSteps", res.ReferenceCount, "targetSteps", res.TargetCount,
		"gridLat", res.Sample.Lat, "gridLon", res.Sample.Lon)

	start = time.Now()
	files, err := a.render(bk, rcp, res.Anomaly)
	if err != nil {
		return climate.Wrap(climate.StageRender, err)
	}
	a.metrics.ObserveStage(string(climate.StageRender), start)

	rep := report.New(rcp.Name, ds.Variable, ds.Units, res, files, a.clock.Now())
	if err := rep.Print(a.stdout); err != nil {
		return err
	}

	start = time.Now()
	if err := a.export(ctx, rep, ds, res); err != nil {
		return climate.Wrap(climate.StageExport, err)
	}
	a.metrics.ObserveStage(string(climate.StageExport), start)

	fmt.Fprintf(a.stdout, "\nCreated %d temperature anomaly map(s) for %s %d in %s\n", len(files), time.Month(rcp.Month), rcp.TargetYear, a.opts.outDir)
	return nil
}

func (a *app) backend() (render.Backend, error) {
	ov, err := render.LoadOverlays(a.opts.coastlines, a.opts.borders)
	if err != nil {
		return nil, err
	}
	return render.NewBackend(a.opts.backend, ov)
}

func (a *app) fetch(ctx context.Context, rcp *config.Recipe) (string, error) {
	var retriever cds.Retriever
	if !a.opts.offline {
		creds, err := config.LoadCredentials()
		if err != nil {
			return "", err
		}
		cli, err := cds.NewClient(a.logger, creds.URL, creds.Key, a.clock)
		if err != nil {
			return "", err
		}
		retriever = cli
	}
	cache, err := cds.NewCache(a.logger, a.opts.cacheDir, retriever, a.metrics)
	if err != nil {
		return "", err
	}
	dataset, req := rcp.Query()
	return cache.Fetch(ctx, dataset, req)
}

// parse opens the fetched file and normalizes its units, reporting the
// structure of the data on the console.
func (a *app) parse(path string, rcp *config.Recipe) (*era5.Dataset, error) {
	ds, err := era5.Open(path, rcp.VariablePolicy())
	if err != nil {
		return nil, err
	}
	fmt.Fprintln(a.stdout, "Available variables in dataset:", ds.Available)
	if ds.FellBack {
		fmt.Fprintf(a.stdout, "Using variable: %s\n", ds.Variable)
	}
	if rcp.Celsius() {
		if err := era5.ToCelsius(ds); err != nil {
			return nil, err
		}
	}
	fmt.Fprintln(a.stdout, "\nDataset dimensions:", ds.Dims)
	fmt.Fprintln(a.stdout, "Dataset coordinates:", ds.Coords())
	if len(ds.Times) > 0 {
		fmt.Fprintln(a.stdout, "Time values sample:", ds.Times[0])
	}
	a.logger.Info("ERA5 summary", ds.Summary()...)
	return ds, nil
}

func (a *app) render(bk render.Backend, rcp *config.Recipe, anomaly era5.Field) ([]string, error) {
	figs, err := rcp.RenderFigures()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(a.opts.outDir, 0o755); err != nil {
		return nil, err
	}
	files := make([]string, 0, len(figs))
	for _, fig := range figs {
		path := filepath.Join(a.opts.outDir, fig.Name+"."+bk.Ext())
		if err := renderFile(path, bk, anomaly, rcp.Style, fig); err != nil {
			return nil, fmt.Errorf("figure %s: %w", fig.Name, err)
		}
		a.logger.Info("Wrote figure", "name", fig.Name, "path", path)
		files = append(files, path)
	}
	return files, nil
}

func renderFile(path string, bk render.Backend, f era5.Field, s render.Style, fig render.Figure) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := bk.Render(out, f, s, fig); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// export sends the results to the optional sinks.
func (a *app) export(ctx context.Context, rep *report.Report, ds *era5.Dataset, res *climate.Result) error {
	var errs []error
	if a.opts.exportNetcdf != "" {
		errs = append(errs, a.exportNetcdf(rep, ds, res))
	}
	if a.opts.vmInsertURL != "" {
		errs = append(errs, a.exportVM(ctx, res))
	}
	kafka, err := config.LoadKafka()
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	if kafka.Enabled() {
		p := report.NewKafkaPublisher(a.logger, kafka.Brokers, kafka.Topic)
		errs = append(errs, p.Publish(ctx, rep), p.Close())
	}
	return errors.Join(errs...)
}

func (a *app) exportNetcdf(rep *report.Report, ds *era5.Dataset, res *climate.Result) error {
	fields := []era5.NamedField{{Name: ds.Variable + "_anomaly", Units: ds.Units, Field: res.Anomaly}}
	if res.Recipe.Mode == climate.ModeClimatology {
		fields = append(fields,
			era5.NamedField{Name: ds.Variable + "_latest", Units: ds.Units, Field: res.Latest},
			era5.NamedField{Name: ds.Variable + "_reference", Units: ds.Units, Field: res.Reference},
		)
	}
	global := map[string]string{
		"recipe":      rep.Recipe,
		"mode":        rep.Mode,
		"target":      fmt.Sprintf("%s %d", rep.Month, rep.Year),
		"source":      ds.Variable,
		"history":     "created " + rep.CreatedAt.Format(time.RFC3339),
		"Conventions": "CF-1.7",
	}
	if rep.Reference != "" {
		global["reference_period"] = rep.Reference
	}
	if err := era5.WriteFields(a.opts.exportNetcdf, fields, global); err != nil {
		return fmt.Errorf("NetCDF export: %w", err)
	}
	a.logger.Info("Wrote NetCDF export", "path", a.opts.exportNetcdf, "fields", len(fields))
	return nil
}

func (a *app) exportVM(ctx context.Context, res *climate.Result) error {
	vmCli, err := vm.NewClient(a.logger, a.opts.vmInsertURL, a.opts.concurrency, a.opts.metricPrefix)
	if err != nil {
		return err
	}
	recs := res.Records()
	n, err := vmCli.Export(ctx, recs, len(res.Anomaly.Lons), a.opts.concurrency, a.opts.recsPerInsert)
	a.metrics.RecordsExported.Add(float64(n))
	if err != nil {
		return fmt.Errorf("Victoria Metrics export: %w", err)
	}
	a.logger.Info("Exported records to Victoria Metrics", "records", n)
	return nil
}
