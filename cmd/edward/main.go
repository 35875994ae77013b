/*
Copyright 2025 The Edward Authors. All Rights Reserved.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command edward is the CLI for the edward library. It serves the run
// dashboard, trains the bundled example models, inspects event files and
// packs run directories into verifiable archives.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	ed "github.com/edward-ml/edward"
	"github.com/edward-ml/edward/board"
	"github.com/edward-ml/edward/data"
	"github.com/edward-ml/edward/event"
	"github.com/edward-ml/edward/inference"
	"github.com/edward-ml/edward/op"
	"github.com/edward-ml/edward/rv"
	"github.com/edward-ml/edward/summary"
	"github.com/edward-ml/edward/train"
)

// CLI defines the command-line interface for edward.
var CLI struct {
	Board   BoardCmd    `cmd:"" help:"Serve the run dashboard"`
	Demo    DemoGroup   `cmd:"" help:"Train the bundled example models"`
	Events  EventsGroup `cmd:"" help:"Event file operations"`
	Runs    RunsGroup   `cmd:"" help:"Run directory operations"`
	Version VersionCmd  `cmd:"" help:"Print version information"`
}

// DemoGroup contains the example model commands.
type DemoGroup struct {
	Regression     DemoRegressionCmd     `cmd:"" help:"Fit Bayesian linear regression on synthetic data"`
	Classification DemoClassificationCmd `cmd:"" help:"Fit Bayesian logistic regression on synthetic data"`
}

// EventsGroup contains event file operations.
type EventsGroup struct {
	Dump EventsDumpCmd `cmd:"" help:"Print the records of an event file"`
}

// RunsGroup contains run directory operations.
type RunsGroup struct {
	List    RunsListCmd    `cmd:"" help:"List the runs under a log directory"`
	Archive RunsArchiveCmd `cmd:"" help:"Pack a run directory into a tar.xz archive"`
	Verify  RunsVerifyCmd  `cmd:"" help:"Verify a run archive against its manifest"`
}

// BoardCmd serves the dashboard over a log directory.
type BoardCmd struct {
	Logdir         string        `required:"" help:"Directory holding run event files" type:"existingdir" env:"EDWARD_LOGDIR"`
	Addr           string        `help:"Listen address" default:":6006" env:"EDWARD_ADDR"`
	ReloadInterval time.Duration `help:"How often the log directory is rescanned" default:"30s" env:"EDWARD_RELOAD_INTERVAL"`
	HistogramCap   int           `help:"Histogram points kept per tag" default:"500"`
}

func (c *BoardCmd) Run() error {
	srv, err := board.NewServer(board.Config{
		Logdir:         c.Logdir,
		Addr:           c.Addr,
		ReloadInterval: c.ReloadInterval,
		HistogramCap:   c.HistogramCap,
	})
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()
	return srv.ListenAndServe(ctx)
}

// DemoRegressionCmd fits a Bayesian linear regression with KLqp.
type DemoRegressionCmd struct {
	Logdir     string  `help:"Write event files and a checkpoint under this directory" type:"path" env:"EDWARD_LOGDIR"`
	RunName    string  `help:"Run name inside the log directory" default:"regression"`
	Rows       int     `help:"Dataset rows" default:"200"`
	Dim        int     `help:"Feature columns" default:"3"`
	Noise      float64 `help:"Target noise scale" default:"0.1"`
	Iterations int     `help:"Optimizer steps" default:"2000"`
	Samples    int     `help:"Posterior samples per gradient estimate" default:"5"`
	LR         float64 `name:"lr" help:"Adam learning rate" default:"0.05"`
	Seed       int64   `help:"Seed for the data and the run" default:"42"`
}

func (c *DemoRegressionCmd) Run() error {
	ds := data.Regression(c.Rows, c.Dim, c.Noise, c.Seed)
	trainSet, testSet := ds.Split(0.2)

	s := op.NewScope()
	x := op.Const(s.SubScope("x"), trainSet.X())
	w := rv.Normal(s.SubScope("w"),
		op.Const(s.SubScope("w_loc"), make([]float64, c.Dim)),
		op.Const(s.SubScope("w_scale"), 1.0))
	b := rv.Normal(s.SubScope("b"),
		op.Const(s.SubScope("b_loc"), 0.0),
		op.Const(s.SubScope("b_scale"), 1.0))
	yhat := op.Add(s.SubScope("yhat"), op.Dot(s.SubScope("xw"), x, w.Value()), b.Value())
	// The likelihood needs a positive scale even when the data is noise free.
	y := rv.Normal(s.SubScope("y"), yhat, op.Const(s.SubScope("y_scale"), math.Max(c.Noise, 0.01)))
	qs := inference.FullyFactorizedNormal(s.SubScope("posterior"), w, b)
	if err := s.Err(); err != nil {
		return errors.Wrap(err, "build model")
	}

	k, err := inference.New(s.SubScope("inference"),
		map[*rv.RandomVariable]*rv.RandomVariable{w: qs[w], b: qs[b]},
		map[*rv.RandomVariable]*ed.Tensor{y: trainSet.Y()},
		inference.WithSamples(c.Samples))
	if err != nil {
		return err
	}

	cfg := inference.RunConfig{
		Iterations: c.Iterations,
		Optimizer:  train.NewAdam(c.LR, 0.9, 0.999, 1e-8),
		Seed:       c.Seed,
		LogEvery:   logEvery(c.Iterations),
		RunName:    c.RunName,
	}
	closeWriter, err := attachWriter(&cfg, s.Graph(), c.Logdir, map[string]any{
		"model":      "regression",
		"rows":       c.Rows,
		"dim":        c.Dim,
		"noise":      c.Noise,
		"iterations": c.Iterations,
		"samples":    c.Samples,
		"lr":         c.LR,
		"seed":       c.Seed,
	})
	if err != nil {
		return err
	}
	defer closeWriter()

	ctx, cancel := signalContext()
	defer cancel()
	res, runErr := k.Run(ctx, cfg)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	fmt.Printf("Bayesian linear regression: %d train rows, %d test rows, %d features\n",
		trainSet.Len(), testSet.Len(), c.Dim)
	if runErr != nil {
		fmt.Printf("interrupted after %d iterations\n", res.Iterations)
	}
	fmt.Printf("final loss %.4f after %d iterations\n", res.FinalLoss, res.Iterations)

	wLoc, wScale, err := posteriorNormal(qs[w], res.Variables)
	if err != nil {
		return err
	}
	bLoc, bScale, err := posteriorNormal(qs[b], res.Variables)
	if err != nil {
		return err
	}
	for i := range wLoc {
		fmt.Printf("  w[%d]  posterior %7.3f +/- %.3f   truth %7.3f\n", i, wLoc[i], wScale[i], ds.TrueWeights[i])
	}
	fmt.Printf("  b     posterior %7.3f +/- %.3f   truth %7.3f\n", bLoc[0], bScale[0], ds.TrueIntercept)

	if testSet.Len() > 0 {
		rmse, err := regressionRMSE(testSet, wLoc, bLoc[0])
		if err != nil {
			return err
		}
		fmt.Printf("held-out rmse %.4f\n", rmse)
	}
	if cfg.CheckpointPath != "" {
		fmt.Printf("checkpoint written to %s\n", cfg.CheckpointPath)
	}
	return nil
}

// DemoClassificationCmd fits a Bayesian logistic regression with KLqp.
type DemoClassificationCmd struct {
	Logdir     string  `help:"Write event files and a checkpoint under this directory" type:"path" env:"EDWARD_LOGDIR"`
	RunName    string  `help:"Run name inside the log directory" default:"classification"`
	Rows       int     `help:"Dataset rows" default:"500"`
	Dim        int     `help:"Feature columns" default:"3"`
	Iterations int     `help:"Optimizer steps" default:"2000"`
	Samples    int     `help:"Posterior samples per gradient estimate" default:"5"`
	LR         float64 `name:"lr" help:"Adam learning rate" default:"0.05"`
	Seed       int64   `help:"Seed for the data and the run" default:"42"`
}

func (c *DemoClassificationCmd) Run() error {
	ds := data.Classification(c.Rows, c.Dim, c.Seed)
	trainSet, testSet := ds.Split(0.2)

	s := op.NewScope()
	x := op.Const(s.SubScope("x"), trainSet.X())
	w := rv.Normal(s.SubScope("w"),
		op.Const(s.SubScope("w_loc"), make([]float64, c.Dim)),
		op.Const(s.SubScope("w_scale"), 1.0))
	b := rv.Normal(s.SubScope("b"),
		op.Const(s.SubScope("b_loc"), 0.0),
		op.Const(s.SubScope("b_scale"), 1.0))
	logits := op.Add(s.SubScope("logits"), op.Dot(s.SubScope("xw"), x, w.Value()), b.Value())
	y := rv.Bernoulli(s.SubScope("y"), logits)
	qs := inference.FullyFactorizedNormal(s.SubScope("posterior"), w, b)
	if err := s.Err(); err != nil {
		return errors.Wrap(err, "build model")
	}

	k, err := inference.New(s.SubScope("inference"),
		map[*rv.RandomVariable]*rv.RandomVariable{w: qs[w], b: qs[b]},
		map[*rv.RandomVariable]*ed.Tensor{y: trainSet.Y()},
		inference.WithSamples(c.Samples))
	if err != nil {
		return err
	}

	cfg := inference.RunConfig{
		Iterations: c.Iterations,
		Optimizer:  train.NewAdam(c.LR, 0.9, 0.999, 1e-8),
		Seed:       c.Seed,
		LogEvery:   logEvery(c.Iterations),
		RunName:    c.RunName,
	}
	closeWriter, err := attachWriter(&cfg, s.Graph(), c.Logdir, map[string]any{
		"model":      "classification",
		"rows":       c.Rows,
		"dim":        c.Dim,
		"iterations": c.Iterations,
		"samples":    c.Samples,
		"lr":         c.LR,
		"seed":       c.Seed,
	})
	if err != nil {
		return err
	}
	defer closeWriter()

	ctx, cancel := signalContext()
	defer cancel()
	res, runErr := k.Run(ctx, cfg)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	fmt.Printf("Bayesian logistic regression: %d train rows, %d test rows, %d features\n",
		trainSet.Len(), testSet.Len(), c.Dim)
	if runErr != nil {
		fmt.Printf("interrupted after %d iterations\n", res.Iterations)
	}
	fmt.Printf("final loss %.4f after %d iterations\n", res.FinalLoss, res.Iterations)

	wLoc, wScale, err := posteriorNormal(qs[w], res.Variables)
	if err != nil {
		return err
	}
	bLoc, bScale, err := posteriorNormal(qs[b], res.Variables)
	if err != nil {
		return err
	}
	for i := range wLoc {
		fmt.Printf("  w[%d]  posterior %7.3f +/- %.3f   truth %7.3f\n", i, wLoc[i], wScale[i], ds.TrueWeights[i])
	}
	fmt.Printf("  b     posterior %7.3f +/- %.3f   truth %7.3f\n", bLoc[0], bScale[0], ds.TrueIntercept)

	trainAcc, err := classificationAccuracy(trainSet, wLoc, bLoc[0])
	if err != nil {
		return err
	}
	fmt.Printf("train accuracy %.3f\n", trainAcc)
	if testSet.Len() > 0 {
		testAcc, err := classificationAccuracy(testSet, wLoc, bLoc[0])
		if err != nil {
			return err
		}
		fmt.Printf("held-out accuracy %.3f\n", testAcc)
	}
	if cfg.CheckpointPath != "" {
		fmt.Printf("checkpoint written to %s\n", cfg.CheckpointPath)
	}
	return nil
}

// EventsDumpCmd prints the records of one event file.
type EventsDumpCmd struct {
	Path string `arg:"" help:"Event file path" type:"existingfile"`
	JSON bool   `help:"Emit one JSON object per event"`
}

func (c *EventsDumpCmd) Run() error {
	fr, err := event.OpenFile(c.Path)
	if err != nil {
		return err
	}
	defer fr.Close()

	enc := json.NewEncoder(os.Stdout)
	count := 0
	for {
		e, err := fr.Next()
		if err == io.EOF {
			break
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			fmt.Fprintln(os.Stderr, "events: file ends with a partial record")
			break
		}
		if err != nil {
			return errors.Wrap(err, "read event")
		}
		count++
		if c.JSON {
			if err := enc.Encode(makeEventView(e)); err != nil {
				return err
			}
			continue
		}
		printEvent(e)
	}
	if !c.JSON {
		fmt.Printf("%d events, %d bytes\n", count, fr.Offset())
	}
	return nil
}

// RunsListCmd lists the runs found under a log directory.
type RunsListCmd struct {
	Logdir string `help:"Log directory" type:"existingdir" env:"EDWARD_LOGDIR" default:"."`
}

func (c *RunsListCmd) Run() error {
	m := board.NewMultiplexer(c.Logdir, 0)
	if _, err := m.Reload(); err != nil {
		return err
	}
	names := m.Runs()
	if len(names) == 0 {
		fmt.Println("no runs")
		return nil
	}
	for _, name := range names {
		acc, ok := m.Run(name)
		if !ok {
			continue
		}
		line := fmt.Sprintf("%-24s scalars=%d histograms=%d",
			name, len(acc.ScalarTags()), len(acc.HistogramTags()))
		if _, ok := acc.GraphDef(); ok {
			line += " graph"
		}
		if ckpt := acc.LastCheckpoint(); ckpt != "" {
			line += " checkpoint=" + ckpt
		}
		if _, last := acc.Times(); last > 0 {
			line += " last=" + formatWall(last)
		}
		fmt.Println(line)
	}
	return nil
}

// RunsArchiveCmd packs one run directory into a tar.xz archive.
type RunsArchiveCmd struct {
	Dir string `arg:"" help:"Run directory to archive" type:"existingdir"`
	Out string `required:"" short:"o" help:"Output archive path" type:"path"`
}

func (c *RunsArchiveCmd) Run() error {
	f, err := os.Create(c.Out)
	if err != nil {
		return errors.Wrap(err, "create archive")
	}
	if err := board.Archive(c.Dir, f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "close archive")
	}
	info, err := os.Stat(c.Out)
	if err != nil {
		return err
	}
	fmt.Printf("archived %s to %s (%d bytes)\n", c.Dir, c.Out, info.Size())
	return nil
}

// RunsVerifyCmd checks a run archive against its embedded manifest.
type RunsVerifyCmd struct {
	Archive string `arg:"" help:"Archive path" type:"existingfile"`
}

func (c *RunsVerifyCmd) Run() error {
	f, err := os.Open(c.Archive)
	if err != nil {
		return errors.Wrap(err, "open archive")
	}
	defer f.Close()
	m, err := board.VerifyArchive(f)
	if err != nil {
		return err
	}
	fmt.Printf("ok: run %q, %d files, created %s\n",
		m.Run, len(m.Files), m.Created.Format(time.RFC3339))
	return nil
}

// VersionCmd prints the version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("edward version %s\n", ed.Version())
	return nil
}

// Helper functions

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

// attachWriter opens a summary writer under logdir, logs the graph and
// hyperparameters, and points cfg at it along with a checkpoint path. It
// returns a close function, which is a no-op when logdir is empty.
func attachWriter(cfg *inference.RunConfig, g *ed.Graph, logdir string, hparams map[string]any) (func(), error) {
	if logdir == "" {
		return func() {}, nil
	}
	w, err := summary.NewWriter(filepath.Join(logdir, cfg.RunName), nil)
	if err != nil {
		return nil, errors.Wrap(err, "open summary writer")
	}
	if err := w.Graph(g); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Hparams(hparams); err != nil {
		w.Close()
		return nil, err
	}
	cfg.Summary = w
	cfg.SummaryEvery = 10
	cfg.CheckpointPath = filepath.Join(w.Dir(), "model.ckpt")
	fmt.Printf("logging to %s\n", w.Dir())
	return func() {
		if err := w.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "close summary writer: %v\n", err)
		}
	}, nil
}

func logEvery(iterations int) int {
	every := iterations / 10
	if every < 1 {
		every = 1
	}
	return every
}

// posteriorNormal reads the trained location and softplus scale of a
// factorized normal posterior out of the run's variable values.
func posteriorNormal(q *rv.RandomVariable, vars map[string]*ed.Tensor) (loc, scale []float64, err error) {
	params := q.Dist().Params()
	if len(params) != 2 {
		return nil, nil, errors.Errorf("posterior has %d parameters, want 2", len(params))
	}
	locT, ok := vars[params[0].Op.Name()]
	if !ok {
		return nil, nil, errors.Errorf("no trained value for %s", params[0].Op.Name())
	}
	rawName := params[1].Op.Input(0).Op.Name()
	rawT, ok := vars[rawName]
	if !ok {
		return nil, nil, errors.Errorf("no trained value for %s", rawName)
	}
	if loc, err = locT.Float64s(); err != nil {
		return nil, nil, err
	}
	raw, err := rawT.Float64s()
	if err != nil {
		return nil, nil, err
	}
	scale = make([]float64, len(raw))
	for i, r := range raw {
		scale[i] = math.Log1p(math.Exp(r))
	}
	return loc, scale, nil
}

func regressionRMSE(ds *data.Dataset, w []float64, b float64) (float64, error) {
	rows, targets, err := datasetRows(ds)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	var sum float64
	for i, row := range rows {
		pred := b
		for j, v := range row {
			pred += v * w[j]
		}
		diff := pred - targets[i]
		sum += diff * diff
	}
	return math.Sqrt(sum / float64(len(rows))), nil
}

func classificationAccuracy(ds *data.Dataset, w []float64, b float64) (float64, error) {
	rows, targets, err := datasetRows(ds)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	correct := 0
	for i, row := range rows {
		logit := b
		for j, v := range row {
			logit += v * w[j]
		}
		label := 0.0
		if logit > 0 {
			label = 1.0
		}
		if label == targets[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(rows)), nil
}

func datasetRows(ds *data.Dataset) ([][]float64, []float64, error) {
	rows, ok := ds.X().Value().([][]float64)
	if !ok {
		return nil, nil, errors.New("features are not a matrix")
	}
	targets, err := ds.Y().Float64s()
	if err != nil {
		return nil, nil, err
	}
	return rows, targets, nil
}

func formatWall(wall float64) string {
	return time.Unix(0, int64(wall*1e9)).UTC().Format(time.RFC3339)
}

type sessionLogView struct {
	Status         string `json:"status"`
	CheckpointPath string `json:"checkpointPath,omitempty"`
	Msg            string `json:"msg,omitempty"`
}

type valueView struct {
	Tag       string           `json:"tag"`
	Scalar    *float32         `json:"scalar,omitempty"`
	Histogram *event.Histogram `json:"histogram,omitempty"`
	Image     bool             `json:"image,omitempty"`
}

type eventView struct {
	WallTime    float64         `json:"wallTime"`
	Step        int64           `json:"step"`
	FileVersion string          `json:"fileVersion,omitempty"`
	GraphNodes  []string        `json:"graphNodes,omitempty"`
	GraphError  string          `json:"graphError,omitempty"`
	Values      []valueView     `json:"values,omitempty"`
	SessionLog  *sessionLogView `json:"sessionLog,omitempty"`
}

func makeEventView(e *event.Event) eventView {
	v := eventView{WallTime: e.WallTime, Step: e.Step, FileVersion: e.FileVersion}
	if len(e.GraphDef) > 0 {
		nodes, err := ed.GraphDefNodes(e.GraphDef)
		if err != nil {
			v.GraphError = err.Error()
		}
		for _, n := range nodes {
			v.GraphNodes = append(v.GraphNodes, n.Name)
		}
	}
	if e.Summary != nil {
		for _, val := range e.Summary.Values {
			v.Values = append(v.Values, valueView{
				Tag:       val.Tag,
				Scalar:    val.SimpleValue,
				Histogram: val.Histo,
				Image:     val.Image != nil,
			})
		}
	}
	if e.SessionLog != nil {
		v.SessionLog = &sessionLogView{
			Status:         statusName(e.SessionLog.Status),
			CheckpointPath: e.SessionLog.CheckpointPath,
			Msg:            e.SessionLog.Msg,
		}
	}
	return v
}

func printEvent(e *event.Event) {
	ts := formatWall(e.WallTime)
	switch {
	case e.FileVersion != "":
		fmt.Printf("%s step=%d file_version %s\n", ts, e.Step, e.FileVersion)
	case len(e.GraphDef) > 0:
		nodes, err := ed.GraphDefNodes(e.GraphDef)
		if err != nil {
			fmt.Printf("%s step=%d graph %d bytes (undecodable: %v)\n", ts, e.Step, len(e.GraphDef), err)
			return
		}
		fmt.Printf("%s step=%d graph %d nodes\n", ts, e.Step, len(nodes))
	case e.SessionLog != nil:
		l := e.SessionLog
		fmt.Printf("%s step=%d session_log %s", ts, e.Step, statusName(l.Status))
		if l.CheckpointPath != "" {
			fmt.Printf(" path=%s", l.CheckpointPath)
		}
		if l.Msg != "" {
			fmt.Printf(" msg=%q", l.Msg)
		}
		fmt.Println()
	case e.Summary != nil:
		for _, val := range e.Summary.Values {
			switch {
			case val.SimpleValue != nil:
				fmt.Printf("%s step=%d scalar %s=%g\n", ts, e.Step, val.Tag, *val.SimpleValue)
			case val.Histo != nil:
				fmt.Printf("%s step=%d histogram %s num=%g min=%g max=%g\n",
					ts, e.Step, val.Tag, val.Histo.Num, val.Histo.Min, val.Histo.Max)
			case val.Image != nil:
				fmt.Printf("%s step=%d image %s %dx%d\n",
					ts, e.Step, val.Tag, val.Image.Width, val.Image.Height)
			}
		}
	default:
		fmt.Printf("%s step=%d empty\n", ts, e.Step)
	}
}

func statusName(s event.SessionStatus) string {
	switch s {
	case event.StatusStart:
		return "start"
	case event.StatusStop:
		return "stop"
	case event.StatusCheckpoint:
		return "checkpoint"
	}
	return "unspecified"
}

func main() {
	_ = godotenv.Load()
	ctx := kong.Parse(&CLI,
		kong.Name("edward"),
		kong.Description("Probabilistic modeling, inference and the board that watches it"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
