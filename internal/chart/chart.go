// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chart renders dataset columns as standalone HTML charts.
//
// A Spec pairs one label column with one numeric column pulled from the
// loaded dataset. Render writes a self-contained page; Show writes it to a
// temporary file and opens the default browser on it.
package chart

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/pkg/browser"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrNoData      = errors.New("no data points to plot")
	ErrMismatched  = errors.New("labels and values length mismatch")
	ErrUnknownKind = errors.New("unknown chart kind")
)

// =============================================================================
// KINDS
// =============================================================================

// Kind selects the chart type.
type Kind int

const (
	KindBar Kind = iota
	KindScatter
	KindLine
	KindBox
)

// String returns the kind's command name.
func (k Kind) String() string {
	switch k {
	case KindBar:
		return "bar"
	case KindScatter:
		return "scatter"
	case KindLine:
		return "line"
	case KindBox:
		return "box"
	}
	return "unknown"
}

// ParseKind maps a command word to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bar":
		return KindBar, nil
	case "scatter":
		return KindScatter, nil
	case "line":
		return KindLine, nil
	case "box":
		return KindBox, nil
	}
	return KindBar, fmt.Errorf("%w %q (expected bar, scatter, line, or box)", ErrUnknownKind, s)
}

// =============================================================================
// SPEC
// =============================================================================

const (
	chartWidth  = "900px"
	chartHeight = "500px"
)

// Spec describes one chart: a kind, the two column names it plots, and the
// column data itself. Labels and Values are parallel slices.
type Spec struct {
	Kind   Kind
	X, Y   string
	Labels []string
	Values []float64
}

// Title returns the chart heading for the spec's kind.
func (s *Spec) Title() string {
	switch s.Kind {
	case KindScatter:
		return fmt.Sprintf("%s vs %s", s.Y, s.X)
	case KindLine:
		return fmt.Sprintf("%s over %s", s.Y, s.X)
	case KindBox:
		return fmt.Sprintf("%s distribution by %s", s.Y, s.X)
	}
	return fmt.Sprintf("%s by %s", s.Y, s.X)
}

func (s *Spec) validate() error {
	if len(s.Labels) == 0 || len(s.Values) == 0 {
		return ErrNoData
	}
	if len(s.Labels) != len(s.Values) {
		return ErrMismatched
	}
	return nil
}

// =============================================================================
// RENDERING
// =============================================================================

// renderable is satisfied by every go-echarts chart type.
type renderable interface {
	Render(w io.Writer) error
}

// Render writes the spec as a self-contained HTML page.
func Render(w io.Writer, s *Spec) error {
	if err := s.validate(); err != nil {
		return err
	}

	var chart renderable
	switch s.Kind {
	case KindBar:
		chart = buildBar(s)
	case KindScatter:
		chart = buildScatter(s)
	case KindLine:
		chart = buildLine(s)
	case KindBox:
		chart = buildBox(s)
	default:
		return fmt.Errorf("%w %d", ErrUnknownKind, s.Kind)
	}

	if err := chart.Render(w); err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	return nil
}

// WriteTemp renders the spec to a new temporary HTML file and returns its
// path. The caller owns the file.
func WriteTemp(s *Spec) (string, error) {
	f, err := os.CreateTemp("", "tabletalk-chart-*.html")
	if err != nil {
		return "", fmt.Errorf("failed to create chart file: %w", err)
	}

	if err := Render(f, s); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to close chart file: %w", err)
	}
	return f.Name(), nil
}

// Show renders the spec to a temporary file and opens it in the default
// browser. Returns the file path.
func Show(s *Spec) (string, error) {
	path, err := WriteTemp(s)
	if err != nil {
		return "", err
	}
	if err := browser.OpenFile(path); err != nil {
		return "", fmt.Errorf("failed to open browser: %w", err)
	}
	return path, nil
}

// =============================================================================
// BUILDERS
// =============================================================================

func globalOptions(s *Spec) []charts.GlobalOpts {
	return []charts.GlobalOpts{
		charts.WithTitleOpts(opts.Title{Title: s.Title()}),
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: s.Title(),
			Width:     chartWidth,
			Height:    chartHeight,
		}),
		charts.WithXAxisOpts(opts.XAxis{Name: s.X}),
		charts.WithYAxisOpts(opts.YAxis{Name: s.Y}),
	}
}

func buildBar(s *Spec) renderable {
	bar := charts.NewBar()
	bar.SetGlobalOptions(globalOptions(s)...)

	data := make([]opts.BarData, len(s.Values))
	for i, v := range s.Values {
		data[i] = opts.BarData{Value: v}
	}
	bar.SetXAxis(s.Labels).AddSeries(s.Y, data)
	return bar
}

func buildScatter(s *Spec) renderable {
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(globalOptions(s)...)

	data := make([]opts.ScatterData, len(s.Values))
	for i, v := range s.Values {
		data[i] = opts.ScatterData{Value: v}
	}
	scatter.SetXAxis(s.Labels).AddSeries(s.Y, data)
	return scatter
}

func buildLine(s *Spec) renderable {
	line := charts.NewLine()
	line.SetGlobalOptions(globalOptions(s)...)

	data := make([]opts.LineData, len(s.Values))
	for i, v := range s.Values {
		data[i] = opts.LineData{Value: v}
	}
	line.SetXAxis(s.Labels).AddSeries(s.Y, data)
	return line
}

func buildBox(s *Spec) renderable {
	box := charts.NewBoxPlot()
	box.SetGlobalOptions(globalOptions(s)...)

	groups, stats := groupFiveNumbers(s.Labels, s.Values)
	data := make([]opts.BoxPlotData, len(stats))
	for i, fn := range stats {
		data[i] = opts.BoxPlotData{Value: []float64{fn.Min, fn.Q1, fn.Median, fn.Q3, fn.Max}}
	}
	box.SetXAxis(groups).AddSeries(s.Y, data)
	return box
}

// =============================================================================
// BOX STATISTICS
// =============================================================================

// FiveNumbers is a box plot summary for one group.
type FiveNumbers struct {
	Min, Q1, Median, Q3, Max float64
}

// groupFiveNumbers buckets values by label, keeping first-appearance order,
// and summarizes each bucket.
func groupFiveNumbers(labels []string, values []float64) ([]string, []FiveNumbers) {
	order := []string{}
	buckets := map[string][]float64{}
	for i, label := range labels {
		if _, seen := buckets[label]; !seen {
			order = append(order, label)
		}
		buckets[label] = append(buckets[label], values[i])
	}

	stats := make([]FiveNumbers, len(order))
	for i, label := range order {
		stats[i] = fiveNumbers(buckets[label])
	}
	return order, stats
}

// fiveNumbers computes min, quartiles, and max with linear interpolation
// between order statistics.
func fiveNumbers(values []float64) FiveNumbers {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	return FiveNumbers{
		Min:    sorted[0],
		Q1:     quantile(sorted, 0.25),
		Median: quantile(sorted, 0.5),
		Q3:     quantile(sorted, 0.75),
		Max:    sorted[len(sorted)-1],
	}
}

// quantile expects sorted input.
func quantile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := p * float64(len(sorted)-1)
	lo := int(pos)
	frac := pos - float64(lo)
	if lo+1 >= len(sorted) {
		return sorted[lo]
	}
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
