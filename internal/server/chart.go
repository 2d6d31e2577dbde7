package server

import (
	"bytes"
	"errors"
	"net/http"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/aptiscout/aptiscout/internal/common"
	"github.com/aptiscout/aptiscout/internal/models"
)

// handleAnalyticsTrendsChart renders the same series handleAnalyticsTrends
// returns as JSON into a PNG line chart, for dashboards that embed an <img>
// instead of calling the JSON API and drawing their own.
func (s *Server) handleAnalyticsTrendsChart(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	dimension := r.URL.Query().Get("dimension")
	if dimension == "" {
		dimension = "quality"
	}
	window := r.URL.Query().Get("window")
	dur, err := time.ParseDuration(window)
	if err != nil {
		dur = time.Hour
	}
	metricName := trendMetricName(dimension)
	points := s.app.Registry.History(metricName, time.Now().Add(-dur))

	png, err := renderTrendChart(dimension, points)
	if err != nil {
		WriteProblem(w, r, http.StatusUnprocessableEntity, common.KindValidation, err.Error(), nil)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// renderTrendChart draws a single time series as a PNG line chart. Needs at
// least two points; an empty or single-point series is not rendered.
func renderTrendChart(dimension string, points []models.MetricPoint) ([]byte, error) {
	if len(points) < 2 {
		return nil, errNotEnoughPoints
	}

	xValues := make([]time.Time, len(points))
	yValues := make([]float64, len(points))
	for i, p := range points {
		xValues[i] = p.Timestamp
		yValues[i] = p.Value
	}

	series := chart.TimeSeries{
		Name: dimension,
		Style: chart.Style{
			StrokeColor: drawing.ColorFromHex("2563eb"),
			StrokeWidth: 2.0,
		},
		XValues: xValues,
		YValues: yValues,
	}

	graph := chart.Chart{
		Title:  dimension + " trend",
		Width:  900,
		Height: 360,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 10, Right: 20, Bottom: 10},
		},
		Series: []chart.Series{series},
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var errNotEnoughPoints = errors.New("need at least 2 data points to render a trend chart")
