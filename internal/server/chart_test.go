package server

import (
	"testing"
	"time"

	"github.com/aptiscout/aptiscout/internal/models"
)

func TestRenderTrendChart_RejectsFewerThanTwoPoints(t *testing.T) {
	cases := [][]models.MetricPoint{
		nil,
		{{Name: "quality", Timestamp: time.Now(), Value: 1}},
	}
	for _, points := range cases {
		if _, err := renderTrendChart("quality", points); err != errNotEnoughPoints {
			t.Errorf("expected errNotEnoughPoints for %d points, got %v", len(points), err)
		}
	}
}

func TestRenderTrendChart_ProducesPNG(t *testing.T) {
	now := time.Now()
	points := []models.MetricPoint{
		{Name: "quality", Timestamp: now.Add(-time.Hour), Value: 70},
		{Name: "quality", Timestamp: now.Add(-30 * time.Minute), Value: 82},
		{Name: "quality", Timestamp: now, Value: 91},
	}
	png, err := renderTrendChart("quality", points)
	if err != nil {
		t.Fatalf("renderTrendChart returned error: %v", err)
	}
	if len(png) < 8 {
		t.Fatalf("expected a non-trivial PNG payload, got %d bytes", len(png))
	}
	pngMagic := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	for i, b := range pngMagic {
		if png[i] != b {
			t.Fatalf("output does not start with the PNG signature: %x", png[:8])
		}
	}
}
