package usecase

import (
	"testing"

	"github.com/kirillkom/idp-pipeline/internal/core/domain"
)

func TestDecideRoute(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		route      domain.Route
		confidence float64
		reason     string
	}{
		{"table keyword", "please read this csv export", domain.RouteOCR, 0.75, "Detected table/structured keywords"},
		{"uppercase keyword is not a keyword", "Please read this CSV export", domain.RouteVLM, 0.55, "Default route (no strong table hints)"},
		{"capitalized words", "Rows and Columns", domain.RouteVLM, 0.55, "Default route (no strong table hints)"},
		{"cjk table keyword", "這是一個表格", domain.RouteOCR, 0.75, "Detected table/structured keywords"},
		{"figure keyword", "line chart of revenue", domain.RouteVLM, 0.75, "Detected figure/chart keywords"},
		{"cjk figure keyword", "請說明趨勢", domain.RouteVLM, 0.75, "Detected figure/chart keywords"},
		{"table wins over figure", "chart with a header", domain.RouteOCR, 0.75, "Detected table/structured keywords"},
		{"dense delimiters", "a,,,b", domain.RouteOCR, 0.65, "Detected dense delimiters (csv-like)"},
		{"pipes", "x|||y", domain.RouteOCR, 0.65, "Detected dense delimiters (csv-like)"},
		{"default", "hello world", domain.RouteVLM, 0.55, "Default route (no strong table hints)"},
		{"two delimiters only", "a,,b", domain.RouteVLM, 0.55, "Default route (no strong table hints)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecideRoute(tt.text)
			if got.Route != tt.route || got.Confidence != tt.confidence || got.Reason != tt.reason {
				t.Fatalf("DecideRoute(%q) = %+v", tt.text, got)
			}
		})
	}
}

func TestRouteHintForced(t *testing.T) {
	got := routeHint(domain.RouteOCR, "chart")
	if got.Route != domain.RouteOCR || got.Confidence != 1.0 || got.Reason != "Route forced by request" {
		t.Fatalf("unexpected forced hint: %+v", got)
	}
}
