package usecase

import (
	"regexp"
	"strings"

	"github.com/kirillkom/idp-pipeline/internal/core/domain"
)

var (
	tableKeywords  = []string{"表格", "欄位", "列", "行", "csv", "excel", "xlsx", "tsv", "header", "row", "column", "schema"}
	figureKeywords = []string{"圖", "圖表", "趨勢", "折線", "長條", "圓餅", "曲線", "scatter", "chart", "plot", "figure", "diagram"}

	denseDelimiters = regexp.MustCompile(`[,|\t;]{3,}`)
)

// DecideRoute picks ocr or vlm from the raw input text. Rules are checked in
// order and the first match wins. Keywords match case-sensitively.
func DecideRoute(text string) domain.RouteDecision {
	if containsAny(text, tableKeywords) {
		return domain.RouteDecision{Route: domain.RouteOCR, Confidence: 0.75, Reason: "Detected table/structured keywords"}
	}
	if containsAny(text, figureKeywords) {
		return domain.RouteDecision{Route: domain.RouteVLM, Confidence: 0.75, Reason: "Detected figure/chart keywords"}
	}
	if denseDelimiters.MatchString(text) {
		return domain.RouteDecision{Route: domain.RouteOCR, Confidence: 0.65, Reason: "Detected dense delimiters (csv-like)"}
	}
	return domain.RouteDecision{Route: domain.RouteVLM, Confidence: 0.55, Reason: "Default route (no strong table hints)"}
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// routeHint is the decision reported back to the caller at submission time.
func routeHint(route domain.Route, input string) domain.RouteDecision {
	if route == domain.RouteAuto {
		return DecideRoute(input)
	}
	return domain.ForcedRoute(route)
}
