// Package detector decides when a probed page should be re-rendered in a browser
// before its metadata is read.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/JakeFAU/sitemap-meta/internal/crawler"
)

// Heuristic promotes pages that came back without a title and look like they build
// their <head> in JavaScript.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold int) *Heuristic {
	if threshold == 0 {
		threshold = 2048
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
	[]byte("ng-app"),
	[]byte("react-helmet"),
}

// ShouldPromote decides whether a headless fetch is required.
func (h *Heuristic) ShouldPromote(probe crawler.FetchResponse, meta crawler.PageMetadata) bool {
	if probe.StatusCode != http.StatusOK {
		return false
	}
	if meta.Title != nil && meta.Description != nil {
		return false
	}
	body := probe.Body
	if len(body) == 0 {
		return true
	}
	if meta.Title != nil {
		// A server-rendered title usually means the head is complete.
		return hasSPAMarker(body) && meta.Description == nil && len(body) < h.BodyLengthThreshold
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	return hasSPAMarker(body)
}

func hasSPAMarker(body []byte) bool {
	lower := bytes.ToLower(body)
	for _, marker := range spaMarkers {
		if bytes.Contains(lower, bytes.ToLower(marker)) {
			return true
		}
	}
	return false
}

func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	scriptCoverage := 0
	searchPos := 0

	for {
		relativeStart := strings.Index(lower[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Unterminated tag: the rest of the document is script.
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := strings.Index(lower[contentStart:], closeTag)
		var nextSearch int
		if relativeEnd == -1 {
			nextSearch = total
		} else {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}

	return scriptCoverage*100/total >= 25
}
