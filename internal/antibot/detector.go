package antibot

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
)

// Block reasons reported by Detector.
const (
	ReasonStatus      = "status"
	ReasonChallenge   = "challenge"
	ReasonEmpty       = "empty"
	ReasonScriptShell = "script-shell"
)

// Detector recognizes anti-bot interstitials and blocking statuses.
type Detector struct {
	BodyLengthThreshold int
}

// NewDetector creates a detector. Bodies shorter than threshold that are
// mostly script are treated as JavaScript challenge shells.
func NewDetector(threshold int) *Detector {
	if threshold == 0 {
		threshold = 2048
	}
	return &Detector{BodyLengthThreshold: threshold}
}

var blockStatuses = map[int]bool{
	http.StatusForbidden:          true,
	http.StatusTooManyRequests:    true,
	http.StatusServiceUnavailable: true,
}

// challengeMarkers only appear on interstitials.
var challengeMarkers = [][]byte{
	[]byte("cf-chl-"),
	[]byte("challenge-platform"),
	[]byte("cf_chl_opt"),
}

// widgetMarkers also show up in newsletter and contact forms of normal
// pages, so they count only on short or script-heavy bodies.
var widgetMarkers = [][]byte{
	[]byte("ddos-guard"),
	[]byte("g-recaptcha"),
	[]byte("h-captcha"),
	[]byte("px-captcha"),
}

var challengeTitles = []string{"just a moment", "attention required", "checking your browser", "access denied"}

// Detect reports whether resp is a block and why.
func (d *Detector) Detect(resp catalog.FetchResponse) (bool, string) {
	if blockStatuses[resp.StatusCode] {
		return true, ReasonStatus
	}
	if resp.Headers.Get("Cf-Mitigated") == "challenge" {
		return true, ReasonChallenge
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, ""
	}
	body := resp.Body
	if len(bytes.TrimSpace(body)) == 0 {
		return true, ReasonEmpty
	}
	lower := bytes.ToLower(body)
	if containsAny(lower, challengeMarkers) || challengeTitle(body) {
		return true, ReasonChallenge
	}
	short := len(body) < d.BodyLengthThreshold
	dense := scriptDensityHigh(body)
	if containsAny(lower, widgetMarkers) && (short || dense) {
		return true, ReasonChallenge
	}
	if short && dense {
		return true, ReasonScriptShell
	}
	return false, ""
}

func containsAny(body []byte, markers [][]byte) bool {
	for _, marker := range markers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

func challengeTitle(body []byte) bool {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	title := strings.ToLower(strings.TrimSpace(doc.Find("title").First().Text()))
	if title == "" {
		return false
	}
	for _, marker := range challengeTitles {
		if strings.Contains(title, marker) {
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
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := strings.Index(lower[contentStart:], closeTag)
		nextSearch := total
		if relativeEnd != -1 {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}
	return scriptCoverage*100/total >= 25
}
