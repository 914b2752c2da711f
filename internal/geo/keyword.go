package geo

import (
	"context"
	"regexp"
	"strings"
)

var locationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:location|address):?\s*([^,.\n]+)`),
	regexp.MustCompile(`(?i)\bnear\s+([^,.\n]+)`),
	regexp.MustCompile(`(?i)\bat\s+([^,.\n]+)`),
	regexp.MustCompile(`(?i)\bin\s+([^,.\n]+)`),
}

// KeywordExtractor finds locations introduced by phrases such as "near",
// "at" or "address:". It needs no external service.
type KeywordExtractor struct{}

func (KeywordExtractor) ExtractLocation(_ context.Context, text string) (string, error) {
	for _, p := range locationPatterns {
		if m := p.FindStringSubmatch(text); m != nil {
			if loc := strings.TrimSpace(m[1]); loc != "" {
				return loc, nil
			}
		}
	}
	return "", nil
}

// Chain tries extractors in order and returns the first non-empty match.
// Errors from one extractor do not stop the next.
type Chain []Extractor

func (c Chain) ExtractLocation(ctx context.Context, text string) (string, error) {
	var firstErr error
	for _, e := range c {
		loc, err := e.ExtractLocation(ctx, text)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if loc != "" {
			return loc, nil
		}
	}
	return "", firstErr
}
