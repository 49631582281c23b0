package curate

import (
	"regexp"
	"strconv"
	"strings"
)

// FilteredMarker is stored as the summary of records the model rejected.
const FilteredMarker = "[filtered]"

const defaultScore = 50

// Marker labels accept Chinese variants since some models answer in the
// article's language regardless of the prompt.
var (
	scoreRe   = regexp.MustCompile(`(?i)(?:SCORE|分数)[^\d-]*(-?\d+)`)
	tagsRe    = regexp.MustCompile(`(?i)(?:TAGS|标签)[|\s:：]*([^\n|]+)`)
	markerRe  = regexp.MustCompile(`\|TAGS\||\|SCORE\|`)
	passRe    = regexp.MustCompile(`(?i)\bPASS\b`)
	quoteTrim = "\"'“”‘’ \t\r\n"
)

// Curation is the parsed outcome of one model evaluation.
type Curation struct {
	Summary  string
	Tags     string
	Score    int
	Filtered bool
}

// ParseResponse interprets a model evaluation response. A short response
// containing the PASS token means the item was rejected, however the model
// dressed it up. Otherwise the summary is
// everything before the first marker, with score and tags pulled from their
// markers; a missing score falls back to a neutral default.
func ParseResponse(resp string) Curation {
	text := strings.TrimSpace(resp)

	if passRe.MatchString(text) && len([]rune(text)) < 20 {
		return Curation{Summary: FilteredMarker, Filtered: true}
	}

	summary := text
	if loc := markerRe.FindStringIndex(text); loc != nil {
		summary = text[:loc[0]]
	}
	summary = strings.Trim(summary, quoteTrim)

	score := defaultScore
	if m := scoreRe.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			score = clampScore(n)
		}
	}

	tags := ""
	if m := tagsRe.FindStringSubmatch(text); m != nil {
		tags = strings.TrimSpace(m[1])
	}

	return Curation{Summary: summary, Tags: tags, Score: score}
}

func clampScore(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}
