package strategy

// lookback is how far back from the hard cut Truncate searches for a clean
// break point.
const lookback = 100

// breakRunes are candidate break points in priority order: sentence ends
// first, then clause separators, then whitespace.
var breakRunes = []string{"。", ".", "；", ";", "，", ",", " "}

// Truncate cuts text to at most limit runes, preferring to break right after
// a delimiter found within the last lookback runes of the cut window. Text
// already within the limit is returned unchanged.
func Truncate(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}

	window := runes[:limit]
	searchFrom := max(limit-lookback, 0)

	for _, delim := range breakRunes {
		d := []rune(delim)[0]
		for i := limit - 1; i >= searchFrom; i-- {
			if window[i] == d {
				return string(window[:i+1])
			}
		}
	}

	return string(window)
}
