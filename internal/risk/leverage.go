package risk

import (
	"regexp"
	"strconv"
)

var suggestedLeveragePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:lower|reduce|decrease|adjust)\s+(?:your\s+|the\s+)?leverage\s+(?:to|below|under)\s+(\d+(?:\.\d+)?)\s*x?`),
	regexp.MustCompile(`(?i)max(?:imum)?\.?\s+(?:allowed\s+|allowable\s+|permitted\s+)?leverage\s*(?:is|:|=|of|for this position is)?\s*(\d+(?:\.\d+)?)\s*x?`),
	regexp.MustCompile(`(?i)leverage\s+(?:should|must|can)\s+(?:not\s+exceed|be\s+at\s+most|be\s+(?:<=|less\s+than\s+or\s+equal\s+to))\s*(\d+(?:\.\d+)?)`),
	regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*x\s+(?:or\s+(?:lower|less|below)|max(?:imum)?)`),
	regexp.MustCompile(`(?i)suggested\s+leverage\s*[:=]?\s*(\d+(?:\.\d+)?)`),
}

// ParseSuggestedLeverage extracts the venue's suggested maximum leverage from
// a rejection message. The bool is false when no positive value is found.
func ParseSuggestedLeverage(text string) (float64, bool) {
	for _, re := range suggestedLeveragePatterns {
		m := re.FindStringSubmatch(text)
		if len(m) < 2 {
			continue
		}
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil || v <= 0 {
			continue
		}
		return v, true
	}
	return 0, false
}
