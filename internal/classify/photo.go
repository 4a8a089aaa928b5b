package classify

import (
	"regexp"
	"strings"

	"github.com/alavescortez-del/gingerai-sub000/internal/interfaces"
)

// mediaWords are the nouns that can be the object of a photo request.
const mediaWords = `(?:photo|photos|pic|pics|picture|pictures|image|images|selfie|selfies|snap)`

// inclusionPatterns match explicit imperative/desire phrasing: the user is
// asking to be sent a photo.
var inclusionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:send|show|give)\s+(?:me\s+)?(?:an?\s+|another\s+|some\s+)?(?:\w+\s+){0,2}` + mediaWords + `\b`),
	regexp.MustCompile(`(?i)\bcan\s+i\s+(?:see|get|have)\b.{0,40}\b` + mediaWords + `\b`),
	regexp.MustCompile(`(?i)\bi\s+(?:want|wanna|would\s+love|'?d\s+love)\s+(?:to\s+see\s+)?(?:an?\s+|some\s+)?(?:\w+\s+){0,2}` + mediaWords + `\b`),
	regexp.MustCompile(`(?i)\b` + mediaWords + `\s+(?:please|pls|plz)\b`),
	regexp.MustCompile(`(?i)\btake\s+a\s+` + mediaWords + `\s+(?:for|of)\s+(?:me|yourself)\b`),
}

// exclusionPatterns match ownership/reference phrasing: the user merely
// mentions a photo. An exclusion match vetoes any inclusion match.
var exclusionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bi\s+(?:have|had|got|took|found)\s+(?:an?\s+|some\s+|this\s+|that\s+)?` + mediaWords + `\b`),
	regexp.MustCompile(`(?i)\bmy\s+` + mediaWords + `\b`),
	regexp.MustCompile(`(?i)\bin\s+(?:the|this|that|your|my)\s+` + mediaWords + `\b`),
	regexp.MustCompile(`(?i)\b(?:the|this|that)\s+` + mediaWords + `\s+(?:of|that|which|you\s+sent)\b`),
	regexp.MustCompile(`(?i)\bsent\s+you\s+(?:an?\s+)?` + mediaWords + `\b`),
}

// categoryKeywords is the fixed photo taxonomy. A message may match zero,
// one, or many categories.
var categoryKeywords = map[string][]string{
	"sport":    {"sport", "workout", "gym", "yoga", "fitness", "jogging", "running"},
	"lingerie": {"lingerie", "underwear", "bra", "panties", "nightie"},
	"beach":    {"beach", "bikini", "swimsuit", "pool", "seaside"},
	"bedroom":  {"bed", "bedroom", "sheets", "pillow"},
	"nudity":   {"nude", "naked", "topless", "nothing on", "undressed"},
	"outfit":   {"outfit", "dress", "skirt", "clothes", "wearing"},
	"shower":   {"shower", "bath", "bathtub", "soapy", "wet hair"},
}

var colorKeywords = []string{
	"red", "blue", "black", "white", "pink", "green", "purple", "yellow", "beige",
}

// categoryOrder keeps Classify output stable.
var categoryOrder = []string{"sport", "lingerie", "beach", "bedroom", "nudity", "outfit", "shower"}

// PatternClassifier is the regex-based photo-intent detector. It is
// deliberately heuristic; swap it behind the PhotoIntentClassifier contract
// for anything smarter.
type PatternClassifier struct{}

func NewPatternClassifier() *PatternClassifier {
	return &PatternClassifier{}
}

// Classify inspects one user utterance. Exclusion patterns take precedence:
// "I have a photo of us" is never a request even though it mentions a photo.
func (c *PatternClassifier) Classify(text string) interfaces.Intent {
	intent := interfaces.Intent{
		Categories: c.categories(text),
		Colors:     c.colors(text),
	}

	for _, re := range exclusionPatterns {
		if re.MatchString(text) {
			return intent
		}
	}
	for _, re := range inclusionPatterns {
		if re.MatchString(text) {
			intent.IsRequest = true
			break
		}
	}
	return intent
}

func (c *PatternClassifier) categories(text string) []string {
	lower := strings.ToLower(text)
	var matched []string
	for _, cat := range categoryOrder {
		for _, kw := range categoryKeywords[cat] {
			if containsWord(lower, kw) {
				matched = append(matched, cat)
				break
			}
		}
	}
	return matched
}

func (c *PatternClassifier) colors(text string) []string {
	lower := strings.ToLower(text)
	var matched []string
	for _, color := range colorKeywords {
		if containsWord(lower, color) {
			matched = append(matched, color)
		}
	}
	return matched
}

// containsWord does a word-boundary membership test without recompiling
// regexes per keyword. Multi-word keywords fall back to substring matching.
func containsWord(text, word string) bool {
	if strings.Contains(word, " ") {
		return strings.Contains(text, word)
	}
	idx := 0
	for {
		i := strings.Index(text[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isWordChar(text[start-1])
		afterOK := end == len(text) || !isWordChar(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '_'
}
