package classify

import (
	"context"
	"math/rand"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dialogforge/engine/flow"
)

const hangOnSentinel = "(HANG ON)"

type (
	// Fallback is the deterministic reference classifier: it scores each
	// intent by the fraction of its example tokens present in the
	// lowercased user text and extracts slots via type-tagged regex
	// patterns, per spec.md §4.5. It needs no external dependency and is
	// always correct-enough to drive the demo flow end to end.
	Fallback struct {
		rng *rand.Rand
	}
)

// NewFallback constructs a deterministic fallback classifier.
func NewFallback() *Fallback {
	return &Fallback{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

var (
	numberPattern  = regexp.MustCompile(`\d+`)
	isoDatePattern = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	usDatePattern  = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`)
	weekdayPattern = regexp.MustCompile(`(?i)\b(next\s+)?(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	timePattern    = regexp.MustCompile(`(?i)\b(\d{1,2}):?(\d{2})?\s*(am|pm)?\b`)
	namePattern    = regexp.MustCompile(`\b([A-Z][a-z]+)\s+([A-Z][a-z]+)\b`)
	phonePattern   = regexp.MustCompile(`\b(?:(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?)?\d{3}[-.\s]?\d{4}\b`)

	weekdayIndex = map[string]time.Weekday{
		"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
		"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
		"saturday": time.Saturday,
	}
)

// Classify implements Classifier.
func (f *Fallback) Classify(_ context.Context, text string, intents map[string]flow.Intent, _ map[string]any) (Result, error) {
	forcedMisclassify := strings.Contains(text, hangOnSentinel)
	clean := strings.ReplaceAll(text, hangOnSentinel, "")
	lower := strings.ToLower(clean)

	if forcedMisclassify {
		name := f.randomIntentName(intents)
		return Result{Intent: name, Confidence: 0.3, Slots: f.extractSlots(clean, intents[name])}, nil
	}

	best := ""
	bestScore := -1.0
	names := make([]string, 0, len(intents))
	for name := range intents {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		score := scoreIntent(lower, intents[name])
		if score > bestScore {
			bestScore = score
			best = name
		}
	}

	if best == "" {
		return Result{}, nil
	}
	slots := f.extractSlots(clean, intents[best])
	return Result{Intent: best, Confidence: bestScore, Slots: slots}, nil
}

func (f *Fallback) randomIntentName(intents map[string]flow.Intent) string {
	names := make([]string, 0, len(intents))
	for name := range intents {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return ""
	}
	return names[f.rng.Intn(len(names))]
}

// scoreIntent returns the fraction of the intent's example tokens present
// anywhere in text, averaged across all examples.
func scoreIntent(lowerText string, intent flow.Intent) float64 {
	if len(intent.Examples) == 0 {
		return 0
	}
	var total float64
	for _, example := range intent.Examples {
		tokens := strings.Fields(strings.ToLower(example))
		if len(tokens) == 0 {
			continue
		}
		matched := 0
		for _, tok := range tokens {
			if strings.Contains(lowerText, tok) {
				matched++
			}
		}
		total += float64(matched) / float64(len(tokens))
	}
	return total / float64(len(intent.Examples))
}

func (f *Fallback) extractSlots(text string, intent flow.Intent) map[string]any {
	if len(intent.Slots) == 0 {
		return nil
	}
	slots := make(map[string]any, len(intent.Slots))
	for name, spec := range intent.Slots {
		if v, ok := extractSlot(text, spec.Type); ok {
			slots[name] = v
		}
	}
	return slots
}

func extractSlot(text string, typ flow.SlotType) (any, bool) {
	switch typ {
	case flow.SlotNumber:
		m := numberPattern.FindString(text)
		if m == "" {
			return nil, false
		}
		n, err := strconv.Atoi(m)
		if err != nil {
			return nil, false
		}
		return float64(n), true
	case flow.SlotDate:
		return extractDate(text)
	case flow.SlotTime:
		return extractTime(text)
	case flow.SlotName:
		m := namePattern.FindString(text)
		if m == "" {
			return nil, false
		}
		return m, true
	case flow.SlotPhone:
		m := phonePattern.FindString(text)
		if m == "" {
			return nil, false
		}
		return m, true
	case flow.SlotString:
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return nil, false
		}
		return trimmed, true
	default:
		return nil, false
	}
}

func extractDate(text string) (any, bool) {
	lower := strings.ToLower(text)
	now := time.Now()
	switch {
	case strings.Contains(lower, "today"):
		return now.Format("2006-01-02"), true
	case strings.Contains(lower, "tomorrow"):
		return now.AddDate(0, 0, 1).Format("2006-01-02"), true
	}
	if m := isoDatePattern.FindString(text); m != "" {
		return m, true
	}
	if m := usDatePattern.FindStringSubmatch(text); m != nil {
		month, _ := strconv.Atoi(m[1])
		day, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC).Format("2006-01-02"), true
	}
	if m := weekdayPattern.FindStringSubmatch(lower); m != nil {
		target := weekdayIndex[m[2]]
		days := (int(target) - int(now.Weekday()) + 7) % 7
		if days == 0 || m[1] != "" {
			days += 7
		}
		return now.AddDate(0, 0, days).Format("2006-01-02"), true
	}
	return nil, false
}

func extractTime(text string) (any, bool) {
	m := timePattern.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	hour, _ := strconv.Atoi(m[1])
	minute := 0
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	meridiem := strings.ToLower(m[3])
	switch meridiem {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	}
	if hour > 23 {
		return nil, false
	}
	return strconvTwoDigit(hour) + ":" + strconvTwoDigit(minute), true
}

func strconvTwoDigit(n int) string {
	s := strconv.Itoa(n)
	if len(s) < 2 {
		return "0" + s
	}
	return s
}
