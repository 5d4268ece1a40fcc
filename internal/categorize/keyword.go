package categorize

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/example/visionary-scheduler/internal/scheduler"
)

type keywordRule struct {
	category scheduler.Category
	keywords []string
	duration time.Duration
}

var defaultRules = []keywordRule{
	{scheduler.CategoryFinancial, []string{"pay", "bill", "invoice", "budget", "tax", "bank", "rent", "insurance", "refund"}, 30 * time.Minute},
	{scheduler.CategoryHealth, []string{"doctor", "dentist", "gym", "workout", "run", "exercise", "medication", "checkup", "yoga", "walk"}, time.Hour},
	{scheduler.CategoryNutrition, []string{"meal", "cook", "grocery", "groceries", "lunch", "dinner", "breakfast", "recipe", "prep"}, 45 * time.Minute},
	{scheduler.CategoryPsychological, []string{"meditate", "meditation", "journal", "therapy", "therapist", "relax", "reflect", "friend", "break"}, 30 * time.Minute},
}

var (
	durationPattern = regexp.MustCompile(`(?i)\b(\d+)\s*(minutes|minute|mins|min|m|hours|hour|hrs|hr|h)\b`)
	inDaysPattern   = regexp.MustCompile(`(?i)\bin\s+(\d+)\s+days?\b`)
	linePattern     = regexp.MustCompile(`[\r\n;]+`)
	sentencePattern = regexp.MustCompile(`[.!?]\s+`)
	bulletPattern   = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s*`)
)

// KeywordCategorizer is a local categorizer that matches keywords. It is
// used when no remote categorization endpoint is configured.
type KeywordCategorizer struct {
	now func() time.Time
	loc *time.Location
}

// NewKeywordCategorizer returns a categorizer resolving relative deadlines
// ("today", "by friday") in loc.
func NewKeywordCategorizer(now func() time.Time, loc *time.Location) *KeywordCategorizer {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.UTC
	}
	return &KeywordCategorizer{now: now, loc: loc}
}

// Categorize treats every line or sentence as one action item.
func (k *KeywordCategorizer) Categorize(ctx context.Context, text string) ([]Suggestion, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyContent
	}
	var suggestions []Suggestion
	for _, line := range linePattern.Split(text, -1) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line = bulletPattern.ReplaceAllString(line, "")
		for _, sentence := range sentencePattern.Split(line, -1) {
			item := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(sentence), ".!?"))
			if item == "" {
				continue
			}
			suggestions = append(suggestions, k.suggest(item))
		}
	}
	if len(suggestions) == 0 {
		return nil, ErrEmptyContent
	}
	return suggestions, nil
}

func (k *KeywordCategorizer) suggest(item string) Suggestion {
	words := strings.FieldsFunc(strings.ToLower(item), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})

	best := keywordRule{category: scheduler.CategoryTask, duration: DefaultDuration}
	bestHits := 0
	for _, rule := range defaultRules {
		hits := 0
		for _, w := range words {
			for _, kw := range rule.keywords {
				if w == kw {
					hits++
				}
			}
		}
		if hits > bestHits {
			best, bestHits = rule, hits
		}
	}

	s := Suggestion{
		Title:      item,
		Category:   best.category,
		Duration:   best.duration,
		Confidence: 0.3,
	}
	if bestHits > 0 {
		s.Confidence = min(0.5+0.15*float64(bestHits), 0.95)
	}
	if d, ok := parseDuration(item); ok {
		s.Duration = d
	}
	s.Deadline = k.parseDeadline(words, item)
	if containsWord(words, "urgent") || containsWord(words, "asap") {
		s.Priority = 5
	}
	return s
}

func parseDuration(item string) (time.Duration, bool) {
	m := durationPattern.FindStringSubmatch(item)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, false
	}
	if strings.HasPrefix(strings.ToLower(m[2]), "h") {
		return time.Duration(n) * time.Hour, true
	}
	return time.Duration(n) * time.Minute, true
}

// parseDeadline resolves relative phrases to the end of the named day.
func (k *KeywordCategorizer) parseDeadline(words []string, item string) *time.Time {
	now := k.now().In(k.loc)
	endOfDay := func(days int) *time.Time {
		d := time.Date(now.Year(), now.Month(), now.Day()+days+1, 0, 0, 0, 0, k.loc).UTC()
		return &d
	}

	switch {
	case containsWord(words, "today") || containsWord(words, "tonight"):
		return endOfDay(0)
	case containsWord(words, "tomorrow"):
		return endOfDay(1)
	}
	if m := inDaysPattern.FindStringSubmatch(item); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return endOfDay(n)
		}
	}
	for i, w := range words {
		if (w != "by" && w != "on" && w != "before") || i+1 >= len(words) {
			continue
		}
		if wd, ok := weekdays[words[i+1]]; ok {
			days := (int(wd) - int(now.Weekday()) + 7) % 7
			if days == 0 {
				days = 7
			}
			return endOfDay(days)
		}
	}
	return nil
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
}

func containsWord(words []string, target string) bool {
	for _, w := range words {
		if w == target {
			return true
		}
	}
	return false
}
