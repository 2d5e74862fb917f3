package trigger

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	logx "pulse/pkg/logx"
)

// ParseError means the input's time expression could not be understood. Hint
// is a clarification prompt suitable for showing to the user; callers should
// ask rather than guess.
type ParseError struct {
	Input string
	Hint  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse trigger %q: %s", e.Input, e.Hint)
}

// AIParser refines a low-confidence rule parse into a cron expression. The
// returned expression is validated before being trusted.
type AIParser interface {
	RefineTrigger(ctx context.Context, input, timezone string, today time.Time) (cronExpr, description string, err error)
}

// Parser turns natural-language schedule requests into ParsedTriggers.
// A deterministic rule engine runs first; when its confidence is below the
// aiThreshold and an AIParser is configured, an AI refinement is attempted.
// The rule-based result is always the fallback of last resort.
type Parser struct {
	ai  AIParser
	log logx.Logger
	now func() time.Time
}

const aiThreshold = 0.9

func NewParser(ai AIParser, log logx.Logger) *Parser {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Parser{ai: ai, log: log, now: time.Now}
}

// Parse converts input into a ParsedTrigger evaluated in tz. An unparseable
// time expression returns a *ParseError.
func (p *Parser) Parse(ctx context.Context, input, tz string) (*ParsedTrigger, error) {
	parsed, err := p.ruleParse(input, tz)
	if err != nil {
		return nil, err
	}

	if parsed.Confidence < aiThreshold && p.ai != nil {
		if refined, ok := p.refineWithAI(ctx, input, tz, parsed); ok {
			parsed = refined
		}
	}

	next, err := CalculateNextTrigger(parsed.CronExpression, tz, p.now())
	if err != nil {
		return nil, err
	}
	parsed.NextTriggerAt = next
	return parsed, nil
}

func (p *Parser) refineWithAI(ctx context.Context, input, tz string, fallback *ParsedTrigger) (*ParsedTrigger, bool) {
	expr, desc, err := p.ai.RefineTrigger(ctx, input, tz, p.now())
	if err != nil {
		p.log.Debug("ai refinement failed, keeping rule parse", logx.Err(err))
		return nil, false
	}
	if err := ValidateCron(expr); err != nil {
		p.log.Warn("ai returned invalid cron, keeping rule parse",
			logx.String("cron", expr), logx.Err(err))
		return nil, false
	}
	out := *fallback
	out.CronExpression = expr
	if desc != "" {
		out.HumanReadable = desc
	}
	out.Confidence = 0.95
	return &out, true
}

// ----- rule engine -----

type scheduleKind int

const (
	schedDaily scheduleKind = iota
	schedWeekdays
	schedWeekends
	schedWeekly
	schedMonthly
	schedFirstWeekday
	schedHourly
	schedOnce
	schedDefault // nothing matched; treated as daily at low confidence
)

type schedulePattern struct {
	kind       scheduleKind
	dayOfWeek  int // schedWeekly, schedFirstWeekday
	dayOfMonth int // schedMonthly
}

func (p *Parser) ruleParse(input, tz string) (*ParsedTrigger, error) {
	lower := strings.ToLower(strings.TrimSpace(input))
	action, payload := extractActionInfo(lower)
	sched := extractSchedulePattern(lower)

	hour, minute, terr := extractTimePattern(lower)
	if terr != nil {
		if sched.kind == schedHourly {
			// "every hour" needs no time of day; fire on the minute boundary.
			hour, minute = -1, 0
		} else {
			return nil, &ParseError{Input: input, Hint: "tell me what time, e.g. \"at 9am\" or \"at 18:30\""}
		}
	}

	var (
		expr       string
		human      string
		confidence = 0.9
		clock      string
	)
	if hour >= 0 {
		clock = fmt.Sprintf("%02d:%02d", hour, minute)
	}

	switch sched.kind {
	case schedWeekdays:
		expr = fmt.Sprintf("%d %d * * 1-5", minute, hour)
		human = "every weekday at " + clock
	case schedWeekends:
		expr = fmt.Sprintf("%d %d * * 0,6", minute, hour)
		human = "every weekend at " + clock
	case schedWeekly:
		expr = fmt.Sprintf("%d %d * * %d", minute, hour, sched.dayOfWeek)
		human = fmt.Sprintf("every %s at %s", dayNames[sched.dayOfWeek], clock)
	case schedMonthly:
		expr = fmt.Sprintf("%d %d %d * *", minute, hour, sched.dayOfMonth)
		human = fmt.Sprintf("monthly on day %d at %s", sched.dayOfMonth, clock)
	case schedFirstWeekday:
		expr = fmt.Sprintf("%d %d 1-7 * %d", minute, hour, sched.dayOfWeek)
		human = fmt.Sprintf("first %s of the month at %s", dayNames[sched.dayOfWeek], clock)
	case schedHourly:
		expr = fmt.Sprintf("%d * * * *", minute)
		human = "every hour"
	case schedOnce:
		// No one-shot cron form exists; the next occurrence is correct and
		// the caller decides whether to delete after the first fire.
		expr = fmt.Sprintf("%d %d * * *", minute, hour)
		human = "once at " + clock
		confidence = 0.7
	case schedDefault:
		expr = fmt.Sprintf("%d %d * * *", minute, hour)
		human = "daily at " + clock
		confidence = 0.6
	default: // schedDaily
		expr = fmt.Sprintf("%d %d * * *", minute, hour)
		human = "daily at " + clock
	}

	return &ParsedTrigger{
		CronExpression: expr,
		HumanReadable:  human,
		ActionType:     action,
		ActionPayload:  payload,
		Confidence:     confidence,
		Timezone:       tz,
	}, nil
}

var dayNames = [7]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

var weekdayWords = map[string]int{
	"sunday": 0, "monday": 1, "tuesday": 2, "wednesday": 3,
	"thursday": 4, "friday": 5, "saturday": 6,
}

// extractActionInfo classifies the request by keyword. Reminder text is
// captured when phrased "remind me to ..."; otherwise the cleaned input
// itself becomes the reminder message.
func extractActionInfo(lower string) (ActionType, string) {
	switch {
	case strings.Contains(lower, "briefing") || strings.Contains(lower, "digest") || strings.Contains(lower, "summary"):
		return ActionBriefing, ""
	case strings.Contains(lower, "check "), strings.HasPrefix(lower, "check"):
		return ActionCheck, ""
	}
	if m := remindRe.FindStringSubmatch(lower); m != nil {
		return ActionReminder, strings.TrimSpace(stripScheduleWords(m[1]))
	}
	return ActionReminder, strings.TrimSpace(stripScheduleWords(lower))
}

var remindRe = regexp.MustCompile(`remind me (?:to |about )?(.+)`)

var scheduleWordsRe = regexp.MustCompile(`\b(every ?day|everyday|daily|every (?:week|weekday|weekend|hour|morning|evening|night|sunday|monday|tuesday|wednesday|thursday|friday|saturday)|weekdays?|weekends?|hourly|monthly|weekly|tomorrow|tonight|today|at \d{1,2}(?::\d{2})? ?(?:am|pm)?|at (?:noon|midnight)|in the (?:morning|afternoon|evening)|(?:this |in the )?(?:morning|afternoon|evening|night)|noon|midnight|on (?:the )?\d{1,2}(?:st|nd|rd|th)?)\b`)

func stripScheduleWords(s string) string {
	s = scheduleWordsRe.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

var (
	clockAmPmRe  = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\s*(am|pm)\b`)
	hourAmPmRe   = regexp.MustCompile(`\b(\d{1,2})\s*(am|pm)\b`)
	clock24Re    = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)
	atBareHourRe = regexp.MustCompile(`\bat\s+(\d{1,2})\b`)
)

var namedTimes = []struct {
	word string
	hour int
}{
	{"morning", 8},
	{"noon", 12},
	{"afternoon", 14},
	{"evening", 18},
	{"night", 21},
}

// extractTimePattern tries, in order: "H:MM am/pm", "H am/pm", 24-hour
// "HH:MM" (when not part of an am/pm form), a bare "at H" heuristic (1-6
// reads as PM), then named times. First match wins.
func extractTimePattern(lower string) (hour, minute int, err error) {
	if m := clockAmPmRe.FindStringSubmatch(lower); m != nil {
		h, _ := strconv.Atoi(m[1])
		mi, _ := strconv.Atoi(m[2])
		return toHour24(h, m[3]), mi, nil
	}
	if m := hourAmPmRe.FindStringSubmatch(lower); m != nil {
		h, _ := strconv.Atoi(m[1])
		return toHour24(h, m[2]), 0, nil
	}
	if m := clock24Re.FindStringSubmatch(lower); m != nil && !clockAmPmRe.MatchString(lower) {
		h, _ := strconv.Atoi(m[1])
		mi, _ := strconv.Atoi(m[2])
		if h <= 23 && mi <= 59 {
			return h, mi, nil
		}
	}
	if m := atBareHourRe.FindStringSubmatch(lower); m != nil {
		h, _ := strconv.Atoi(m[1])
		if h >= 1 && h <= 6 {
			h += 12 // "at 5" almost always means the afternoon
		}
		if h <= 23 {
			return h, 0, nil
		}
	}
	for _, nt := range namedTimes {
		if strings.Contains(lower, nt.word) {
			return nt.hour, 0, nil
		}
	}
	return 0, 0, fmt.Errorf("no time expression found")
}

func toHour24(h int, meridiem string) int {
	h %= 12
	if meridiem == "pm" {
		h += 12
	}
	return h
}

// extractSchedulePattern classifies the recurrence. Overlapping phrasings
// resolve in specificity order; anything unmatched defaults to daily.
func extractSchedulePattern(lower string) schedulePattern {
	switch {
	case strings.Contains(lower, "weekday"):
		return schedulePattern{kind: schedWeekdays}
	case strings.Contains(lower, "weekend"):
		return schedulePattern{kind: schedWeekends}
	}

	if m := firstWeekdayRe.FindStringSubmatch(lower); m != nil {
		return schedulePattern{kind: schedFirstWeekday, dayOfWeek: weekdayWords[m[1]]}
	}
	for word, num := range weekdayWords {
		if strings.Contains(lower, "every "+word) || strings.Contains(lower, "on "+word+"s") {
			return schedulePattern{kind: schedWeekly, dayOfWeek: num}
		}
	}

	switch {
	case strings.Contains(lower, "every month"), strings.Contains(lower, "monthly"):
		day := 1
		if m := monthDayRe.FindStringSubmatch(lower); m != nil {
			if v, err := strconv.Atoi(m[1]); err == nil && v >= 1 && v <= 31 {
				day = v
			}
		}
		return schedulePattern{kind: schedMonthly, dayOfMonth: day}
	case strings.Contains(lower, "every hour"), strings.Contains(lower, "hourly"):
		return schedulePattern{kind: schedHourly}
	case strings.Contains(lower, "every day"), strings.Contains(lower, "everyday"),
		strings.Contains(lower, "daily"), strings.Contains(lower, "each day"),
		strings.Contains(lower, "every morning"), strings.Contains(lower, "every evening"),
		strings.Contains(lower, "every night"):
		return schedulePattern{kind: schedDaily}
	case strings.Contains(lower, "tomorrow"), strings.Contains(lower, "tonight"),
		strings.Contains(lower, "today"), onceRe.MatchString(lower):
		return schedulePattern{kind: schedOnce}
	}
	return schedulePattern{kind: schedDefault}
}

var (
	firstWeekdayRe = regexp.MustCompile(`first (sunday|monday|tuesday|wednesday|thursday|friday|saturday) of (?:the |every )?month`)
	monthDayRe     = regexp.MustCompile(`on (?:the )?(\d{1,2})(?:st|nd|rd|th)?`)
	onceRe         = regexp.MustCompile(`\bonce\b`)
)
