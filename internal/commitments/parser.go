// Package commitments detects commitments in free text and resolves
// fuzzy deadline phrases.
package commitments

import (
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/quantumlife/companion/internal/core"
	"github.com/quantumlife/companion/internal/logging"
)

// Parsed is a commitment found in a message.
type Parsed struct {
	Task       string    `json:"task_description"`
	Deadline   time.Time `json:"deadline"`
	Expression string    `json:"time_phrase"`
}

// eveningHour is when "this <today's weekday>" rolls to next week.
const eveningHour = 18

const timeExpr = `(today|tomorrow|by\s+next\s+week|this\s+weekend|this\s+\w+|by\s+\w+)`

var commitmentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bI'll\s+(.+?)\s+` + timeExpr),
	regexp.MustCompile(`(?i)\bI\s+will\s+(.+?)\s+` + timeExpr),
	regexp.MustCompile(`(?i)\bI\s+need\s+to\s+(.+?)\s+` + timeExpr),
	regexp.MustCompile(`(?i)\bI\s+should\s+(.+?)\s+` + timeExpr),
	regexp.MustCompile(`(?i)\bI'm\s+going\s+to\s+(.+?)\s+` + timeExpr),
	regexp.MustCompile(`(?i)(.+?)\s+needs?\s+to\s+be\s+done\s+` + timeExpr),
	regexp.MustCompile(`(?i)\bI\s+have\s+to\s+(.+?)\s+` + timeExpr),
	regexp.MustCompile(`(?i)\bI\s+really\s+need\s+to\s+(.+?)\s+` + timeExpr),
	regexp.MustCompile(`(?i)\bI\s+must\s+(.+?)\s+` + timeExpr),
}

var genericTasks = map[string]bool{
	"it": true, "this": true, "that": true,
	"do it": true, "do this": true, "do that": true,
	"something": true, "do something": true,
}

var (
	leadingFiller  = regexp.MustCompile(`(?i)^(to|the)\s+`)
	trailingFiller = regexp.MustCompile(`(?i)\s+(though|but|however)$`)
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Parser extracts commitments from messages.
type Parser struct {
	now func() time.Time
	log *logging.Logger
}

// NewParser creates a parser reading the current time from now.
func NewParser(now func() time.Time) *Parser {
	if now == nil {
		now = time.Now
	}
	return &Parser{
		now: now,
		log: logging.Component("commitments"),
	}
}

// Parse returns the commitments in text, deduplicated by task.
func (p *Parser) Parse(text string) []Parsed {
	now := p.now()
	seen := make(map[string]bool)
	var out []Parsed

	for _, re := range commitmentPatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			task := cleanTask(m[1])
			if utf8.RuneCountInString(task) < 3 || genericTasks[strings.ToLower(task)] {
				continue
			}
			key := strings.ToLower(task)
			if seen[key] {
				continue
			}
			seen[key] = true

			expr := strings.TrimSpace(m[2])
			out = append(out, Parsed{
				Task:       task,
				Deadline:   ResolveDeadline(expr, now),
				Expression: expr,
			})
			p.log.Debug("Detected commitment %q by %q", task, expr)
		}
	}
	return out
}

// ToCommitment converts a parse result into a pending commitment.
func (p Parsed) ToCommitment(userID core.UserID, message string, now time.Time) *core.Commitment {
	deadline := p.Deadline
	return &core.Commitment{
		UserID:          userID,
		TaskDescription: p.Task,
		OriginalMessage: message,
		Deadline:        &deadline,
		DeadlineType:    core.DeadlineFuzzy,
		Priority:        core.PriorityMedium,
		Status:          core.StatusPending,
		CreatedAt:       now,
	}
}

func cleanTask(task string) string {
	task = strings.TrimSpace(task)
	task = leadingFiller.ReplaceAllString(task, "")
	task = trailingFiller.ReplaceAllString(task, "")
	task = strings.TrimSpace(task)
	if task == "" {
		return task
	}
	r, size := utf8.DecodeRuneInString(task)
	return string(unicode.ToUpper(r)) + task[size:]
}

// ResolveDeadline turns a time expression into the end of the day it
// names, relative to now. Unknown expressions resolve to the end of today.
func ResolveDeadline(expr string, now time.Time) time.Time {
	e := strings.Join(strings.Fields(strings.ToLower(expr)), " ")

	switch {
	case e == "today":
		return core.EndOfDay(now)
	case e == "tomorrow":
		return core.EndOfDay(now.AddDate(0, 0, 1))
	case e == "this weekend":
		days := daysUntil(now.Weekday(), time.Sunday)
		if days == 0 && now.Hour() >= eveningHour {
			days = 7
		}
		return core.EndOfDay(now.AddDate(0, 0, days))
	case e == "this week":
		days := daysUntil(now.Weekday(), time.Sunday)
		if days == 0 {
			days = 7
		}
		return core.EndOfDay(now.AddDate(0, 0, days))
	case e == "by next week" || e == "next week":
		days := daysUntil(now.Weekday(), time.Sunday) + 7
		return core.EndOfDay(now.AddDate(0, 0, days))
	case strings.HasPrefix(e, "this "), strings.HasPrefix(e, "by "):
		_, name, _ := strings.Cut(e, " ")
		if wd, ok := weekdays[name]; ok {
			return nextWeekday(now, wd)
		}
	}
	return core.EndOfDay(now)
}

// nextWeekday returns the end of the next wd strictly after today.
func nextWeekday(now time.Time, wd time.Weekday) time.Time {
	days := daysUntil(now.Weekday(), wd)
	if days == 0 {
		days = 7
	}
	return core.EndOfDay(now.AddDate(0, 0, days))
}

func daysUntil(from, to time.Weekday) int {
	return (int(to) - int(from) + 7) % 7
}
