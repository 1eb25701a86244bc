package commitments

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Wednesday morning
var wednesday = time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC)

func fixed(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func endOf(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 23, 59, 59, 0, time.UTC)
}

// =============================================================================
// Parse Tests
// =============================================================================

func TestParser_Parse(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		wantTask string
		wantExpr string
		wantDue  time.Time
	}{
		{"I'll tomorrow", "I'll call mom tomorrow", "Call mom", "tomorrow", endOf(2025, 3, 13)},
		{"I will today", "I will finish the report today", "Finish the report", "today", endOf(2025, 3, 12)},
		{"need to by weekday", "I need to pay rent by Friday", "Pay rent", "by Friday", endOf(2025, 3, 14)},
		{"should this weekend", "I should clean the garage this weekend", "Clean the garage", "this weekend", endOf(2025, 3, 16)},
		{"going to", "I'm going to book flights this week", "Book flights", "this week", endOf(2025, 3, 16)},
		{"needs to be done", "The report needs to be done by next week", "Report", "by next week", endOf(2025, 3, 23)},
		{"have to", "I have to renew my passport tomorrow", "Renew my passport", "tomorrow", endOf(2025, 3, 13)},
		{"really need to", "ugh I really need to call the dentist today", "Call the dentist", "today", endOf(2025, 3, 12)},
		{"must", "I must submit taxes by monday", "Submit taxes", "by monday", endOf(2025, 3, 17)},
		{"case insensitive", "i'll WATER the plants tomorrow", "WATER the plants", "tomorrow", endOf(2025, 3, 13)},
	}

	p := NewParser(fixed(wednesday))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Parse(tt.message)
			require.Len(t, got, 1)
			if got[0].Task != tt.wantTask {
				t.Errorf("Task = %q, want %q", got[0].Task, tt.wantTask)
			}
			if got[0].Expression != tt.wantExpr {
				t.Errorf("Expression = %q, want %q", got[0].Expression, tt.wantExpr)
			}
			if !got[0].Deadline.Equal(tt.wantDue) {
				t.Errorf("Deadline = %v, want %v", got[0].Deadline, tt.wantDue)
			}
		})
	}
}

func TestParser_SkipsGenericTasks(t *testing.T) {
	p := NewParser(fixed(wednesday))

	for _, msg := range []string{
		"I'll do it tomorrow",
		"I need to do something today",
		"I should go today",
		"I had a nice day",
	} {
		if got := p.Parse(msg); len(got) != 0 {
			t.Errorf("Parse(%q) = %v, want none", msg, got)
		}
	}
}

func TestParser_Deduplicates(t *testing.T) {
	p := NewParser(fixed(wednesday))
	got := p.Parse("I'll call mom tomorrow. Actually I will call Mom today")
	require.Len(t, got, 1)
	assert.Equal(t, "Call mom", got[0].Task)
}

func TestParser_MultipleCommitments(t *testing.T) {
	p := NewParser(fixed(wednesday))
	got := p.Parse("I'll buy groceries today and I need to email Sam tomorrow")
	require.Len(t, got, 2)
	assert.Equal(t, "Buy groceries", got[0].Task)
	assert.Equal(t, "Email Sam", got[1].Task)
}

func TestParser_DeadlineAfterNow(t *testing.T) {
	p := NewParser(fixed(wednesday))
	for _, msg := range []string{
		"I'll stretch today",
		"I'll stretch tomorrow",
		"I'll stretch this weekend",
		"I'll stretch by sunday",
		"I'll stretch this wednesday",
	} {
		got := p.Parse(msg)
		require.Len(t, got, 1, msg)
		assert.True(t, got[0].Deadline.After(wednesday), "%s: %v", msg, got[0].Deadline)
		assert.Equal(t, 23, got[0].Deadline.Hour())
		assert.Equal(t, 59, got[0].Deadline.Second())
	}
}

func TestCleanTask(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"to the gym though", "The gym"},
		{"the laundry but", "Laundry"},
		{"  walk the dog  ", "Walk the dog"},
		{"éclairs", "Éclairs"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := cleanTask(tt.in); got != tt.want {
			t.Errorf("cleanTask(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// =============================================================================
// ResolveDeadline Tests
// =============================================================================

func TestResolveDeadline(t *testing.T) {
	sundayEvening := time.Date(2025, 3, 16, 19, 0, 0, 0, time.UTC)
	sundayMorning := time.Date(2025, 3, 16, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		expr string
		now  time.Time
		want time.Time
	}{
		{"today", "today", wednesday, endOf(2025, 3, 12)},
		{"tomorrow", "Tomorrow", wednesday, endOf(2025, 3, 13)},
		{"weekend midweek", "this weekend", wednesday, endOf(2025, 3, 16)},
		{"weekend sunday morning", "this weekend", sundayMorning, endOf(2025, 3, 16)},
		{"weekend sunday evening", "this weekend", sundayEvening, endOf(2025, 3, 23)},
		{"week midweek", "this week", wednesday, endOf(2025, 3, 16)},
		{"week on sunday", "this week", sundayMorning, endOf(2025, 3, 23)},
		{"by next week", "by  next week", wednesday, endOf(2025, 3, 23)},
		{"later weekday", "by friday", wednesday, endOf(2025, 3, 14)},
		{"earlier weekday", "this monday", wednesday, endOf(2025, 3, 17)},
		{"same weekday", "by wednesday", wednesday, endOf(2025, 3, 19)},
		{"unknown", "this month", wednesday, endOf(2025, 3, 12)},
		{"garbage", "whenever", wednesday, endOf(2025, 3, 12)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveDeadline(tt.expr, tt.now)
			if !got.Equal(tt.want) {
				t.Errorf("ResolveDeadline(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}
