// Package birthday decides whether a person's birthday falls on a target day.
package birthday

import (
	"strconv"
	"strings"
	"time"

	"github.com/Draggon233/gift-song/internal/domain"
)

// DefaultOffsetDays is how far ahead of today the birthday must be.
const DefaultOffsetDays = 7

// ParseBirthDate extracts day and month from "DD.MM" or "DD.MM.YYYY".
// The year, when present, is ignored.
func ParseBirthDate(s string) (day, month int, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, false
	}
	parts := strings.Split(s, ".")
	if len(parts) < 2 {
		return 0, 0, false
	}
	d, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, false
	}
	m, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, false
	}
	return d, m, true
}

// IsBirthdayInWindow reports whether p's birthday is exactly offsetDays after
// today. It is a single-day check, not "within N days".
func IsBirthdayInWindow(p domain.Person, today time.Time, offsetDays int) bool {
	day, month, ok := ParseBirthDate(p.BirthDate)
	if !ok {
		return false
	}
	target := today.AddDate(0, 0, offsetDays)
	return target.Day() == day && int(target.Month()) == month
}

// FormatDayMonth renders t as "DD.MM", the form VK uses in bdate.
func FormatDayMonth(t time.Time) string {
	return t.Format("02.01")
}

// Window is an inclusive range of day offsets from today.
type Window struct {
	From int
	To   int
}

func DefaultWindow() Window {
	return Window{From: DefaultOffsetDays, To: DefaultOffsetDays}
}

// Offsets lists every offset in the window. A reversed window is empty.
func (w Window) Offsets() []int {
	if w.To < w.From {
		return nil
	}
	out := make([]int, 0, w.To-w.From+1)
	for o := w.From; o <= w.To; o++ {
		out = append(out, o)
	}
	return out
}

// Matches is true when the birthday lands on any day of the window.
func (w Window) Matches(p domain.Person, today time.Time) bool {
	for _, o := range w.Offsets() {
		if IsBirthdayInWindow(p, today, o) {
			return true
		}
	}
	return false
}

// Dates returns the target dates covered by the window, in order.
func (w Window) Dates(today time.Time) []time.Time {
	offsets := w.Offsets()
	out := make([]time.Time, 0, len(offsets))
	for _, o := range offsets {
		out = append(out, today.AddDate(0, 0, o))
	}
	return out
}
