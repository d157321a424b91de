package freshness

import (
	"log/slog"
	"time"

	"github.com/scmhub/calendar"
)

// TradingCalendar resolves a day to the latest trading session on or before it.
type TradingCalendar interface {
	LatestSession(d Date) Date
}

// Exchange is a TradingCalendar backed by scmhub/calendar. Without exchange
// data it treats Monday to Friday as sessions.
type Exchange struct {
	cal *calendar.Calendar
	loc *time.Location
}

// NewExchange loads the calendar for the given ISO 10383 MIC, e.g. "xkrx".
func NewExchange(mic string) *Exchange {
	cal := calendar.GetCalendar(mic)
	if cal == nil {
		slog.Warn("trading calendar not available, using weekday fallback", "mic", mic)
		return &Exchange{loc: time.UTC}
	}
	return &Exchange{cal: cal, loc: cal.Loc}
}

// KRX returns the Korea Exchange calendar.
func KRX() *Exchange {
	return NewExchange("xkrx")
}

// IsSession reports whether d is a trading day.
func (e *Exchange) IsSession(d Date) bool {
	t := d.In(e.loc).Add(12 * time.Hour)
	if e.cal == nil {
		wd := t.Weekday()
		return wd != time.Saturday && wd != time.Sunday
	}
	return e.cal.IsBusinessDay(t)
}

// LatestSession walks back from d to the first trading day, giving up after
// two weeks so a broken calendar cannot stall collection.
func (e *Exchange) LatestSession(d Date) Date {
	for i := 0; i < 14; i++ {
		c := d.AddDays(-i)
		if e.IsSession(c) {
			return c
		}
	}
	return d
}
