package evaluator

import (
	"fmt"
	"time"
)

// Clock provides the time for NOW and TODAY
type Clock interface {
	Now() time.Time
}

// WallClock reads the system time
type WallClock struct{}

func (WallClock) Now() time.Time {
	return time.Now()
}

// day one is 1 Jan 0001
var dayZero = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC).Unix()/secondsPerDay - 1

// DayNumber converts a calendar date to a day number
func DayNumber(year int, month time.Month, day int) int32 {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return int32(t.Unix()/secondsPerDay - dayZero)
}

// DateTime converts a time into a Date with both parts set
func DateTime(t time.Time) Date {
	y, mo, d := t.Date()
	h, mi, s := t.Clock()
	return Date{Days: DayNumber(y, mo, d), Seconds: int32(h*3600 + mi*60 + s)}
}

func civil(days int32) time.Time {
	return time.Unix((int64(days)+dayZero)*secondsPerDay, 0).UTC()
}

func formatDate(d Date) string {
	switch {
	case d.Days == NoDate && d.Seconds == NoDate:
		return ""
	case d.Days == NoDate:
		return formatTime(d.Seconds)
	}
	s := civil(d.Days).Format("2006-01-02")
	if d.Seconds != NoDate {
		s += " " + formatTime(d.Seconds)
	}
	return s
}

func formatTime(secs int32) string {
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, secs/60%60, secs%60)
}

// DATE(year, month, day). months and days past their range roll over.
func fnDate(_ *callContext, args []Value) Value {
	y, mo, d := argInt(args[0]), argInt(args[1]), argInt(args[2])
	if y < 1 || y > 9999 {
		return NewError(ErrBadDate)
	}
	n := DayNumber(y, time.Month(mo), d)
	if n < 1 {
		return NewError(ErrBadDate)
	}
	return Date{Days: n, Seconds: NoDate}
}

// TIME(hour, minute, second) wraps at midnight
func fnTime(_ *callContext, args []Value) Value {
	secs := argInt(args[0])*3600 + argInt(args[1])*60 + argInt(args[2])
	if secs < 0 {
		return NewError(ErrBadDate)
	}
	return Date{Days: NoDate, Seconds: int32(secs % secondsPerDay)}
}

type datePartKind uint8

const (
	partDay datePartKind = iota
	partMonth
	partYear
	partWeekday
	partHour
	partMinute
	partSecond
)

func datePart(part datePartKind) execFunc {
	return func(_ *callContext, args []Value) Value {
		d := args[0].(Date)
		if part >= partHour {
			if d.Seconds == NoDate {
				return NewError(ErrBadDate)
			}
			switch part {
			case partHour:
				return Integer(d.Seconds / 3600)
			case partMinute:
				return Integer(d.Seconds / 60 % 60)
			}
			return Integer(d.Seconds % 60)
		}
		if d.Days == NoDate {
			return NewError(ErrBadDate)
		}
		t := civil(d.Days)
		switch part {
		case partDay:
			return Integer(int32(t.Day()))
		case partMonth:
			return Integer(int32(t.Month()))
		case partYear:
			return Integer(int32(t.Year()))
		}
		// Sunday is day one
		return Integer(int32(t.Weekday()) + 1)
	}
}

func fnNow(c *callContext, _ []Value) Value {
	return DateTime(c.engine().clock.Now())
}

func fnToday(c *callContext, _ []Value) Value {
	d := DateTime(c.engine().clock.Now())
	d.Seconds = NoDate
	return d
}
