package schedule

import "time"

// TemplateEntry is one weekly working window. Weekday follows time.Weekday
// numbering (0 = Sunday). At most one entry exists per (staff, weekday); an
// entry with EndMinute <= StartMinute is treated as empty and ignored.
type TemplateEntry struct {
	StaffID     string
	Weekday     int
	StartMinute int
	EndMinute   int
}

func (e TemplateEntry) Valid() bool {
	return e.StartMinute >= 0 && e.EndMinute <= 24*60 && e.StartMinute < e.EndMinute
}

// Exception overrides the weekly template for a single calendar date: either
// a full day off, or replacement hours. At most one exists per (staff, date)
// and it always beats the template.
type Exception struct {
	StaffID     string
	Date        time.Time // business-local calendar date at midnight
	IsDayOff    bool
	StartMinute *int
	EndMinute   *int
}

// Blocker removes a sub-interval (break, personal time) from whatever working
// window is in effect for the date. Applied after exception/template
// resolution.
type Blocker struct {
	ID          string
	StaffID     string
	Date        time.Time
	StartMinute int
	EndMinute   int
	Reason      string
}

// BasisKind tags where a day's base working window came from.
type BasisKind int

const (
	BasisNone BasisKind = iota
	BasisDayOff
	BasisTemplate
	BasisOverride
)

func (k BasisKind) String() string {
	switch k {
	case BasisDayOff:
		return "day_off"
	case BasisTemplate:
		return "template"
	case BasisOverride:
		return "override"
	default:
		return "none"
	}
}
