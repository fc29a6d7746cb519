package extract

import "strings"

// Event categories derived from an event's title and description.
const (
	EventWork     = "Work"
	EventHealth   = "Health"
	EventPersonal = "Personal"
	EventTravel   = "Travel"
	EventOther    = "Other"
)

func calendarFields(e CalendarEvent) map[string]any {
	return map[string]any{
		"title":       e.Title,
		"description": e.Description,
		"start_time":  e.StartTime,
		"end_time":    e.EndTime,
		"location":    e.Location,
		"attendees":   nonNil(e.Attendees),
		"is_all_day":  e.IsAllDay,
		"event_type":  CategorizeEvent(e.Title, e.Description),
	}
}

// CategorizeEvent labels an event by keyword. First matching rule wins.
func CategorizeEvent(title, description string) string {
	text := strings.ToLower(title + " " + description)

	switch {
	case containsAny(text, "meeting", "call"):
		return EventWork
	case containsAny(text, "doctor", "medical", "appointment"):
		return EventHealth
	case containsAny(text, "birthday", "party", "celebration"):
		return EventPersonal
	case containsAny(text, "travel", "trip", "vacation"):
		return EventTravel
	}
	return EventOther
}
