// Package intent maps a free-text chat message to one of a fixed set of
// intents using ordered keyword containment.
package intent

import "strings"

// Intent is the label that selects a response handler.
type Intent string

const (
	WhoAmI        Intent = "who_am_i"
	Interests     Intent = "interests"
	Relationships Intent = "relationships"
	Tasks         Intent = "tasks"
	Health        Intent = "health"
	Work          Intent = "work"
	Files         Intent = "files"
	Calendar      Intent = "calendar"
	General       Intent = "general"
)

// All lists every intent in rule order, ending with General.
var All = []Intent{WhoAmI, Interests, Relationships, Tasks, Health, Work, Files, Calendar, General}

type rule struct {
	intent   Intent
	keywords []string
}

// rules are evaluated top to bottom and the first hit wins. The bare "do" in
// the tasks rule matches inside other words ("documents", "doctor") and so
// shadows the later health and files rules for such messages.
var rules = []rule{
	{WhoAmI, []string{"who am i", "tell me about myself"}},
	{Interests, []string{"like", "interest", "passion"}},
	{Relationships, []string{"friend", "relationship", "know"}},
	{Tasks, []string{"task", "todo", "do"}},
	{Health, []string{"doctor", "health", "medical"}},
	{Work, []string{"work", "colleague", "company"}},
	{Files, []string{"file", "document", "drive"}},
	{Calendar, []string{"calendar", "event", "meeting"}},
}

// Classify returns the intent of text, or General when no rule matches.
func Classify(text string) Intent {
	lower := strings.ToLower(text)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return r.intent
			}
		}
	}
	return General
}
