package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_KnownPhrases(t *testing.T) {
	assert.Equal(t, WhoAmI, Classify("Who am I?"))
	assert.Equal(t, Interests, Classify("What do I like to eat?"))
	assert.Equal(t, Relationships, Classify("Who are my friends?"))
	assert.Equal(t, General, Classify("What's the weather?"))
}

func TestClassify_CaseInsensitive(t *testing.T) {
	assert.Equal(t, WhoAmI, Classify("TELL ME ABOUT MYSELF"))
	assert.Equal(t, Calendar, Classify("Next EVENT please"))
}

func TestClassify_EachRule(t *testing.T) {
	cases := map[string]Intent{
		"What are my passions?":              Interests,
		"Any relationship advice?":           Relationships,
		"Show my todo list":                  Tasks,
		"Health summary":                     Health,
		"Who is a colleague of mine?":        Work,
		"Open my drive":                      Files,
		"Show my calendar":                   Calendar,
		"Any meeting soon?":                  Calendar,
		"What files have I been working on?": Work,
	}
	for text, want := range cases {
		assert.Equal(t, want, Classify(text), "Classify(%q)", text)
	}
}

func TestClassify_FirstMatchWins(t *testing.T) {
	// "like" (interests) precedes "friend" (relationships).
	assert.Equal(t, Interests, Classify("Which friends do I like?"))
}

func TestClassify_DoShadowsLaterRules(t *testing.T) {
	assert.Equal(t, Tasks, Classify("What documents do I have?"))
	assert.Equal(t, Tasks, Classify("What are my doctors?"))
}

func TestClassify_Empty(t *testing.T) {
	assert.Equal(t, General, Classify(""))
}
