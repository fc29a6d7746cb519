package extract

import (
	"strings"

	"github.com/kalambet/persona/internal/storage"
)

func contactFields(c Contact) map[string]any {
	return map[string]any{
		"name":              c.FullName(),
		"first_name":        c.FirstName,
		"last_name":         c.LastName,
		"emails":            nonNil(c.Emails),
		"phones":            nonNil(c.Phones),
		"organization":      c.Organization,
		"job_title":         c.JobTitle,
		"relationship_type": string(ClassifyRelationship(c.FullName(), c.Organization)),
	}
}

// ClassifyRelationship guesses how a contact relates to the user from the
// contact's name and organization. Organization rules take precedence over
// name rules; anything unmatched is a Friend.
func ClassifyRelationship(name, organization string) storage.RelationshipType {
	name = strings.ToLower(name)
	org := strings.ToLower(organization)

	switch {
	case containsAny(org, "doctor", "medical", "hospital"):
		return storage.RelationshipDoctor
	case containsAny(org, "company", "corp", "inc"):
		return storage.RelationshipColleague
	case containsAny(name, "mom", "dad", "mother", "father"):
		return storage.RelationshipFamily
	}
	return storage.RelationshipFriend
}
