package extract

import (
	"sort"
	"strings"
	"unicode/utf8"
)

const maxKeywords = 10

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`the and for are but not you all can had her was one our out day get has
		him his how its may new now old see two way who boy did man oil sit try use she this that with
		have will your from they know want been good much some time very when come here just like long
		make many over such take than them well were`) {
		stopWords[w] = struct{}{}
	}
}

func gmailFields(m GmailMessage) map[string]any {
	return map[string]any{
		"subject":  m.Subject,
		"sender":   m.Sender,
		"sent_at":  m.SentAt,
		"labels":   nonNil(m.Labels),
		"keywords": ExtractKeywords(m.Subject),
	}
}

// ExtractKeywords returns up to ten of the most frequent words in text.
// Words are lowercased and split on whitespace; words of three characters or
// fewer and stop words are dropped. Equal counts keep first-occurrence order.
func ExtractKeywords(text string) []string {
	words := strings.Fields(strings.ToLower(text))

	counts := make(map[string]int, len(words))
	var order []string
	for _, w := range words {
		if utf8.RuneCountInString(w) <= 3 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		if counts[w] == 0 {
			order = append(order, w)
		}
		counts[w]++
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > maxKeywords {
		order = order[:maxKeywords]
	}
	if order == nil {
		return []string{}
	}
	return order
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
