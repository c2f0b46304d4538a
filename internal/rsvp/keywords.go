package rsvp

import (
	"strings"
	"unicode"

	"event-whatsapp/internal/models"
)

var (
	declineWords   = []string{"no", "nope", "decline", "declining"}
	declinePhrases = []string{"not coming", "can't come", "cant come", "won't come", "can't make it", "cannot make it", "not attending", "won't be there", "can't be there", "❌"}
	maybeWords     = []string{"maybe", "perhaps", "unsure", "possibly"}
	maybePhrases   = []string{"not sure", "🤔"}
	acceptWords    = []string{"yes", "yep", "yeah", "accept", "accepting", "attending", "coming"}
	acceptPhrases  = []string{"will come", "be there", "count me in", "✅"}
)

// ParseReplyText interprets a free-text WhatsApp reply. Phrases are matched
// before single words, declines before accepts, so "not coming" is not read
// as "coming". A reply with both accept and decline words and no phrase is
// ambiguous.
func ParseReplyText(text string) (models.RSVPStatus, bool) {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return models.RSVPUnset, false
	}

	switch {
	case containsAny(text, declinePhrases...):
		return models.RSVPNo, true
	case containsAny(text, maybePhrases...):
		return models.RSVPMaybe, true
	case containsAny(text, acceptPhrases...):
		return models.RSVPYes, true
	}

	words := strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r) && r != '\''
	})
	declined := hasAnyWord(words, declineWords...)
	accepted := hasAnyWord(words, acceptWords...)
	switch {
	case declined && accepted:
		return models.RSVPUnset, false
	case declined:
		return models.RSVPNo, true
	case hasAnyWord(words, maybeWords...):
		return models.RSVPMaybe, true
	case accepted:
		return models.RSVPYes, true
	}
	return models.RSVPUnset, false
}

// containsAny checks if the text contains any of the given keywords
func containsAny(text string, keywords ...string) bool {
	for _, keyword := range keywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}

func hasAnyWord(words []string, keywords ...string) bool {
	for _, w := range words {
		for _, keyword := range keywords {
			if w == keyword {
				return true
			}
		}
	}
	return false
}
