package service

import (
	"strings"

	"github.com/tenantly/portal/backend/model"
)

var (
	criticalKeywords = []string{
		"gas leak", "electrical spark", "fire hazard", "flood", "no power", "broken window",
		"no lock", "no heat", "no water", "raw sewage", "exposed wire", "structural collapse",
	}
	highKeywords = []string{
		"leak", "flooding", "electrical", "not working", "broken", "clog", "overflow",
		"pest", "mold", "no hot water", "water damage", "exposed pipe",
	}
	mediumKeywords = []string{
		"slow", "drip", "minor", "cosmetic", "paint", "scratch", "loose", "stain", "sticking", "noisy",
	}
)

// ClassifyUrgency is the local keyword classifier used when the remote
// analysis service is unavailable. The first matching tier wins.
func ClassifyUrgency(texts ...string) model.Urgency {
	combined := strings.ToLower(strings.Join(texts, " "))

	switch {
	case containsAny(combined, criticalKeywords):
		return model.UrgencyCritical
	case containsAny(combined, highKeywords):
		return model.UrgencyHigh
	case containsAny(combined, mediumKeywords):
		return model.UrgencyMedium
	}
	return model.UrgencyMedium
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
