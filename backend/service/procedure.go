package service

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/tenantly/portal/backend/model"
)

// Language selects the wording of rendered procedures.
type Language string

const (
	LangEnglish Language = "en"
	LangSpanish Language = "es"
)

const (
	minProcedureSteps = 3
	maxProcedureSteps = 5
)

var (
	stepMarker = regexp.MustCompile(`(?i)(\*\*)?\b(step|paso)\s+\d+\s*:`)
	stepLine   = regexp.MustCompile(`(?i)^(?:\*\*)?(?:step|paso)\s+\d+\s*:(?:\*\*)?\s*(.*)$`)
)

var fallbackSteps = map[Language][]string{
	LangEnglish: {
		"Document the issue with clear photos and note when it started.",
		"If it is safe, shut off the water, power or gas supply to the affected area.",
		"Keep the area clear and contain any further damage where possible.",
		"Do not attempt repairs that need specialist tools or training.",
		"Keep the area accessible until a qualified technician has been scheduled.",
	},
	LangSpanish: {
		"Documente el problema con fotos claras y anote cuándo comenzó.",
		"Si es seguro, corte el suministro de agua, electricidad o gas del área afectada.",
		"Mantenga el área despejada y contenga cualquier daño adicional cuando sea posible.",
		"No intente reparaciones que requieran herramientas o capacitación especializadas.",
		"Mantenga el área accesible hasta que se programe un técnico calificado.",
	},
}

var procedureLabels = map[Language]struct {
	heading, urgency, summary, disclaimer string
	badges                                 map[model.Urgency]string
}{
	LangEnglish: {
		heading:    "Maintenance Procedure",
		urgency:    "Urgency",
		summary:    "Summary",
		disclaimer: "Disclaimer: these steps are general guidance only. Contact your landlord or a licensed professional before any repair involving gas or electricity.",
		badges: map[model.Urgency]string{
			model.UrgencyLow:      "LOW",
			model.UrgencyMedium:   "MEDIUM",
			model.UrgencyHigh:     "HIGH",
			model.UrgencyCritical: "CRITICAL",
		},
	},
	LangSpanish: {
		heading:    "Procedimiento de mantenimiento",
		urgency:    "Urgencia",
		summary:    "Resumen",
		disclaimer: "Aviso: estos pasos son solo una guía general. Consulte a su arrendador o a un profesional certificado antes de cualquier reparación de gas o electricidad.",
		badges: map[model.Urgency]string{
			model.UrgencyLow:      "BAJA",
			model.UrgencyMedium:   "MEDIA",
			model.UrgencyHigh:     "ALTA",
			model.UrgencyCritical: "CRÍTICA",
		},
	},
}

// ParseLanguage maps a language code to a supported Language, defaulting to English.
func ParseLanguage(code string) Language {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(code)), "es") {
		return LangSpanish
	}
	return LangEnglish
}

// NormalizeSteps puts every "Step N:" marker at the start of its own line.
func NormalizeSteps(raw string) string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	return stepMarker.ReplaceAllStringFunc(raw, func(m string) string {
		return "\n" + m
	})
}

// ExtractSteps returns the bodies of the recognizable steps in raw, in order
// of appearance and capped at five. Continuation lines are folded into the
// preceding step until a blank line. A header with no text of its own takes
// the next non-blank line as its body.
func ExtractSteps(raw string) []string {
	var found []string
	open := false

	for _, line := range strings.Split(NormalizeSteps(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			open = open && found[len(found)-1] == ""
			continue
		}
		if m := stepLine.FindStringSubmatch(line); m != nil {
			body := strings.TrimFunc(m[1], func(r rune) bool {
				return r == '*' || unicode.IsSpace(r)
			})
			found = append(found, body)
			open = true
			continue
		}
		if !open {
			continue
		}
		if last := len(found) - 1; found[last] == "" {
			found[last] = line
		} else {
			found[last] += " " + line
		}
	}

	steps := make([]string, 0, len(found))
	for _, s := range found {
		if s != "" {
			steps = append(steps, s)
		}
	}
	if len(steps) > maxProcedureSteps {
		steps = steps[:maxProcedureSteps]
	}
	return steps
}

// FallbackSteps returns a copy of the canned procedure for lang.
func FallbackSteps(lang Language) []string {
	steps, ok := fallbackSteps[lang]
	if !ok {
		steps = fallbackSteps[LangEnglish]
	}
	return append([]string(nil), steps...)
}

// ProcedureSteps extracts the steps from raw LLM output, substituting the
// canned procedure when fewer than three survive. fallback reports the
// substitution.
func ProcedureSteps(raw string, lang Language) (steps []string, fallback bool) {
	steps = ExtractSteps(raw)
	if len(steps) < minProcedureSteps {
		return FallbackSteps(lang), true
	}
	return steps, false
}

// RenderProcedure renders steps with a heading, urgency badge and disclaimer.
func RenderProcedure(title, summary string, urgency model.Urgency, steps []string, lang Language) string {
	labels, ok := procedureLabels[lang]
	if !ok {
		labels = procedureLabels[LangEnglish]
	}
	urgency = urgency.OrDefault()

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", labels.heading, singleLine(title))
	fmt.Fprintf(&b, "%s: [%s] (%d/4)\n", labels.urgency, labels.badges[urgency], urgency)
	if summary = singleLine(summary); summary != "" {
		fmt.Fprintf(&b, "%s: %s\n", labels.summary, summary)
	}
	b.WriteString("\n")
	for i, step := range steps {
		fmt.Fprintf(&b, "Step %d: %s\n", i+1, singleLine(step))
	}
	b.WriteString("\n")
	b.WriteString(labels.disclaimer)
	return b.String()
}

// FormatProcedure turns raw LLM output into the final rendered procedure.
// It is deterministic and gives the same result when applied to its own output.
func FormatProcedure(raw, title, summary string, urgency model.Urgency, lang Language) string {
	steps, _ := ProcedureSteps(raw, lang)
	return RenderProcedure(title, summary, urgency, steps, lang)
}

// singleLine collapses whitespace and defuses step markers so header text
// never reads as a step.
func singleLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return stepMarker.ReplaceAllStringFunc(s, func(m string) string {
		return strings.Replace(m, ":", " -", 1)
	})
}
