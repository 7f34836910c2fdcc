// Package matching decides whether a broadcast case is relevant to a
// professional.
package matching

import "strings"

// Relevant reports whether a case with the given category should be shown to
// a professional holding specializations.
//
// The check fails open: an unknown specialization set or an empty category
// is always relevant. Otherwise the category must appear, case-insensitively,
// somewhere in the comma-joined specialization text. This is a substring test,
// so "Tax" also matches "Taxonomy Consulting"; that looseness is accepted
// behaviour and must not be tightened without product sign-off.
func Relevant(specializations []string, category string) bool {
	category = strings.TrimSpace(category)
	if category == "" {
		return true
	}
	text := Serialize(specializations)
	if text == "" {
		return true
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(category))
}

// Serialize joins the non-blank specializations the way profiles store them.
func Serialize(specializations []string) string {
	parts := make([]string, 0, len(specializations))
	for _, s := range specializations {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

// Parse splits a serialized specialization string back into its parts.
func Parse(serialized string) []string {
	if strings.TrimSpace(serialized) == "" {
		return nil
	}
	raw := strings.Split(serialized, ",")
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
