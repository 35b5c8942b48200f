// Package render turns a message template with {FieldName} placeholders
// into the text sent to one recipient.
package render

import (
	"errors"
	"maps"
	"regexp"
	"slices"
	"strings"

	"bulksms/internal/domain"
)

var (
	// ErrEmptyTemplate is returned for an empty or whitespace-only template.
	ErrEmptyTemplate = domain.ErrEmptyTemplate
	// ErrEmptyResult is returned when substitution leaves nothing to send.
	ErrEmptyResult = errors.New("rendered message is empty")
)

var placeholder = regexp.MustCompile(`\{([^{}]+)\}`)

// Render substitutes the placeholders of tmpl with values from r.
//
// DisplayName/Name map to the display name and PhoneNumber/Mobile/Phone to
// the phone number. Other names are looked up in the custom fields, exact
// match first, then case-insensitively. Unresolved placeholders are left
// verbatim so a broken template shows up in the delivered text.
func Render(tmpl string, r domain.Recipient) (string, error) {
	if strings.TrimSpace(tmpl) == "" {
		return "", ErrEmptyTemplate
	}

	out := placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := strings.TrimSpace(m[1 : len(m)-1])
		if v, ok := lookup(name, r); ok {
			return v
		}
		return m
	})

	if strings.TrimSpace(out) == "" {
		return "", ErrEmptyResult
	}
	return out, nil
}

func lookup(name string, r domain.Recipient) (string, bool) {
	switch strings.ToLower(name) {
	case "displayname", "name":
		return r.DisplayName, true
	case "phonenumber", "mobile", "phone":
		return r.PhoneNumber, true
	}

	if v, ok := r.CustomFields[name]; ok {
		return v, true
	}
	// Keys differing only in case resolve to the lexically smallest one.
	for _, k := range slices.Sorted(maps.Keys(r.CustomFields)) {
		if strings.EqualFold(k, name) {
			return r.CustomFields[k], true
		}
	}
	return "", false
}
