package domain

// Recipient is one target of a broadcast, as read from the recipient source.
// Phone numbers are expected in E.164 form; an empty PhoneNumber marks a row
// that could not be normalized and is skipped without a send attempt.
type Recipient struct {
	DisplayName  string
	PhoneNumber  string
	CustomFields map[string]string
}

// Label identifies the recipient in logs and progress output.
func (r Recipient) Label() string {
	if r.DisplayName != "" {
		return r.DisplayName
	}
	return r.PhoneNumber
}
