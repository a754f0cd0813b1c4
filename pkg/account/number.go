package account

import "regexp"

// NumberPattern is the wire and storage format of an account number:
// three digits, four digits, seven digits, dash separated.
const NumberPattern = `^\d{3}-\d{4}-\d{7}$`

var numberRE = regexp.MustCompile(NumberPattern)

// ValidNumber reports whether s is a well-formed account number
func ValidNumber(s string) bool {
	return numberRE.MatchString(s)
}

// ValidateNumber returns ErrInvalidNumberFormat for malformed input
func ValidateNumber(s string) error {
	if !ValidNumber(s) {
		return ErrInvalidNumberFormat
	}
	return nil
}
