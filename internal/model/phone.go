package model

import (
	"regexp"
	"strings"
)

// phonePattern is the Senegalese national format: +221, an operator prefix, 7 digits.
var phonePattern = regexp.MustCompile(`^\+221(77|78|70|76|75)\d{7}$`)

var localPrefixPattern = regexp.MustCompile(`^(77|78|70|76|75)`)

var whitespace = regexp.MustCompile(`\s+`)

// ValidPhone reports whether phone matches the national format exactly.
func ValidPhone(phone string) bool {
	return phonePattern.MatchString(phone)
}

// NormalizePhone strips whitespace and prefixes +221 to bare local numbers.
// The result is not guaranteed to be valid; check it with ValidPhone.
func NormalizePhone(phone string) string {
	p := whitespace.ReplaceAllString(strings.TrimSpace(phone), "")
	if !strings.HasPrefix(p, "+221") && localPrefixPattern.MatchString(p) {
		p = "+221" + p
	}
	return p
}

// MaskPhone masks a phone number for logging (e.g. +2*********67).
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return phone[:2] + strings.Repeat("*", len(phone)-4) + phone[len(phone)-2:]
}
