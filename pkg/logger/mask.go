package logger

import "strings"

// MaskAddress hides most of the local part of an email address.
func MaskAddress(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at <= 0 {
		if addr == "" {
			return ""
		}
		return "***"
	}
	local, domain := addr[:at], addr[at:]
	if len(local) <= 2 {
		return local[:1] + "***" + domain
	}
	return local[:2] + "***" + domain
}

// MaskPhone keeps only the last three digits of a phone number.
func MaskPhone(number string) string {
	if len(number) <= 3 {
		return "***"
	}
	return "***" + number[len(number)-3:]
}
