package auth

import (
	"fmt"
	"html"
	"time"
)

// otpMessage renders the one-time code email.
func otpMessage(code string, ttl time.Duration) (subject, text, body string) {
	minutes := int(ttl.Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}

	subject = "Your OTP Code"
	text = fmt.Sprintf("Your OTP code is: %s", code)
	body = fmt.Sprintf(
		`<div><p>Your OTP code is: <strong>%s</strong></p><p>This code is valid for %d minutes.</p></div>`,
		html.EscapeString(code), minutes,
	)
	return subject, text, body
}
