package users

import (
	"fmt"
	"html"
)

// accountCreatedMessage tells a user an admin opened an account for them.
// The password is never mailed; the admin hands it over out of band.
func accountCreatedMessage(username, email, baseURL string) (subject, text, body string) {
	subject = "Your Account Info"
	text = fmt.Sprintf(
		"An account has been created for you.\nUsername: %s\nEmail: %s\nSign in at %s to get started.",
		username, email, baseURL,
	)
	body = fmt.Sprintf(
		`<div><p>An account has been created for you.</p><p>Username: <strong>%s</strong><br>Email: <strong>%s</strong></p><p>Sign in at <a href="%s">%s</a> to get started.</p></div>`,
		html.EscapeString(username), html.EscapeString(email), html.EscapeString(baseURL), html.EscapeString(baseURL),
	)
	return subject, text, body
}

// adminChangedMessage tells a user their admin flag changed.
func adminChangedMessage(isAdmin bool) (subject, text, body string) {
	text = "You're not an Admin"
	if isAdmin {
		text = "You've become an Admin"
	}
	return "Admin", text, fmt.Sprintf("<div><p>%s</p></div>", html.EscapeString(text))
}
