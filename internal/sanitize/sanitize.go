// Package sanitize cleans HTML bound for outgoing mail. Uses bluemonday to
// strip scripts, event handlers, forms and remote resources while keeping
// the simple formatting the notification templates use.
package sanitize

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	mailPolicy     *bluemonday.Policy
	mailPolicyOnce sync.Once

	textPolicy = bluemonday.StrictPolicy()
)

// getMailPolicy returns the shared mail policy, built on first use.
func getMailPolicy() *bluemonday.Policy {
	mailPolicyOnce.Do(func() {
		p := bluemonday.NewPolicy()
		p.AllowElements("div", "p", "br", "strong", "b", "em", "i", "span", "code", "pre", "h1", "h2", "h3")
		p.AllowLists()
		p.AllowTables()

		// Links must be absolute http(s) and open outside the mail client.
		p.AllowAttrs("href").OnElements("a")
		p.AllowURLSchemes("https", "http", "mailto")
		p.RequireParseableURLs(true)
		p.RequireNoFollowOnLinks(true)
		p.AddTargetBlankToFullyQualifiedLinks(true)

		p.AllowAttrs("style").OnElements("div", "p", "span", "td", "th")
		mailPolicy = p
	})
	return mailPolicy
}

// MailHTML strips anything a mail client could execute or fetch. Images are
// dropped so opening a message never phones home.
func MailHTML(input string) string {
	if input == "" {
		return ""
	}
	return getMailPolicy().Sanitize(input)
}

// Text reduces HTML to plain text for the text/plain alternative. Block
// boundaries become newlines.
func Text(input string) string {
	if input == "" {
		return ""
	}
	withBreaks := blockBreaks.Replace(input)
	stripped := html.UnescapeString(textPolicy.Sanitize(withBreaks))

	lines := strings.Split(stripped, "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

var blockBreaks = strings.NewReplacer(
	"<br>", "\n", "<br/>", "\n", "<br />", "\n",
	"</p>", "</p>\n", "</div>", "</div>\n", "</li>", "</li>\n", "</tr>", "</tr>\n",
)
