// Package message assembles notification text in the small HTML subset that
// chat transports such as Telegram accept.
package message

import (
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"

	"feed_notifier/internal/domain"
)

const ellipsis = "…"

var (
	paragraphOpen  = regexp.MustCompile(`(?i)<p(\s[^>]*)?>\s*`)
	paragraphClose = regexp.MustCompile(`(?i)\s*</p>\s*`)
	lineBreak      = regexp.MustCompile(`(?i)\s*<br\s*/?>\s*`)
	strongOpen     = regexp.MustCompile(`(?i)<strong(\s[^>]*)?>\s*`)
	strongClose    = regexp.MustCompile(`(?i)\s*</strong>`)
	emOpen         = regexp.MustCompile(`(?i)<em(\s[^>]*)?>`)
	emClose        = regexp.MustCompile(`(?i)</em>`)
	blankLines     = regexp.MustCompile(`\n{3,}`)
)

var replacer = strings.NewReplacer(
	"–", "-",
	" ", " ",
)

type Formatter struct {
	policy       *bluemonday.Policy
	maxBodyRunes int
}

// NewFormatter returns a formatter that caps item bodies at maxBodyRunes
// runes of visible text. Zero disables the cap.
func NewFormatter(maxBodyRunes int) *Formatter {
	policy := bluemonday.NewPolicy()
	policy.AllowElements("b", "i", "u", "s", "code", "pre")

	return &Formatter{
		policy:       policy,
		maxBodyRunes: maxBodyRunes,
	}
}

// Format renders the notification for one item: feed title, item title, item
// body and item link, separated by blank lines. Empty sections are omitted.
func (f *Formatter) Format(feedTitle string, item domain.FeedItem) string {
	sections := []string{
		bold(f.Clean(feedTitle)),
		bold(f.Clean(item.Title)),
		truncate(f.Clean(item.Description), f.maxBodyRunes),
		html.EscapeString(strings.TrimSpace(item.Link)),
	}

	out := make([]string, 0, len(sections))
	for _, s := range sections {
		if s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, "\n\n")
}

// Clean normalises structural markup to the allowed subset, drops every other
// tag and escapes literal markup characters.
func (f *Formatter) Clean(s string) string {
	s = replacer.Replace(s)
	s = paragraphOpen.ReplaceAllString(s, "")
	s = paragraphClose.ReplaceAllString(s, "\n")
	s = lineBreak.ReplaceAllString(s, "\n")
	s = strongOpen.ReplaceAllString(s, "<b>")
	s = strongClose.ReplaceAllString(s, "</b>")
	s = emOpen.ReplaceAllString(s, "<i>")
	s = emClose.ReplaceAllString(s, "</i>")

	s = f.policy.Sanitize(s)
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func bold(s string) string {
	if s == "" {
		return ""
	}
	return "<b>" + s + "</b>"
}

// truncate cuts cleaned markup after limit runes of text and closes every
// element still open at the cut.
func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}

	var (
		b    strings.Builder
		open []string
		left = limit
	)

	z := html.NewTokenizer(strings.NewReader(s))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return s
		}
		raw := string(z.Raw())

		switch tt {
		case html.TextToken:
			text := string(z.Text())
			n := utf8.RuneCountInString(text)
			if n <= left {
				left -= n
				b.WriteString(raw)
				continue
			}

			cut := strings.TrimRightFunc(string([]rune(text)[:left]), unicode.IsSpace)
			b.WriteString(html.EscapeString(cut))
			b.WriteString(ellipsis)
			for _, name := range slices.Backward(open) {
				b.WriteString("</" + name + ">")
			}
			return b.String()

		case html.StartTagToken:
			name, _ := z.TagName()
			open = append(open, string(name))

		case html.EndTagToken:
			name, _ := z.TagName()
			for i := len(open) - 1; i >= 0; i-- {
				if open[i] == string(name) {
					open = slices.Delete(open, i, i+1)
					break
				}
			}
		}
		b.WriteString(raw)
	}
}
