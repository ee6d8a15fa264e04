package telegram

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
)

// blockTags rewrites goldmark's block-level HTML into the plain-newline form
// Telegram's HTML parse mode accepts.
var blockTags = strings.NewReplacer(
	"<p>", "",
	"</p>", "\n\n",
	"<br>", "\n",
	"<br/>", "\n",
	"<br />", "\n",
	"<h1>", "<b>", "</h1>", "</b>\n\n",
	"<h2>", "<b>", "</h2>", "</b>\n\n",
	"<h3>", "<b>", "</h3>", "</b>\n\n",
	"<ul>", "", "</ul>", "\n",
	"<ol>", "", "</ol>", "\n",
	"<li>", "• ", "</li>", "\n",
	"<em>", "<i>", "</em>", "</i>",
	"<strong>", "<b>", "</strong>", "</b>",
	"<blockquote>", "", "</blockquote>", "\n",
)

// RenderHTML converts markdown draft text into the HTML subset Telegram
// understands. Plain text passes through unchanged apart from escaping.
func RenderHTML(markdown string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return markdown
	}
	return strings.TrimSpace(blockTags.Replace(buf.String()))
}
