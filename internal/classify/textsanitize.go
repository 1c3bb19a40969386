package classify

import (
	"regexp"
	"strings"
)

var (
	fencedBacktickPattern = regexp.MustCompile("(?s)```.*?```")
	fencedTildePattern    = regexp.MustCompile(`(?s)~~~.*?~~~`)
	inlineCodePattern     = regexp.MustCompile("`[^`\n]+`")
	openTagPattern        = regexp.MustCompile(`<([A-Za-z][A-Za-z0-9_:.-]*)(?:\s[^<>]*)?>`)
	strayTagPattern       = regexp.MustCompile(`</?[A-Za-z][A-Za-z0-9_:.-]*(?:\s[^<>]*)?/?>`)
	urlPattern            = regexp.MustCompile(`(?i)\b(?:https?|ftp|file)://[^\s<>"'` + "`" + `]+|\bwww\.[^\s<>"']+`)
	pathTokenPattern      = regexp.MustCompile(`(^|\s)\.?/\S+`)
)

// SanitizeText removes regions of text that never carry user intent before
// keyword detection: fenced code blocks, inline code spans, XML/HTML-like
// tags together with their content, URLs, and tokens starting with "./" or
// "/". Removed regions become a single space so neighbouring words do not
// merge.
func SanitizeText(text string) string {
	if text == "" {
		return ""
	}
	text = fencedBacktickPattern.ReplaceAllString(text, " ")
	text = fencedTildePattern.ReplaceAllString(text, " ")
	text = inlineCodePattern.ReplaceAllString(text, " ")
	text = stripTagBlocks(text)
	text = strayTagPattern.ReplaceAllString(text, " ")
	text = urlPattern.ReplaceAllString(text, " ")
	text = pathTokenPattern.ReplaceAllString(text, "$1 ")
	return text
}

// stripTagBlocks removes <name ...>...</name> blocks. An opening tag with no
// matching close is removed on its own. Matching is case-insensitive on the
// tag name and does not track nesting of the same name.
func stripTagBlocks(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for {
		loc := openTagPattern.FindStringSubmatchIndex(text)
		if loc == nil {
			b.WriteString(text)
			return b.String()
		}
		start, end := loc[0], loc[1]
		b.WriteString(text[:start])
		b.WriteByte(' ')

		if strings.HasSuffix(text[start:end], "/>") {
			text = text[end:]
			continue
		}

		if i, n := findCloseTag(text[end:], text[loc[2]:loc[3]]); i >= 0 {
			text = text[end+i+n:]
			continue
		}
		text = text[end:]
	}
}

// findCloseTag returns the offset and length of the first "</name>" in s,
// allowing whitespace before ">". Offsets index s itself, so text that
// changes byte length under case folding cannot shift them. name is ASCII.
func findCloseTag(s, name string) (int, int) {
	for from := 0; ; {
		i := strings.Index(s[from:], "</")
		if i < 0 {
			return -1, 0
		}
		i += from
		j := i + 2
		if j+len(name) <= len(s) && strings.EqualFold(s[j:j+len(name)], name) {
			j += len(name)
			for j < len(s) && isTagSpace(s[j]) {
				j++
			}
			if j < len(s) && s[j] == '>' {
				return i, j + 1 - i
			}
		}
		from = i + 2
	}
}

func isTagSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
