package classify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeText(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		keeps   []string
		removes []string
	}{
		{name: "inline code", in: "keep `drop` keep", keeps: []string{"keep"}, removes: []string{"drop"}},
		{name: "fenced block", in: "a\n```sh\ndrop\n```\nb", keeps: []string{"a", "b"}, removes: []string{"drop"}},
		{name: "unclosed fence kept", in: "```\nstill here", keeps: []string{"still here"}},
		{name: "tag block", in: "x <note kind=\"a\">drop</note> y", keeps: []string{"x", "y"}, removes: []string{"drop", "note"}},
		{name: "tag case insensitive close", in: "<B>drop</b> keep", keeps: []string{"keep"}, removes: []string{"drop"}},
		{name: "self closing", in: "a<br/>b <img src=\"x\" /> c", keeps: []string{"a", "b", "c"}, removes: []string{"br", "img"}},
		{name: "unclosed tag", in: "<open> keep", keeps: []string{"keep"}, removes: []string{"open"}},
		{name: "url", in: "go to https://x.io/drop?q=1 now", keeps: []string{"go to", "now"}, removes: []string{"drop"}},
		{name: "relative path", in: "run ./drop/me now", keeps: []string{"run", "now"}, removes: []string{"drop"}},
		{name: "absolute path", in: "/drop/me first", keeps: []string{"first"}, removes: []string{"drop"}},
		{name: "inner slash kept", in: "and/or", keeps: []string{"and/or"}},
		{name: "close tag with space", in: "<note>drop</note > keep", keeps: []string{"keep"}, removes: []string{"drop", ">"}},
		{name: "case folding grows bytes", in: "<note>ȺȺȺȺ</note> ok", keeps: []string{"ok"}, removes: []string{"Ⱥ", "note"}},
		{name: "dotted capital I", in: "<b>İ</b> use autopilot", keeps: []string{"use autopilot"}, removes: []string{"İ", ">"}},
		{name: "invalid utf8 in tag", in: "<b>\xff\xff</b> ralph", keeps: []string{"ralph"}, removes: []string{"\xff"}},
		{name: "invalid utf8 before tag", in: "\xfe <i>drop</i> keep", keeps: []string{"\xfe", "keep"}, removes: []string{"drop"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := SanitizeText(tt.in)
			for _, k := range tt.keeps {
				assert.Contains(t, out, k)
			}
			for _, r := range tt.removes {
				assert.False(t, strings.Contains(out, r), "%q still contains %q", out, r)
			}
		})
	}
}

func TestSanitizeText_Empty(t *testing.T) {
	assert.Equal(t, "", SanitizeText(""))
}

func TestSanitizeText_NonASCIINeverPanics(t *testing.T) {
	inputs := []string{
		"<note>ȺȺȺȺ</note> ok",
		"<b>İİİ</B> tail",
		"<x>\xff</x",
		"<x>\xff\xff\xff</X>",
		"</",
		"<a></a",
		"<K>ǅ</k> and <k>\u212a</k>",
	}
	for _, in := range inputs {
		assert.NotPanics(t, func() { SanitizeText(in) }, "input %q", in)
	}
}
