package htmlparser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func TestParseSelector_Errors(t *testing.T) {
	tests := []string{
		"",
		"   ",
		"div:hover",
		"table:nth-of-type(x)",
		"form >",
		"div#",
		"div.",
		"[]",
	}

	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			_, err := ParseSelector(input)
			assert.Error(t, err)
		})
	}
}

func TestSelector_Matching(t *testing.T) {
	doc, err := html.Parse(strings.NewReader(`<html><body>` +
		`<div id="main" class="box wide">` +
		`<p>one</p><span>x</span><p class="note">two</p>` +
		`<form name="busca"><p>three</p></form>` +
		`</div>` +
		`<p>four</p>` +
		`</body></html>`))
	require.NoError(t, err)

	tests := []struct {
		selector string
		want     []string
	}{
		{"p", []string{"one", "two", "three", "four"}},
		{"div#main p", []string{"one", "two", "three"}},
		{"div.box.wide p", []string{"one", "two", "three"}},
		{"#main p:nth-of-type(2)", []string{"two"}},
		{"p.note", []string{"two"}},
		{"form[name=busca] p", []string{"three"}},
		{"form[name] p", []string{"three"}},
		{"html body div form p", []string{"three"}},
		{"div > p", []string{"one", "two"}},
		{"#main>p:last-of-type", []string{"two"}},
		{"div p:nth-child(3)", []string{"two"}},
		{"p.note, form p", []string{"two", "three"}},
		{"span + p", []string{"two"}},
		{"div.missing p", nil},
		{"form div p", nil},
	}

	for _, tt := range tests {
		t.Run(tt.selector, func(t *testing.T) {
			sel := MustParseSelector(tt.selector)
			var got []string
			for _, n := range sel.QueryAll(doc) {
				got = append(got, collectText(n))
			}
			assert.Equal(t, tt.want, got)

			first := sel.First(doc)
			if len(tt.want) == 0 {
				assert.Nil(t, first)
			} else {
				require.NotNil(t, first)
				assert.Equal(t, tt.want[0], collectText(first))
			}
		})
	}
}

func TestMustParseSelector_Panics(t *testing.T) {
	assert.Panics(t, func() { MustParseSelector("a:hover") })
}

func TestDefaultSelectorsCompile(t *testing.T) {
	assert.Equal(t, DefaultTableSelector, MustParseSelector(DefaultTableSelector).String())
	MustParseSelector(DefaultDescriptionSelector)
}
