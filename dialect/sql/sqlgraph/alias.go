package sqlgraph

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-openapi/inflect"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// aliasRootLength is the longest alias root before the unique suffix.
const aliasRootLength = 10

var lower = cases.Lower(language.English)

// GenerateAlias returns the table alias for the n-th table of a statement,
// derived from an entity name or collection role. Qualified names use their
// last segment:
//
//	GenerateAlias("Order", 0)        // order0_
//	GenerateAlias("Order.lineItems", 2) // line_items2_
func GenerateAlias(name string, n int) string {
	return aliasRoot(name) + strconv.Itoa(n) + "_"
}

func aliasRoot(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	root := truncate(lower.String(inflect.Underscore(name)), aliasRootLength)
	root = strings.Map(func(r rune) rune {
		if r == '/' || r == '$' || r == '-' || r == ' ' {
			return '_'
		}
		return r
	}, root)
	root = strings.TrimLeftFunc(root, func(r rune) bool { return !unicode.IsLetter(r) })
	switch {
	case root == "":
		return "t"
	case endsWithDigit(root):
		return root + "x"
	default:
		return root
	}
}

// GenerateSuffixes returns n result column suffixes starting at seed:
// "seed_", "seed+1_", ...
func GenerateSuffixes(seed, n int) []string {
	if n == 0 {
		return nil
	}
	suffixes := make([]string, n)
	for i := range suffixes {
		suffixes[i] = strconv.Itoa(i+seed) + "_"
	}
	return suffixes
}

// columnAlias returns the result column alias of column, the n-th column
// of its table, for the given suffix. The root keeps letters at both ends,
// so the position digits that follow it cannot run into digits of the
// column name.
func columnAlias(column string, n int, suffix string) string {
	root := truncate(strings.Trim(lower.String(column), "`\"[]"), aliasRootLength)
	notLetter := func(r rune) bool { return !unicode.IsLetter(r) }
	root = strings.TrimRightFunc(strings.TrimLeftFunc(root, notLetter), notLetter)
	if root == "" {
		root = "column"
	}
	return root + strconv.Itoa(n) + "_" + suffix
}

// truncate returns the first n runes of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for j := range s {
		if i == n {
			return s[:j]
		}
		i++
	}
	return s
}

func endsWithDigit(s string) bool {
	r, _ := utf8.DecodeLastRuneInString(s)
	return unicode.IsDigit(r)
}
