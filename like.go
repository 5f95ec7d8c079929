package xtable

import "strings"

// DefaultLikeEscape is the escape character used by EscapeLike.
const DefaultLikeEscape = '@'

// EscapeLike escapes the LIKE wildcards % and _ in s, and the escape
// character itself, with DefaultLikeEscape. Use it with an ESCAPE clause:
//
//	s.Select(ctx, "SELECT * FROM person WHERE name LIKE ? ESCAPE '@'", xtable.HeadLike("50%"))
func EscapeLike(s string) string { return EscapeLikeWith(s, DefaultLikeEscape) }

// EscapeLikeWith is EscapeLike with a chosen escape character.
func EscapeLikeWith(s string, esc rune) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '%' || r == '_' || r == esc {
			b.WriteRune(esc)
		}
		b.WriteRune(r)
	}
	return b.String()
}

// HeadLike matches values starting with s.
func HeadLike(s string) string { return EscapeLike(s) + "%" }

// TailLike matches values ending with s.
func TailLike(s string) string { return "%" + EscapeLike(s) }

// ContainLike matches values containing s.
func ContainLike(s string) string { return "%" + EscapeLike(s) + "%" }
