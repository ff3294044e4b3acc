package fuzzy

import "regexp"

// identifierPattern matches candidate identifiers: runs of letters,
// digits, underscores, and dots, anchored to not start or end on a dot
// (so surrounding prose punctuation isn't swallowed).
var identifierPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)*`)

type token struct {
	text string
	span [2]int
}

// tokenize extracts candidate identifiers from text, per spec.md §4.4
// step (b): "tokenize candidate identifiers". Each whole identifier
// occurrence (which may itself be CamelCase or dotted.case, e.g.
// "useEffect" or "react.hooks") is scored as one candidate against the
// truth index's canonical names and aliases.
func tokenize(text string) []token {
	locs := identifierPattern.FindAllStringIndex(text, -1)
	tokens := make([]token, 0, len(locs))
	for _, loc := range locs {
		tokens = append(tokens, token{text: text[loc[0]:loc[1]], span: [2]int{loc[0], loc[1]}})
	}
	return tokens
}

