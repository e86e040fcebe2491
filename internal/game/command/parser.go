package command

import (
	"strings"
	"unicode"
)

// articles are dropped from the front of a target: "attack the wolf" targets "wolf".
var articles = map[string]bool{"the": true, "a": true, "an": true}

// ParseResult is one line of player input split into a verb word and its arguments.
type ParseResult struct {
	// Command is the first word of the input, lowercased.
	Command string
	// Args are the remaining words after the command.
	Args []string
	// RawArgs is the text after the command exactly as typed, trimmed.
	RawArgs string
	// Target is Args joined by single spaces with a leading article removed.
	Target string
}

// Parse splits a line of input at the first run of whitespace.
//
// Postcondition: Command is empty iff line holds only whitespace.
func Parse(line string) ParseResult {
	line = strings.TrimSpace(line)
	if line == "" {
		return ParseResult{}
	}

	head, rest := line, ""
	if i := strings.IndexFunc(line, unicode.IsSpace); i >= 0 {
		head, rest = line[:i], line[i:]
	}
	res := ParseResult{Command: strings.ToLower(head), RawArgs: strings.TrimSpace(rest)}
	if res.RawArgs == "" {
		return res
	}

	res.Args = strings.Fields(res.RawArgs)
	words := res.Args
	if len(words) > 1 && articles[strings.ToLower(words[0])] {
		words = words[1:]
	}
	res.Target = strings.Join(words, " ")
	return res
}
