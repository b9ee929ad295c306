package synthesis

import (
	"regexp"
	"strings"
)

// Section describes one part of the structured answer.
type Section struct {
	Name     string
	Header   string
	MinWords int
	MaxWords int
	// Floor is the word count below which one expansion is attempted.
	Floor int
	Focus string
}

// Sections are generated and streamed in this order.
var Sections = []Section{
	{
		Name: "introduction", Header: "## INTRODUCTION", MinWords: 200, MaxWords: 300, Floor: 150,
		Focus: "Present the topic clearly and explain why it matters legally.",
	},
	{
		Name: "development", Header: "## DEVELOPMENT", MinWords: 350, MaxWords: 450, Floor: 250,
		Focus: "Develop the applicable legislation, principles and how they fit together.",
	},
	{
		Name: "detailed_analysis", Header: "## DETAILED ANALYSIS", MinWords: 400, MaxWords: 450, Floor: 300,
		Focus: "Analyse case law, doctrine, practical consequences and points of controversy.",
	},
	{
		Name: "conclusion", Header: "## CONCLUSION", MinWords: 250, MaxWords: 300, Floor: 200,
		Focus: "Conclude with practical guidance and next steps for the reader.",
	},
}

// FallbackHeader heads the single-call answer used when a section fails.
const FallbackHeader = "## ANSWER"

// MaxExpansions bounds expansion calls per section.
const MaxExpansions = 1

var wordPattern = regexp.MustCompile(`\S+\s*`)

// WordCount counts whitespace separated words.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// wordsPerChunk is the streaming granularity.
const wordsPerChunk = 3

// Chunks splits a section into the pieces streamed to the client: the header
// line, groups of three words that keep their trailing whitespace, and a
// blank-line terminator. Concatenating them yields header + "\n\n" + text +
// "\n\n".
func Chunks(header, text string) []string {
	words := wordPattern.FindAllString(text, -1)
	out := make([]string, 0, len(words)/wordsPerChunk+3)
	out = append(out, header+"\n\n")
	for i := 0; i < len(words); i += wordsPerChunk {
		end := min(i+wordsPerChunk, len(words))
		out = append(out, strings.Join(words[i:end], ""))
	}
	return append(out, "\n\n")
}
