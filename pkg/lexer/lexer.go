package lexer

import (
	"strings"
)

// tabWidth is the indentation width a tab character counts for.
const tabWidth = 4

// Tokenize converts source text into tokens. The stream always ends with
// an EOF token, preceded by any Dedent tokens needed to close open blocks.
func Tokenize(source string) ([]Token, error) {
	source = strings.ReplaceAll(source, "\r\n", "\n")
	lines := strings.Split(source, "\n")

	s := &scanner{indents: []int{0}}
	for i, line := range lines {
		if err := s.line(line, i+1); err != nil {
			return nil, err
		}
	}

	if s.depth > 0 {
		return nil, &Error{Line: s.openLine, Message: "unclosed parenthesis or bracket"}
	}
	last := len(lines)
	for len(s.indents) > 1 {
		s.indents = s.indents[:len(s.indents)-1]
		s.emit(Dedent, "", last)
	}
	s.emit(EOF, "", last)
	return s.tokens, nil
}

type scanner struct {
	tokens   []Token
	indents  []int
	depth    int // open ( and [ carried across physical lines
	openLine int // line of the outermost unclosed bracket
}

func (s *scanner) emit(kind Kind, text string, line int) {
	s.tokens = append(s.tokens, Token{Kind: kind, Text: text, Line: line})
}

// line scans one physical line. A line that starts at bracket depth zero
// begins a new logical line; otherwise it continues the previous one.
func (s *scanner) line(text string, lineNo int) error {
	startsLogical := s.depth == 0

	width, rest := indentation(text)
	toks, err := s.scan(rest, lineNo)
	if err != nil {
		return err
	}
	if len(toks) == 0 {
		return nil
	}

	if startsLogical {
		if err := s.indent(width, lineNo); err != nil {
			return err
		}
	}
	s.tokens = append(s.tokens, toks...)

	if s.depth == 0 {
		s.emit(Newline, "", lineNo)
	}
	return nil
}

func (s *scanner) indent(width, lineNo int) error {
	top := s.indents[len(s.indents)-1]
	switch {
	case width > top:
		s.indents = append(s.indents, width)
		s.emit(Indent, "", lineNo)
	case width < top:
		for len(s.indents) > 1 && s.indents[len(s.indents)-1] > width {
			s.indents = s.indents[:len(s.indents)-1]
			s.emit(Dedent, "", lineNo)
		}
		if s.indents[len(s.indents)-1] != width {
			return &Error{Line: lineNo, Message: "inconsistent indentation"}
		}
	}
	return nil
}

// indentation measures leading whitespace and returns the remainder.
func indentation(text string) (int, string) {
	width := 0
	for i, r := range text {
		switch r {
		case ' ':
			width++
		case '\t':
			width += tabWidth
		default:
			return width, text[i:]
		}
	}
	return width, ""
}

// scan tokenizes the content of one physical line, stopping at a comment.
func (s *scanner) scan(text string, lineNo int) ([]Token, error) {
	var out []Token
	add := func(kind Kind, t string) {
		out = append(out, Token{Kind: kind, Text: t, Line: lineNo})
	}

	i := 0
	for i < len(text) {
		c := text[i]
		switch {
		case c == ' ' || c == '\t':
			i++

		case c == '/' && i+1 < len(text) && text[i+1] == '/':
			return out, nil

		case isLetter(c):
			j := i + 1
			for j < len(text) && (isLetter(text[j]) || isDigit(text[j])) {
				j++
			}
			word := text[i:j]
			if keywords[word] {
				add(Keyword, word)
			} else {
				add(Ident, word)
			}
			i = j

		case isDigit(c) || (c == '.' && i+1 < len(text) && isDigit(text[i+1])):
			j := scanNumber(text, i)
			add(Number, text[i:j])
			i = j

		case c == '"' || c == '\'':
			str, j, ok := scanString(text, i)
			if !ok {
				return nil, &Error{Line: lineNo, Message: "unterminated string literal"}
			}
			add(String, str)
			i = j

		case c == '#':
			j := i + 1
			for j < len(text) && isHex(text[j]) {
				j++
			}
			if n := j - i - 1; n != 6 && n != 8 {
				return nil, &Error{Line: lineNo, Message: "invalid color literal " + text[i:j]}
			}
			add(Color, text[i:j])
			i = j

		default:
			if i+1 < len(text) && twoCharOps[text[i:i+2]] {
				add(Op, text[i:i+2])
				i += 2
				continue
			}
			if !strings.ContainsRune(singleCharOps, rune(c)) {
				return nil, &Error{Line: lineNo, Message: "invalid character " + quoteChar(text[i:])}
			}
			switch c {
			case '(', '[':
				if s.depth == 0 {
					s.openLine = lineNo
				}
				s.depth++
			case ')', ']':
				if s.depth > 0 {
					s.depth--
				}
			}
			add(Op, string(c))
			i++
		}
	}
	return out, nil
}

var twoCharOps = map[string]bool{
	"==": true, "!=": true, "<=": true, ">=": true,
	":=": true, "=>": true,
	"+=": true, "-=": true, "*=": true, "/=": true, "%=": true,
}

const singleCharOps = "+-*/%<>=?:()[],."

func scanNumber(text string, i int) int {
	j := i
	for j < len(text) && isDigit(text[j]) {
		j++
	}
	if j < len(text) && text[j] == '.' {
		j++
		for j < len(text) && isDigit(text[j]) {
			j++
		}
	}
	if j < len(text) && (text[j] == 'e' || text[j] == 'E') {
		k := j + 1
		if k < len(text) && (text[k] == '+' || text[k] == '-') {
			k++
		}
		if k < len(text) && isDigit(text[k]) {
			for k < len(text) && isDigit(text[k]) {
				k++
			}
			j = k
		}
	}
	return j
}

// scanString reads a quoted literal starting at text[i] and returns its
// unescaped value and the index after the closing quote.
func scanString(text string, i int) (string, int, bool) {
	quote := text[i]
	var b strings.Builder
	for j := i + 1; j < len(text); j++ {
		c := text[j]
		switch {
		case c == '\\' && j+1 < len(text):
			j++
			switch text[j] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(text[j])
			}
		case c == quote:
			return b.String(), j + 1, true
		default:
			b.WriteByte(c)
		}
	}
	return "", len(text), false
}

func quoteChar(s string) string {
	r := []rune(s)
	if len(r) == 0 {
		return "''"
	}
	return "'" + string(r[0]) + "'"
}

func isLetter(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isHex(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
