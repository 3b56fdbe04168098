package bql

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// TokenKind represents the kind of a lexer token.
type TokenKind int

const (
	TokenWord     TokenKind = iota // field names, bare values, name references, word operators
	TokenOperator                  // = != > >= < <= and fused negated word operators (!contains)
	TokenSymbol                    // & | !
	TokenQuoted                    // "..."
	TokenRegex                     // /.../flags
	TokenComma                     // ,
	TokenParen                     // ( or )
)

func (k TokenKind) String() string {
	switch k {
	case TokenWord:
		return "word"
	case TokenOperator:
		return "operator"
	case TokenSymbol:
		return "symbol"
	case TokenQuoted:
		return "quoted string"
	case TokenRegex:
		return "regex"
	case TokenComma:
		return "comma"
	case TokenParen:
		return "parenthesis"
	default:
		return "unknown"
	}
}

// Token is a single lexeme. Text is the decoded content: quotes and escaped
// quotes are removed for TokenQuoted, and for TokenRegex it is the pattern
// between the delimiters. Raw is the exact source slice.
type Token struct {
	Kind  TokenKind
	Text  string
	Raw   string
	Pos   int
	Flags string // regex flags, TokenRegex only
}

// negatableWordOps are the word operators that fuse with a directly
// preceding '!' into a single operator token.
var negatableWordOps = map[string]struct{}{
	"contains": {},
	"like":     {},
	"in":       {},
	"exists":   {},
}

// Tokenize lexes input into a flat token stream.
func Tokenize(input string) ([]Token, error) {
	l := &lexer{input: input}
	var tokens []Token
	for {
		tok, ok, err := l.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return tokens, nil
		}
		tokens = append(tokens, tok)
	}
}

type lexer struct {
	input string
	pos   int
}

func (l *lexer) next() (Token, bool, error) {
	l.skipWhitespace()
	if l.pos >= len(l.input) {
		return Token{}, false, nil
	}

	start := l.pos
	ch := l.input[l.pos]

	switch ch {
	case '"':
		return l.scanQuoted()
	case '/':
		if l.regexAllowed(start) {
			return l.scanRegex()
		}
		return l.scanWord(), true, nil
	case '(', ')':
		l.pos++
		return l.token(TokenParen, start), true, nil
	case ',':
		l.pos++
		return l.token(TokenComma, start), true, nil
	case '&', '|':
		l.pos++
		return l.token(TokenSymbol, start), true, nil
	case '!':
		if l.peekByte(1) == '=' {
			l.pos += 2
			return l.token(TokenOperator, start), true, nil
		}
		if word := l.wordAt(start + 1); word != "" {
			if _, ok := negatableWordOps[strings.ToLower(word)]; ok {
				l.pos = start + 1 + len(word)
				return l.token(TokenOperator, start), true, nil
			}
		}
		l.pos++
		return l.token(TokenSymbol, start), true, nil
	case '>', '<':
		l.pos++
		if l.peekByte(0) == '=' {
			l.pos++
		}
		return l.token(TokenOperator, start), true, nil
	case '=':
		l.pos++
		return l.token(TokenOperator, start), true, nil
	default:
		return l.scanWord(), true, nil
	}
}

func (l *lexer) token(kind TokenKind, start int) Token {
	raw := l.input[start:l.pos]
	return Token{Kind: kind, Text: raw, Raw: raw, Pos: start}
}

func (l *lexer) peekByte(offset int) byte {
	if l.pos+offset >= len(l.input) {
		return 0
	}
	return l.input[l.pos+offset]
}

func (l *lexer) skipWhitespace() {
	for l.pos < len(l.input) {
		r, size := utf8.DecodeRuneInString(l.input[l.pos:])
		if !unicode.IsSpace(r) {
			return
		}
		l.pos += size
	}
}

// regexAllowed reports whether a '/' at pos opens a regex literal: only at
// the start of input or after whitespace, an operator or logical symbol,
// '(', '!' or ','.
func (l *lexer) regexAllowed(pos int) bool {
	if pos == 0 {
		return true
	}
	prev, _ := utf8.DecodeLastRuneInString(l.input[:pos])
	if unicode.IsSpace(prev) {
		return true
	}
	return strings.ContainsRune("&|!(,=<>", prev)
}

func (l *lexer) scanWord() Token {
	start := l.pos
	word := l.wordAt(start)
	l.pos = start + len(word)
	return Token{Kind: TokenWord, Text: word, Raw: word, Pos: start}
}

// wordAt returns the run of word characters beginning at pos.
func (l *lexer) wordAt(pos int) string {
	end := pos
	for end < len(l.input) {
		r, size := utf8.DecodeRuneInString(l.input[end:])
		if !isWordRune(r) {
			break
		}
		end += size
	}
	return l.input[pos:end]
}

func (l *lexer) scanQuoted() (Token, bool, error) {
	start := l.pos
	end, ok := findClosing(l.input, start+1, '"')
	if !ok {
		return Token{}, false, &LexError{Pos: start, Err: ErrUnterminatedString}
	}
	l.pos = end + 1
	return Token{
		Kind: TokenQuoted,
		Text: unescapeQuoted(l.input[start+1 : end]),
		Raw:  l.input[start:l.pos],
		Pos:  start,
	}, true, nil
}

func (l *lexer) scanRegex() (Token, bool, error) {
	start := l.pos
	end, ok := findClosing(l.input, start+1, '/')
	if !ok {
		return Token{}, false, &LexError{Pos: start, Err: ErrUnterminatedRegex}
	}
	l.pos = end + 1
	flagStart := l.pos
	for l.pos < len(l.input) && isASCIILetter(l.input[l.pos]) {
		l.pos++
	}
	return Token{
		Kind:  TokenRegex,
		Text:  l.input[start+1 : end],
		Raw:   l.input[start:l.pos],
		Pos:   start,
		Flags: l.input[flagStart:l.pos],
	}, true, nil
}

// findClosing returns the index of the first delim at or after from that is
// not escaped, i.e. not preceded by an odd run of backslashes.
func findClosing(s string, from int, delim byte) (int, bool) {
	backslashes := 0
	for i := from; i < len(s); i++ {
		switch s[i] {
		case '\\':
			backslashes++
			continue
		case delim:
			if backslashes%2 == 0 {
				return i, true
			}
		}
		backslashes = 0
	}
	return 0, false
}

func unescapeQuoted(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && (s[i+1] == '"' || s[i+1] == '\\') {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isWordRune(r rune) bool {
	if unicode.IsSpace(r) {
		return false
	}
	return !strings.ContainsRune(`"&|!()=<>,`, r)
}

func isASCIILetter(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}
