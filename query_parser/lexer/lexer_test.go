package lex

import "testing"

func tokens(input string) []Token {
	l := New(input)
	var out []Token
	for {
		tok := l.NextToken()
		out = append(out, tok)
		if tok.Kind == END || tok.Kind == INVALID {
			return out
		}
	}
}

func TestNextToken(t *testing.T) {
	input := `select nearest 3 FROM places to POINT(-1.5, 2e3) where key <= 'it''s' AND KEY >= "x";`
	want := []Token{
		{SELECT, "select"},
		{NEAREST, "nearest"},
		{NUMBER, "3"},
		{FROM, "FROM"},
		{IDENT, "places"},
		{TO, "to"},
		{POINT, "POINT"},
		{OPENROUNDED, "("},
		{NUMBER, "-1.5"},
		{COMMA, ","},
		{NUMBER, "2e3"},
		{CLOSEDROUNDED, ")"},
		{WHERE, "where"},
		{KEY, "key"},
		{LESSEQUAL, "<="},
		{STRING, "it's"},
		{AND, "AND"},
		{KEY, "KEY"},
		{GREATEREQUAL, ">="},
		{STRING, "x"},
		{SEMICOLON, ";"},
		{END, ""},
	}

	got := tokens(input)
	if len(got) != len(want) {
		t.Fatalf("expected %d tokens, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d: expected %s(%q), got %s(%q)", i, want[i].Kind, want[i].Value, got[i].Kind, got[i].Value)
		}
	}
}

func TestNextTokenEdgeCases(t *testing.T) {
	tests := []struct {
		input string
		kind  TokenKind
		value string
	}{
		{"idx_2", IDENT, "idx_2"},
		{".5", NUMBER, ".5"},
		{"<", LESS, "<"},
		{">", GREATER, ">"},
		{"*", ASTERISK, "*"},
		{"'unterminated", INVALID, "unterminated"},
		{"#", INVALID, "#"},
		{"   ", END, ""},
	}
	for _, tt := range tests {
		tok := New(tt.input).NextToken()
		if tok.Kind != tt.kind || tok.Value != tt.value {
			t.Errorf("NextToken(%q) = %s(%q), expected %s(%q)", tt.input, tok.Kind, tok.Value, tt.kind, tt.value)
		}
	}
}

func TestKeywordsAreCaseInsensitive(t *testing.T) {
	for _, word := range []string{"vacuum", "Vacuum", "VACUUM"} {
		if KeyIdentKind(word) != VACUUM {
			t.Errorf("%q not recognised as VACUUM", word)
		}
	}
	if KeyIdentKind("places") != IDENT {
		t.Errorf("plain word recognised as keyword")
	}
	if INVALID.String() != "INVALID" || TokenKind(999).String() != "UNKNOWN" {
		t.Errorf("unexpected token kind names")
	}
}
