package lex

type TokenKind int

const (
	// identifier
	IDENT TokenKind = iota

	// literals
	NUMBER
	STRING

	// keywords
	CREATE
	DROP
	INDEX
	INDEXES
	USING
	SHOW
	INSERT
	INTO
	POINT
	BOX
	KEY
	NULL
	ROW
	DELETE
	SELECT
	NEAREST
	FROM
	TO
	WHERE
	AND
	IS
	INSIDE
	LEFT
	RIGHT
	ABOVE
	BELOW
	SAME
	PREFIX
	LIMIT
	VACUUM
	CHECKPOINT
	INSPECT
	BEGIN
	COMMIT
	ROLLBACK

	// punctuation and comparison
	COMMA
	ASTERISK
	OPENROUNDED
	CLOSEDROUNDED
	SEMICOLON
	EQUAL
	LESS
	LESSEQUAL
	GREATER
	GREATEREQUAL

	END
	INVALID
)

type Token struct {
	Kind  TokenKind
	Value string
}

var kindNames = [...]string{
	IDENT:         "IDENT",
	NUMBER:        "NUMBER",
	STRING:        "STRING",
	CREATE:        "CREATE",
	DROP:          "DROP",
	INDEX:         "INDEX",
	INDEXES:       "INDEXES",
	USING:         "USING",
	SHOW:          "SHOW",
	INSERT:        "INSERT",
	INTO:          "INTO",
	POINT:         "POINT",
	BOX:           "BOX",
	KEY:           "KEY",
	NULL:          "NULL",
	ROW:           "ROW",
	DELETE:        "DELETE",
	SELECT:        "SELECT",
	NEAREST:       "NEAREST",
	FROM:          "FROM",
	TO:            "TO",
	WHERE:         "WHERE",
	AND:           "AND",
	IS:            "IS",
	INSIDE:        "INSIDE",
	LEFT:          "LEFT",
	RIGHT:         "RIGHT",
	ABOVE:         "ABOVE",
	BELOW:         "BELOW",
	SAME:          "SAME",
	PREFIX:        "PREFIX",
	LIMIT:         "LIMIT",
	VACUUM:        "VACUUM",
	CHECKPOINT:    "CHECKPOINT",
	INSPECT:       "INSPECT",
	BEGIN:         "BEGIN",
	COMMIT:        "COMMIT",
	ROLLBACK:      "ROLLBACK",
	COMMA:         "COMMA",
	ASTERISK:      "ASTERISK",
	OPENROUNDED:   "OPENROUNDED",
	CLOSEDROUNDED: "CLOSEDROUNDED",
	SEMICOLON:     "SEMICOLON",
	EQUAL:         "EQUAL",
	LESS:          "LESS",
	LESSEQUAL:     "LESSEQUAL",
	GREATER:       "GREATER",
	GREATEREQUAL:  "GREATEREQUAL",
	END:           "END",
	INVALID:       "INVALID",
}

func (tk TokenKind) String() string {
	if tk >= 0 && int(tk) < len(kindNames) {
		return kindNames[tk]
	}
	return "UNKNOWN"
}

// keywords maps the upper-cased spelling of every keyword to its kind.
var keywords = map[string]TokenKind{}

func init() {
	for k := CREATE; k <= ROLLBACK; k++ {
		keywords[kindNames[k]] = k
	}
}
