package parser

import "github.com/pkg/errors"

var (
	ErrEmptyStatement    = errors.New("empty statement")
	ErrUnexpectedToken   = errors.New("unexpected token")
	ErrExpectedIndexName = errors.New("expected index name")
	ErrExpectedNumber    = errors.New("expected number")
	ErrExpectedValue     = errors.New("expected POINT, BOX, string or NULL")
	ErrExpectedCondition = errors.New("expected condition after KEY")
	ErrTrailingInput     = errors.New("unexpected input after statement")
)
