package parser

import (
	lex "SpaceDB/query_parser/lexer"

	"github.com/pkg/errors"
)

func (p *Parser) parseInsert() (*InsertStmt, error) {
	p.nextToken()
	if err := p.consume(lex.INTO); err != nil {
		return nil, err
	}

	index, err := p.parseIndexName()
	if err != nil {
		return nil, err
	}

	key, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	if key.Kind == ValueBox {
		return nil, errors.Wrap(ErrExpectedValue, "boxes can only be query arguments")
	}

	row, err := p.parseRowRef()
	if err != nil {
		return nil, err
	}

	return &InsertStmt{Index: index, Key: key, Row: row}, nil
}

func (p *Parser) parseDelete() (*DeleteStmt, error) {
	p.nextToken()
	row, err := p.parseRowRef()
	if err != nil {
		return nil, err
	}
	return &DeleteStmt{Row: row}, nil
}
