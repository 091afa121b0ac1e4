package parser

import (
	lex "SpaceDB/query_parser/lexer"
	"strings"
)

func (p *Parser) parseCreateIndex() (*CreateIndexStmt, error) {
	p.nextToken()
	if err := p.consume(lex.INDEX); err != nil {
		return nil, err
	}
	name, err := p.parseIndexName()
	if err != nil {
		return nil, err
	}
	if err := p.consume(lex.USING); err != nil {
		return nil, err
	}

	// policy names are checked by the engine, the parser only needs a word
	if p.curToken.Kind != lex.IDENT {
		return nil, p.expect(lex.IDENT)
	}
	policy := strings.ToLower(p.curToken.Value)
	p.nextToken()

	return &CreateIndexStmt{Name: name, Policy: policy}, nil
}

func (p *Parser) parseDropIndex() (*DropIndexStmt, error) {
	p.nextToken()
	if err := p.consume(lex.INDEX); err != nil {
		return nil, err
	}
	name, err := p.parseIndexName()
	if err != nil {
		return nil, err
	}
	return &DropIndexStmt{Name: name}, nil
}

func (p *Parser) parseShowIndexes() (*ShowIndexesStmt, error) {
	p.nextToken()
	if err := p.consume(lex.INDEXES); err != nil {
		return nil, err
	}
	return &ShowIndexesStmt{}, nil
}

func (p *Parser) parseVacuum() (*VacuumStmt, error) {
	p.nextToken()
	if p.curToken.Kind != lex.IDENT {
		return &VacuumStmt{}, nil
	}
	name, _ := p.parseIndexName()
	return &VacuumStmt{Index: name}, nil
}

func (p *Parser) parseInspect() (*InspectStmt, error) {
	p.nextToken()
	name, err := p.parseIndexName()
	if err != nil {
		return nil, err
	}
	return &InspectStmt{Index: name}, nil
}
