package parser

import (
	lex "SpaceDB/query_parser/lexer"

	"github.com/pkg/errors"
)

var conditionOps = map[lex.TokenKind]CondOp{
	lex.LEFT:         CondLeft,
	lex.RIGHT:        CondRight,
	lex.ABOVE:        CondAbove,
	lex.BELOW:        CondBelow,
	lex.SAME:         CondSame,
	lex.INSIDE:       CondInside,
	lex.PREFIX:       CondPrefix,
	lex.EQUAL:        CondEqual,
	lex.LESS:         CondLess,
	lex.LESSEQUAL:    CondLessEqual,
	lex.GREATER:      CondGreater,
	lex.GREATEREQUAL: CondGreaterEqual,
}

// parseSelect handles both SELECT * FROM and SELECT NEAREST k FROM.
func (p *Parser) parseSelect() (Statement, error) {
	p.nextToken() // consume SELECT

	if p.curToken.Kind == lex.NEAREST {
		return p.parseNearest()
	}

	if err := p.consume(lex.ASTERISK); err != nil {
		return nil, err
	}
	if err := p.consume(lex.FROM); err != nil {
		return nil, err
	}
	index, err := p.parseIndexName()
	if err != nil {
		return nil, err
	}

	where, err := p.parseWhere()
	if err != nil {
		return nil, err
	}

	stmt := &SelectStmt{Index: index, Where: where}
	if p.curToken.Kind == lex.LIMIT {
		p.nextToken()
		n, err := p.parseUint(31)
		if err != nil {
			return nil, err
		}
		stmt.Limit = int(n)
	}
	return stmt, nil
}

func (p *Parser) parseNearest() (*NearestStmt, error) {
	p.nextToken() // consume NEAREST

	k, err := p.parseUint(31)
	if err != nil {
		return nil, err
	}
	if err := p.consume(lex.FROM); err != nil {
		return nil, err
	}
	index, err := p.parseIndexName()
	if err != nil {
		return nil, err
	}
	if err := p.consume(lex.TO); err != nil {
		return nil, err
	}
	if err := p.expect(lex.POINT); err != nil {
		return nil, err
	}
	target, err := p.parseValue()
	if err != nil {
		return nil, err
	}

	where, err := p.parseWhere()
	if err != nil {
		return nil, err
	}
	return &NearestStmt{Index: index, K: int(k), Target: target, Where: where}, nil
}

// parseWhere reads an optional WHERE KEY <op> <value> [AND KEY <op> <value>]... clause.
func (p *Parser) parseWhere() ([]Condition, error) {
	if p.curToken.Kind != lex.WHERE {
		return nil, nil
	}
	p.nextToken()

	var conds []Condition
	for {
		cond, err := p.parseCondition()
		if err != nil {
			return nil, err
		}
		conds = append(conds, cond)

		if p.curToken.Kind != lex.AND {
			return conds, nil
		}
		p.nextToken()
	}
}

func (p *Parser) parseCondition() (Condition, error) {
	if err := p.consume(lex.KEY); err != nil {
		return Condition{}, err
	}

	if p.curToken.Kind == lex.IS {
		p.nextToken()
		if err := p.consume(lex.NULL); err != nil {
			return Condition{}, err
		}
		return Condition{Op: CondIsNull, Arg: Value{Kind: ValueNull}}, nil
	}

	op, ok := conditionOps[p.curToken.Kind]
	if !ok {
		return Condition{}, errors.Wrapf(ErrExpectedCondition, "got %s (%q)", p.curToken.Kind, p.curToken.Value)
	}
	p.nextToken()

	arg, err := p.parseValue()
	if err != nil {
		return Condition{}, err
	}
	if arg.Kind == ValueNull {
		return Condition{}, errors.Wrap(ErrExpectedValue, "use KEY IS NULL to find null keys")
	}
	return Condition{Op: op, Arg: arg}, nil
}
