package parser

import (
	lex "SpaceDB/query_parser/lexer"
	"math"
	"strconv"

	"github.com/pkg/errors"
)

type Parser struct {
	l         *lex.Lexer
	curToken  lex.Token
	peekToken lex.Token
}

func New(l *lex.Lexer) *Parser {
	p := &Parser{l: l}
	p.nextToken()
	p.nextToken()
	return p
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.l.NextToken()
}

func (p *Parser) expect(kind lex.TokenKind) error {
	if p.curToken.Kind != kind {
		return errors.Wrapf(ErrUnexpectedToken, "expected %s, got %s (%q)", kind, p.curToken.Kind, p.curToken.Value)
	}
	return nil
}

// consume checks the current token and moves past it.
func (p *Parser) consume(kind lex.TokenKind) error {
	if err := p.expect(kind); err != nil {
		return err
	}
	p.nextToken()
	return nil
}

// Entry point
func (p *Parser) ParseStatement() (Statement, error) {
	stmt, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	if p.curToken.Kind == lex.SEMICOLON {
		p.nextToken()
	}
	if p.curToken.Kind != lex.END {
		return nil, errors.Wrapf(ErrTrailingInput, "%s (%q)", p.curToken.Kind, p.curToken.Value)
	}
	return stmt, nil
}

func (p *Parser) parseStatement() (Statement, error) {
	switch p.curToken.Kind {
	case lex.CREATE:
		return p.parseCreateIndex()
	case lex.DROP:
		return p.parseDropIndex()
	case lex.SHOW:
		return p.parseShowIndexes()
	case lex.INSERT:
		return p.parseInsert()
	case lex.DELETE:
		return p.parseDelete()
	case lex.SELECT:
		return p.parseSelect()
	case lex.VACUUM:
		return p.parseVacuum()
	case lex.CHECKPOINT:
		p.nextToken()
		return &CheckpointStmt{}, nil
	case lex.INSPECT:
		return p.parseInspect()
	case lex.BEGIN:
		p.nextToken()
		return &BeginTxnStmt{}, nil
	case lex.COMMIT:
		p.nextToken()
		return &CommitTxnStmt{}, nil
	case lex.ROLLBACK:
		p.nextToken()
		return &RollbackTxnStmt{}, nil
	case lex.END, lex.SEMICOLON:
		return nil, ErrEmptyStatement
	}
	return nil, errors.Wrapf(ErrUnexpectedToken, "%s (%q)", p.curToken.Kind, p.curToken.Value)
}

/*


-------------------shared pieces of the grammar-------------------



*/

func (p *Parser) parseIndexName() (string, error) {
	if p.curToken.Kind != lex.IDENT {
		return "", errors.Wrapf(ErrExpectedIndexName, "got %s (%q)", p.curToken.Kind, p.curToken.Value)
	}
	name := p.curToken.Value
	p.nextToken()
	return name, nil
}

func (p *Parser) parseNumber() (float64, error) {
	if p.curToken.Kind != lex.NUMBER {
		return 0, errors.Wrapf(ErrExpectedNumber, "got %s (%q)", p.curToken.Kind, p.curToken.Value)
	}
	f, err := strconv.ParseFloat(p.curToken.Value, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errors.Wrapf(ErrExpectedNumber, "bad number %q", p.curToken.Value)
	}
	p.nextToken()
	return f, nil
}

// parseUint reads a non-negative integer that fits in bits.
func (p *Parser) parseUint(bits int) (uint64, error) {
	if p.curToken.Kind != lex.NUMBER {
		return 0, errors.Wrapf(ErrExpectedNumber, "got %s (%q)", p.curToken.Kind, p.curToken.Value)
	}
	n, err := strconv.ParseUint(p.curToken.Value, 10, bits)
	if err != nil {
		return 0, errors.Wrapf(ErrExpectedNumber, "bad integer %q", p.curToken.Value)
	}
	p.nextToken()
	return n, nil
}

// parseNumberList reads ( n, n, ... ) with exactly count numbers.
func (p *Parser) parseNumberList(count int) ([]float64, error) {
	if err := p.consume(lex.OPENROUNDED); err != nil {
		return nil, err
	}
	nums := make([]float64, 0, count)
	for i := 0; i < count; i++ {
		if i > 0 {
			if err := p.consume(lex.COMMA); err != nil {
				return nil, err
			}
		}
		f, err := p.parseNumber()
		if err != nil {
			return nil, err
		}
		nums = append(nums, f)
	}
	if err := p.consume(lex.CLOSEDROUNDED); err != nil {
		return nil, err
	}
	return nums, nil
}

// parseValue reads POINT(x, y), BOX(x1, y1, x2, y2), a string or NULL.
func (p *Parser) parseValue() (Value, error) {
	switch p.curToken.Kind {
	case lex.POINT:
		p.nextToken()
		nums, err := p.parseNumberList(2)
		if err != nil {
			return Value{}, err
		}
		v := Value{Kind: ValuePoint}
		copy(v.Coords[:], nums)
		return v, nil
	case lex.BOX:
		p.nextToken()
		nums, err := p.parseNumberList(4)
		if err != nil {
			return Value{}, err
		}
		v := Value{Kind: ValueBox}
		copy(v.Coords[:], nums)
		return v, nil
	case lex.STRING:
		v := Value{Kind: ValueString, Str: p.curToken.Value}
		p.nextToken()
		return v, nil
	case lex.NULL:
		p.nextToken()
		return Value{Kind: ValueNull}, nil
	}
	return Value{}, errors.Wrapf(ErrExpectedValue, "got %s (%q)", p.curToken.Kind, p.curToken.Value)
}

// parseRowRef reads ROW(file, page, slot).
func (p *Parser) parseRowRef() (RowRef, error) {
	if err := p.consume(lex.ROW); err != nil {
		return RowRef{}, err
	}
	if err := p.consume(lex.OPENROUNDED); err != nil {
		return RowRef{}, err
	}
	file, err := p.parseUint(32)
	if err != nil {
		return RowRef{}, err
	}
	if err := p.consume(lex.COMMA); err != nil {
		return RowRef{}, err
	}
	page, err := p.parseUint(32)
	if err != nil {
		return RowRef{}, err
	}
	if err := p.consume(lex.COMMA); err != nil {
		return RowRef{}, err
	}
	slot, err := p.parseUint(16)
	if err != nil {
		return RowRef{}, err
	}
	if err := p.consume(lex.CLOSEDROUNDED); err != nil {
		return RowRef{}, err
	}
	return RowRef{File: uint32(file), Page: uint32(page), Slot: uint16(slot)}, nil
}
