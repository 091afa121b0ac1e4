package parser

import (
	lex "SpaceDB/query_parser/lexer"
	"reflect"
	"testing"

	"github.com/pkg/errors"
)

func parse(input string) (Statement, error) {
	return New(lex.New(input)).ParseStatement()
}

// TestParseStatement_Invalid ensures malformed commands return an error instead of panicking.
func TestParseStatement_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"empty", "", ErrEmptyStatement},
		{"create without INDEX", "CREATE places USING quad", ErrUnexpectedToken},
		{"create without policy", "CREATE INDEX places USING", ErrUnexpectedToken},
		{"keyword as name", "DROP INDEX select", ErrExpectedIndexName},
		{"show without INDEXES", "SHOW places", ErrUnexpectedToken},
		{"insert box", "INSERT INTO places BOX(0,0,1,1) ROW(1,0,0)", ErrExpectedValue},
		{"insert without row", "INSERT INTO places POINT(1,2)", ErrUnexpectedToken},
		{"point with one coordinate", "INSERT INTO places POINT(1) ROW(1,0,0)", ErrUnexpectedToken},
		{"slot out of range", "DELETE ROW(1, 0, 70000)", ErrExpectedNumber},
		{"negative page", "DELETE ROW(1, -1, 0)", ErrExpectedNumber},
		{"select without star", "SELECT FROM places", ErrUnexpectedToken},
		{"condition without KEY", "SELECT * FROM places WHERE LEFT POINT(1,1)", ErrUnexpectedToken},
		{"unknown operator", "SELECT * FROM places WHERE KEY FROM POINT(1,1)", ErrExpectedCondition},
		{"compare with NULL", "SELECT * FROM places WHERE KEY = NULL", ErrExpectedValue},
		{"nearest without target", "SELECT NEAREST 3 FROM places", ErrUnexpectedToken},
		{"nearest to a string", "SELECT NEAREST 3 FROM places TO 'x'", ErrUnexpectedToken},
		{"trailing input", "CHECKPOINT now", ErrTrailingInput},
		{"garbage", "#", ErrUnexpectedToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt, err := parse(tt.input)
			if err == nil {
				t.Fatalf("parse(%q) expected error, got %#v", tt.input, stmt)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("parse(%q) error = %v, expected %v", tt.input, err, tt.want)
			}
		})
	}
}

func TestParseStatement_Valid(t *testing.T) {
	point := func(x, y float64) Value { return Value{Kind: ValuePoint, Coords: [4]float64{x, y}} }

	tests := []struct {
		input string
		want  Statement
	}{
		{"CREATE INDEX places USING Quad", &CreateIndexStmt{Name: "places", Policy: "quad"}},
		{"drop index places;", &DropIndexStmt{Name: "places"}},
		{"SHOW INDEXES", &ShowIndexesStmt{}},
		{
			"INSERT INTO places POINT(1.5, -2) ROW(3, 4, 5)",
			&InsertStmt{Index: "places", Key: point(1.5, -2), Row: RowRef{File: 3, Page: 4, Slot: 5}},
		},
		{
			"INSERT INTO words 'north' ROW(1, 0, 0)",
			&InsertStmt{Index: "words", Key: Value{Kind: ValueString, Str: "north"}, Row: RowRef{File: 1}},
		},
		{
			"INSERT INTO words NULL ROW(1, 0, 1)",
			&InsertStmt{Index: "words", Key: Value{Kind: ValueNull}, Row: RowRef{File: 1, Slot: 1}},
		},
		{"DELETE ROW(1, 2, 3)", &DeleteStmt{Row: RowRef{File: 1, Page: 2, Slot: 3}}},
		{"SELECT * FROM places", &SelectStmt{Index: "places"}},
		{
			"SELECT * FROM places WHERE KEY INSIDE BOX(0, 0, 10, 10) AND KEY LEFT POINT(5, 5) LIMIT 20",
			&SelectStmt{
				Index: "places",
				Where: []Condition{
					{Op: CondInside, Arg: Value{Kind: ValueBox, Coords: [4]float64{0, 0, 10, 10}}},
					{Op: CondLeft, Arg: point(5, 5)},
				},
				Limit: 20,
			},
		},
		{
			"SELECT * FROM words WHERE KEY PREFIX 'no' AND KEY < 'nz'",
			&SelectStmt{
				Index: "words",
				Where: []Condition{
					{Op: CondPrefix, Arg: Value{Kind: ValueString, Str: "no"}},
					{Op: CondLess, Arg: Value{Kind: ValueString, Str: "nz"}},
				},
			},
		},
		{
			"SELECT * FROM words WHERE KEY IS NULL",
			&SelectStmt{Index: "words", Where: []Condition{{Op: CondIsNull, Arg: Value{Kind: ValueNull}}}},
		},
		{
			"SELECT NEAREST 5 FROM places TO POINT(0, 0) WHERE KEY ABOVE POINT(0, 1)",
			&NearestStmt{Index: "places", K: 5, Target: point(0, 0), Where: []Condition{{Op: CondAbove, Arg: point(0, 1)}}},
		},
		{"VACUUM", &VacuumStmt{}},
		{"VACUUM places", &VacuumStmt{Index: "places"}},
		{"CHECKPOINT", &CheckpointStmt{}},
		{"INSPECT places", &InspectStmt{Index: "places"}},
		{"BEGIN", &BeginTxnStmt{}},
		{"COMMIT", &CommitTxnStmt{}},
		{"ROLLBACK", &RollbackTxnStmt{}},
	}
	for _, tt := range tests {
		stmt, err := parse(tt.input)
		if err != nil {
			t.Errorf("parse(%q) unexpected error: %v", tt.input, err)
			continue
		}
		if !reflect.DeepEqual(stmt, tt.want) {
			t.Errorf("parse(%q)\n got  %#v\n want %#v", tt.input, stmt, tt.want)
		}
	}
}
