package codegen

import (
	executor "SpaceDB/query_executor"
	lex "SpaceDB/query_parser/lexer"
	"SpaceDB/query_parser/parser"
	"SpaceDB/storage_engine/access/spgist/opclass"
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
)

func emit(t *testing.T, input string) ([]executor.Instruction, error) {
	t.Helper()
	stmt, err := parser.New(lex.New(input)).ParseStatement()
	if err != nil {
		t.Fatalf("parse %q: %v", input, err)
	}
	return EmitBytecode(stmt)
}

// TestEmitBytecode_UnsupportedStatement_ReturnsError ensures that unknown statements
// return an error instead of panicking.
func TestEmitBytecode_UnsupportedStatement_ReturnsError(t *testing.T) {
	instructions, err := EmitBytecode(struct{}{})
	if !errors.Is(err, ErrUnsupportedStatement) {
		t.Errorf("EmitBytecode(struct{}) expected ErrUnsupportedStatement, got %v", err)
	}
	if instructions != nil {
		t.Errorf("expected nil instructions on error, got %v", instructions)
	}
}

func TestEmitBytecode_Shapes(t *testing.T) {
	tests := []struct {
		input string
		ops   []executor.OpCode
		value string // Value of the command instruction
	}{
		{"CREATE INDEX places USING quad", []executor.OpCode{executor.OP_PUSH_VAL, executor.OP_CREATE_INDEX, executor.OP_END}, "places"},
		{"DROP INDEX places", []executor.OpCode{executor.OP_DROP_INDEX, executor.OP_END}, "places"},
		{"SHOW INDEXES", []executor.OpCode{executor.OP_SHOW_INDEXES, executor.OP_END}, ""},
		{"DELETE ROW(1,2,3)", []executor.OpCode{executor.OP_PUSH_VAL, executor.OP_DELETE, executor.OP_END}, ""},
		{"VACUUM", []executor.OpCode{executor.OP_VACUUM, executor.OP_END}, ""},
		{"INSPECT words", []executor.OpCode{executor.OP_INSPECT, executor.OP_END}, "words"},
		{"CHECKPOINT", []executor.OpCode{executor.OP_CHECKPOINT, executor.OP_END}, ""},
		{"BEGIN", []executor.OpCode{executor.OP_TXN_BEGIN, executor.OP_END}, ""},
		{"COMMIT", []executor.OpCode{executor.OP_TXN_COMMIT, executor.OP_END}, ""},
		{"ROLLBACK", []executor.OpCode{executor.OP_TXN_ROLLBACK, executor.OP_END}, ""},
	}
	for _, tt := range tests {
		instructions, err := emit(t, tt.input)
		if err != nil {
			t.Errorf("EmitBytecode(%q) unexpected error: %v", tt.input, err)
			continue
		}
		if len(instructions) != len(tt.ops) {
			t.Errorf("EmitBytecode(%q) = %v, expected ops %v", tt.input, instructions, tt.ops)
			continue
		}
		for i, op := range tt.ops {
			if instructions[i].Op != op {
				t.Errorf("EmitBytecode(%q)[%d].Op = %d, expected %d", tt.input, i, instructions[i].Op, op)
			}
		}
		if cmd := instructions[len(instructions)-2]; cmd.Value != tt.value {
			t.Errorf("EmitBytecode(%q) command value %q, expected %q", tt.input, cmd.Value, tt.value)
		}
	}
}

func TestEmitBytecode_InsertPayload(t *testing.T) {
	instructions, err := emit(t, "INSERT INTO places POINT(1, 2) ROW(7, 8, 9)")
	if err != nil {
		t.Fatal(err)
	}
	var payload executor.InsertPayload
	if err := json.Unmarshal([]byte(instructions[0].Value), &payload); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	p, err := opclass.DecodePoint(payload.Key)
	if err != nil || p != (opclass.Point{X: 1, Y: 2}) {
		t.Errorf("key decoded to %v (%v)", p, err)
	}
	if payload.Row.FileID != 7 || payload.Row.PageNumber != 8 || payload.Row.SlotIndex != 9 {
		t.Errorf("row = %+v", payload.Row)
	}

	instructions, err = emit(t, "INSERT INTO words NULL ROW(1, 0, 0)")
	if err != nil {
		t.Fatal(err)
	}
	payload = executor.InsertPayload{}
	json.Unmarshal([]byte(instructions[0].Value), &payload)
	if !payload.KeyNull || payload.Key != nil {
		t.Errorf("null insert payload = %+v", payload)
	}
}

func TestEmitBytecode_ScanKeys(t *testing.T) {
	instructions, err := emit(t, "SELECT * FROM places WHERE KEY INSIDE BOX(10, 10, 0, 0) AND KEY = POINT(3, 4) LIMIT 2")
	if err != nil {
		t.Fatal(err)
	}
	var payload executor.ScanPayload
	if err := json.Unmarshal([]byte(instructions[0].Value), &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Limit != 2 || len(payload.Keys) != 2 {
		t.Fatalf("payload = %+v", payload)
	}
	if payload.Keys[0].Strategy != opclass.StrategyContainedBy {
		t.Errorf("INSIDE mapped to strategy %d", payload.Keys[0].Strategy)
	}
	box, err := opclass.DecodeBox(payload.Keys[0].Arg)
	if err != nil || box.Low != (opclass.Point{}) || box.High != (opclass.Point{X: 10, Y: 10}) {
		t.Errorf("box corners not normalised: %+v (%v)", box, err)
	}
	if payload.Keys[1].Strategy != opclass.StrategySame {
		t.Errorf("= on a point mapped to strategy %d", payload.Keys[1].Strategy)
	}

	instructions, err = emit(t, "SELECT * FROM words WHERE KEY = 'x'")
	if err != nil {
		t.Fatal(err)
	}
	payload = executor.ScanPayload{}
	json.Unmarshal([]byte(instructions[0].Value), &payload)
	if payload.Keys[0].Strategy != opclass.StrategyEqual || string(payload.Keys[0].Arg) != "x" {
		t.Errorf("= on a string mapped to %+v", payload.Keys[0])
	}

	instructions, err = emit(t, "SELECT NEAREST 4 FROM places TO POINT(5, 6)")
	if err != nil {
		t.Fatal(err)
	}
	payload = executor.ScanPayload{}
	json.Unmarshal([]byte(instructions[0].Value), &payload)
	if payload.K != 4 || payload.Target == nil || *payload.Target != (opclass.Point{X: 5, Y: 6}) {
		t.Errorf("nearest payload = %+v", payload)
	}
}

func TestEmitBytecode_BadArguments(t *testing.T) {
	for _, input := range []string{
		"SELECT * FROM places WHERE KEY LEFT 'abc'",
		"SELECT * FROM places WHERE KEY INSIDE POINT(1, 1)",
		"SELECT * FROM words WHERE KEY PREFIX POINT(1, 1)",
	} {
		if _, err := emit(t, input); !errors.Is(err, ErrBadArgument) {
			t.Errorf("EmitBytecode(%q) expected ErrBadArgument, got %v", input, err)
		}
	}
	for _, input := range []string{
		"SELECT * FROM words WHERE KEY IS NULL AND KEY PREFIX 'a'",
		"SELECT NEAREST 1 FROM places TO POINT(0, 0) WHERE KEY IS NULL",
	} {
		if _, err := emit(t, input); err == nil {
			t.Errorf("EmitBytecode(%q) expected an error", input)
		}
	}
}
