package codegen

import (
	executor "SpaceDB/query_executor"
	"SpaceDB/query_parser/parser"
	"encoding/json"

	"github.com/pkg/errors"
)

var ErrUnsupportedStatement = errors.New("unknown statement type (no bytecode emitted)")

func EmitBytecode(stmt parser.Statement) ([]executor.Instruction, error) {

	instructions := []executor.Instruction{}

	switch s := stmt.(type) {

	case *parser.BeginTxnStmt:
		instructions = append(instructions, executor.Instruction{Op: executor.OP_TXN_BEGIN})

	case *parser.CommitTxnStmt:
		instructions = append(instructions, executor.Instruction{Op: executor.OP_TXN_COMMIT})

	case *parser.RollbackTxnStmt:
		instructions = append(instructions, executor.Instruction{Op: executor.OP_TXN_ROLLBACK})

	case *parser.CreateIndexStmt:
		instructions = append(instructions,
			executor.Instruction{Op: executor.OP_PUSH_VAL, Value: s.Policy},
			executor.Instruction{Op: executor.OP_CREATE_INDEX, Value: s.Name},
		)

	case *parser.DropIndexStmt:
		instructions = append(instructions, executor.Instruction{Op: executor.OP_DROP_INDEX, Value: s.Name})

	case *parser.ShowIndexesStmt:
		instructions = append(instructions, executor.Instruction{Op: executor.OP_SHOW_INDEXES})

	case *parser.InsertStmt:
		payload := executor.InsertPayload{Row: rowPointer(s.Row)}
		if s.Key.Kind == parser.ValueNull {
			payload.KeyNull = true
		} else {
			key, err := keyDatum(s.Key)
			if err != nil {
				return nil, err
			}
			payload.Key = key
		}
		push, err := pushJSON(payload)
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, push,
			executor.Instruction{Op: executor.OP_INSERT, Value: s.Index})

	case *parser.DeleteStmt:
		push, err := pushJSON(rowPointer(s.Row))
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, push, executor.Instruction{Op: executor.OP_DELETE})

	case *parser.SelectStmt:
		payload, err := scanPayload(s.Where)
		if err != nil {
			return nil, err
		}
		payload.Limit = s.Limit
		push, err := pushJSON(payload)
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, push,
			executor.Instruction{Op: executor.OP_SELECT, Value: s.Index})

	case *parser.NearestStmt:
		payload, err := scanPayload(s.Where)
		if err != nil {
			return nil, err
		}
		if payload.IsNull {
			return nil, errors.New("NEAREST cannot search null keys")
		}
		target := point(s.Target)
		payload.K = s.K
		payload.Target = &target
		push, err := pushJSON(payload)
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, push,
			executor.Instruction{Op: executor.OP_NEAREST, Value: s.Index})

	case *parser.VacuumStmt:
		instructions = append(instructions, executor.Instruction{Op: executor.OP_VACUUM, Value: s.Index})

	case *parser.CheckpointStmt:
		instructions = append(instructions, executor.Instruction{Op: executor.OP_CHECKPOINT})

	case *parser.InspectStmt:
		instructions = append(instructions, executor.Instruction{Op: executor.OP_INSPECT, Value: s.Index})

	default:
		return nil, errors.Wrapf(ErrUnsupportedStatement, "%T", stmt)
	}

	// for END of queries
	instructions = append(instructions, executor.Instruction{
		Op: executor.OP_END,
	})
	return instructions, nil
}

func pushJSON(v any) (executor.Instruction, error) {
	payloadJSON, err := json.Marshal(v)
	if err != nil {
		return executor.Instruction{}, errors.Wrap(err, "failed to serialize payload")
	}
	return executor.Instruction{Op: executor.OP_PUSH_VAL, Value: string(payloadJSON)}, nil
}
