package codegen

import (
	executor "SpaceDB/query_executor"
	"SpaceDB/query_parser/parser"
	"SpaceDB/storage_engine/access/spgist/opclass"
	"SpaceDB/types"

	"github.com/pkg/errors"
)

// SCAN KEY HELPERS

var ErrBadArgument = errors.New("operator does not take this argument")

// pointStrategies and stringStrategies list the operators by the argument they take.
var pointStrategies = map[parser.CondOp]opclass.Strategy{
	parser.CondLeft:  opclass.StrategyLeft,
	parser.CondRight: opclass.StrategyRight,
	parser.CondAbove: opclass.StrategyAbove,
	parser.CondBelow: opclass.StrategyBelow,
	parser.CondSame:  opclass.StrategySame,
	parser.CondEqual: opclass.StrategySame,
}

var stringStrategies = map[parser.CondOp]opclass.Strategy{
	parser.CondPrefix:       opclass.StrategyPrefix,
	parser.CondEqual:        opclass.StrategyEqual,
	parser.CondLess:         opclass.StrategyLess,
	parser.CondLessEqual:    opclass.StrategyLessEqual,
	parser.CondGreater:      opclass.StrategyGreater,
	parser.CondGreaterEqual: opclass.StrategyGreaterEqual,
}

// scanPayload turns a WHERE clause into scan keys. KEY IS NULL selects the nulls tree
// and cannot be combined with other conditions.
func scanPayload(where []parser.Condition) (executor.ScanPayload, error) {
	payload := executor.ScanPayload{}
	for _, cond := range where {
		if cond.Op == parser.CondIsNull {
			if len(where) > 1 {
				return payload, errors.New("KEY IS NULL cannot be combined with other conditions")
			}
			payload.IsNull = true
			return payload, nil
		}
		key, err := scanKey(cond)
		if err != nil {
			return payload, err
		}
		payload.Keys = append(payload.Keys, key)
	}
	return payload, nil
}

func scanKey(cond parser.Condition) (executor.ScanKeyPayload, error) {
	switch cond.Arg.Kind {
	case parser.ValuePoint:
		if s, ok := pointStrategies[cond.Op]; ok {
			return executor.ScanKeyPayload{Strategy: s, Arg: opclass.EncodePoint(point(cond.Arg))}, nil
		}
	case parser.ValueBox:
		if cond.Op == parser.CondInside {
			box := opclass.Box{
				Low:  opclass.Point{X: min(cond.Arg.Coords[0], cond.Arg.Coords[2]), Y: min(cond.Arg.Coords[1], cond.Arg.Coords[3])},
				High: opclass.Point{X: max(cond.Arg.Coords[0], cond.Arg.Coords[2]), Y: max(cond.Arg.Coords[1], cond.Arg.Coords[3])},
			}
			return executor.ScanKeyPayload{Strategy: opclass.StrategyContainedBy, Arg: opclass.EncodeBox(box)}, nil
		}
	case parser.ValueString:
		if s, ok := stringStrategies[cond.Op]; ok {
			return executor.ScanKeyPayload{Strategy: s, Arg: []byte(cond.Arg.Str)}, nil
		}
	}
	return executor.ScanKeyPayload{}, errors.Wrapf(ErrBadArgument, "condition %d with argument kind %d", cond.Op, cond.Arg.Kind)
}

func keyDatum(v parser.Value) ([]byte, error) {
	switch v.Kind {
	case parser.ValuePoint:
		return opclass.EncodePoint(point(v)), nil
	case parser.ValueString:
		return []byte(v.Str), nil
	}
	return nil, errors.Wrapf(ErrBadArgument, "key of kind %d", v.Kind)
}

func point(v parser.Value) opclass.Point {
	return opclass.Point{X: v.Coords[0], Y: v.Coords[1]}
}

func rowPointer(r parser.RowRef) types.RowPointer {
	return types.RowPointer{FileID: r.File, PageNumber: r.Page, SlotIndex: r.Slot}
}
