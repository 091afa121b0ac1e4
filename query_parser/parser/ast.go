package parser

// Statement is a generic interface for all statements
type Statement interface{}

type ValueKind uint8

const (
	ValuePoint ValueKind = iota
	ValueBox
	ValueString
	ValueNull
)

// Value is a literal key or query argument.
type Value struct {
	Kind ValueKind
	// POINT(x, y) fills the first two, BOX(x1, y1, x2, y2) all four
	Coords [4]float64
	Str    string
}

// RowRef is ROW(file, page, slot), the heap row an index entry points at.
type RowRef struct {
	File uint32
	Page uint32
	Slot uint16
}

type CondOp uint8

const (
	CondLeft CondOp = iota
	CondRight
	CondAbove
	CondBelow
	CondSame
	CondInside
	CondPrefix
	CondEqual
	CondLess
	CondLessEqual
	CondGreater
	CondGreaterEqual
	CondIsNull
)

// Condition is one KEY <op> <value> term of a WHERE clause.
type Condition struct {
	Op  CondOp
	Arg Value
}

// CREATE INDEX name USING policy
type CreateIndexStmt struct {
	Name   string
	Policy string
}

// DROP INDEX name
type DropIndexStmt struct {
	Name string
}

type ShowIndexesStmt struct{}

// INSERT INTO name <value> ROW(file, page, slot)
type InsertStmt struct {
	Index string
	Key   Value
	Row   RowRef
}

// DELETE ROW(file, page, slot)
type DeleteStmt struct {
	Row RowRef
}

// SELECT * FROM name [WHERE ...] [LIMIT n]
type SelectStmt struct {
	Index string
	Where []Condition
	Limit int // 0 means no limit
}

// SELECT NEAREST k FROM name TO POINT(x, y) [WHERE ...]
type NearestStmt struct {
	Index  string
	K      int
	Target Value
	Where  []Condition
}

// VACUUM [name]; an empty name vacuums every index
type VacuumStmt struct {
	Index string
}

type CheckpointStmt struct{}

type InspectStmt struct {
	Index string
}

type BeginTxnStmt struct{}

type CommitTxnStmt struct{}

type RollbackTxnStmt struct{}
