package planner

import (
	"github.com/ZeitHaum/rmdb/common"
)

// NoLimit is the sentinel for "no LIMIT clause" on Sort plans.
const NoLimit = -1000

// TabCol names a column, optionally qualified by its table.
type TabCol struct {
	TabName string
	ColName string
}

// CompOp is a comparison operator of a WHERE predicate.
type CompOp int

const (
	OpEq CompOp = iota
	OpNe
	OpLt
	OpGt
	OpLe
	OpGe
)

func (op CompOp) String() string {
	switch op {
	case OpEq:
		return "="
	case OpNe:
		return "<>"
	case OpLt:
		return "<"
	case OpGt:
		return ">"
	case OpLe:
		return "<="
	case OpGe:
		return ">="
	}
	return "?"
}

// Condition is one AND-connected predicate: column op (value|column).
type Condition struct {
	LhsCol   TabCol
	Op       CompOp
	IsRhsVal bool
	RhsCol   TabCol
	RhsVal   common.Value
}

// IsJoinEq reports whether the condition is a join equality: an `=`
// between columns of two different tables.
func (c Condition) IsJoinEq() bool {
	return c.Op == OpEq && !c.IsRhsVal && c.LhsCol.TabName != c.RhsCol.TabName
}

// SetClauseOp is the operation of one SET clause of an UPDATE.
type SetClauseOp int

const (
	SetAssign SetClauseOp = iota
	SetPlus
	SetMinus
)

// SetClause assigns or adjusts one column of an UPDATE statement.
type SetClause struct {
	Col TabCol
	Op  SetClauseOp
	Val common.Value
}

// AggType enumerates the supported aggregate functions.
type AggType int

const (
	AggMax AggType = iota
	AggMin
	AggSum
	AggCount
	AggCountAll
)

func (t AggType) String() string {
	switch t {
	case AggMax:
		return "MAX"
	case AggMin:
		return "MIN"
	case AggSum:
		return "SUM"
	case AggCount:
		return "COUNT"
	case AggCountAll:
		return "COUNT(*)"
	}
	return "?"
}

// AggClause is one aggregate output column.
type AggClause struct {
	Type  AggType
	Col   TabCol // unused for AggCountAll
	Alias string
}

// OrderByCol is one ORDER BY column with its direction.
type OrderByCol struct {
	Col  TabCol
	Desc bool
}

// Plan is a node of the physical plan tree produced by the (external)
// planner and consumed by the executor builder.
type Plan interface {
	planNode()
}

// ScanKind selects the access path of a table scan.
type ScanKind int

const (
	ScanSeq ScanKind = iota
	ScanIndex
	ScanIndexRange
)

// ScanPlan reads one table, filtered by the fed conditions. IndexCols
// names the chosen index for the index scan kinds.
type ScanPlan struct {
	Kind      ScanKind
	Table     string
	Conds     []Condition
	IndexCols []string
}

func (*ScanPlan) planNode() {}

// JoinKind selects the join algorithm.
type JoinKind int

const (
	JoinNestedLoop JoinKind = iota
	JoinBlockNestedLoop
	JoinHash
)

// JoinPlan combines two subplans under the join conditions.
type JoinPlan struct {
	Kind  JoinKind
	Left  Plan
	Right Plan
	Conds []Condition
}

func (*JoinPlan) planNode() {}

// SortPlan orders the child output; Limit truncates it (NoLimit keeps
// every row).
type SortPlan struct {
	Child   Plan
	OrderBy []OrderByCol
	Limit   int
}

func (*SortPlan) planNode() {}

// ProjectionPlan narrows the child output to the named columns.
type ProjectionPlan struct {
	Child Plan
	Cols  []TabCol
}

func (*ProjectionPlan) planNode() {}

// AggPlan computes single-group aggregates over the child output.
type AggPlan struct {
	Child Plan
	Aggs  []AggClause
}

func (*AggPlan) planNode() {}

// InsertPlan inserts one row of values into the table.
type InsertPlan struct {
	Table  string
	Values []common.Value
}

func (*InsertPlan) planNode() {}

// DeletePlan deletes the rows produced by the child scan.
type DeletePlan struct {
	Table string
	Child Plan
}

func (*DeletePlan) planNode() {}

// UpdatePlan applies the set clauses to the rows produced by the child
// scan.
type UpdatePlan struct {
	Table      string
	SetClauses []SetClause
	Child      Plan
}

func (*UpdatePlan) planNode() {}

// SelectPlan wraps the query subtree of a SELECT statement.
type SelectPlan struct {
	Child Plan
}

func (*SelectPlan) planNode() {}

// LoadPlan bulk-loads a CSV file into the table.
type LoadPlan struct {
	Table string
	Path  string
}

func (*LoadPlan) planNode() {}
