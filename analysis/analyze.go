// Package analysis resolves the parser's AST into a typed Query:
// column references are bound to their tables, predicate operand types
// are checked, and DATETIME literals are validated.
package analysis

import (
	"github.com/ZeitHaum/rmdb/catalog"
	"github.com/ZeitHaum/rmdb/common"
	"github.com/ZeitHaum/rmdb/parser"
	"github.com/ZeitHaum/rmdb/planner"
)

// QueryKind tags the resolved statement variant.
type QueryKind int

const (
	QuerySelect QueryKind = iota
	QueryInsert
	QueryDelete
	QueryUpdate
)

// Query is the resolved form of a DML statement, ready for the planner.
type Query struct {
	Kind QueryKind

	Tables []string
	Cols   []planner.TabCol
	Aggs   []planner.AggClause
	Conds  []planner.Condition
	Orders []planner.OrderByCol
	Limit  int

	Values     []common.Value
	SetClauses []planner.SetClause
}

// Analyzer binds AST names against the catalog.
type Analyzer struct {
	catalog *catalog.Catalog
}

// NewAnalyzer creates an Analyzer over the catalog.
func NewAnalyzer(c *catalog.Catalog) *Analyzer {
	return &Analyzer{catalog: c}
}

func literalValue(lit parser.Literal) common.Value {
	switch lit.Kind {
	case parser.LitInt:
		return common.NewIntValue(int32(lit.Int))
	case parser.LitBigint:
		return common.NewBigintValue(lit.Int)
	case parser.LitFloat:
		return common.NewFloatValue(float32(lit.Float))
	case parser.LitString:
		return common.NewStringValue(lit.String)
	}
	panic("unknown literal kind")
}

// prepareValue coerces a literal value for the column it is compared
// with or assigned to: INT widens to BIGINT, and strings against
// DATETIME columns are validated and retyped.
func prepareValue(val common.Value, col *catalog.ColMeta) (common.Value, error) {
	if val.Type == col.Type {
		if col.Type == common.TypeDatetime && !common.ValidateDatetime(val.StringValue()) {
			return common.Value{}, common.NewError(common.InvalidValue, "invalid datetime '%s'", val.StringValue())
		}
		return val, nil
	}
	if val.Type == common.TypeInt && col.Type == common.TypeBigint {
		return common.NewBigintValue(int64(val.IntValue())), nil
	}
	if val.Type == common.TypeString && col.Type == common.TypeDatetime {
		s := val.StringValue()
		if !common.ValidateDatetime(s) {
			return common.Value{}, common.NewError(common.InvalidValue, "invalid datetime '%s'", s)
		}
		return common.NewDatetimeValue(s), nil
	}
	return common.Value{}, common.NewError(common.IncompatibleType,
		"%s value is incompatible with column '%s' of type %s", val.Type, col.Name, col.Type)
}

// resolveCol binds a possibly-unqualified column against the FROM
// tables.
func (a *Analyzer) resolveCol(tables []string, col parser.Col) (planner.TabCol, *catalog.ColMeta, error) {
	meta, err := a.catalog.ResolveColumn(tables, col.TabName, col.ColName)
	if err != nil {
		return planner.TabCol{}, nil, err
	}
	return planner.TabCol{TabName: meta.TabName, ColName: meta.Name}, meta, nil
}

func compOp(op string) (planner.CompOp, error) {
	switch op {
	case "=":
		return planner.OpEq, nil
	case "<>", "!=":
		return planner.OpNe, nil
	case "<":
		return planner.OpLt, nil
	case ">":
		return planner.OpGt, nil
	case "<=":
		return planner.OpLe, nil
	case ">=":
		return planner.OpGe, nil
	}
	return 0, common.NewError(common.InternalError, "unknown comparison operator '%s'", op)
}

// resolveConds binds and type-checks the AND-connected WHERE terms.
func (a *Analyzer) resolveConds(tables []string, exprs []parser.BinaryExpr) ([]planner.Condition, error) {
	conds := make([]planner.Condition, 0, len(exprs))
	for _, expr := range exprs {
		lhs, lhsMeta, err := a.resolveCol(tables, expr.Lhs)
		if err != nil {
			return nil, err
		}
		op, err := compOp(expr.Op)
		if err != nil {
			return nil, err
		}
		cond := planner.Condition{LhsCol: lhs, Op: op}
		if expr.Rhs.IsLiteral {
			val, err := prepareValue(literalValue(expr.Rhs.Lit), lhsMeta)
			if err != nil {
				return nil, err
			}
			cond.IsRhsVal = true
			cond.RhsVal = val
		} else {
			rhs, rhsMeta, err := a.resolveCol(tables, expr.Rhs.Col)
			if err != nil {
				return nil, err
			}
			if lhsMeta.Type != rhsMeta.Type {
				return nil, common.NewError(common.IncompatibleType,
					"cannot compare column '%s' (%s) with column '%s' (%s)",
					lhsMeta.Name, lhsMeta.Type, rhsMeta.Name, rhsMeta.Type)
			}
			cond.RhsCol = rhs
		}
		conds = append(conds, cond)
	}
	return conds, nil
}

// AnalyzeSelect resolves a SELECT statement.
func (a *Analyzer) AnalyzeSelect(stmt *parser.SelectStmt) (*Query, error) {
	q := &Query{Kind: QuerySelect, Tables: stmt.Tabs, Limit: planner.NoLimit}
	for _, name := range stmt.Tabs {
		if _, err := a.catalog.GetTable(name); err != nil {
			return nil, err
		}
	}

	if len(stmt.Aggs) > 0 {
		for _, agg := range stmt.Aggs {
			clause := planner.AggClause{Alias: agg.Alias}
			switch agg.Func {
			case "MAX":
				clause.Type = planner.AggMax
			case "MIN":
				clause.Type = planner.AggMin
			case "SUM":
				clause.Type = planner.AggSum
			case "COUNT":
				clause.Type = planner.AggCount
			case "COUNT(*)":
				clause.Type = planner.AggCountAll
			default:
				return nil, common.NewError(common.InternalError, "unknown aggregate '%s'", agg.Func)
			}
			if clause.Type != planner.AggCountAll {
				col, meta, err := a.resolveCol(stmt.Tabs, agg.Col)
				if err != nil {
					return nil, err
				}
				if clause.Type == planner.AggSum && (meta.Type == common.TypeString || meta.Type == common.TypeDatetime) {
					return nil, common.NewError(common.IncompatibleType, "SUM over non-numeric column '%s'", meta.Name)
				}
				clause.Col = col
			}
			q.Aggs = append(q.Aggs, clause)
		}
	} else if len(stmt.Cols) == 0 {
		// SELECT * expands to every column of every table in order.
		for _, name := range stmt.Tabs {
			tab, err := a.catalog.GetTable(name)
			if err != nil {
				return nil, err
			}
			for _, col := range tab.Cols {
				q.Cols = append(q.Cols, planner.TabCol{TabName: name, ColName: col.Name})
			}
		}
	} else {
		for _, col := range stmt.Cols {
			resolved, _, err := a.resolveCol(stmt.Tabs, col)
			if err != nil {
				return nil, err
			}
			q.Cols = append(q.Cols, resolved)
		}
	}

	conds, err := a.resolveConds(stmt.Tabs, stmt.Conds)
	if err != nil {
		return nil, err
	}
	q.Conds = conds

	for _, order := range stmt.Orders {
		col, _, err := a.resolveCol(stmt.Tabs, order.Col)
		if err != nil {
			return nil, err
		}
		q.Orders = append(q.Orders, planner.OrderByCol{Col: col, Desc: order.Desc})
	}
	if stmt.HasLimit {
		q.Limit = stmt.Limit
	}
	return q, nil
}

// AnalyzeInsert resolves an INSERT statement, checking the value count
// and per-column types.
func (a *Analyzer) AnalyzeInsert(stmt *parser.InsertStmt) (*Query, error) {
	tab, err := a.catalog.GetTable(stmt.TabName)
	if err != nil {
		return nil, err
	}
	if len(stmt.Values) != len(tab.Cols) {
		return nil, common.NewError(common.InvalidValueCount,
			"table '%s' has %d columns but %d values were supplied", tab.Name, len(tab.Cols), len(stmt.Values))
	}
	q := &Query{Kind: QueryInsert, Tables: []string{stmt.TabName}}
	for i, lit := range stmt.Values {
		val, err := prepareValue(literalValue(lit), &tab.Cols[i])
		if err != nil {
			return nil, err
		}
		q.Values = append(q.Values, val)
	}
	return q, nil
}

// AnalyzeDelete resolves a DELETE statement.
func (a *Analyzer) AnalyzeDelete(stmt *parser.DeleteStmt) (*Query, error) {
	if _, err := a.catalog.GetTable(stmt.TabName); err != nil {
		return nil, err
	}
	conds, err := a.resolveConds([]string{stmt.TabName}, stmt.Conds)
	if err != nil {
		return nil, err
	}
	return &Query{Kind: QueryDelete, Tables: []string{stmt.TabName}, Conds: conds}, nil
}

// AnalyzeUpdate resolves an UPDATE statement: set clauses bind to
// their columns, PLUS/MINUS are restricted to numeric columns.
func (a *Analyzer) AnalyzeUpdate(stmt *parser.UpdateStmt) (*Query, error) {
	tab, err := a.catalog.GetTable(stmt.TabName)
	if err != nil {
		return nil, err
	}
	q := &Query{Kind: QueryUpdate, Tables: []string{stmt.TabName}}
	for _, set := range stmt.Sets {
		col, err := tab.GetCol(set.ColName)
		if err != nil {
			return nil, err
		}
		val, err := prepareValue(literalValue(set.Val), col)
		if err != nil {
			return nil, err
		}
		clause := planner.SetClause{Col: planner.TabCol{TabName: tab.Name, ColName: col.Name}, Val: val}
		switch set.Op {
		case "=":
			clause.Op = planner.SetAssign
		case "+=":
			clause.Op = planner.SetPlus
		case "-=":
			clause.Op = planner.SetMinus
		default:
			return nil, common.NewError(common.InternalError, "unknown set operation '%s'", set.Op)
		}
		if clause.Op != planner.SetAssign {
			switch col.Type {
			case common.TypeInt, common.TypeBigint, common.TypeFloat:
			default:
				return nil, common.NewError(common.IncompatibleType,
					"arithmetic update on non-numeric column '%s'", col.Name)
			}
		}
		q.SetClauses = append(q.SetClauses, clause)
	}
	conds, err := a.resolveConds([]string{stmt.TabName}, stmt.Conds)
	if err != nil {
		return nil, err
	}
	q.Conds = conds
	return q, nil
}
