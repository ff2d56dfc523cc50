package guardrail

import (
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// collectRelations walks the parse tree and gathers every relation referenced
// in FROM clauses, JOINs, subqueries, and CTE bodies. CTE names themselves are
// not relations; they are collected separately and subtracted by the caller.
func collectRelations(node *pg_query.Node, seen map[string]bool, out *[]string) {
	if node == nil {
		return
	}
	if n, ok := node.Node.(*pg_query.Node_SelectStmt); ok {
		collectRelationsFromSelect(n.SelectStmt, seen, out)
	}
}

func collectRelationsFromSelect(sel *pg_query.SelectStmt, seen map[string]bool, out *[]string) {
	if sel == nil {
		return
	}

	// Set operations (UNION/INTERSECT/EXCEPT)
	collectRelationsFromSelect(sel.Larg, seen, out)
	collectRelationsFromSelect(sel.Rarg, seen, out)

	if sel.WithClause != nil {
		for _, cte := range sel.WithClause.Ctes {
			if c, ok := cte.Node.(*pg_query.Node_CommonTableExpr); ok {
				collectRelations(c.CommonTableExpr.Ctequery, seen, out)
			}
		}
	}

	for _, from := range sel.FromClause {
		collectRelationsFromFrom(from, seen, out)
	}

	collectRelationsFromExpr(sel.WhereClause, seen, out)
	collectRelationsFromExpr(sel.HavingClause, seen, out)
	for _, target := range sel.TargetList {
		collectRelationsFromExpr(target, seen, out)
	}
}

func collectRelationsFromFrom(node *pg_query.Node, seen map[string]bool, out *[]string) {
	if node == nil {
		return
	}
	switch n := node.Node.(type) {
	case *pg_query.Node_RangeVar:
		addRelation(n.RangeVar.Relname, seen, out)
	case *pg_query.Node_JoinExpr:
		collectRelationsFromFrom(n.JoinExpr.Larg, seen, out)
		collectRelationsFromFrom(n.JoinExpr.Rarg, seen, out)
		collectRelationsFromExpr(n.JoinExpr.Quals, seen, out)
	case *pg_query.Node_RangeSubselect:
		collectRelations(n.RangeSubselect.Subquery, seen, out)
	case *pg_query.Node_RangeFunction:
		// table-valued functions carry no relation name
	}
}

func collectRelationsFromExpr(node *pg_query.Node, seen map[string]bool, out *[]string) {
	if node == nil {
		return
	}
	switch n := node.Node.(type) {
	case *pg_query.Node_SubLink:
		collectRelations(n.SubLink.Subselect, seen, out)
	case *pg_query.Node_BoolExpr:
		for _, arg := range n.BoolExpr.Args {
			collectRelationsFromExpr(arg, seen, out)
		}
	case *pg_query.Node_AExpr:
		collectRelationsFromExpr(n.AExpr.Lexpr, seen, out)
		collectRelationsFromExpr(n.AExpr.Rexpr, seen, out)
	case *pg_query.Node_ResTarget:
		collectRelationsFromExpr(n.ResTarget.Val, seen, out)
	case *pg_query.Node_FuncCall:
		for _, arg := range n.FuncCall.Args {
			collectRelationsFromExpr(arg, seen, out)
		}
	case *pg_query.Node_CaseExpr:
		for _, when := range n.CaseExpr.Args {
			collectRelationsFromExpr(when, seen, out)
		}
		collectRelationsFromExpr(n.CaseExpr.Defresult, seen, out)
	case *pg_query.Node_CaseWhen:
		collectRelationsFromExpr(n.CaseWhen.Expr, seen, out)
		collectRelationsFromExpr(n.CaseWhen.Result, seen, out)
	case *pg_query.Node_TypeCast:
		collectRelationsFromExpr(n.TypeCast.Arg, seen, out)
	case *pg_query.Node_CoalesceExpr:
		for _, arg := range n.CoalesceExpr.Args {
			collectRelationsFromExpr(arg, seen, out)
		}
	case *pg_query.Node_List:
		for _, item := range n.List.Items {
			collectRelationsFromExpr(item, seen, out)
		}
	}
}

func addRelation(name string, seen map[string]bool, out *[]string) {
	name = strings.ToLower(name)
	if name == "" || seen[name] {
		return
	}
	seen[name] = true
	*out = append(*out, name)
}

// collectColumnRefs gathers every column referenced anywhere in the
// statement, lower-cased. Qualified references contribute their final field.
// String literals and target aliases are not references, so a column name
// appearing only there is not collected.
func collectColumnRefs(m protoreflect.Message, out map[string]bool) {
	if cr, ok := m.Interface().(*pg_query.ColumnRef); ok {
		if n := len(cr.Fields); n > 0 {
			if s, ok := cr.Fields[n-1].Node.(*pg_query.Node_String_); ok {
				out[strings.ToLower(s.String_.Sval)] = true
			}
		}
		return
	}
	m.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		if fd.Kind() != protoreflect.MessageKind {
			return true
		}
		if fd.IsList() {
			list := v.List()
			for i := 0; i < list.Len(); i++ {
				collectColumnRefs(list.Get(i).Message(), out)
			}
			return true
		}
		collectColumnRefs(v.Message(), out)
		return true
	})
}

// collectCTENames gathers the names defined by WITH clauses anywhere in the
// statement so they can be excluded from the allow-list check.
func collectCTENames(node *pg_query.Node, names map[string]bool) {
	if node == nil {
		return
	}
	n, ok := node.Node.(*pg_query.Node_SelectStmt)
	if !ok {
		return
	}
	collectCTENamesFromSelect(n.SelectStmt, names)
}

func collectCTENamesFromSelect(sel *pg_query.SelectStmt, names map[string]bool) {
	if sel == nil {
		return
	}
	collectCTENamesFromSelect(sel.Larg, names)
	collectCTENamesFromSelect(sel.Rarg, names)
	if sel.WithClause != nil {
		for _, cte := range sel.WithClause.Ctes {
			if c, ok := cte.Node.(*pg_query.Node_CommonTableExpr); ok {
				names[strings.ToLower(c.CommonTableExpr.Ctename)] = true
				collectCTENames(c.CommonTableExpr.Ctequery, names)
			}
		}
	}
	for _, from := range sel.FromClause {
		if sub, ok := from.Node.(*pg_query.Node_RangeSubselect); ok {
			collectCTENames(sub.RangeSubselect.Subquery, names)
		}
	}
}
