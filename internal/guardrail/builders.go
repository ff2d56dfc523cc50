package guardrail

import (
	pg_query "github.com/pganalyze/pg_query_go/v6"
)

func makeStringNode(s string) *pg_query.Node {
	return &pg_query.Node{
		Node: &pg_query.Node_String_{
			String_: &pg_query.String{Sval: s},
		},
	}
}

func makeColumnRef(column string) *pg_query.Node {
	return &pg_query.Node{
		Node: &pg_query.Node_ColumnRef{
			ColumnRef: &pg_query.ColumnRef{
				Fields: []*pg_query.Node{makeStringNode(column)},
			},
		},
	}
}

func makeStringConst(v string) *pg_query.Node {
	return &pg_query.Node{
		Node: &pg_query.Node_AConst{
			AConst: &pg_query.A_Const{
				Val: &pg_query.A_Const_Sval{
					Sval: &pg_query.String{Sval: v},
				},
			},
		},
	}
}

func makeIntegerConst(v int32) *pg_query.Node {
	return &pg_query.Node{
		Node: &pg_query.Node_AConst{
			AConst: &pg_query.A_Const{
				Val: &pg_query.A_Const_Ival{
					Ival: &pg_query.Integer{Ival: v},
				},
			},
		},
	}
}

func makeFloatConst(v string) *pg_query.Node {
	return &pg_query.Node{
		Node: &pg_query.Node_AConst{
			AConst: &pg_query.A_Const{
				Val: &pg_query.A_Const_Fval{
					Fval: &pg_query.Float{Fval: v},
				},
			},
		},
	}
}

// makeTypedConst renders a literal cast to a SQL type, e.g. DATE '2025-01-01'.
// The literal travels as an AST constant, never as interpolated text.
func makeTypedConst(typeName, v string) *pg_query.Node {
	return &pg_query.Node{
		Node: &pg_query.Node_TypeCast{
			TypeCast: &pg_query.TypeCast{
				Arg: makeStringConst(v),
				TypeName: &pg_query.TypeName{
					Names: []*pg_query.Node{makeStringNode(typeName)},
				},
			},
		},
	}
}

func makeAExpr(kind pg_query.A_Expr_Kind, op string, lexpr, rexpr *pg_query.Node) *pg_query.Node {
	return &pg_query.Node{
		Node: &pg_query.Node_AExpr{
			AExpr: &pg_query.A_Expr{
				Kind:  kind,
				Name:  []*pg_query.Node{makeStringNode(op)},
				Lexpr: lexpr,
				Rexpr: rexpr,
			},
		},
	}
}

func makeListNode(items []*pg_query.Node) *pg_query.Node {
	return &pg_query.Node{
		Node: &pg_query.Node_List{
			List: &pg_query.List{Items: items},
		},
	}
}

// makeAndExpr combines two expressions with AND, flattening nested ANDs so
// repeated injection keeps the clause shallow.
func makeAndExpr(left, right *pg_query.Node) *pg_query.Node {
	var args []*pg_query.Node
	if be, ok := left.Node.(*pg_query.Node_BoolExpr); ok && be.BoolExpr.Boolop == pg_query.BoolExprType_AND_EXPR {
		args = append(args, be.BoolExpr.Args...)
	} else {
		args = append(args, left)
	}
	if be, ok := right.Node.(*pg_query.Node_BoolExpr); ok && be.BoolExpr.Boolop == pg_query.BoolExprType_AND_EXPR {
		args = append(args, be.BoolExpr.Args...)
	} else {
		args = append(args, right)
	}
	return &pg_query.Node{
		Node: &pg_query.Node_BoolExpr{
			BoolExpr: &pg_query.BoolExpr{
				Boolop: pg_query.BoolExprType_AND_EXPR,
				Args:   args,
			},
		},
	}
}

// andArgs returns the flattened conjuncts of a WHERE clause.
func andArgs(node *pg_query.Node) []*pg_query.Node {
	if node == nil {
		return nil
	}
	if be, ok := node.Node.(*pg_query.Node_BoolExpr); ok && be.BoolExpr.Boolop == pg_query.BoolExprType_AND_EXPR {
		var out []*pg_query.Node
		for _, arg := range be.BoolExpr.Args {
			out = append(out, andArgs(arg)...)
		}
		return out
	}
	return []*pg_query.Node{node}
}
