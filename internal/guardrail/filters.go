package guardrail

import (
	"regexp"
	"strconv"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/medsidd/whyline-denver/internal/models"
	"github.com/medsidd/whyline-denver/internal/registry"
)

// Operator is the set of predicate shapes the dashboard widgets can request.
type Operator string

const (
	OpBetween Operator = "BETWEEN"
	OpEq      Operator = "EQ"
	OpIn      Operator = "IN"
)

// FilterSpec is one structured filter to merge into a validated query's WHERE
// clause. Values are rendered according to the column's declared type; a
// value that fails its type check is rejected, never interpolated.
type FilterSpec struct {
	Column string
	Op     Operator
	Values []string
}

// FiltersFromState translates the dashboard widget state into filter specs.
func FiltersFromState(fs models.FilterState) []FilterSpec {
	var specs []FilterSpec
	if fs.StartDate != "" && fs.EndDate != "" {
		specs = append(specs, FilterSpec{
			Column: "service_date_mst",
			Op:     OpBetween,
			Values: []string{fs.StartDate, fs.EndDate},
		})
	}
	if len(fs.Routes) > 0 {
		specs = append(specs, FilterSpec{Column: "route_id", Op: OpIn, Values: fs.Routes})
	}
	if stop := strings.TrimSpace(fs.StopID); stop != "" {
		specs = append(specs, FilterSpec{Column: "stop_id", Op: OpEq, Values: []string{strings.ToUpper(stop)}})
	}
	if len(fs.Weather) > 0 {
		specs = append(specs, FilterSpec{Column: "precip_bin", Op: OpIn, Values: fs.Weather})
	}
	return specs
}

var (
	datePattern      = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	timestampPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:?\d{2})?$`)
)

// InjectFilters merges the filter specs into the validated query's WHERE
// clause and returns a new ValidatedQuery with the updated canonical form.
//
// Only the outermost SELECT is touched; filtering inside CTEs is out of
// scope. A filter whose column none of the referenced datasets declare is
// skipped. Re-injecting the same specs is a no-op: a predicate already
// present in the WHERE clause is never duplicated.
func InjectFilters(vq *ValidatedQuery, specs []FilterSpec, snap *registry.Snapshot) (*ValidatedQuery, error) {
	if len(specs) == 0 {
		return vq, nil
	}

	result, err := pg_query.Parse(vq.CanonicalSQL)
	if err != nil || len(result.Stmts) != 1 {
		return nil, models.WrapQueryError(models.KindFilterInjection, err, "validated SQL could not be re-parsed")
	}
	selNode, ok := result.Stmts[0].Stmt.Node.(*pg_query.Node_SelectStmt)
	if !ok {
		return nil, models.NewQueryError(models.KindFilterInjection, "validated query is not a SELECT")
	}
	sel := selNode.SelectStmt
	if sel.Op != pg_query.SetOperation_SETOP_NONE {
		// Set-operation roots have no WHERE boundary to extend.
		return vq, nil
	}

	changed := false
	for _, spec := range specs {
		col := findColumn(spec.Column, vq.Relations, snap)
		if col == nil {
			continue
		}
		predicate, err := buildPredicate(spec, col)
		if err != nil {
			return nil, err
		}
		if predicateExists(sel.WhereClause, predicate) {
			continue
		}
		if sel.WhereClause == nil {
			sel.WhereClause = predicate
		} else {
			sel.WhereClause = makeAndExpr(sel.WhereClause, predicate)
		}
		changed = true
	}

	if !changed {
		return vq, nil
	}

	canonical, err := pg_query.Deparse(result)
	if err != nil {
		return nil, models.WrapQueryError(models.KindFilterInjection, err, "filtered SQL could not be serialized")
	}
	return &ValidatedQuery{CanonicalSQL: canonical, Relations: vq.Relations}, nil
}

// findColumn resolves the filter column against the datasets the query
// references. The first declaring dataset wins; the marts share column
// naming conventions so conflicts do not arise in practice.
func findColumn(name string, relations []string, snap *registry.Snapshot) *registry.Column {
	for _, rel := range relations {
		if ds, ok := snap.Lookup(rel); ok {
			if col := ds.Column(name); col != nil {
				return col
			}
		}
	}
	return nil
}

func buildPredicate(spec FilterSpec, col *registry.Column) (*pg_query.Node, error) {
	switch spec.Op {
	case OpBetween:
		if len(spec.Values) != 2 {
			return nil, models.NewQueryError(models.KindFilterInjection,
				"BETWEEN filter on %q needs exactly two values, got %d", spec.Column, len(spec.Values))
		}
		lo, err := renderLiteral(spec.Values[0], col)
		if err != nil {
			return nil, err
		}
		hi, err := renderLiteral(spec.Values[1], col)
		if err != nil {
			return nil, err
		}
		return makeAExpr(pg_query.A_Expr_Kind_AEXPR_BETWEEN, "BETWEEN",
			makeColumnRef(col.Name), makeListNode([]*pg_query.Node{lo, hi})), nil

	case OpEq:
		if len(spec.Values) != 1 {
			return nil, models.NewQueryError(models.KindFilterInjection,
				"EQ filter on %q needs exactly one value, got %d", spec.Column, len(spec.Values))
		}
		lit, err := renderLiteral(spec.Values[0], col)
		if err != nil {
			return nil, err
		}
		return makeAExpr(pg_query.A_Expr_Kind_AEXPR_OP, "=", makeColumnRef(col.Name), lit), nil

	case OpIn:
		if len(spec.Values) == 0 {
			return nil, models.NewQueryError(models.KindFilterInjection,
				"IN filter on %q needs at least one value", spec.Column)
		}
		items := make([]*pg_query.Node, 0, len(spec.Values))
		for _, v := range spec.Values {
			lit, err := renderLiteral(v, col)
			if err != nil {
				return nil, err
			}
			items = append(items, lit)
		}
		return makeAExpr(pg_query.A_Expr_Kind_AEXPR_IN, "=", makeColumnRef(col.Name), makeListNode(items)), nil

	default:
		return nil, models.NewQueryError(models.KindFilterInjection, "unsupported filter operator %q", spec.Op)
	}
}

// renderLiteral type-checks a filter value against the column's declared type
// and builds the corresponding AST constant. This is the injection defense:
// a value that does not conform to the declared type never reaches the SQL.
func renderLiteral(value string, col *registry.Column) (*pg_query.Node, error) {
	switch normalizeType(col.Type) {
	case "DATE":
		if !datePattern.MatchString(value) {
			return nil, models.NewQueryError(models.KindFilterInjection,
				"value %q is not a valid ISO date for column %q", value, col.Name)
		}
		return makeTypedConst("date", value), nil
	case "TIMESTAMP":
		if !timestampPattern.MatchString(value) {
			return nil, models.NewQueryError(models.KindFilterInjection,
				"value %q is not a valid timestamp for column %q", value, col.Name)
		}
		return makeTypedConst("timestamp", value), nil
	case "NUMERIC":
		if i, err := strconv.ParseInt(value, 10, 32); err == nil {
			return makeIntegerConst(int32(i)), nil
		}
		if _, err := strconv.ParseFloat(value, 64); err == nil {
			return makeFloatConst(value), nil
		}
		return nil, models.NewQueryError(models.KindFilterInjection,
			"value %q is not numeric for column %q", value, col.Name)
	default: // STRING
		return makeStringConst(value), nil
	}
}

func normalizeType(t string) string {
	switch strings.ToUpper(t) {
	case "DATE":
		return "DATE"
	case "TIMESTAMP", "TIMESTAMPTZ", "DATETIME", "TIMESTAMP WITH TIME ZONE":
		return "TIMESTAMP"
	case "NUMERIC", "DECIMAL", "INTEGER", "INT", "INT64", "BIGINT", "SMALLINT",
		"FLOAT", "FLOAT64", "DOUBLE", "REAL", "HUGEINT":
		return "NUMERIC"
	default:
		return "STRING"
	}
}

// predicateExists reports whether an equivalent predicate is already present
// among the WHERE clause's conjuncts. Injection is deterministic, so after
// normalization an equivalent predicate is an identical AST node.
func predicateExists(where *pg_query.Node, predicate *pg_query.Node) bool {
	want := normalizePredicate(predicate)
	for _, arg := range andArgs(where) {
		if proto.Equal(normalizePredicate(arg), want) {
			return true
		}
	}
	return false
}

// normalizePredicate clones the node and strips parser detail that does not
// affect meaning. Conjuncts re-parsed from the canonical SQL carry byte
// offsets in location fields, pg_catalog-qualified type names, and typemod -1
// where freshly built nodes carry none of those, so a raw proto.Equal would
// never recognize an already-injected predicate.
func normalizePredicate(node *pg_query.Node) *pg_query.Node {
	clone := proto.Clone(node).(*pg_query.Node)
	normalizeMessage(clone.ProtoReflect())
	return clone
}

func normalizeMessage(m protoreflect.Message) {
	if tn, ok := m.Interface().(*pg_query.TypeName); ok {
		if len(tn.Names) > 1 {
			if s, ok := tn.Names[0].Node.(*pg_query.Node_String_); ok && s.String_.Sval == "pg_catalog" {
				tn.Names = tn.Names[1:]
			}
		}
		tn.Typemod = 0
	}
	var locs []protoreflect.FieldDescriptor
	var children []protoreflect.Message
	m.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		switch {
		case fd.Kind() == protoreflect.Int32Kind && strings.HasSuffix(string(fd.Name()), "location"):
			locs = append(locs, fd)
		case fd.Kind() == protoreflect.MessageKind && fd.IsList():
			list := v.List()
			for i := 0; i < list.Len(); i++ {
				children = append(children, list.Get(i).Message())
			}
		case fd.Kind() == protoreflect.MessageKind:
			children = append(children, v.Message())
		}
		return true
	})
	for _, fd := range locs {
		m.Clear(fd)
	}
	for _, c := range children {
		normalizeMessage(c)
	}
}
