package parser

// Query is the parsed form of a SELECT statement.
type Query struct {
	Select  []SelectItem
	From    string
	Where   Expr   // nil when no WHERE clause
	GroupBy []string
	OrderBy []OrderKey
	Limit   *int64 // nil when no LIMIT clause
}

// SelectItem is one entry of the select list. Exactly one of Star,
// Column, or Agg is set.
type SelectItem struct {
	Star   bool
	Column string
	Agg    *AggCall
	Alias  string
}

// AggCall is an aggregate function application such as SUM(price) or
// COUNT(*).
type AggCall struct {
	Fn     string // upper-cased: COUNT, SUM, AVG, MIN, MAX
	Column string
	Star   bool
}

// OrderKey names a sort column. An ORDER BY target may be a plain
// column, an alias, or an aggregate call repeated from the select list.
type OrderKey struct {
	Column string
	Agg    *AggCall
	Desc   bool
}

// Expr is a node of a WHERE predicate tree.
type Expr interface {
	exprNode()
}

type ColumnRef struct {
	Name string
	Pos  int
}

// Literal holds an int64, float64, string, bool, or nil value.
type Literal struct {
	Val any
	Pos int
}

type Unary struct {
	Op   string // NOT
	Expr Expr
}

type Binary struct {
	Op    string // = != < <= > >= AND OR
	Left  Expr
	Right Expr
}

func (*ColumnRef) exprNode() {}
func (*Literal) exprNode()   {}
func (*Unary) exprNode()     {}
func (*Binary) exprNode()    {}
