package sql

// Parse parses a single SELECT statement
func Parse(src string) (*Code, error) {
	return NewParser(src).Parse()
}

// IsAggFunc reports whether the call can only be an aggregate. min and max
// with more than one argument are scalar, count(*) is always an aggregate.
func IsAggFunc(c *Call) bool {
	switch c.Name {
	case "sum", "avg", "count", "total", "group_concat":
		return true
	case "min", "max":
		return len(c.Parameters) == 1
	default:
		return false
	}
}
