package pageindex

import (
	"fmt"
)

// Op is a comparison operator of a query.
type Op uint8

const (
	Equal Op = iota
	NotEqual
	Less
	LessEqual
	Greater
	GreaterEqual
)

var opNames = map[Op]string{
	Equal:        "=",
	NotEqual:     "!=",
	Less:         "<",
	LessEqual:    "<=",
	Greater:      ">",
	GreaterEqual: ">=",
}

func (o Op) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return fmt.Sprintf("Op(%d)", uint8(o))
}

// ParseOp parses one of = != <> < <= > >=.
func ParseOp(s string) (Op, error) {
	switch s {
	case "=", "==":
		return Equal, nil
	case "!=", "<>":
		return NotEqual, nil
	case "<":
		return Less, nil
	case "<=":
		return LessEqual, nil
	case ">":
		return Greater, nil
	case ">=":
		return GreaterEqual, nil
	}
	return 0, fmt.Errorf("unknown operator %q", s)
}
