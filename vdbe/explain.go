package vdbe

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// p4 rendering used by the listing
func P4String(p4 any) string {
	switch v := p4.(type) {
	case nil:
		return ""
	case *KeyDef:
		return v.String()
	case *Coll:
		return v.CollName()
	case *FuncCall:
		return v.String()
	case *Tree:
		return v.Name
	case string:
		return fmt.Sprintf("%q", v)
	case []int:
		buf := []string{}
		for _, x := range v {
			buf = append(buf, fmt.Sprintf("%d", x))
		}
		return "[" + strings.Join(buf, ",") + "]"
	default:
		return fmt.Sprintf("%v", v)
	}
}

type explainStyle struct {
	addr    *color.Color
	op      *color.Color
	jump    *color.Color
	comment *color.Color
}

func newExplainStyle(colorize bool) *explainStyle {
	s := &explainStyle{
		addr:    color.New(color.FgYellow),
		op:      color.New(color.FgCyan, color.Bold),
		jump:    color.New(color.FgMagenta),
		comment: color.New(color.FgGreen, color.Italic),
	}
	for _, c := range []*color.Color{s.addr, s.op, s.jump, s.comment} {
		if colorize {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return s
}

// Explain writes the program listing, one instruction per line
//
//	addr  opcode  p1  p2  p3  p4  p5  comment
//
// Unresolved labels are printed as negative numbers.
func Explain(w io.Writer, prog *Program, colorize bool) error {
	style := newExplainStyle(colorize)

	if _, err := fmt.Fprintf(
		w,
		"%-5s %-16s %-5s %-5s %-5s %-24s %-3s %s\n",
		"addr", "opcode", "p1", "p2", "p3", "p4", "p5", "comment",
	); err != nil {
		return err
	}

	for addr, in := range prog.Code {
		p2 := fmt.Sprintf("%-5d", in.P2)
		if opJumps(in.Op)&jumpP2 != 0 &&
			!(IsCompareOp(in.Op) && in.P5&CmpStoreP2 != 0) {
			p2 = style.jump.Sprint(p2)
		}
		comment := ""
		if in.Comment != "" {
			comment = style.comment.Sprint(in.Comment)
		}
		if _, err := fmt.Fprintf(
			w,
			"%s %s %-5d %s %-5d %-24s %-3d %s\n",
			style.addr.Sprintf("%-5d", addr),
			style.op.Sprintf("%-16s", OpName(in.Op)),
			in.P1,
			p2,
			in.P3,
			P4String(in.P4),
			in.P5,
			comment,
		); err != nil {
			return err
		}
	}
	return nil
}

// ExplainString is Explain into a string without colors
func ExplainString(prog *Program) string {
	buf := &strings.Builder{}
	_ = Explain(buf, prog, false)
	return buf.String()
}
