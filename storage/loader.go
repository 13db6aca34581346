package storage

import (
	"bufio"
	"io"
	"strings"

	gawki "github.com/benhoyt/goawk/interp"
	gawkp "github.com/benhoyt/goawk/parser"
	"github.com/cockroachdb/errors"
	"github.com/dianpeng/sql2vdbe/vdbe"
)

// Rows of a delimited file are split by awk, each record is printed back with
// the unit separator between fields so the Go side never has to know about
// the field separator semantics of awk (regex FS, single space FS, CSV).
const unitSep = "\037"

const splitProgram = `
{
	out = ""
	for (i = 1; i <= NF; i++) {
		if (i > 1) out = out "\037"
		out = out $i
	}
	print out
}
`

var splitParsed *gawkp.Program

func init() {
	p, err := gawkp.ParseProgram([]byte(splitProgram), nil)
	if err != nil {
		panic(err)
	}
	splitParsed = p
}

// SplitRows runs the awk field splitter over the input. An fs of "csv" turns
// on the CSV input mode, an empty fs keeps awk's default whitespace split.
func SplitRows(r io.Reader, fs string) ([][]string, error) {
	pr, pw := io.Pipe()

	config := &gawki.Config{
		Stdin:  r,
		Output: pw,
		Args:   []string{},
	}
	switch {
	case strings.EqualFold(fs, "csv"):
		config.InputMode = gawki.CSVMode
	case fs != "":
		config.Vars = []string{"FS", fs}
	}

	done := make(chan error, 1)
	go func() {
		_, err := gawki.ExecProgram(splitParsed, config)
		pw.CloseWithError(err)
		done <- err
	}()

	out := [][]string{}
	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		out = append(out, strings.Split(line, unitSep))
	}
	scanErr := scanner.Err()
	pr.Close()

	if err := <-done; err != nil {
		return nil, errors.Wrap(err, "split rows")
	}
	if scanErr != nil {
		return nil, errors.Wrap(scanErr, "split rows")
	}
	return out, nil
}

// fieldValue converts a raw field into a value of the column type. NULL and
// an empty numeric field are NULL.
func fieldValue(raw string, ty int) vdbe.Value {
	if strings.EqualFold(raw, "null") {
		return vdbe.Null()
	}
	if raw == "" && (ty == ColInt || ty == ColReal) {
		return vdbe.Null()
	}
	v := vdbe.StrValue(raw)
	if ty == ColAny {
		if n, err := vdbe.MustBeInt(v); err == nil {
			return n
		}
		if x, err := vdbe.CastValue(v, "real"); err == nil && looksReal(raw) {
			return x
		}
		return v
	}
	return coerce(v, ty)
}

func looksReal(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	dot := false
	for idx, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case (c == '-' || c == '+') && idx == 0:
		case c == '.' && !dot:
			dot = true
		default:
			return false
		}
	}
	return dot
}

// Load reads a delimited file into the table
func (self *Table) Load(r io.Reader, fs string) (int, error) {
	rows, err := SplitRows(r, fs)
	if err != nil {
		return 0, err
	}
	for ln, raw := range rows {
		if len(raw) > len(self.Columns) {
			return ln, errors.Newf(
				"%s: line %d: %d fields for %d columns",
				self.Name,
				ln+1,
				len(raw),
				len(self.Columns),
			)
		}
		row := make([]vdbe.Value, len(raw))
		for i, f := range raw {
			row[i] = fieldValue(f, self.Columns[i].Type)
		}
		if _, err := self.Insert(row); err != nil {
			return ln, errors.Wrapf(err, "%s: line %d", self.Name, ln+1)
		}
	}
	return len(rows), nil
}
