package plan

import (
	"fmt"
	"testing"

	"github.com/cockroachdb/datadriven"
	"github.com/dianpeng/sql2vdbe/sql"
	"github.com/dianpeng/sql2vdbe/storage"
	"github.com/dianpeng/sql2vdbe/vdbe"
)

// t1(a int, b text), t2(a int, c text), t3(x text collate nocase, y int)
func testCatalog() *storage.Catalog {
	cat := storage.NewCatalog()
	cat.CreateTable("t1", []storage.Column{
		{Name: "a", Type: storage.ColInt},
		{Name: "b", Type: storage.ColText},
	})
	cat.CreateTable("t2", []storage.Column{
		{Name: "a", Type: storage.ColInt},
		{Name: "c", Type: storage.ColText},
	})
	cat.CreateTable("t3", []storage.Column{
		{Name: "x", Type: storage.ColText, Coll: vdbe.CollNocase},
		{Name: "y", Type: storage.ColInt},
	})
	return cat
}

func compPlan(code string) (*Arena, NodeId, error) {
	c, err := sql.Parse(code)
	if err != nil {
		return nil, NoNode, err
	}
	return Build(c, testCatalog())
}

func mustPlan(t *testing.T, code string) (*Arena, NodeId) {
	a, root, err := compPlan(code)
	if err != nil {
		t.Fatalf("%s: %s", code, err)
	}
	return a, root
}

func TestDataDriven(t *testing.T) {
	datadriven.Walk(t, "testdata", func(t *testing.T, path string) {
		datadriven.RunTest(t, path, func(t *testing.T, d *datadriven.TestData) string {
			a, root, err := compPlan(d.Input)
			if err != nil {
				return fmt.Sprintf("error: %s\n", err)
			}

			switch d.Cmd {
			case "build":
				return a.Print(root)

			case "normalize":
				n := a.Normalize(root)
				return fmt.Sprintf("flattened: %d\n", n) + a.Print(root)

			case "pushdown":
				s := a.Node(root)
				n := 0
				for _, item := range s.Src {
					if item.Sub != NoNode && item.JoinType&JtOuter == 0 {
						n += a.PushDown(item.Sub, s.Where, item.Cursor)
					}
				}
				return fmt.Sprintf("pushed: %d\n", n) + a.Print(root)

			default:
				d.Fatalf(t, "unknown command %s", d.Cmd)
				return ""
			}
		})
	})
}
