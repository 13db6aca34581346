package cg

import (
	dbsql "database/sql"
	"fmt"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
)

// The queries below run both through the compiler and through sqlite, the
// two must agree. Rows are compared sorted unless the query orders them.

var oracleSchema = []string{
	"create table t1(a integer, b text)",
	"insert into t1 values (1, 'x'), (2, 'y'), (3, 'z')",
	"create table t2(a integer, c text)",
	"insert into t2 values (2, 'p'), (3, 'q'), (4, 'r')",
	"create table t3(k text, v integer)",
	"insert into t3 values ('a', 1), ('b', 5), ('a', 3), ('c', 2), ('b', 7), ('a', NULL), ('c', 4)",
	"create index t3_v on t3(v)",
}

var oracleQueries = []struct {
	q       string
	ordered bool
}{
	{"select a from t1 union select a from t2", false},
	{"select a from t1 intersect select a from t2", false},
	{"select a from t1 except select a from t2", false},
	{"select a from t1 union all select a from t2 order by 1", true},
	{"select a from t1 union select a from t2 order by 1 desc limit 2 offset 1", true},
	{"select a from t2 except select a from t1 order by 1", true},
	{"select count(*) from t1", false},
	{"select count(*), sum(v), min(v), max(v) from t3", false},
	{"select k, count(*), sum(v) from t3 group by k", false},
	{"select k, count(v) from t3 group by k having count(v) > 1 order by k desc", true},
	{"select distinct k from t3 order by 1", true},
	{"select distinct k from t3", false},
	{"select k, v from t3 where v is not null order by v desc limit 3", true},
	{"select t1.a, c from t1 left join t2 on t1.a = t2.a", false},
	{"select a from t1 where a in (select a from t2)", false},
	{"select a from t1 where not exists (select 1 from t2 where t2.a = t1.a)", false},
	{"select a, (select c from t2 where t2.a = t1.a) from t1", false},
	{"select x from (select a * 10 as x from t1) where x > 10", false},
	{"select k, n from (select k, count(*) as n from t3 group by k) where n > 2", false},
	{"select a from (select a from t2 order by a desc limit 2) order by a", true},
	{"with recursive c(x) as (values (1) union all select x + 1 from c limit 6) select x from c", true},
	{"with recursive c(x) as (values (1) union select (x + 1) % 3 from c) select x from c", false},
	{"select a from t1 limit 0", false},
	{"select a from t1 limit -1", false},
}

func oracleRows(db *dbsql.DB, q string) ([]string, error) {
	rows, err := db.Query(q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := []string{}
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		line := ""
		for i, v := range vals {
			if i > 0 {
				line += " "
			}
			switch x := v.(type) {
			case nil:
				line += "NULL"
			case []byte:
				line += string(x)
			default:
				line += fmt.Sprint(x)
			}
		}
		out = append(out, line)
	}
	return out, rows.Err()
}

func TestOracle(t *testing.T) {
	assert := assert.New(t)

	db, err := dbsql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Skipf("sqlite3 is not available: %s", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)
	for _, stmt := range oracleSchema {
		if _, err := db.Exec(stmt); err != nil {
			t.Skipf("sqlite3 is not available: %s", err)
		}
	}

	cat := testCatalog(t)
	for _, x := range oracleQueries {
		expect, err := oracleRows(db, x.q)
		if !assert.Nil(err, x.q) {
			continue
		}
		got := query(t, cat, x.q, nil)
		if !x.ordered {
			expect = sorted(expect)
			got = sorted(got)
		}
		assert.Equal(expect, got, x.q)
	}
}
