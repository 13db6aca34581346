package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dianpeng/sql2vdbe/vdbe"
	"gopkg.in/yaml.v3"
)

// Catalog file layout
//
//	tables:
//	  - name: t1
//	    columns:
//	      - {name: a, type: int}
//	      - {name: b, type: text, collate: nocase}
//	    indexes:
//	      - {name: t1_a, columns: [a], unique: true}
//	    rows:
//	      - [1, "x"]
//	    file: t1.txt   # relative to the catalog file
//	    fs: ","
type catalogFile struct {
	Tables []tableFile `yaml:"tables"`
}

type tableFile struct {
	Name    string       `yaml:"name"`
	Columns []columnFile `yaml:"columns"`
	Indexes []indexFile  `yaml:"indexes"`
	Rows    [][]any      `yaml:"rows"`
	File    string       `yaml:"file"`
	FS      string       `yaml:"fs"`
}

type columnFile struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Collate string `yaml:"collate"`
}

type indexFile struct {
	Name    string   `yaml:"name"`
	Columns []string `yaml:"columns"`
	Unique  bool     `yaml:"unique"`
}

func yamlValue(x any) (vdbe.Value, error) {
	switch v := x.(type) {
	case nil:
		return vdbe.Null(), nil
	case int:
		return vdbe.IntValue(int64(v)), nil
	case int64:
		return vdbe.IntValue(v), nil
	case uint64:
		return vdbe.IntValue(int64(v)), nil
	case float64:
		return vdbe.RealValue(v), nil
	case string:
		return vdbe.StrValue(v), nil
	case bool:
		return vdbe.BoolValue(v), nil
	default:
		return vdbe.Null(), errors.Newf("unsupported value %v(%T) in rows", x, x)
	}
}

// LoadCatalog reads a catalog file, data files are resolved relative to it
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read catalog")
	}
	return ParseCatalog(data, filepath.Dir(path))
}

func ParseCatalog(data []byte, baseDir string) (*Catalog, error) {
	var cf catalogFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cf); err != nil {
		return nil, errors.Wrap(err, "parse catalog")
	}

	cat := NewCatalog()
	for _, tf := range cf.Tables {
		if err := cat.addTableFile(&tf, baseDir); err != nil {
			return nil, errors.Wrapf(err, "table(%s)", tf.Name)
		}
	}
	return cat, nil
}

func (self *Catalog) addTableFile(tf *tableFile, baseDir string) error {
	if tf.Name == "" {
		return errors.New("table name is required")
	}
	cols := []Column{}
	for _, c := range tf.Columns {
		ty, err := ColumnType(c.Type)
		if err != nil {
			return err
		}
		coll := vdbe.CollBinary
		if c.Collate != "" {
			if coll = vdbe.LookupColl(c.Collate); coll == nil {
				return errors.Newf("no such collation sequence: %s", c.Collate)
			}
		}
		cols = append(cols, Column{
			Name: strings.ToLower(c.Name),
			Type: ty,
			Coll: coll,
		})
	}

	t, err := self.CreateTable(strings.ToLower(tf.Name), cols)
	if err != nil {
		return err
	}
	for _, idx := range tf.Indexes {
		if _, err := t.AddIndex(idx.Name, idx.Columns, idx.Unique); err != nil {
			return err
		}
	}

	for ln, r := range tf.Rows {
		row := make([]vdbe.Value, 0, len(r))
		for _, x := range r {
			v, err := yamlValue(x)
			if err != nil {
				return errors.Wrapf(err, "row %d", ln+1)
			}
			row = append(row, v)
		}
		if _, err := t.Insert(row); err != nil {
			return errors.Wrapf(err, "row %d", ln+1)
		}
	}

	if tf.File != "" {
		p := tf.File
		if !filepath.IsAbs(p) && baseDir != "" {
			p = filepath.Join(baseDir, p)
		}
		f, err := os.Open(p)
		if err != nil {
			return errors.Wrap(err, "open data file")
		}
		defer f.Close()
		if _, err := t.Load(f, tf.FS); err != nil {
			return err
		}
	}
	return nil
}
