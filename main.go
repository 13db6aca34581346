package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dianpeng/sql2vdbe/cg"
	"github.com/dianpeng/sql2vdbe/plan"
	"github.com/dianpeng/sql2vdbe/sql"
	"github.com/dianpeng/sql2vdbe/storage"
	"github.com/dianpeng/sql2vdbe/vdbe"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type rootOptions struct {
	catalog    string
	verbose    bool
	noFlatten  bool
	noPushdown bool
	color      bool
}

func oops(stage string, err error) error {
	return errors.Wrapf(err, "[%s]", stage)
}

// query text comes from the arguments, or STDIN when there is none
func readQuery(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", oops("read sql", err)
	}
	return string(data), nil
}

func compile(opts *rootOptions, args []string) (*vdbe.Program, error) {
	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	cat := storage.NewCatalog()
	if opts.catalog != "" {
		c, err := storage.LoadCatalog(opts.catalog)
		if err != nil {
			return nil, oops("catalog", err)
		}
		cat = c
	}

	src, err := readQuery(args)
	if err != nil {
		return nil, err
	}
	code, err := sql.Parse(src)
	if err != nil {
		return nil, oops("parse", err)
	}
	a, root, err := plan.Build(code, cat)
	if err != nil {
		return nil, oops("plan", err)
	}
	prog, err := cg.Compile(
		a,
		root,
		&cg.Config{
			Logger:     logger,
			NoFlatten:  opts.noFlatten,
			NoPushdown: opts.noPushdown,
		},
	)
	if err != nil {
		return nil, oops("code-gen", err)
	}
	return prog, nil
}

func newExplainCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "explain [query]",
		Short: "Print the register program of a query",
		RunE: func(cmd *cobra.Command, args []string) error {
			prog, err := compile(opts, args)
			if err != nil {
				return err
			}
			return vdbe.Explain(cmd.OutOrStdout(), prog, opts.color)
		},
	}
	cmd.Flags().BoolVar(&opts.color, "color", false, "colorize opcodes")
	return cmd
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run [query]",
		Short: "Compile a query and print its rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			prog, err := compile(opts, args)
			if err != nil {
				return err
			}
			w := bufio.NewWriter(cmd.OutOrStdout())
			defer w.Flush()
			err = vdbe.Exec(
				cmd.Context(),
				prog,
				func(row []vdbe.Value) error {
					for i, v := range row {
						if i > 0 {
							w.WriteString(" ")
						}
						w.WriteString(v.String())
					}
					_, err := w.WriteString("\n")
					return err
				},
			)
			if err != nil {
				return oops("run", err)
			}
			return nil
		},
	}
}

func addCompileFlags(flags *pflag.FlagSet, opts *rootOptions) {
	flags.StringVar(&opts.catalog, "catalog", "", "path of the YAML catalog describing the tables")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log the decisions of the compiler")
	flags.BoolVar(&opts.noFlatten, "no-flatten", false, "do not flatten FROM subqueries")
	flags.BoolVar(&opts.noPushdown, "no-pushdown", false, "do not push WHERE terms into FROM subqueries")
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "sql2vdbe",
		Short:         "Compile SELECT statements into register programs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	addCompileFlags(cmd.PersistentFlags(), opts)
	cmd.AddCommand(newExplainCommand(opts))
	cmd.AddCommand(newRunCommand(opts))
	return cmd
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR %s\n", err)
		os.Exit(-1)
	}
}
