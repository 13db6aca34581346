package cg

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/dianpeng/sql2vdbe/plan"
)

// ErrLimitExceeded marks a compilation aborted because the program needs
// more registers, cursors or result columns than the configuration allows.
var ErrLimitExceeded = errors.New("resource limit exceeded")

// Diag is the diagnostic sink of a compilation, it is owned by the arena so
// the planner and the code generator report into the same place.
type Diag = plan.Diag

type Config struct {
	Logger *slog.Logger

	// resource ceilings, zero means unlimited
	MaxRegisters int
	MaxCursors   int
	MaxColumns   int

	NoFlatten       bool
	NoPushdown      bool
	NoCoroutine     bool // FROM subqueries are always materialized
	NoMinMax        bool
	NoCountFastPath bool
}

func (self *Config) logger() *slog.Logger {
	if self.Logger == nil {
		return slog.Default()
	}
	return self.Logger
}
