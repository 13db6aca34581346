package plan

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
)

// Diag collects semantic diagnostics. Compilation may go on after an error
// is recorded, the final result is discarded if Errors() is not zero.
type Diag struct {
	msgs []string
	errs []error
	nerr int
}

func (self *Diag) Errorf(stage string, f string, args ...interface{}) {
	msg := fmt.Sprintf(f, args...)
	self.errs = append(self.errs, errors.Newf("stage(%s): %s", redact.Safe(stage), msg))
	self.msgs = append(self.msgs, msg)
	self.nerr++
}

func (self *Diag) Errors() int {
	if self == nil {
		return 0
	}
	return self.nerr
}

func (self *Diag) Messages() []string {
	if self == nil {
		return nil
	}
	return self.msgs
}

// Err folds every recorded error into one, the first error is the cause
func (self *Diag) Err() error {
	if self.Errors() == 0 {
		return nil
	}
	err := self.errs[0]
	if self.nerr > 1 {
		err = errors.WithHintf(err, "%d errors in total", self.nerr)
	}
	return err
}

func planErr(stage string, f string, args ...interface{}) error {
	msg := fmt.Sprintf(f, args...)
	return errors.Newf("stage(%s): %s", redact.Safe(stage), msg)
}
