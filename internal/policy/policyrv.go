package policy

import "github.com/smallblue2/mergerfs-go/internal/branch"

// RV is the result of applying an operation to one branch in a
// fan-out action, grounded on original_source/src/xattr/mod.rs's
// PolicyRV{successes, errors}.
type RV struct {
	Successes int
	Failures  []*branch.PolicyError
}

// AddSuccess records one branch that completed the operation.
func (rv *RV) AddSuccess() { rv.Successes++ }

// AddError records one branch that failed.
func (rv *RV) AddError(err *branch.PolicyError) {
	rv.Failures = append(rv.Failures, err)
}

// AllFailed reports whether every branch attempted failed.
func (rv *RV) AllFailed() bool { return rv.Successes == 0 && len(rv.Failures) > 0 }

// AllSucceeded reports whether every branch attempted succeeded.
func (rv *RV) AllSucceeded() bool { return len(rv.Failures) == 0 && rv.Successes > 0 }

// FirstError returns the first recorded failure, or nil if there were
// none.
func (rv *RV) FirstError() *branch.PolicyError {
	for _, e := range rv.Failures {
		if e != nil {
			return e
		}
	}
	return nil
}
