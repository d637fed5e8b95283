package branch

import (
	"errors"

	"golang.org/x/sys/unix"
)

// PolicyError is the closed set of failures a branch-selection policy
// can report, grounded on original_source/src/branch.rs's PolicyError
// enum but carrying the extra kinds later policies in this tree need.
type PolicyError struct {
	Kind PolicyErrorKind
	// Err, when set, is the underlying syscall error that produced
	// Kind (used for logging; Errno() always derives from Kind).
	Err error
}

// PolicyErrorKind enumerates the canonical failure categories.
type PolicyErrorKind int

const (
	NoBranchesAvailable PolicyErrorKind = iota
	ReadOnlyFilesystem
	PathNotFound
	NoSpace
	IoError
)

func (k PolicyErrorKind) String() string {
	switch k {
	case NoBranchesAvailable:
		return "no branches available"
	case ReadOnlyFilesystem:
		return "read-only filesystem"
	case PathNotFound:
		return "path not found"
	case NoSpace:
		return "no space left on device"
	case IoError:
		return "i/o error"
	default:
		return "unknown policy error"
	}
}

func (e *PolicyError) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Err.Error()
	}
	return e.Kind.String()
}

func (e *PolicyError) Unwrap() error { return e.Err }

// Errno maps a PolicyError to the errno go-fuse expects back at the
// kernel boundary.
func (e *PolicyError) Errno() unix.Errno {
	switch e.Kind {
	case NoBranchesAvailable:
		return unix.ENOENT
	case ReadOnlyFilesystem:
		return unix.EROFS
	case PathNotFound:
		return unix.ENOENT
	case NoSpace:
		return unix.ENOSPC
	case IoError:
		return unix.EIO
	default:
		return unix.EIO
	}
}

func NewPolicyError(kind PolicyErrorKind, err error) *PolicyError {
	return &PolicyError{Kind: kind, Err: err}
}

// priority ranks kinds for multi-branch reduction: IoError > ReadOnly >
// NoSpace > PathNotFound, per spec.md §3/§4.1.
var priority = map[PolicyErrorKind]int{
	PathNotFound:        1,
	NoSpace:             2,
	ReadOnlyFilesystem:  3,
	IoError:             4,
	NoBranchesAvailable: 0,
}

// Worse reports whether a is a higher-priority (more informative)
// failure than b, for reducing a slice of per-branch errors to one.
func Worse(a, b *PolicyError) bool {
	return priority[a.Kind] > priority[b.Kind]
}

// Reduce folds a slice of per-branch errors into the single
// highest-priority one, or nil if errs is empty.
func Reduce(errs []*PolicyError) *PolicyError {
	var worst *PolicyError
	for _, e := range errs {
		if e == nil {
			continue
		}
		if worst == nil || Worse(e, worst) {
			worst = e
		}
	}
	return worst
}

// FromErrno classifies a raw syscall errno into a PolicyError, the way
// per-branch operations report failure up to the reduction step.
func FromErrno(err error) *PolicyError {
	if err == nil {
		return nil
	}
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return NewPolicyError(IoError, err)
	}
	switch errno {
	case unix.ENOENT:
		return NewPolicyError(PathNotFound, err)
	case unix.EROFS, unix.EACCES, unix.EPERM:
		return NewPolicyError(ReadOnlyFilesystem, err)
	case unix.ENOSPC, unix.EDQUOT:
		return NewPolicyError(NoSpace, err)
	default:
		return NewPolicyError(IoError, err)
	}
}
