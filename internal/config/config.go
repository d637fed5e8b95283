// Package config holds the runtime configuration: the typed option
// values themselves, the name-keyed option registry exposed through the
// control file's xattr surface, and the control-file constants.
package config

import (
	"fmt"

	"github.com/smallblue2/mergerfs-go/internal/inode"
)

// Version is reported through the read-only "version" option.
const Version = "1.0.0"

// StatFSMode selects what path each branch is statvfs'd at.
type StatFSMode int

const (
	// StatFSBase stats the branch root.
	StatFSBase StatFSMode = iota
	// StatFSFull stats the branch-qualified full path.
	StatFSFull
)

func (m StatFSMode) String() string {
	if m == StatFSFull {
		return "full"
	}
	return "base"
}

func ParseStatFSMode(s string) (StatFSMode, error) {
	switch s {
	case "base":
		return StatFSBase, nil
	case "full":
		return StatFSFull, nil
	default:
		return 0, fmt.Errorf("config: invalid statfs mode %q", s)
	}
}

// StatFSIgnore filters branches out of the "available" statfs totals.
type StatFSIgnore int

const (
	StatFSIgnoreNone StatFSIgnore = iota
	StatFSIgnoreRO
	StatFSIgnoreNC
)

func (i StatFSIgnore) String() string {
	switch i {
	case StatFSIgnoreRO:
		return "ro"
	case StatFSIgnoreNC:
		return "nc"
	default:
		return "none"
	}
}

func ParseStatFSIgnore(s string) (StatFSIgnore, error) {
	switch s {
	case "none":
		return StatFSIgnoreNone, nil
	case "ro":
		return StatFSIgnoreRO, nil
	case "nc":
		return StatFSIgnoreNC, nil
	default:
		return 0, fmt.Errorf("config: invalid statfs ignore %q", s)
	}
}

// RenameEXDEV selects what happens when a rename would cross devices.
type RenameEXDEV int

const (
	// RenameEXDEVPassthrough surfaces EXDEV to the caller.
	RenameEXDEVPassthrough RenameEXDEV = iota
	// RenameEXDEVRelSymlink replaces the destination with a relative
	// symlink back to the source.
	RenameEXDEVRelSymlink
	// RenameEXDEVAbsSymlink replaces the destination with an absolute
	// symlink to the source's branch-qualified path.
	RenameEXDEVAbsSymlink
)

func (r RenameEXDEV) String() string {
	switch r {
	case RenameEXDEVRelSymlink:
		return "rel-symlink"
	case RenameEXDEVAbsSymlink:
		return "abs-symlink"
	default:
		return "passthrough"
	}
}

func ParseRenameEXDEV(s string) (RenameEXDEV, error) {
	switch s {
	case "passthrough":
		return RenameEXDEVPassthrough, nil
	case "rel-symlink":
		return RenameEXDEVRelSymlink, nil
	case "abs-symlink":
		return RenameEXDEVAbsSymlink, nil
	default:
		return 0, fmt.Errorf("config: invalid rename-exdev mode %q", s)
	}
}

// CacheFiles enumerates the page-cache strategies. "off" forces direct
// I/O on every open; "full", "auto-full" and "per-process" keep the
// kernel page cache across opens; "libfuse" and "partial" leave the
// per-open flags at their defaults.
type CacheFiles int

const (
	CacheFilesLibfuse CacheFiles = iota
	CacheFilesOff
	CacheFilesPartial
	CacheFilesFull
	CacheFilesAutoFull
	CacheFilesPerProcess
)

func (c CacheFiles) String() string {
	switch c {
	case CacheFilesOff:
		return "off"
	case CacheFilesPartial:
		return "partial"
	case CacheFilesFull:
		return "full"
	case CacheFilesAutoFull:
		return "auto-full"
	case CacheFilesPerProcess:
		return "per-process"
	default:
		return "libfuse"
	}
}

func ParseCacheFiles(s string) (CacheFiles, error) {
	switch s {
	case "libfuse":
		return CacheFilesLibfuse, nil
	case "off":
		return CacheFilesOff, nil
	case "partial":
		return CacheFilesPartial, nil
	case "full":
		return CacheFilesFull, nil
	case "auto-full":
		return CacheFilesAutoFull, nil
	case "per-process":
		return CacheFilesPerProcess, nil
	default:
		return 0, fmt.Errorf("config: invalid cache.files value %q", s)
	}
}

// MoveOnENOSPC configures the transparent relocation on a full branch.
type MoveOnENOSPC struct {
	Enabled bool
	// PolicyName is the create policy used to pick the relocation
	// target; resolved against the policy registry at move time.
	PolicyName string
}

// Config is the full runtime option set. Readers snapshot it (by value)
// under the manager's read lock rather than holding the lock across
// I/O.
type Config struct {
	StatFSMode   StatFSMode
	StatFSIgnore StatFSIgnore

	FuncCreate string
	FuncSearch string
	FuncAction string

	InodeCalc inode.Calc

	RenameEXDEV                  RenameEXDEV
	IgnorePathPreservingOnRename bool

	MoveOnENOSPC MoveOnENOSPC

	CacheFiles           CacheFiles
	DirectIOAllowMmap    bool
	ParallelDirectWrites bool
}

// Default returns the option values a fresh mount starts with.
func Default() Config {
	return Config{
		StatFSMode:   StatFSBase,
		StatFSIgnore: StatFSIgnoreNone,
		FuncCreate:   "ff",
		FuncSearch:   "ff",
		FuncAction:   "all",
		InodeCalc:    inode.DefaultCalc,
		RenameEXDEV:  RenameEXDEVPassthrough,
		MoveOnENOSPC: MoveOnENOSPC{Enabled: true, PolicyName: "pfrd"},
		CacheFiles:   CacheFilesLibfuse,
	}
}

// ShouldUseDirectIO reports whether opens should force direct I/O.
func (c *Config) ShouldUseDirectIO() bool {
	return c.CacheFiles == CacheFilesOff
}

// ShouldEnableKernelCache reports whether the kernel page cache should
// be kept across opens.
func (c *Config) ShouldEnableKernelCache() bool {
	switch c.CacheFiles {
	case CacheFilesFull, CacheFilesAutoFull, CacheFilesPerProcess:
		return true
	default:
		return false
	}
}

func parseBool(s string) (bool, error) {
	switch s {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("config: invalid boolean %q", s)
	}
}
