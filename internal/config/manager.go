package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/smallblue2/mergerfs-go/internal/inode"
	"github.com/smallblue2/mergerfs-go/internal/policy"
)

// XattrPrefix is the namespace every option is exposed under.
const XattrPrefix = "user.mergerfs."

// The closed error set the option surface reduces to; each maps to the
// errno the control file's setxattr reports.
var (
	ErrUnknownOption = errors.New("config: option not found")
	ErrInvalidValue  = errors.New("config: invalid value")
	ErrReadOnly      = errors.New("config: read-only option")
	ErrNotSupported  = errors.New("config: operation not supported")
)

// Errno maps an option-surface error to its xattr errno.
func Errno(err error) unix.Errno {
	switch {
	case errors.Is(err, ErrUnknownOption):
		return unix.ENODATA // ENOATTR
	case errors.Is(err, ErrInvalidValue):
		return unix.EINVAL
	case errors.Is(err, ErrReadOnly):
		return unix.EROFS
	case errors.Is(err, ErrNotSupported):
		return unix.ENOTSUP
	default:
		return unix.EINVAL
	}
}

// Option is one runtime-tunable knob. A nil set marks it read-only.
type Option struct {
	Name string
	Get  func() string
	Set  func(string) error
}

// Manager owns the live Config and the option registry the control
// file's xattr surface manipulates. All access goes through the one
// read/write lock; readers take value snapshots.
type Manager struct {
	mu      sync.RWMutex
	cfg     Config
	options map[string]*Option
}

// NewManager builds a Manager around cfg with every built-in option
// registered. Policy-name options are validated against reg.
func NewManager(cfg Config, reg *policy.Registry) *Manager {
	m := &Manager{cfg: cfg, options: make(map[string]*Option)}

	m.register(&Option{
		Name: "func.create",
		Get:  func() string { return m.Snapshot().FuncCreate },
		Set: func(v string) error {
			if _, ok := reg.Create(v); !ok {
				return fmt.Errorf("%w: unknown create policy %q", ErrInvalidValue, v)
			}
			m.mutate(func(c *Config) { c.FuncCreate = v })
			return nil
		},
	})
	m.register(&Option{
		Name: "func.search",
		Get:  func() string { return m.Snapshot().FuncSearch },
		Set: func(v string) error {
			if _, ok := reg.Search(v); !ok {
				return fmt.Errorf("%w: unknown search policy %q", ErrInvalidValue, v)
			}
			m.mutate(func(c *Config) { c.FuncSearch = v })
			return nil
		},
	})
	m.register(&Option{
		Name: "func.action",
		Get:  func() string { return m.Snapshot().FuncAction },
		Set: func(v string) error {
			if _, ok := reg.Action(v); !ok {
				return fmt.Errorf("%w: unknown action policy %q", ErrInvalidValue, v)
			}
			m.mutate(func(c *Config) { c.FuncAction = v })
			return nil
		},
	})
	m.register(&Option{
		Name: "inodecalc",
		Get:  func() string { return m.Snapshot().InodeCalc.String() },
		Set: func(v string) error {
			calc, err := inode.ParseCalc(v)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidValue, err)
			}
			m.mutate(func(c *Config) { c.InodeCalc = calc })
			return nil
		},
	})
	m.register(&Option{
		Name: "statfs",
		Get:  func() string { return m.Snapshot().StatFSMode.String() },
		Set: func(v string) error {
			mode, err := ParseStatFSMode(v)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidValue, err)
			}
			m.mutate(func(c *Config) { c.StatFSMode = mode })
			return nil
		},
	})
	m.register(&Option{
		Name: "statfs_ignore",
		Get:  func() string { return m.Snapshot().StatFSIgnore.String() },
		Set: func(v string) error {
			ign, err := ParseStatFSIgnore(v)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidValue, err)
			}
			m.mutate(func(c *Config) { c.StatFSIgnore = ign })
			return nil
		},
	})
	m.register(&Option{
		Name: "rename_exdev",
		Get:  func() string { return m.Snapshot().RenameEXDEV.String() },
		Set: func(v string) error {
			mode, err := ParseRenameEXDEV(v)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidValue, err)
			}
			m.mutate(func(c *Config) { c.RenameEXDEV = mode })
			return nil
		},
	})
	m.register(&Option{
		Name: "ignorepponrename",
		Get:  func() string { return strconv.FormatBool(m.Snapshot().IgnorePathPreservingOnRename) },
		Set: func(v string) error {
			b, err := parseBool(v)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidValue, err)
			}
			m.mutate(func(c *Config) { c.IgnorePathPreservingOnRename = b })
			return nil
		},
	})
	m.register(&Option{
		Name: "moveonenospc",
		Get: func() string {
			s := m.Snapshot().MoveOnENOSPC
			if !s.Enabled {
				return "false"
			}
			return s.PolicyName
		},
		Set: func(v string) error {
			// Accepts a boolean or a create-policy name, like the
			// upstream option: "true" keeps the current policy.
			if b, err := parseBool(v); err == nil {
				m.mutate(func(c *Config) { c.MoveOnENOSPC.Enabled = b })
				return nil
			}
			if _, ok := reg.Create(v); !ok {
				return fmt.Errorf("%w: unknown relocation policy %q", ErrInvalidValue, v)
			}
			m.mutate(func(c *Config) {
				c.MoveOnENOSPC.Enabled = true
				c.MoveOnENOSPC.PolicyName = v
			})
			return nil
		},
	})
	m.register(&Option{
		Name: "cache.files",
		Get:  func() string { return m.Snapshot().CacheFiles.String() },
		Set: func(v string) error {
			cf, err := ParseCacheFiles(v)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidValue, err)
			}
			m.mutate(func(c *Config) { c.CacheFiles = cf })
			return nil
		},
	})
	m.register(&Option{
		Name: "direct_io_allow_mmap",
		Get:  func() string { return strconv.FormatBool(m.Snapshot().DirectIOAllowMmap) },
		Set: func(v string) error {
			b, err := parseBool(v)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidValue, err)
			}
			m.mutate(func(c *Config) { c.DirectIOAllowMmap = b })
			return nil
		},
	})
	m.register(&Option{
		Name: "parallel_direct_writes",
		Get:  func() string { return strconv.FormatBool(m.Snapshot().ParallelDirectWrites) },
		Set: func(v string) error {
			b, err := parseBool(v)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidValue, err)
			}
			m.mutate(func(c *Config) { c.ParallelDirectWrites = b })
			return nil
		},
	})

	// Read-only options.
	m.register(&Option{
		Name: "version",
		Get:  func() string { return Version },
	})
	pid := strconv.Itoa(os.Getpid())
	m.register(&Option{
		Name: "pid",
		Get:  func() string { return pid },
	})

	return m
}

func (m *Manager) register(o *Option) {
	m.options[o.Name] = o
}

// Snapshot returns the current Config by value, so callers never hold
// the lock across blocking I/O.
func (m *Manager) Snapshot() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) mutate(f func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f(&m.cfg)
}

// GetOption returns the current value of an option, with or without the
// user.mergerfs. prefix.
func (m *Manager) GetOption(name string) (string, error) {
	name = strings.TrimPrefix(name, XattrPrefix)
	o, ok := m.options[name]
	if !ok {
		return "", ErrUnknownOption
	}
	return o.Get(), nil
}

// SetOption mutates an option, rejecting read-only ones.
func (m *Manager) SetOption(name, value string) error {
	name = strings.TrimPrefix(name, XattrPrefix)
	o, ok := m.options[name]
	if !ok {
		return ErrUnknownOption
	}
	if o.Set == nil {
		return ErrReadOnly
	}
	log.Printf("Control file: setting option %v to %v\n", name, value)
	return o.Set(value)
}

// ListOptions enumerates every registered option, prefixed and sorted.
func (m *Manager) ListOptions() []string {
	out := make([]string, 0, len(m.options))
	for name := range m.options {
		out = append(out, XattrPrefix+name)
	}
	sort.Strings(out)
	return out
}
