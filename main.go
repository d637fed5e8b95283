package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"

	"github.com/smallblue2/mergerfs-go/internal/branch"
	"github.com/smallblue2/mergerfs-go/internal/config"
	"github.com/smallblue2/mergerfs-go/internal/core"
	"github.com/smallblue2/mergerfs-go/internal/fusebridge"
)

func main() {
	log.Println("Starting mergerfs-go")
	log.SetFlags(log.Lmicroseconds)
	debug := flag.Bool("debug", false, "enter debug mode")
	options := flag.String("o", "", "comma-separated k=v mount options (func.create=mfs,cache.files=off,...)")

	flag.Parse()
	if flag.NArg() < 2 {
		fmt.Printf("usage: %s [-o k=v,...] <mountpoint> <branch1> [<branch2> ...]\n", path.Base(os.Args[0]))
		fmt.Printf("\nbranches may carry a mode suffix: /path=RW (default), /path=RO, /path=NC\n")
		fmt.Printf("\noptions:\n")
		flag.PrintDefaults()
		os.Exit(2)
	}

	branches, err := parseBranches(flag.Args()[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	c := core.New(branches, config.Default())
	if err := applyOptions(c, *options); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fsOptions := &fs.Options{}
	fsOptions.Debug = *debug
	fsOptions.AllowOther = true
	sec := time.Duration(0) // attribute caching would mask branch-side changes
	fsOptions.EntryTimeout = &sec
	fsOptions.AttrTimeout = &sec
	fsOptions.NullPermissions = true
	fsOptions.MountOptions.Options = append(fsOptions.MountOptions.Options, "fsname=mergerfs-go")

	root := fusebridge.NewRoot(c)

	server, err := fs.Mount(flag.Arg(0), root, fsOptions)
	if err != nil {
		log.Fatalf("Mount Failed!!: %v\n", err)
	}

	log.Println("=========================================================")
	log.Printf("Mounted %v over %v branches\n", flag.Arg(0), len(branches))
	for i, b := range branches {
		log.Printf("  branch %v: %v (%v)\n", i, b.Path, b.Mode)
	}
	log.Printf("DEBUG: %v", *debug)
	log.Println("=========================================================")

	server.Wait()
}

// parseBranches resolves each positional branch argument, honoring the
// =RW/=RO/=NC mode suffix. Branch directories must preexist.
func parseBranches(args []string) ([]*branch.Branch, error) {
	branches := make([]*branch.Branch, 0, len(args))
	for _, arg := range args {
		mode := branch.ReadWrite
		p := arg
		if idx := strings.LastIndex(arg, "="); idx > 0 {
			parsed, err := branch.ParseMode(arg[idx+1:])
			if err != nil {
				return nil, fmt.Errorf("branch %q: %v", arg, err)
			}
			mode = parsed
			p = arg[:idx]
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("branch %q: %v", arg, err)
		}
		st, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("branch %q: %v", arg, err)
		}
		if !st.IsDir() {
			return nil, fmt.Errorf("branch %q: not a directory", arg)
		}
		branches = append(branches, branch.New(abs, mode))
	}
	return branches, nil
}

// applyOptions feeds -o key=value pairs through the same option
// registry the control file mutates at runtime.
func applyOptions(c *core.Core, opts string) error {
	if opts == "" {
		return nil
	}
	for _, kv := range strings.Split(opts, ",") {
		key, value, found := strings.Cut(kv, "=")
		if !found {
			return fmt.Errorf("option %q: expected key=value", kv)
		}
		if err := c.Config.SetOption(key, value); err != nil {
			return fmt.Errorf("option %q: %v", kv, err)
		}
	}
	return nil
}
