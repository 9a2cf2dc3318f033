// arcvfs browses archives as read-only directory trees.
//
// Usage:
//
//	arcvfs [flags] ls      ARCHIVE [PATH]
//	arcvfs [flags] tree    ARCHIVE
//	arcvfs [flags] stat    ARCHIVE PATH
//	arcvfs [flags] cat     ARCHIVE PATH...
//	arcvfs [flags] extract ARCHIVE... (-C DIR)
//	arcvfs [flags] mount   ARCHIVE MOUNTPOINT
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"arcvfs/pkg/arcfs"
	"arcvfs/pkg/detect"
	"arcvfs/pkg/env"
	"arcvfs/pkg/initialization"
	"arcvfs/pkg/logger"
	"arcvfs/pkg/mount"
	"arcvfs/pkg/unpack"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

var version = "v0.1.0"

type flags struct {
	configPath string
	password   string
	logLevel   string
	tempDir    string
	noNested   bool
	sniff      bool
	failOnDup  bool
	destDir    string
	jobs       int
	allowOther bool
	fuseDebug  bool
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		initialization.ExitWithError(err)
	}
	logger.Close()
}

func run(argv []string) error {
	// Load environment variables for logger and bootstrap
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using environment variables")
	}
	logger.Init(env.LogLevel())

	var f flags
	flagSet := pflag.NewFlagSet("arcvfs", pflag.ContinueOnError)
	flagSet.StringVar(&f.configPath, "config", "", "path to config.json (default: $ARCVFS_CONFIG or the data directory)")
	flagSet.StringVarP(&f.password, "password", "p", "", "password for encrypted archives")
	flagSet.StringVar(&f.logLevel, "log-level", "", "DEBUG, INFO, WARN or ERROR")
	flagSet.StringVar(&f.tempDir, "temp-dir", "", "directory for spilled entries")
	flagSet.BoolVar(&f.noNested, "no-nested", false, "do not expose archives inside archives as directories")
	flagSet.BoolVar(&f.sniff, "sniff", false, "identify entries by content when their name is inconclusive")
	flagSet.BoolVar(&f.failOnDup, "strict", false, "fail when a path is both a file and a directory")
	flagSet.StringVarP(&f.destDir, "dir", "C", ".", "extract: destination directory")
	flagSet.IntVarP(&f.jobs, "jobs", "j", 4, "extract: archives processed in parallel")
	flagSet.BoolVar(&f.allowOther, "allow-other", false, "mount: allow other users to access the mount")
	flagSet.BoolVar(&f.fuseDebug, "fuse-debug", false, "mount: log every FUSE request")
	flagSet.Usage = func() { printHelp(flagSet) }

	if err := flagSet.Parse(argv); err != nil {
		return err
	}
	args := flagSet.Args()
	if len(args) == 0 {
		printHelp(flagSet)
		return pflag.ErrHelp
	}
	if args[0] == "version" {
		fmt.Println("arcvfs", version)
		return nil
	}

	comp, err := initialization.Bootstrap(f.configPath)
	if err != nil {
		return err
	}
	applyFlags(comp, flagSet, &f)

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "ls":
		return withArchive(comp, rest, 1, 2, func(a *arcfs.Archive, rest []string) error {
			dir := "."
			if len(rest) > 0 {
				dir = cleanArg(rest[0])
			}
			return list(os.Stdout, a, dir)
		})
	case "tree":
		return withArchive(comp, rest, 1, 1, func(a *arcfs.Archive, _ []string) error {
			return tree(os.Stdout, a)
		})
	case "stat":
		return withArchive(comp, rest, 2, 2, func(a *arcfs.Archive, rest []string) error {
			return stat(os.Stdout, a, cleanArg(rest[0]))
		})
	case "cat":
		return withArchive(comp, rest, 2, -1, func(a *arcfs.Archive, rest []string) error {
			for _, name := range rest {
				if err := cat(os.Stdout, a, cleanArg(name)); err != nil {
					return err
				}
			}
			return nil
		})
	case "extract":
		if len(rest) == 0 {
			return fmt.Errorf("extract: no archive given")
		}
		return extractAll(comp, rest, f.destDir, f.jobs)
	case "mount":
		return withArchive(comp, rest, 2, 2, func(a *arcfs.Archive, rest []string) error {
			return serve(a, rest[0], f.allowOther, f.fuseDebug)
		})
	}
	return fmt.Errorf("unknown command %q (try --help)", cmd)
}

// applyFlags lets explicit command-line flags win over config and
// environment.
func applyFlags(comp *initialization.InitializedComponents, set *pflag.FlagSet, f *flags) {
	cfg := comp.Config
	if set.Changed("log-level") {
		cfg.LogLevel = f.logLevel
		logger.SetLevel(f.logLevel)
	}
	if set.Changed("password") {
		cfg.Password = f.password
	}
	if set.Changed("temp-dir") {
		cfg.TempDir = f.tempDir
		if err := comp.Fs.MkdirAll(cfg.TempDir, 0o755); err != nil {
			logger.Warn("Cannot create temp dir", "path", cfg.TempDir, "err", err)
		}
	}
	if f.noNested {
		cfg.NestedArchives = false
	}
	if f.failOnDup {
		cfg.ConflictPolicy = "fail"
	}
	if f.sniff {
		cfg.SniffContent = true
		comp.Resolver = detect.New(detect.WithSniff(true))
	}
}

func withArchive(comp *initialization.InitializedComponents, args []string, minArgs, maxArgs int, fn func(*arcfs.Archive, []string) error) error {
	if len(args) < minArgs || (maxArgs >= 0 && len(args) > maxArgs) {
		return fmt.Errorf("wrong number of arguments (try --help)")
	}
	a, err := comp.OpenArchive(args[0])
	if err != nil {
		return err
	}
	defer a.Close()
	err = fn(a, args[1:])
	reportConflicts(a)
	return err
}

func reportConflicts(a *arcfs.Archive) {
	for _, c := range a.Conflicts() {
		logger.Warn("Entry skipped", "archive", a.Name(), "conflict", c.String())
	}
}

// cleanArg turns a user path into a tree path.
func cleanArg(p string) string {
	p = strings.Trim(path.Clean("/"+filepath.ToSlash(p)), "/")
	if p == "" {
		return "."
	}
	return p
}

func list(w io.Writer, a *arcfs.Archive, dir string) error {
	nodes, err := a.Entries(dir)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	for _, n := range nodes {
		name := n.Name()
		if n.IsDir() {
			name += "/"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t %s\n", n.Mode(), n.Size(), n.ModTime().Format("2006-01-02 15:04"), name)
	}
	return tw.Flush()
}

func tree(w io.Writer, a *arcfs.Archive) error {
	fmt.Fprintln(w, path.Base(a.Name()))
	return treeDir(w, a, ".", "")
}

func treeDir(w io.Writer, a *arcfs.Archive, dir, indent string) error {
	nodes, err := a.Entries(dir)
	if err != nil {
		fmt.Fprintf(w, "%s[error: %v]\n", indent, err)
		return nil
	}
	for i, n := range nodes {
		branch, next := "├── ", "│   "
		if i == len(nodes)-1 {
			branch, next = "└── ", "    "
		}
		fmt.Fprintf(w, "%s%s%s\n", indent, branch, n.Name())
		if n.IsDir() {
			child := n.Name()
			if dir != "." {
				child = dir + "/" + child
			}
			if err := treeDir(w, a, child, indent+next); err != nil {
				return err
			}
		}
	}
	return nil
}

func stat(w io.Writer, a *arcfs.Archive, name string) error {
	info, err := a.Stat(name)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Name:     %s\n", name)
	fmt.Fprintf(w, "Size:     %d\n", info.Size())
	fmt.Fprintf(w, "Mode:     %s\n", info.Mode())
	fmt.Fprintf(w, "Modified: %s\n", info.ModTime())
	if f, ok := info.(*arcfs.File); ok {
		if !f.Created().IsZero() {
			fmt.Fprintf(w, "Created:  %s\n", f.Created())
		}
		if !f.Accessed().IsZero() {
			fmt.Fprintf(w, "Accessed: %s\n", f.Accessed())
		}
		if ct := f.ContentType(); ct != "" {
			fmt.Fprintf(w, "Type:     %s\n", ct)
		}
		if nested := f.Nested(); nested != nil {
			fmt.Fprintf(w, "Archive:  %s\n", nested.Backend())
		}
	}
	return nil
}

func cat(w io.Writer, a *arcfs.Archive, name string) error {
	s, err := a.OpenEntry(name)
	if err != nil {
		return err
	}
	defer s.Close()
	_, err = io.Copy(w, s)
	return err
}

// extractAll unpacks every archive. With more than one archive each gets
// its own subdirectory of dest.
func extractAll(comp *initialization.InitializedComponents, archives []string, dest string, jobs int) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eg, ctx := errgroup.WithContext(ctx)
	if jobs < 1 {
		jobs = 1
	}
	eg.SetLimit(jobs)
	for _, name := range archives {
		target := dest
		if len(archives) > 1 {
			target = filepath.Join(dest, strings.TrimSuffix(unpack.StripCompressionExt(filepath.Base(name)), ".tar"))
		}
		eg.Go(func() error {
			a, err := comp.OpenArchive(name)
			if err != nil {
				return err
			}
			defer a.Close()
			n, err := extract(ctx, a, target)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			logger.Info("Extracted", "archive", name, "files", n, "dest", target)
			return nil
		})
	}
	return eg.Wait()
}

// extract writes every leaf of a below dest. Entry paths are already
// normalised, but each target is checked to stay inside dest anyway.
func extract(ctx context.Context, a *arcfs.Archive, dest string) (int, error) {
	root, err := filepath.Abs(dest)
	if err != nil {
		return 0, err
	}
	count := 0
	err = a.Scan(ctx, func(hdr *arcfs.Header, r io.Reader) error {
		target := filepath.Join(root, filepath.FromSlash(hdr.Path))
		if !strings.HasPrefix(target, root+string(filepath.Separator)) {
			logger.Warn("Skipping entry outside destination", "path", hdr.Path)
			return nil
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		perm := hdr.Mode.Perm()
		if perm == 0 {
			perm = 0o644
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0o200)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, r); err != nil {
			out.Close()
			return err
		}
		if err := out.Close(); err != nil {
			return err
		}
		if !hdr.Modified.IsZero() {
			if err := os.Chtimes(target, hdr.Modified, hdr.Modified); err != nil {
				logger.Debug("Cannot set modification time", "path", target, "err", err)
			}
		}
		count++
		return nil
	})
	return count, err
}

func serve(a *arcfs.Archive, mountpoint string, allowOther, debug bool) error {
	if _, err := a.Root(); err != nil {
		return err
	}
	server, err := mount.Mount(mount.Options{
		Mountpoint: mountpoint,
		Archive:    a,
		AllowOther: allowOther,
		Debug:      debug,
	})
	if err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("Unmounting", "mountpoint", mountpoint)
		if err := server.Unmount(); err != nil {
			logger.Error("Unmount failed", "err", err)
		}
	}()
	server.Wait()
	return nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `arcvfs exposes zip, tar, 7z and rar archives as read-only directory trees.

Usage:
  arcvfs [flags] ls      ARCHIVE [PATH]        list a directory
  arcvfs [flags] tree    ARCHIVE               print the whole tree
  arcvfs [flags] stat    ARCHIVE PATH          show entry metadata
  arcvfs [flags] cat     ARCHIVE PATH...       write entries to stdout
  arcvfs [flags] extract ARCHIVE... [-C DIR]   unpack archives
  arcvfs [flags] mount   ARCHIVE MOUNTPOINT    serve the tree through FUSE
  arcvfs version

Archives inside archives appear as directories, so paths such as
"release.tar.gz/docs.zip/README" work with every command.

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
