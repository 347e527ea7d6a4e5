// Command picodb is the storage core's command-line front end. Subcommands
// are plain flag.FlagSet values dispatched on os.Args[1].
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mattn/go-colorable"

	"github.com/picodb/picodb"
)

const help = `picodb - embedded paged-database storage core

Usage:
  picodb init -dir <path> -page-size-kb <n> [-overwrite]
  picodb config get -dir <path>
  picodb fix|rebuild|move|upgrade|log ...
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(help)
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "init":
		err = runInit(os.Args[2:])
	case "config":
		err = runConfig(os.Args[2:])
	case "fix", "rebuild", "move", "upgrade", "log":
		fmt.Fprintf(os.Stderr, "picodb %s: not part of the storage core\n", os.Args[1])
		os.Exit(1)
	case "-h", "-help", "--help":
		fmt.Print(help)
		return
	default:
		fmt.Fprintf(os.Stderr, "picodb: unknown command %q\n", os.Args[1])
		fmt.Print(help)
		os.Exit(1)
	}

	if err != nil {
		fatal(err)
	}
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	dir := fs.String("dir", picodb.DefaultDir(), "database directory")
	pageSizeKB := fs.Int("page-size-kb", 4, "page size in KiB")
	overwrite := fs.Bool("overwrite", false, "overwrite an existing database directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := picodb.Create(*pageSizeKB, *dir, *overwrite); err != nil {
		return err
	}
	fmt.Printf("initialized %s (page size %d KiB)\n", *dir, *pageSizeKB)
	return nil
}

func runConfig(args []string) error {
	if len(args) == 0 || args[0] != "get" {
		return fmt.Errorf("usage: picodb config get -dir <path>")
	}
	fs := flag.NewFlagSet("config get", flag.ExitOnError)
	dir := fs.String("dir", picodb.DefaultDir(), "database directory")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	meta, err := picodb.GetMetadata(*dir)
	if err != nil {
		return err
	}
	fmt.Printf("page_size_bytes: %d\n", meta.PageSize)
	return nil
}

// fatal prints a red "Fatal Error: <message>" line to stderr and exits
// nonzero. colorable.NewColorableStderr keeps the ANSI SGR codes working
// on Windows consoles.
func fatal(err error) {
	out := colorable.NewColorableStderr()
	fmt.Fprintf(out, "\x1b[31mFatal Error: %s\x1b[0m\n", err.Error())
	os.Exit(1)
}
