package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/livefir/talisman/cmd/talisman/commands"
	"github.com/livefir/talisman/cmd/talisman/internal/ui"
)

// Version information (can be overridden at build time with -ldflags)
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	var err error

	switch command {
	case "render":
		err = commands.Render(args)
	case "parse":
		err = commands.Parse(args)
	case "serve":
		err = commands.Serve(args)
	case "demo":
		err = commands.Demo(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.Error("Error:"), err)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("talisman version %s\n", version)

	if info, ok := debug.ReadBuildInfo(); ok {
		revision := commit
		if revision == "unknown" {
			for _, setting := range info.Settings {
				if setting.Key == "vcs.revision" {
					revision = setting.Value
				}
			}
		}
		if len(revision) > 12 {
			revision = revision[:12]
		}
		fmt.Printf("commit: %s\n", revision)
		fmt.Printf("go: %s\n", info.GoVersion)
	}
}

func printUsage() {
	fmt.Println("talisman - streaming HTML templates")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  talisman render [options] <template-file>   Render a template to stdout")
	fmt.Println("  talisman parse <template-file>              Validate a template and show its blocks and tags")
	fmt.Println("  talisman serve [options] [directory]        Stream a directory of templates over HTTP")
	fmt.Println("  talisman demo [options]                     Run the streaming dashboard demo")
	fmt.Println("  talisman version                            Show version information")
	fmt.Println()
	fmt.Println("Render Options:")
	fmt.Println("  -data <file.yaml>    Bind the top-level keys of a YAML file")
	fmt.Println("  -load <fragment>     Load a fragment as a block named after the file (repeatable)")
	fmt.Println("  -show <block>        Render a block even when nothing is bound to it (repeatable)")
	fmt.Println()
	fmt.Println("Common Options:")
	fmt.Println("  -config <file.yaml>  Engine configuration (lookahead, chunk_size, minify, ...)")
	fmt.Println("  -debug               Annotate failed values with HTML comments")
	fmt.Println("  -log-level <level>   debug, info, warn or error")
	fmt.Println("  -log-format <format> text or json")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  talisman render -data page.yaml page.html")
	fmt.Println("  talisman serve -addr :3000 ./site")
	fmt.Println("  talisman demo -members 50 -delay 250ms")
}
