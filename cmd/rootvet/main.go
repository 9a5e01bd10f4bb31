// Command rootvet checks GC rooting and safepoint discipline over recorded
// execution traces.
//
// Usage:
//
//	rootvet [-config file] [-verify] [-v] trace.txt...
//
// Each argument is a txtar archive of trace files. Findings print one per
// line, and the exit status is 1 when any finding (or, with -verify, any
// mismatch against the archive's want comments) is present.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/rootvet/rootvet"
	"github.com/rootvet/rootvet/internal/hostsim"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("rootvet", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "policy file overriding the built-in defaults")
	verify := fs.Bool("verify", false, "check findings against want comments instead of printing them")
	verbose := fs.Bool("v", false, "log rule decisions and print path traces")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(stderr, "usage: rootvet [-config file] [-verify] [-v] trace.txt...")
		return 2
	}

	cfg := rootvet.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = rootvet.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintln(stderr, "rootvet:", err)
			return 2
		}
	}

	logger := log.NewNopLogger()
	if *verbose {
		logger = level.NewFilter(log.NewLogfmtLogger(log.NewSyncWriter(stderr)), level.AllowDebug())
	}

	status := 0
	for _, name := range fs.Args() {
		data, err := os.ReadFile(name)
		if err != nil {
			fmt.Fprintln(stderr, "rootvet:", err)
			return 2
		}
		checker, err := rootvet.New(cfg, rootvet.WithLogger(logger))
		if err != nil {
			fmt.Fprintln(stderr, "rootvet:", err)
			return 2
		}
		script, findings, err := hostsim.RunArchive(checker, data)
		if err != nil {
			fmt.Fprintf(stderr, "rootvet: %s: %v\n", name, err)
			return 2
		}
		if *verify {
			for _, problem := range hostsim.Verify(script, findings) {
				fmt.Fprintln(stdout, problem)
				status = 1
			}
			continue
		}
		for _, f := range findings {
			fmt.Fprintf(stdout, "%s: %s\n", f.Span, f.Message)
			for _, note := range f.Notes {
				fmt.Fprintf(stdout, "\t%s\n", note)
			}
			if *verbose {
				for _, line := range f.Trace {
					fmt.Fprintf(stdout, "\t%s\n", line)
				}
			}
			status = 1
		}
	}
	return status
}
