// Command habautobuild is the driver binary wiring the core packages
// (scan, depgraph, cache, change, schedule, studio, audit) into the CLI
// surface named in spec.md §6: build, check, changes, analyze. Grounded
// on cmd/distri/distri.go's verb-map dispatch and
// cmd/autobuilder/autobuilder.go's xerrors-wrapped top-level error
// handling.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
)

var configPath = flag.String("config-path", "", "path to the JSON repo configuration file")

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "habautobuild:", err)
	os.Exit(1)
}

func main() {
	flag.Parse()
	if *configPath == "" {
		fatal(fmt.Errorf("-config-path is required"))
	}

	verbs := map[string]func(ctx context.Context, cfg *config, args []string) error{
		"build":   cmdBuild,
		"check":   cmdCheck,
		"changes": cmdChanges,
		"analyze": cmdAnalyze,
	}

	args := flag.Args()
	verb := "build"
	if len(args) > 0 {
		verb = args[0]
		args = args[1:]
	}
	fn, ok := verbs[verb]
	if !ok {
		fatal(fmt.Errorf("unknown verb %q (want one of build, check, changes, analyze)", verb))
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}

	log.SetFlags(log.LstdFlags)
	if err := fn(context.Background(), cfg, args); err != nil {
		fatal(err)
	}
}
