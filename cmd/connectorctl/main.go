// Command connectorctl lists and manages the connectors a deployment
// knows about: list | register | enable | disable | test.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/antigravity-dev/djpcore/internal/connector"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	reg := bootstrapRegistry()

	switch os.Args[1] {
	case "list":
		runList(reg, os.Args[2:])
	case "register":
		runRegister(reg, os.Args[2:])
	case "enable":
		runSetEnabled(reg, os.Args[2:], true)
	case "disable":
		runSetEnabled(reg, os.Args[2:], false)
	case "test":
		runTest(reg, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: connectorctl <list|register|enable|disable|test> [--user=NAME] [--tenant=ID] [--json]")
}

// bootstrapRegistry seeds the registry with Fake connectors for the
// sources the NL planner recognises; a real deployment would register
// its live Connector implementations here instead.
func bootstrapRegistry() *connector.Registry {
	reg := connector.NewRegistry()
	for _, source := range []string{"gmail", "slack", "teams", "outlook", "notion"} {
		reg.Register(source, connector.NewFake(source))
	}
	return reg
}

func runList(reg *connector.Registry, args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "emit JSON")
	fs.String("user", "", "acting user (ignored; not required for reads)")
	fs.String("tenant", "", "tenant id (ignored; not required for reads)")
	fs.Parse(args)

	for _, r := range reg.List() {
		if *jsonOut {
			fmt.Printf("{\"source\":%q,\"enabled\":%v}\n", r.Source, r.Enabled)
			continue
		}
		fmt.Printf("%-12s enabled=%v\n", r.Source, r.Enabled)
	}
}

func runRegister(reg *connector.Registry, args []string) {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	source := fs.String("source", "", "connector source name")
	user := fs.String("user", "", "acting user")
	fs.Parse(args)

	requireUser("register", *user)
	if *source == "" {
		fmt.Fprintln(os.Stderr, "connectorctl register: --source is required")
		os.Exit(1)
	}
	reg.Register(*source, connector.NewFake(*source))
	fmt.Printf("registered %s\n", *source)
}

// requireUser gates mutating subcommands: changing the connector set is an
// administrative action, so an anonymous caller is denied rather than
// treated as a usage error.
func requireUser(sub, user string) {
	if user == "" {
		fmt.Fprintf(os.Stderr, "connectorctl %s: denied: --user is required\n", sub)
		os.Exit(2)
	}
}

func runSetEnabled(reg *connector.Registry, args []string, enabled bool) {
	fs := flag.NewFlagSet("enable", flag.ExitOnError)
	source := fs.String("source", "", "connector source name")
	user := fs.String("user", "", "acting user")
	fs.Parse(args)

	sub := "enable"
	if !enabled {
		sub = "disable"
	}
	requireUser(sub, *user)
	if err := reg.SetEnabled(*source, enabled); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("%s: enabled=%v\n", *source, enabled)
}

func runTest(reg *connector.Registry, args []string) {
	fs := flag.NewFlagSet("test", flag.ExitOnError)
	source := fs.String("source", "", "connector source name")
	tenant := fs.String("tenant", "default", "tenant id for the test call")
	fs.String("user", "", "acting user (ignored; not required for reads)")
	fs.Parse(args)

	r, ok := reg.Get(*source)
	if !ok {
		fmt.Fprintf(os.Stderr, "connectorctl test: unknown source %q\n", *source)
		os.Exit(1)
	}
	if !r.Enabled {
		fmt.Fprintf(os.Stderr, "connectorctl test: %s is disabled\n", *source)
		os.Exit(1)
	}

	ctx := context.Background()
	res := r.Connector.Connect(ctx)
	defer r.Connector.Disconnect(ctx)

	if res.Status != connector.StatusSuccess {
		fmt.Fprintf(os.Stderr, "connectorctl test: %s connect failed: %s\n", *source, res.Message)
		os.Exit(1)
	}
	fmt.Printf("%s: ok (tenant=%s)\n", *source, *tenant)
}
