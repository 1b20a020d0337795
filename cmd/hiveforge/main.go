// Command hiveforge is the operator CLI for a HiveForge vault: chain
// verification, stream export, stream listing, and honeycomb KPIs.
package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run dispatches a subcommand. Exit codes follow the usual convention:
// 0 success, 1 check failed, 2 usage or runtime error.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "export":
		return runExportCmd(args[2:], stdout, stderr)
	case "streams":
		return runStreamsCmd(args[2:], stdout, stderr)
	case "kpi":
		return runKPICmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "HiveForge vault operator")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  hiveforge <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	fmt.Fprintln(w, "  verify   Verify a stream's hash chain (--vault, --run, --json)")
	fmt.Fprintln(w, "  export   Export a stream's raw records (--vault, --run, --out)")
	fmt.Fprintln(w, "  streams  List non-empty run streams (--vault, --json)")
	fmt.Fprintln(w, "  kpi      Compute honeycomb KPIs (--vault, --colony, --json)")
	fmt.Fprintln(w, "  help     Show this help")
	fmt.Fprintln(w, "")
}
