// Package cli provides the command-line interface of the goades tools.
package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

// Version information
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// osExit is a variable for os.Exit to allow testing
var osExit = os.Exit

// stdout receives command output; tests replace it.
var stdout io.Writer = os.Stdout

// Run executes the CLI with the given arguments.
// This is the main entry point for the CLI.
func Run(args []string) {
	if len(args) < 2 {
		Usage()
		return
	}

	command := args[1]

	switch command {
	case "revocation":
		RevocationCommand(args)
	case "lint-crl":
		LintCommand(args)
	case "import":
		ImportCommand(args)
	case "version":
		VersionCommand()
	case "help", "-h", "--help":
		Usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		Usage()
		osExit(1)
	}
}

// Usage prints the CLI usage information.
func Usage() {
	fmt.Fprintf(stdout, "goades - offline certificate revocation checking\n\n")
	fmt.Fprintf(stdout, "Usage: %s <command> [options] <args>\n\n", os.Args[0])
	fmt.Fprintln(stdout, "Commands:")
	fmt.Fprintln(stdout, "  revocation  Determine the revocation status of a certificate")
	fmt.Fprintln(stdout, "  lint-crl    Check CRLs against the CRL profile lints")
	fmt.Fprintln(stdout, "  import      Copy evidence files into the configured evidence store")
	fmt.Fprintln(stdout, "  version     Show version information")
	fmt.Fprintln(stdout, "  help        Show this help message")
	fmt.Fprintln(stdout, "")
	fmt.Fprintf(stdout, "Use '%s <command> -h' for command-specific help\n", os.Args[0])
	fmt.Fprintln(stdout, "")
	fmt.Fprintln(stdout, "Examples:")
	fmt.Fprintf(stdout, "  %s revocation -cert leaf.pem -chain ca.pem -crl ca.crl\n", os.Args[0])
	fmt.Fprintf(stdout, "  %s revocation -json -cms signature.p7s -cert leaf.pem -chain ca.pem\n", os.Args[0])
	fmt.Fprintf(stdout, "  %s lint-crl ca.crl\n", os.Args[0])
}

// VersionCommand prints version information.
func VersionCommand() {
	fmt.Fprintf(stdout, "goades version %s\n", Version)
	fmt.Fprintf(stdout, "Build time: %s\n", BuildTime)
}

// fileList is a repeatable flag collecting file names. Comma separated
// values are split.
type fileList []string

var _ flag.Value = (*fileList)(nil)

func (l *fileList) String() string {
	if l == nil {
		return ""
	}
	return strings.Join(*l, ",")
}

func (l *fileList) Set(value string) error {
	for _, name := range strings.Split(value, ",") {
		if name = strings.TrimSpace(name); name != "" {
			*l = append(*l, name)
		}
	}
	return nil
}

// flagSet reports whether the named flag was given on the command line.
func flagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}
