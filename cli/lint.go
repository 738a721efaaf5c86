package cli

import (
	"flag"
	"fmt"
	"os"

	"github.com/georgepadayatti/goades/certvalidator/revinfo"
	"github.com/georgepadayatti/goades/pemder"
)

// LintCommand implements the 'lint-crl' command.
func LintCommand(args []string) {
	fs := flag.NewFlagSet("lint-crl", flag.ExitOnError)
	jsonOutput := fs.Bool("json", false, "Output results in JSON format")

	fs.Usage = func() {
		fmt.Fprintf(stdout, "Usage: %s lint-crl [options] <file.crl>...\n\n", os.Args[0])
		fmt.Fprintln(stdout, "Check CRLs against the CRL profile lints. Exits with status 1 if any CRL has findings.")
		fmt.Fprintln(stdout, "")
		fmt.Fprintln(stdout, "Options:")
		fs.SetOutput(stdout)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		osExit(1)
		return
	}
	if fs.NArg() < 1 {
		fs.Usage()
		osExit(1)
		return
	}

	results, err := lintFiles(fs.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
		return
	}

	if *jsonOutput {
		if err := outputJSON(stdout, results); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
			osExit(1)
			return
		}
	} else {
		for _, result := range results {
			writeLintResult(stdout, result)
		}
	}

	for _, result := range results {
		if len(result.Findings) > 0 || result.Error != "" {
			osExit(1)
			return
		}
	}
}

// lintFiles lints every CRL in the named files.
func lintFiles(names []string) ([]CRLLintResult, error) {
	set := revinfo.NewEvidenceSet()
	for _, name := range names {
		if err := addFileBlocks(name, set.AddRawCRL, pemder.TypeCRL, pemder.TypeCRLShort); err != nil {
			return nil, err
		}
	}
	return lintCRLs(set.CRLs()), nil
}
