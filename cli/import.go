package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/georgepadayatti/goades/certvalidator/revinfo"
	"github.com/georgepadayatti/goades/config"
	"github.com/georgepadayatti/goades/logging"
	"github.com/georgepadayatti/goades/store"
)

// ImportCommand implements the 'import' command.
func ImportCommand(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configFile := fs.String("config", "", "YAML configuration file selecting a postgres store (required)")
	createTable := fs.Bool("create-table", false, "Create the evidence table if it does not exist")

	fs.Usage = func() {
		fmt.Fprintf(stdout, "Usage: %s import [options] <file>...\n\n", os.Args[0])
		fmt.Fprintln(stdout, "Copy certificates, CRLs and OCSP responses into the configured postgres evidence store.")
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
	if *configFile == "" || fs.NArg() < 1 {
		fs.Usage()
		osExit(1)
		return
	}

	conf, err := config.LoadAppConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
		return
	}

	set, err := readEvidenceFiles(fs.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
		return
	}

	if err := importEvidence(context.Background(), conf, set, *createTable); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
		return
	}
	fmt.Fprintf(stdout, "Imported %d certificate(s), %d CRL(s), %d OCSP response(s)\n",
		len(set.Certificates()), len(set.CRLs()), len(set.OCSPResponses()))
}

// readEvidenceFiles reads the named files into a set. Every file must hold
// supported evidence.
func readEvidenceFiles(names []string) (*revinfo.EvidenceSet, error) {
	set := revinfo.NewEvidenceSet()
	for _, name := range names {
		if err := store.AddFile(set, name); err != nil {
			return nil, err
		}
	}
	return set, nil
}

func importEvidence(ctx context.Context, conf *config.AppConfig, set *revinfo.EvidenceSet, createTable bool) error {
	if conf.Store.Type != config.StoreTypePostgres {
		return errors.New("import requires a postgres store in the configuration")
	}

	logger, closer, err := logging.New(conf.Logging)
	if err != nil {
		return err
	}
	defer closer.Close()

	s, err := store.Open(ctx, conf.Store, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	pg := s.(*store.PostgresStore)
	if createTable {
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
	}
	return pg.Save(ctx, set)
}
