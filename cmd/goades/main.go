// Command goades determines the revocation status of certificates from
// offline CRLs and OCSP responses.
//
// Usage:
//
//	goades <command> [options] <args>
//
// Commands:
//
//	revocation  Determine the revocation status of a certificate
//	lint-crl    Check CRLs against the CRL profile lints
//	import      Copy evidence files into the configured evidence store
//	version     Show version information
//	help        Show help message
//
// Examples:
//
//	# Check a certificate against a CRL
//	goades revocation -cert leaf.pem -chain ca.pem -crl ca.crl
//
//	# Use the revocation info embedded in a CMS signature
//	goades revocation -json -cms signature.p7s -cert leaf.pem -chain ca.pem
package main

import (
	"os"

	"github.com/georgepadayatti/goades/cli"
)

// These variables are set at build time using ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/goades
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	cli.Version = version
	cli.BuildTime = buildTime

	cli.Run(os.Args)
}
