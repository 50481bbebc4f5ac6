// filedrop — multi-tenant file-watching pipeline for back-office
// automation: SQL script execution and SQL*Loader log ingestion.
package main

import "github.com/ppiankov/filedrop/internal/cli"

func main() {
	cli.Execute()
}
