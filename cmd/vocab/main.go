// Command vocab prints the vocabularies saved by a supplyetl run as JSON,
// one object per column mapping code to original value:
//
//	vocab -db state/vocab.db
//	vocab -db state/vocab.db -column "Order City"
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"supplyetl/internal/vocab"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		log.Printf("vocab: %v", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("vocab", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dbPath := fs.String("db", "", "vocabulary store written by supplyetl (required)")
	column := fs.String("column", "", "print only this column")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dbPath == "" {
		return fmt.Errorf("-db is required")
	}
	if _, err := os.Stat(*dbPath); err != nil {
		return fmt.Errorf("stat store: %w", err)
	}

	st, err := vocab.Open(*dbPath)
	if err != nil {
		return err
	}
	defer st.Close()
	set, err := st.Load()
	if err != nil {
		return err
	}

	out := map[string]map[int64]string{}
	for _, col := range set.Columns() {
		if *column != "" && col != *column {
			continue
		}
		codes := map[int64]string{}
		for code, v := range set.Column(col).Values() {
			codes[int64(code)] = v
		}
		out[col] = codes
	}
	if *column != "" && len(out) == 0 {
		return fmt.Errorf("column %q not in store", *column)
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
