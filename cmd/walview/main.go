// Command walview prints the records of a write-ahead log file in
// append order, for inspecting what a data directory will replay.
package main

import (
	"fmt"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"minidb/internal/wal"
)

func main() {
	path := flag.String("wal", "", "path to the log file (required)")
	verbose := flag.BoolP("verbose", "v", false, "print row payloads")
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "usage: walview --wal <path> [-v]")
		os.Exit(1)
	}

	records, err := wal.Replay(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay %s: %v\n", *path, err)
		os.Exit(1)
	}

	if len(records) == 0 {
		fmt.Println("log is empty")
		return
	}

	for _, record := range records {
		line := record.String()
		if *verbose {
			switch record.Type {
			case wal.RecordInsert, wal.RecordUpdate:
				parts := make([]string, len(record.Row.Values))
				for i, v := range record.Row.Values {
					parts[i] = v.String()
				}
				line += " row=(" + strings.Join(parts, ", ") + ")"
			case wal.RecordCreateTable:
				cols := make([]string, len(record.Schema.Columns))
				for i, c := range record.Schema.Columns {
					cols[i] = c.Name + " " + c.Type.String()
				}
				line += " columns=(" + strings.Join(cols, ", ") + ")"
			}
		}
		fmt.Println(line)
	}
	fmt.Printf("%d record(s)\n", len(records))
}
