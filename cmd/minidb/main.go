package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"minidb/internal/engine"
	"minidb/internal/server"
	"minidb/pkg/types"
)

const banner = `minidb — an embeddable SQL database
Type .help for meta-commands, .quit to exit.
`

func main() {
	dataDir := flag.String("data-dir", "./minidb-data", "data directory")
	bufferPages := flag.Int("buffer", 256, "buffer pool size in pages")
	host := flag.String("host", "localhost", "server host")
	port := flag.Int("port", 5432, "server port")
	execute := flag.StringP("execute", "e", "", "execute one statement and exit")
	serve := flag.Bool("serve", false, "accept client connections instead of running the REPL")
	flag.Parse()

	db, err := engine.Open(engine.Config{
		DataDir:   *dataDir,
		PoolPages: *bufferPages,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	switch {
	case *execute != "":
		if !runStatement(db, *execute) {
			os.Exit(1)
		}
	case *serve:
		addr := fmt.Sprintf("%s:%d", *host, *port)
		srv, err := server.Listen(addr, db)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		fmt.Printf("listening on %s (data: %s)\n", srv.Addr(), *dataDir)
		if err := srv.Serve(); err != nil {
			fmt.Fprintf(os.Stderr, "serve: %v\n", err)
			os.Exit(1)
		}
	default:
		repl(db, *dataDir)
	}
}

// runStatement executes one statement and prints its result. Returns
// false on error.
func runStatement(db *engine.Database, sqlText string) bool {
	result, err := db.Execute(sqlText)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return false
	}
	printResult(result)
	return true
}

func repl(db *engine.Database, dataDir string) {
	fmt.Print(banner)

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	historyPath := filepath.Join(dataDir, ".minidb_history")
	if f, err := os.Open(historyPath); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(historyPath); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	for {
		input, err := line.Prompt("minidb> ")
		if err != nil {
			fmt.Println()
			return
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if strings.HasPrefix(input, ".") {
			if quit := metaCommand(db, input); quit {
				return
			}
			continue
		}

		runStatement(db, input)
	}
}

// metaCommand handles dot-commands. Returns true when the REPL should
// exit.
func metaCommand(db *engine.Database, input string) bool {
	fields := strings.Fields(input)
	switch fields[0] {
	case ".quit", ".exit":
		return true

	case ".help":
		fmt.Print(`Meta-commands:
  .help             Show this help
  .tables           List tables
  .schema <table>   Show a table's definition
  .examples         Show example statements
  .reset            Delete all tables and data
  .quit             Exit

Statements:
  CREATE TABLE name (col TYPE [PRIMARY KEY], ...)   Types: INT, TEXT, BOOL
  DROP TABLE name
  CREATE INDEX name ON table (column)
  INSERT INTO table [(cols)] VALUES (...)
  SELECT cols FROM table [JOIN t ON cond] [WHERE cond] [ORDER BY col] [LIMIT n]
  UPDATE table SET col = value [WHERE cond]
  DELETE FROM table [WHERE cond]
  EXPLAIN [ANALYZE] <statement>
`)

	case ".tables":
		summaries := db.TableSummaries()
		if len(summaries) == 0 {
			fmt.Println("no tables")
			break
		}
		for _, s := range summaries {
			fmt.Printf("  %s (%s)\n", s.Name, s.ColumnInfo)
		}

	case ".schema":
		if len(fields) < 2 {
			fmt.Println("usage: .schema <table>")
			break
		}
		schema, err := db.TableSchema(fields[1])
		if err != nil {
			fmt.Printf("ERROR: %v\n", err)
			break
		}
		fmt.Println(schema)

	case ".examples":
		fmt.Print(`Examples:
  CREATE TABLE users (id INT PRIMARY KEY, name TEXT, age INT);
  INSERT INTO users VALUES (1, 'Alice', 30);
  INSERT INTO users VALUES (2, 'Bob', 25);
  SELECT * FROM users;
  SELECT name FROM users WHERE id = 1;
  UPDATE users SET age = 31 WHERE id = 1;
  DELETE FROM users WHERE id = 2;
  EXPLAIN SELECT * FROM users WHERE id = 1;
`)

	case ".reset":
		if err := db.Reset(); err != nil {
			fmt.Printf("ERROR: %v\n", err)
		} else {
			fmt.Println("database reset")
		}

	default:
		fmt.Printf("unknown meta-command %s (try .help)\n", fields[0])
	}
	return false
}

func printResult(result *engine.Result) {
	switch result.Kind {
	case engine.ResultCount:
		fmt.Printf("%d row(s) affected\n", result.Affected)
	case engine.ResultRows:
		printRows(result.Columns, result.Rows)
		fmt.Printf("%d row(s)\n", len(result.Rows))
	default:
		fmt.Println("ok")
	}
}

func printRows(columns []string, rows []types.Row) {
	if len(columns) == 0 {
		return
	}

	widths := make([]int, len(columns))
	for i, col := range columns {
		widths[i] = len(col)
	}
	rendered := make([][]string, len(rows))
	for r, row := range rows {
		cells := make([]string, len(columns))
		for i := range columns {
			if i < len(row.Values) {
				cells[i] = formatValue(row.Values[i])
			}
			if len(cells[i]) > widths[i] {
				widths[i] = len(cells[i])
			}
		}
		rendered[r] = cells
	}

	printSeparator(widths)
	printRow(columns, widths)
	printSeparator(widths)
	for _, cells := range rendered {
		printRow(cells, widths)
	}
	printSeparator(widths)
}

func formatValue(v types.Value) string {
	if v.IsNull {
		return "NULL"
	}
	return v.String()
}

func printRow(values []string, widths []int) {
	fmt.Print("|")
	for i, val := range values {
		fmt.Printf(" %-*s |", widths[i], val)
	}
	fmt.Println()
}

func printSeparator(widths []int) {
	fmt.Print("+")
	for _, w := range widths {
		fmt.Print(strings.Repeat("-", w+2))
		fmt.Print("+")
	}
	fmt.Println()
}
