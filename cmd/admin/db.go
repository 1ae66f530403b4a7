package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	runID := fs.String("run", "", "run id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	tick := fs.Uint64("tick", 0, "tick filter for effects/mails (optional)")
	author := fs.String("author", "", "author filter for effects, e.g. #3 (optional)")
	status := fs.String("status", "", "status filter for effects: APPLIED, REJECTED or FAILED (optional)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "runs"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*runID) == "" {
			fmt.Fprintln(os.Stderr, "missing -run or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "runs", *runID, "index", "run.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	f := filter{Tick: *tick, Author: strings.TrimSpace(*author), Status: strings.ToUpper(strings.TrimSpace(*status)), Limit: *limit}
	if err := runQuery(os.Stdout, db, q, f); err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
}

type filter struct {
	Tick   uint64
	Author string
	Status string
	Limit  int
}

func runQuery(w io.Writer, db *sql.DB, q string, f filter) error {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	switch q {
	case "runs":
		rows, err := db.Query(`SELECT run_id,scenario,digest,started_at FROM runs ORDER BY started_at DESC LIMIT ?`, f.Limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				RunID     string `json:"run_id"`
				Scenario  string `json:"scenario"`
				Digest    string `json:"digest"`
				StartedAt string `json:"started_at"`
			}
			if err := rows.Scan(&r.RunID, &r.Scenario, &r.Digest, &r.StartedAt); err != nil {
				return err
			}
			printJSON(w, r)
		}
		return rows.Err()

	case "ticks":
		rows, err := db.Query(`SELECT run_id,tick,applied,rejected,failed,removed,done FROM ticks ORDER BY tick DESC LIMIT ?`, f.Limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				RunID    string `json:"run_id"`
				Tick     int64  `json:"tick"`
				Applied  int    `json:"applied"`
				Rejected int    `json:"rejected"`
				Failed   int    `json:"failed"`
				Removed  int    `json:"removed"`
				Done     bool   `json:"done"`
			}
			if err := rows.Scan(&r.RunID, &r.Tick, &r.Applied, &r.Rejected, &r.Failed, &r.Removed, &r.Done); err != nil {
				return err
			}
			printJSON(w, r)
		}
		return rows.Err()

	case "effects":
		query := `SELECT tick,seq,author,priority,kind,status,COALESCE(law,''),COALESCE(event,'') FROM effects WHERE 1=1`
		var params []any
		if f.Tick > 0 {
			query += ` AND tick=?`
			params = append(params, int64(f.Tick))
		}
		if f.Author != "" {
			query += ` AND author=?`
			params = append(params, f.Author)
		}
		if f.Status != "" {
			query += ` AND status=?`
			params = append(params, f.Status)
		}
		query += ` ORDER BY tick DESC, seq ASC LIMIT ?`
		params = append(params, f.Limit)
		rows, err := db.Query(query, params...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick     int64  `json:"tick"`
				Seq      int    `json:"seq"`
				Author   string `json:"author"`
				Priority string `json:"priority"`
				Kind     string `json:"kind"`
				Status   string `json:"status"`
				Law      string `json:"law,omitempty"`
				Event    string `json:"event,omitempty"`
			}
			if err := rows.Scan(&r.Tick, &r.Seq, &r.Author, &r.Priority, &r.Kind, &r.Status, &r.Law, &r.Event); err != nil {
				return err
			}
			printJSON(w, r)
		}
		return rows.Err()

	case "mails":
		query := `SELECT tick,seq,sender,recipient,body FROM mails`
		var params []any
		if f.Tick > 0 {
			query += ` WHERE tick=?`
			params = append(params, int64(f.Tick))
		}
		query += ` ORDER BY tick DESC, seq ASC LIMIT ?`
		params = append(params, f.Limit)
		rows, err := db.Query(query, params...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick int64  `json:"tick"`
				Seq  int    `json:"seq"`
				From string `json:"from"`
				To   string `json:"to"`
				Body string `json:"body"`
			}
			if err := rows.Scan(&r.Tick, &r.Seq, &r.From, &r.To, &r.Body); err != nil {
				return err
			}
			printJSON(w, r)
		}
		return rows.Err()

	default:
		return fmt.Errorf("unknown query %q (runs, ticks, effects, mails)", q)
	}
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
