package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "bootstrap":
			bootstrapCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	runs, err := listRuns(*dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, r := range runs {
		fmt.Printf("%s\t%s\ttrace=%v index=%v\n", r.ModTime.UTC().Format("2006-01-02T15:04:05Z"), r.ID, r.HasTrace, r.HasIndex)
	}
}

type runDir struct {
	ID       string
	ModTime  time.Time
	HasTrace bool
	HasIndex bool
}

// listRuns returns the runs under <data>/runs, oldest first.
func listRuns(dataDir string) ([]runDir, error) {
	base := filepath.Join(dataDir, "runs")
	entries, err := os.ReadDir(base)
	if err != nil {
		return nil, err
	}
	var out []runDir
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		dir := filepath.Join(base, e.Name())
		out = append(out, runDir{
			ID:       e.Name(),
			ModTime:  info.ModTime(),
			HasTrace: exists(filepath.Join(dir, "trace")),
			HasIndex: exists(filepath.Join(dir, "index", "run.sqlite")),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ModTime.Equal(out[j].ModTime) {
			return out[i].ModTime.Before(out[j].ModTime)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
