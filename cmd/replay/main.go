package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"packetworld.ai/internal/sim/world"
)

func main() {
	var (
		traceDir = flag.String("trace", "", "trace dir containing ticks-*.jsonl.zst (usually <data>/runs/<run_id>/trace)")
		fromTick = flag.Uint64("from_tick", 0, "first tick to summarize (inclusive, optional)")
		toTick   = flag.Uint64("to_tick", 0, "last tick to summarize (inclusive, optional)")
		verbose  = flag.Bool("verbose", false, "print every effect")
	)
	flag.Parse()

	if *traceDir == "" {
		fmt.Fprintln(os.Stderr, "missing -trace")
		os.Exit(2)
	}

	files, err := listTraceFiles(*traceDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list trace:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no trace files found in", *traceDir)
		os.Exit(1)
	}

	var out io.Writer
	if *verbose {
		out = os.Stdout
	}
	s := newSummary(*fromTick, *toTick, out)
	for _, path := range files {
		if err := s.readFile(path); err != nil {
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
	}
	s.print(os.Stdout)
}

func listTraceFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "ticks-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

// summary checks that a trace is one consistent run (single run id, ticks
// advancing by one, nothing after the terminal tick) and tallies effects.
type summary struct {
	from, to uint64
	verbose  io.Writer

	runID    string
	first    uint64
	last     uint64
	ticks    uint64
	done     bool
	byStatus map[world.EffectStatus]int
	byKind   map[string]int
	byLaw    map[string]int
	removed  int
}

func newSummary(from, to uint64, verbose io.Writer) *summary {
	return &summary{
		from:     from,
		to:       to,
		verbose:  verbose,
		byStatus: map[world.EffectStatus]int{},
		byKind:   map[string]int{},
		byLaw:    map[string]int{},
	}
}

func (s *summary) readFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)

	for sc.Scan() {
		var rec world.TickRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if err := s.add(rec); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	return sc.Err()
}

func (s *summary) add(rec world.TickRecord) error {
	if s.runID == "" {
		s.runID = rec.RunID
		s.first = rec.Tick
	} else {
		if rec.RunID != s.runID {
			return fmt.Errorf("run id changed at tick %d: %s != %s", rec.Tick, rec.RunID, s.runID)
		}
		if s.done {
			return fmt.Errorf("tick %d recorded after terminal tick %d", rec.Tick, s.last)
		}
		if rec.Tick != s.last+1 {
			return fmt.Errorf("tick gap: want=%d got=%d", s.last+1, rec.Tick)
		}
	}
	s.last = rec.Tick
	s.done = rec.Done

	if rec.Tick < s.from || (s.to != 0 && rec.Tick > s.to) {
		return nil
	}
	s.ticks++
	s.removed += len(rec.Removed)
	for _, e := range rec.Effects {
		s.byStatus[e.Status]++
		s.byKind[e.Kind]++
		if e.Law != "" {
			s.byLaw[e.Law]++
		}
		if s.verbose != nil {
			fmt.Fprintf(s.verbose, "tick=%d author=%s priority=%s kind=%s status=%s law=%s event=%q\n",
				rec.Tick, e.Author, e.Priority, e.Kind, e.Status, e.Law, e.Event)
		}
	}
	return nil
}

func (s *summary) print(w io.Writer) {
	fmt.Fprintf(w, "run=%s ticks=%d..%d summarized=%d done=%v removed=%d\n", s.runID, s.first, s.last, s.ticks, s.done, s.removed)
	fmt.Fprintf(w, "effects: applied=%d rejected=%d failed=%d\n",
		s.byStatus[world.EffectApplied], s.byStatus[world.EffectRejected], s.byStatus[world.EffectFailed])
	printCounts(w, "kind", s.byKind)
	printCounts(w, "law", s.byLaw)
}

func printCounts(w io.Writer, label string, m map[string]int) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s %-8s %d\n", label, k, m[k])
	}
}
