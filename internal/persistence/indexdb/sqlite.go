package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"packetworld.ai/internal/sim/mail"
	"packetworld.ai/internal/sim/tuning"
	"packetworld.ai/internal/sim/world"
)

const defaultQueueCapacity = 262144

// SQLiteIndex is a queryable secondary copy of the run trace. Writes are queued
// and applied by a single writer goroutine; when the queue is full they are
// dropped and counted. The JSONL trace remains the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTick atomic.Uint64
	dropMail atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqMail
)

type req struct {
	kind reqKind

	tick world.TickRecord
	mail mailRow
}

type mailRow struct {
	Tick uint64
	Mail mail.Mail
}

// Stats reports queue pressure of the writer goroutine.
type Stats struct {
	DropTickTotal uint64 `json:"drop_tick_total"`
	DropMailTotal uint64 `json:"drop_mail_total"`
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, defaultQueueCapacity),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			scenario TEXT NOT NULL,
			digest TEXT NOT NULL,
			tuning_json TEXT NOT NULL,
			started_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			applied INTEGER NOT NULL,
			rejected INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			removed INTEGER NOT NULL,
			done INTEGER NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (run_id, tick)
		);`,
		`CREATE TABLE IF NOT EXISTS effects (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			author TEXT NOT NULL,
			priority TEXT NOT NULL,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			law TEXT,
			event TEXT,
			PRIMARY KEY (run_id, tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_effects_author_tick ON effects(author, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_effects_status ON effects(status);`,
		`CREATE TABLE IF NOT EXISTS mails (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			sender TEXT NOT NULL,
			recipient TEXT NOT NULL,
			body TEXT NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_mails_recipient_tick ON mails(recipient, tick);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		DropTickTotal: s.dropTick.Load(),
		DropMailTotal: s.dropMail.Load(),
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
	}
}

func (s *SQLiteIndex) WriteTick(rec world.TickRecord) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTick, tick: rec}:
	default:
		s.dropTick.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) WriteMail(tick uint64, m mail.Mail) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqMail, mail: mailRow{Tick: tick, Mail: m}}:
	default:
		s.dropMail.Add(1)
	}
}

// RecordRun stores the tuning a run was started with. It is synchronous and
// meant to be called once before the engine starts.
func (s *SQLiteIndex) RecordRun(runID string, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	digest := hex.EncodeToString(sum[:])
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('last_run_id',?)`, runID); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO runs(run_id,scenario,digest,tuning_json,started_at) VALUES(?,?,?,?,?)`,
		runID, tune.Scenario, digest, string(b), now,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(run_id,tick,applied,rejected,failed,removed,done,raw_json) VALUES(?,?,?,?,?,?,?,?)`)
	insertEffect, _ := s.db.Prepare(`INSERT OR REPLACE INTO effects(run_id,tick,seq,author,priority,kind,status,law,event) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertMail, _ := s.db.Prepare(`INSERT OR REPLACE INTO mails(tick,seq,sender,recipient,body) VALUES(?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTick, insertEffect, insertMail} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second

		lastMailTick uint64
		mailSeq      int
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			t := r.tick
			b, _ := json.Marshal(t)
			applied, rejected, failed := countStatuses(t.Effects)
			if insertTick != nil {
				if _, err := tx.Stmt(insertTick).Exec(
					t.RunID,
					int64(t.Tick),
					applied,
					rejected,
					failed,
					len(t.Removed),
					boolInt(t.Done),
					string(b),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
			for i, e := range t.Effects {
				if insertEffect == nil {
					break
				}
				if _, err := tx.Stmt(insertEffect).Exec(
					t.RunID,
					int64(t.Tick),
					i,
					e.Author.String(),
					e.Priority.String(),
					e.Kind,
					string(e.Status),
					nullable(e.Law),
					nullable(e.Event),
				); err != nil {
					rollback()
					break
				}
				opCount++
			}

		case reqMail:
			m := r.mail
			if m.Tick != lastMailTick {
				lastMailTick = m.Tick
				mailSeq = 0
			}
			seq := mailSeq
			mailSeq++
			if insertMail != nil {
				if _, err := tx.Stmt(insertMail).Exec(
					int64(m.Tick),
					seq,
					m.Mail.From,
					m.Mail.To,
					m.Mail.Body,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		flushIfNeeded()
	}

	commit()
}

func countStatuses(effects []world.EffectRecord) (applied, rejected, failed int) {
	for _, e := range effects {
		switch e.Status {
		case world.EffectApplied:
			applied++
		case world.EffectRejected:
			rejected++
		case world.EffectFailed:
			failed++
		}
	}
	return applied, rejected, failed
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
