// Package indexdb keeps a secondary sqlite read-model of chat activity:
// finalized messages and the command audit trail. Writes go through a single
// writer goroutine behind a buffered channel so the relay path never blocks
// on disk.
package indexdb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"agentworld.ai/internal/protocol"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	// mu orders enqueues against Close so nothing sends on the closed
	// channel.
	mu     sync.Mutex
	closed bool
}

type reqKind int

const (
	reqEvent reqKind = iota + 1
	reqCommand
)

type req struct {
	kind reqKind

	worldID  string
	event    protocol.WorldEvent
	clientID string
	input    string
	resp     protocol.ResponseMsg
}

func Open(path string) (*SQLiteIndex, error) {
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
		// Generous buffer: streaming replies arrive in bursts of chunks.
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads; NORMAL is a fine
	// durability tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
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
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at TEXT NOT NULL,
			world_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			stream_type TEXT,
			sender TEXT,
			agent_name TEXT,
			message_id TEXT,
			content TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_world ON events(world_id, id);`,
		`CREATE TABLE IF NOT EXISTS commands (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at TEXT NOT NULL,
			world_id TEXT,
			client_id TEXT,
			request_id TEXT,
			command TEXT NOT NULL,
			input TEXT,
			success INTEGER NOT NULL,
			code TEXT,
			refresh INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_commands_world ON commands(world_id, id);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// RecordEvent enqueues one forwarded world event. Drops when the queue is
// saturated or the index is closed; the index is advisory, never load-bearing.
func (s *SQLiteIndex) RecordEvent(worldID string, ev protocol.WorldEvent) {
	s.enqueue(req{kind: reqEvent, worldID: worldID, event: ev})
}

// RecordCommand enqueues one processed command with its response outcome.
func (s *SQLiteIndex) RecordCommand(worldID, clientID string, cmd protocol.CommandMsg, resp protocol.ResponseMsg) {
	s.enqueue(req{kind: reqCommand, worldID: worldID, clientID: clientID, input: cmd.Text, resp: resp})
}

func (s *SQLiteIndex) enqueue(r req) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- r:
	default:
	}
}

func (s *SQLiteIndex) Close() error {
	if s == nil {
		return nil
	}
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) loop() {
	for r := range s.ch {
		switch r.kind {
		case reqEvent:
			s.insertEvent(r)
		case reqCommand:
			s.insertCommand(r)
		}
	}
}

func (s *SQLiteIndex) insertEvent(r req) {
	_, _ = s.db.Exec(
		`INSERT INTO events(at, world_id, event_type, stream_type, sender, agent_name, message_id, content)
		 VALUES(?,?,?,?,?,?,?,?)`,
		time.Now().UTC().Format(time.RFC3339Nano),
		r.worldID,
		r.event.EventType,
		r.event.StreamType,
		r.event.Sender,
		r.event.AgentName,
		r.event.MessageID,
		firstOf(r.event.Content, r.event.Message),
	)
}

func (s *SQLiteIndex) insertCommand(r req) {
	_, _ = s.db.Exec(
		`INSERT INTO commands(at, world_id, client_id, request_id, command, input, success, code, refresh)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		time.Now().UTC().Format(time.RFC3339Nano),
		r.worldID,
		r.clientID,
		r.resp.RequestID,
		r.resp.Command,
		r.input,
		boolInt(r.resp.Success),
		r.resp.Code,
		boolInt(r.resp.RefreshWorld),
	)
}

func firstOf(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
