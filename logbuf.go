// FILE: logbuf.go
// Package main – In-memory log and decision rings for the HTTP surface.
//
// Both rings are fixed-capacity, newest-first on read, and safe for
// concurrent use. /logs serves the log ring; /decisions serves the
// per-symbol decision ring (also fanned out to websocket clients by the
// hub, see hub.go).
package main

import (
	"fmt"
	"log"
	"sync"
	"time"
)

const (
	logRingCap      = 500
	decisionRingCap = 200
)

// LogEntry is one captured log line.
type LogEntry struct {
	Time  int64  `json:"time"`
	Level string `json:"level"` // INFO, WARN, ERROR
	Msg   string `json:"msg"`
}

// LogRing keeps the most recent log lines.
type LogRing struct {
	mu      sync.Mutex
	entries []LogEntry
}

func NewLogRing() *LogRing { return &LogRing{} }

// Add appends an entry, dropping the oldest past capacity.
func (r *LogRing) Add(level, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, LogEntry{Time: time.Now().Unix(), Level: level, Msg: msg})
	if len(r.entries) > logRingCap {
		r.entries = r.entries[len(r.entries)-logRingCap:]
	}
}

// Recent returns up to n entries, newest first.
func (r *LogRing) Recent(n int) []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || n > len(r.entries) {
		n = len(r.entries)
	}
	out := make([]LogEntry, n)
	for i := 0; i < n; i++ {
		out[i] = r.entries[len(r.entries)-1-i]
	}
	return out
}

// Infof logs to stdout and the ring.
func (r *LogRing) Infof(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Print(msg)
	r.Add("INFO", msg)
}

// Warnf logs a [WARN]-tagged line to stdout and the ring.
func (r *LogRing) Warnf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Printf("[WARN] %s", msg)
	r.Add("WARN", msg)
}

// Errorf logs an [ERROR]-tagged line to stdout and the ring.
func (r *LogRing) Errorf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Printf("[ERROR] %s", msg)
	r.Add("ERROR", msg)
}

// DecisionRing keeps the most recent decisions across all symbols.
type DecisionRing struct {
	mu      sync.Mutex
	entries []Decision
}

func NewDecisionRing() *DecisionRing { return &DecisionRing{} }

// Add appends a decision, dropping the oldest past capacity.
func (r *DecisionRing) Add(d Decision) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, d)
	if len(r.entries) > decisionRingCap {
		r.entries = r.entries[len(r.entries)-decisionRingCap:]
	}
}

// Recent returns up to n decisions, newest first, optionally filtered by
// symbol ("" matches all).
func (r *DecisionRing) Recent(symbol string, n int) []Decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Decision, 0, n)
	for i := len(r.entries) - 1; i >= 0 && (n <= 0 || len(out) < n); i-- {
		if symbol == "" || r.entries[i].Symbol == symbol {
			out = append(out, r.entries[i])
		}
	}
	return out
}
