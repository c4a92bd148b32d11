// Package profiling emits a per-function, per-instruction timing log as
// text lines or as a compact binary record stream. The format is opaque
// to the evaluators; they only push records through a Logger.
package profiling

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"
)

// Kind distinguishes the function flavour in stream headers.
type Kind uint8

const (
	KindSX Kind = iota
	KindMX
)

// Binary record tags.
const (
	tagName uint8 = iota
	tagSourceLine
	tagEntry
	tagTime
	tagExit
)

// Logger serialises profiling records from one or more functions onto a
// single writer. Methods are safe for use from multiple functions, but
// a single compiled function is itself single-threaded.
type Logger struct {
	mu     sync.Mutex
	w      io.Writer
	binary bool
	ids    map[string]uint32
	next   uint32
}

// New returns a Logger writing text lines, or binary records when
// binary is true.
func New(w io.Writer, binary bool) *Logger {
	return &Logger{w: w, binary: binary, ids: map[string]uint32{}}
}

func (l *Logger) id(name string) uint32 {
	if id, ok := l.ids[name]; ok {
		return id
	}
	l.next++
	l.ids[name] = l.next
	return l.next
}

func (l *Logger) writeString(s string) {
	_ = binary.Write(l.w, binary.LittleEndian, uint32(len(s)))
	_, _ = io.WriteString(l.w, s)
}

// Name writes a function-name header with the algorithm size.
func (l *Logger) Name(name string, kind Kind, algSize int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.binary {
		_ = binary.Write(l.w, binary.LittleEndian, tagName)
		_ = binary.Write(l.w, binary.LittleEndian, l.id(name))
		_ = binary.Write(l.w, binary.LittleEndian, kind)
		_ = binary.Write(l.w, binary.LittleEndian, uint32(algSize))
		l.writeString(name)
		return
	}
	fmt.Fprintf(l.w, "name %s kind=%d alg=%d\n", name, kind, algSize)
}

// SourceLine writes the printed form of one tape record.
func (l *Logger) SourceLine(name string, line int, text string, op int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.binary {
		_ = binary.Write(l.w, binary.LittleEndian, tagSourceLine)
		_ = binary.Write(l.w, binary.LittleEndian, l.id(name))
		_ = binary.Write(l.w, binary.LittleEndian, uint32(line))
		_ = binary.Write(l.w, binary.LittleEndian, uint32(op))
		l.writeString(text)
		return
	}
	fmt.Fprintf(l.w, "src %s:%d|%s\n", name, line, text)
}

// Entry marks the start of an evaluation.
func (l *Logger) Entry(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.binary {
		_ = binary.Write(l.w, binary.LittleEndian, tagEntry)
		_ = binary.Write(l.w, binary.LittleEndian, l.id(name))
		return
	}
	fmt.Fprintf(l.w, "start %s\n", name)
}

// Time records the duration of one instruction and the elapsed total.
func (l *Logger) Time(name string, line int, dt, total time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.binary {
		_ = binary.Write(l.w, binary.LittleEndian, tagTime)
		_ = binary.Write(l.w, binary.LittleEndian, l.id(name))
		_ = binary.Write(l.w, binary.LittleEndian, uint32(line))
		_ = binary.Write(l.w, binary.LittleEndian, dt.Seconds())
		_ = binary.Write(l.w, binary.LittleEndian, total.Seconds())
		return
	}
	fmt.Fprintf(l.w, "%v | %v | %s:%d\n", dt, total, name, line)
}

// Exit marks the end of an evaluation with its total duration.
func (l *Logger) Exit(name string, total time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.binary {
		_ = binary.Write(l.w, binary.LittleEndian, tagExit)
		_ = binary.Write(l.w, binary.LittleEndian, l.id(name))
		_ = binary.Write(l.w, binary.LittleEndian, total.Seconds())
		return
	}
	fmt.Fprintf(l.w, "stop %s %v\n", name, total)
}
