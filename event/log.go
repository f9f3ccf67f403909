package event

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// EVENT_MODE values.
const (
	ModeDisable = "DISABLE"
	ModeIn      = "IN"
	ModeOut     = "OUT"
)

const (
	InLogFile  string = "log/in.log"
	OutLogFile string = "log/out.log"
)

type LogEntry struct {
	Time    int64  `json:"time"`
	Service string `json:"service"`
	Action  string `json:"action"`
	Data    string `json:"data"`
}

// Logs appends consumed and published events as JSON lines so they can be
// replayed against a fresh broker.
type Logs struct {
	mu      sync.Mutex
	inPath  string
	outPath string
	in      *os.File
	out     *os.File
	now     func() time.Time
	log     zerolog.Logger
}

func OpenLogs(inPath, outPath string) (*Logs, error) {
	in, err := os.OpenFile(inPath, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("open event in log: %w", err)
	}
	out, err := os.OpenFile(outPath, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0600)
	if err != nil {
		in.Close()
		return nil, fmt.Errorf("open event out log: %w", err)
	}
	return &Logs{inPath: inPath, outPath: outPath, in: in, out: out, now: time.Now, log: log.Logger}, nil
}

func (l *Logs) In(service, action string, data []byte) {
	if l == nil {
		return
	}
	l.write(l.in, service, action, data)
}

func (l *Logs) Out(service, action string, data []byte) {
	if l == nil {
		return
	}
	l.write(l.out, service, action, data)
}

func (l *Logs) write(f *os.File, service, action string, data []byte) {
	line, err := json.Marshal(LogEntry{
		Time:    l.now().UnixMicro(),
		Service: service,
		Action:  action,
		Data:    string(data),
	})
	if err != nil {
		l.log.Warn().Err(err).Str("service", service).Str("action", action).Msg("event log entry not encoded")
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := f.Write(append(line, '\n')); err != nil {
		l.log.Warn().Err(err).Str("file", f.Name()).Str("action", action).Msg("event log write failed")
	}
}

func (l *Logs) ReplayIn(fn func(LogEntry) error) error {
	if l == nil {
		return nil
	}
	return replay(l.inPath, fn)
}

func (l *Logs) ReplayOut(fn func(LogEntry) error) error {
	if l == nil {
		return nil
	}
	return replay(l.outPath, fn)
}

func replay(path string, fn func(LogEntry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var entry LogEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (l *Logs) Close() error {
	if l == nil {
		return nil
	}
	l.in.Close()
	return l.out.Close()
}
