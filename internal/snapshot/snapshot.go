package snapshot

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DefaultCapacity bounds the number of entries a snapshot keeps.
const DefaultCapacity = 1024

const maxLineBytes = 1 << 20

// Entry identifies one listening endpoint. Both fields are compared as raw
// strings.
type Entry struct {
	Protocol string
	Address  string
}

func (e Entry) String() string {
	return e.Protocol + " " + e.Address
}

// Snapshot is an insertion-ordered set of entries with a capacity ceiling.
// Entries past the ceiling are dropped and the snapshot is marked truncated.
type Snapshot struct {
	capacity  int
	entries   []Entry
	index     map[Entry]struct{}
	truncated bool
}

func New(capacity int) *Snapshot {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Snapshot{
		capacity: capacity,
		index:    make(map[Entry]struct{}),
	}
}

// Add inserts e and reports whether it was stored.
func (s *Snapshot) Add(e Entry) bool {
	if _, ok := s.index[e]; ok {
		return false
	}
	if len(s.entries) >= s.capacity {
		s.truncated = true
		return false
	}
	s.index[e] = struct{}{}
	s.entries = append(s.entries, e)
	return true
}

func (s *Snapshot) Contains(e Entry) bool {
	if s == nil {
		return false
	}
	_, ok := s.index[e]
	return ok
}

func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

func (s *Snapshot) Capacity() int {
	if s == nil {
		return 0
	}
	return s.capacity
}

func (s *Snapshot) Truncated() bool {
	return s != nil && s.truncated
}

// Entries returns a copy of the entries in insertion order.
func (s *Snapshot) Entries() []Entry {
	if s == nil || len(s.entries) == 0 {
		return nil
	}
	return append([]Entry(nil), s.entries...)
}

// DefaultAddressField is the zero-based column holding the local
// address:port in `ss -tuln` output (Netid State Recv-Q Send-Q Local Peer).
const DefaultAddressField = 4

// minFields is the floor below which a row is never parsed, whatever the
// address column.
const minFields = 4

// Parse reads `ss` style listener output: the first line is a header,
// column 1 is the protocol and column 5 the local address:port.
func Parse(r io.Reader, capacity int) (*Snapshot, error) {
	return ParseFields(r, capacity, DefaultAddressField)
}

// ParseFields is Parse with the address taken from the zero-based column
// addressField. Rows too short to carry that column are skipped. Parsing
// stops once the snapshot is full or a line exceeds the scanner limit; both
// leave the snapshot marked truncated.
func ParseFields(r io.Reader, capacity, addressField int) (*Snapshot, error) {
	if addressField <= 0 {
		addressField = DefaultAddressField
	}
	need := addressField + 1
	if need < minFields {
		need = minFields
	}

	snap := New(capacity)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)

	header := true
	for scanner.Scan() {
		if header {
			header = false
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) < need {
			continue
		}
		snap.Add(Entry{Protocol: fields[0], Address: fields[addressField]})
		if snap.truncated {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			snap.truncated = true
			return snap, nil
		}
		return snap, fmt.Errorf("read listener table: %w", err)
	}
	return snap, nil
}
