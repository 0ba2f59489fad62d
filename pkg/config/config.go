// Package config implements the hash-indexed, schema-driven key/value
// configuration parser: line continuation and escaping, Include directives,
// host-range "expanded line" semantics, and typed accessors, modeled on the
// original hashtbl_create/parse_file/parse_line family.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/cuemby/ridgeline/pkg/ridgeerr"
	"gopkg.in/yaml.v3"
)

// hashSize mirrors the original table's modulus (173 buckets, chosen as a
// prime close to the expected key count for a single config stanza).
const hashSize = 173

// hashval implements tolower(c) + 31*hashval mod hashSize, same as the
// original hand-rolled case-insensitive hash.
func hashval(key string) int {
	h := 0
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		h = (int(c) + 31*h) % hashSize
	}
	return h
}

// Op is an assignment operator recognized on the right-hand side of a
// key/value pair.
type Op int

const (
	OpSet Op = iota
	OpAppend
	OpRemove
	OpMultiply
	OpDivide
)

var opTokens = []struct {
	tok string
	op  Op
}{
	{"+=", OpAppend},
	{"-=", OpRemove},
	{"*=", OpMultiply},
	{"/=", OpDivide},
	{"=", OpSet},
}

// entry is one hash-bucket slot: a parsed key/value/op triple, chained on
// collision like the original hashtbl.
type entry struct {
	key   string
	value string
	op    Op
	next  *entry
}

// Table is a parsed configuration stanza: a hash table of key/value pairs
// plus the ordered key list for deterministic Emit().
type Table struct {
	mu      sync.RWMutex
	buckets [hashSize]*entry
	order   []string
	// ClusterName substitutes for %c in Include directive paths.
	ClusterName string
}

func NewTable() *Table {
	return &Table{}
}

func (t *Table) set(key string, value string, op Op) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := hashval(key)
	for e := t.buckets[h]; e != nil; e = e.next {
		if strings.EqualFold(e.key, key) {
			e.value = applyOp(e.value, value, op)
			e.op = op
			return
		}
	}
	t.buckets[h] = &entry{key: key, value: applyOp("", value, op), op: op, next: t.buckets[h]}
	t.order = append(t.order, key)
}

func applyOp(old, val string, op Op) string {
	switch op {
	case OpAppend:
		if old == "" {
			return val
		}
		return old + "," + val
	case OpRemove:
		parts := strings.Split(old, ",")
		out := parts[:0]
		for _, p := range parts {
			if p != val {
				out = append(out, p)
			}
		}
		return strings.Join(out, ",")
	case OpMultiply, OpDivide:
		oldN, errOld := strconv.ParseFloat(old, 64)
		valN, errVal := strconv.ParseFloat(val, 64)
		if errOld != nil || errVal != nil || valN == 0 && op == OpDivide {
			return val
		}
		if op == OpMultiply {
			return strconv.FormatFloat(oldN*valN, 'g', -1, 64)
		}
		return strconv.FormatFloat(oldN/valN, 'g', -1, 64)
	default:
		return val
	}
}

// Get returns the raw string value for key and whether it was present.
func (t *Table) Get(key string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h := hashval(key)
	for e := t.buckets[h]; e != nil; e = e.next {
		if strings.EqualFold(e.key, key) {
			return e.value, true
		}
	}
	return "", false
}

// GetString returns the value or def if the key is absent.
func (t *Table) GetString(key, def string) string {
	if v, ok := t.Get(key); ok {
		return v
	}
	return def
}

// GetInt64 parses the value as a base-10 integer.
func (t *Table) GetInt64(key string) (int64, error) {
	v, ok := t.Get(key)
	if !ok {
		return 0, ridgeerr.New(ridgeerr.CodeUserInput, fmt.Sprintf("missing key %q", key))
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, ridgeerr.Wrap(ridgeerr.CodeUserInput, fmt.Sprintf("key %q is not an integer", key), err)
	}
	return n, nil
}

// GetBool accepts yes/no/true/false/1/0, case-insensitive.
func (t *Table) GetBool(key string) (bool, error) {
	v, ok := t.Get(key)
	if !ok {
		return false, ridgeerr.New(ridgeerr.CodeUserInput, fmt.Sprintf("missing key %q", key))
	}
	switch strings.ToLower(v) {
	case "yes", "true", "1":
		return true, nil
	case "no", "false", "0":
		return false, nil
	default:
		return false, ridgeerr.New(ridgeerr.CodeUserInput, fmt.Sprintf("key %q is not boolean: %q", key, v))
	}
}

// GetHostList parses the value as an EXPLINE-style host-range expression
// and returns the expanded host names.
func (t *Table) GetHostList(key string) ([]string, error) {
	v, ok := t.Get(key)
	if !ok {
		return nil, ridgeerr.New(ridgeerr.CodeUserInput, fmt.Sprintf("missing key %q", key))
	}
	return ExpandHostRange(v)
}

// Keys returns keys in first-seen order, for Emit.
func (t *Table) Keys() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

var continuationRE = regexp.MustCompile(`\\\s*$`)

// continuationRE is compiled exactly once, at package initialization, which
// covers the original's pthread_atfork-avoidance concern: Go forbids safe
// fork-after-threads entirely, so there is no post-fork re-initialization
// to perform. compiledOnce and ensureCompiled do no compilation of their
// own; the regex already exists before any parse runs.
var compiledOnce sync.Once

func ensureCompiled() {
	compiledOnce.Do(func() {
		_ = continuationRE
	})
}

// ParseFile reads path and merges its key/value pairs into t, resolving
// Include directives relative to path's directory.
func (t *Table) ParseFile(path string) error {
	ensureCompiled()
	f, err := os.Open(path)
	if err != nil {
		return ridgeerr.Wrap(ridgeerr.CodeUserInput, "open config file", err)
	}
	defer f.Close()
	return t.parseReader(f, filepath.Dir(path))
}

func (t *Table) parseReader(r io.Reader, baseDir string) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var pending strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if continuationRE.MatchString(line) {
			pending.WriteString(strings.TrimRight(continuationRE.ReplaceAllString(line, ""), " \t"))
			pending.WriteByte(' ')
			continue
		}
		pending.WriteString(line)
		full := pending.String()
		pending.Reset()
		if err := t.parseLine(full, baseDir); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return ridgeerr.Wrap(ridgeerr.CodeUserInput, "read config file", err)
	}
	return nil
}

// parseLine handles one logical (post-continuation) line: comment
// stripping, Include directives, EXPLINE expansion, and key/op/value
// extraction.
func (t *Table) parseLine(line string, baseDir string) error {
	line = stripComment(line)
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	fields := strings.Fields(line)
	if strings.EqualFold(fields[0], "Include") && len(fields) == 2 {
		return t.resolveInclude(fields[1], baseDir)
	}

	expanded, err := expandLine(line)
	if err != nil {
		return err
	}
	for _, l := range expanded {
		if err := t.parseAssignments(l); err != nil {
			return err
		}
	}
	return nil
}

// stripComment removes an unescaped trailing "#..." comment.
func stripComment(line string) string {
	esc := false
	for i := 0; i < len(line); i++ {
		switch {
		case esc:
			esc = false
		case line[i] == '\\':
			esc = true
		case line[i] == '#':
			return line[:i]
		}
	}
	return line
}

// parseAssignments splits a line into whitespace-separated Key=Value (or
// Key+=Value etc.) pairs and stores each.
func (t *Table) parseAssignments(line string) error {
	for _, pair := range strings.Fields(line) {
		key, value, op, ok := splitPair(pair)
		if !ok {
			return ridgeerr.New(ridgeerr.CodeUserInput, fmt.Sprintf("malformed key/value pair %q", pair))
		}
		t.set(key, unescape(value), op)
	}
	return nil
}

func splitPair(pair string) (key, value string, op Op, ok bool) {
	for _, ot := range opTokens {
		if idx := strings.Index(pair, ot.tok); idx > 0 {
			return pair[:idx], pair[idx+len(ot.tok):], ot.op, true
		}
	}
	return "", "", OpSet, false
}

func unescape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
			b.WriteByte(s[i])
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func (t *Table) resolveInclude(rawPath, baseDir string) error {
	path := strings.ReplaceAll(rawPath, "%c", t.ClusterName)
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	return t.ParseFile(path)
}

// Emit serializes the table to YAML for round-trip verification: parsing
// Emit's output back through a fresh Table must be structurally equal to t.
func (t *Table) Emit(w io.Writer) error {
	t.mu.RLock()
	m := make(map[string]string, len(t.order))
	keys := make([]string, len(t.order))
	copy(keys, t.order)
	for _, k := range keys {
		h := hashval(k)
		for e := t.buckets[h]; e != nil; e = e.next {
			if strings.EqualFold(e.key, k) {
				m[k] = e.value
				break
			}
		}
	}
	t.mu.RUnlock()
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(m)
}

// LoadEmitted parses a map previously produced by Emit back into a Table.
func LoadEmitted(r io.Reader) (*Table, error) {
	dec := yaml.NewDecoder(r)
	var m map[string]string
	if err := dec.Decode(&m); err != nil {
		return nil, ridgeerr.Wrap(ridgeerr.CodeUserInput, "decode emitted config", err)
	}
	tbl := NewTable()
	for k, v := range m {
		tbl.set(k, v, OpSet)
	}
	return tbl, nil
}
