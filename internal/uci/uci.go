package uci

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Standard subsystem file names under the host config directory.
const (
	FileNetwork  = "network"
	FileFirewall = "firewall"
	FileWireless = "wireless"
	FileQos      = "qos"
	FileDHCP     = "dhcp"
)

// RouterOwner is the sentinel owner tag for sections owned by the router
// itself rather than by a chute.
const RouterOwner = "__PARADROP__"

// Section is one record in a host configuration file.
//
// Name is optional; OS config formats permit repeated anonymous sections of
// the same type, so (Type, Name) is not a unique key and section identity is
// always pattern-based. Owner is the trailing comment token on the section
// line and scopes the section to the chute (or router) that created it.
// Option values are strings or []string after normalization.
type Section struct {
	Type    string
	Name    string
	Owner   string
	Options map[string]any
}

// IsEmpty reports whether the section carries no matchable fields.
func (s *Section) IsEmpty() bool {
	return s == nil || (s.Type == "" && s.Name == "" && s.Owner == "")
}

func (s *Section) clone() *Section {
	c := &Section{Type: s.Type, Name: s.Name, Owner: s.Owner}
	if s.Options != nil {
		c.Options = make(map[string]any, len(s.Options))
		for k, v := range s.Options {
			c.Options[k] = Stringify(v)
		}
	}
	return c
}

// key is the canonical identity of a section for multiset comparison.
// withOwner=false drops the owner tag so chute config sets can be compared
// independent of which owner produced them.
func (s *Section) key(withOwner bool) string {
	var b strings.Builder
	b.WriteString(s.Type)
	b.WriteByte('\x00')
	b.WriteString(s.Name)
	b.WriteByte('\x00')
	if withOwner {
		b.WriteString(s.Owner)
	}
	b.WriteByte('\x00')
	keys := make([]string, 0, len(s.Options))
	for k := range s.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(optionKey(Stringify(s.Options[k])))
		b.WriteByte('\x00')
	}
	return b.String()
}

// matches reports whether the section matches the pattern. Every field
// present in the pattern must equal the section's field; absent fields are
// wildcards. An empty pattern matches nothing; that is a deliberate guard
// against an uninitialized pattern selecting the whole file. Use MatchAll
// for a full listing.
func (s *Section) matches(pat *Section, ignoreOwner bool) bool {
	if pat.IsEmpty() {
		return false
	}
	if pat.Type != "" && pat.Type != s.Type {
		return false
	}
	if pat.Name != "" && pat.Name != s.Name {
		return false
	}
	if !ignoreOwner && pat.Owner != "" && pat.Owner != s.Owner {
		return false
	}
	return true
}

// Config is an in-memory, file-backed database of configuration sections.
type Config struct {
	path     string
	sections []*Section
	dirty    bool
}

// Load parses the sectioned config file at path. A missing file yields an
// empty store bound to that path.
func Load(path string) (*Config, error) {
	c := &Config{path: path}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return c, nil
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var cur *Section
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		tokens, comment := splitLine(line)
		if len(tokens) == 0 {
			continue
		}
		switch tokens[0] {
		case "config":
			if len(tokens) < 2 {
				return nil, fmt.Errorf("%s: config line missing type: %q", path, line)
			}
			cur = &Section{Type: tokens[1], Owner: comment, Options: make(map[string]any)}
			if len(tokens) > 2 {
				cur.Name = tokens[2]
			}
			c.sections = append(c.sections, cur)
		case "option":
			if cur == nil || len(tokens) < 3 {
				return nil, fmt.Errorf("%s: stray option line: %q", path, line)
			}
			cur.Options[tokens[1]] = tokens[2]
		case "list":
			if cur == nil || len(tokens) < 3 {
				return nil, fmt.Errorf("%s: stray list line: %q", path, line)
			}
			switch prev := cur.Options[tokens[1]].(type) {
			case nil:
				cur.Options[tokens[1]] = []string{tokens[2]}
			case []string:
				cur.Options[tokens[1]] = append(prev, tokens[2])
			case string:
				cur.Options[tokens[1]] = []string{prev, tokens[2]}
			}
		default:
			return nil, fmt.Errorf("%s: unrecognized line: %q", path, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return c, nil
}

// splitLine tokenizes one line, honoring single/double quotes, and returns
// the trailing #comment token (without '#') if present.
func splitLine(line string) ([]string, string) {
	var tokens []string
	var comment string
	var cur strings.Builder
	inQuote := byte(0)
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case inQuote != 0:
			if ch == inQuote {
				tokens = append(tokens, cur.String())
				cur.Reset()
				inQuote = 0
			} else {
				cur.WriteByte(ch)
			}
		case ch == '\'' || ch == '"':
			flush()
			inQuote = ch
		case ch == '#':
			flush()
			comment = strings.TrimSpace(line[i+1:])
			return tokens, comment
		case ch == ' ' || ch == '\t':
			flush()
		default:
			cur.WriteByte(ch)
		}
	}
	flush()
	return tokens, comment
}

// Path returns the file this store was loaded from.
func (c *Config) Path() string { return c.path }

// Dirty reports whether in-memory state has diverged from the file.
func (c *Config) Dirty() bool { return c.dirty }

// MatchAll returns every section in file order. This is the explicit
// match-everything affordance; Match with an empty pattern returns nothing.
func (c *Config) MatchAll() []*Section {
	out := make([]*Section, 0, len(c.sections))
	for _, s := range c.sections {
		out = append(out, s.clone())
	}
	return out
}

// Match returns sections matching the pattern on type, name and owner tag.
func (c *Config) Match(pat *Section) []*Section {
	return c.match(pat, false)
}

// MatchIgnoringOwner matches on type and name only. Used for cross-owner
// conflict detection.
func (c *Config) MatchIgnoringOwner(pat *Section) []*Section {
	return c.match(pat, true)
}

func (c *Config) match(pat *Section, ignoreOwner bool) []*Section {
	var out []*Section
	for _, s := range c.sections {
		if s.matches(pat, ignoreOwner) {
			out = append(out, s.clone())
		}
	}
	return out
}

// SectionsOwnedBy returns all sections whose owner tag equals owner.
func (c *Config) SectionsOwnedBy(owner string) []*Section {
	var out []*Section
	for _, s := range c.sections {
		if s.Owner == owner {
			out = append(out, s.clone())
		}
	}
	return out
}

// Exists reports whether at least one section matches pat with options also
// matching optPat.
func (c *Config) Exists(pat *Section, optPat map[string]any) bool {
	for _, s := range c.sections {
		if s.matches(pat, false) && OptionsMatch(optPat, s.Options) {
			return true
		}
	}
	return false
}

// Add appends a section and marks the store dirty.
func (c *Config) Add(sec *Section) {
	c.sections = append(c.sections, sec.clone())
	c.dirty = true
}

// AddAll appends each section in order.
func (c *Config) AddAll(secs []*Section) {
	for _, s := range secs {
		c.Add(s)
	}
}

// Del removes every section matching (pat, optPat) and marks the store dirty
// when anything was removed. An empty section pattern removes nothing.
func (c *Config) Del(pat *Section, optPat map[string]any) int {
	kept := c.sections[:0]
	removed := 0
	for _, s := range c.sections {
		if s.matches(pat, false) && OptionsMatch(optPat, s.Options) {
			removed++
			continue
		}
		kept = append(kept, s)
	}
	c.sections = kept
	if removed > 0 {
		c.dirty = true
	}
	return removed
}

// DelAll removes sections for each (pattern, options) pair.
func (c *Config) DelAll(pairs []*Section) int {
	n := 0
	for _, p := range pairs {
		n += c.Del(&Section{Type: p.Type, Name: p.Name, Owner: p.Owner}, p.Options)
	}
	return n
}

// DelOwnedBy removes every section owned by owner and marks the store dirty
// when anything was removed.
func (c *Config) DelOwnedBy(owner string) int {
	kept := c.sections[:0]
	removed := 0
	for _, s := range c.sections {
		if s.Owner == owner {
			removed++
			continue
		}
		kept = append(kept, s)
	}
	c.sections = kept
	if removed > 0 {
		c.dirty = true
	}
	return removed
}

// Equal reports whether two stores hold the same multiset of semantically
// stringified sections, independent of on-disk ordering.
func (c *Config) Equal(other *Config) bool {
	if other == nil {
		return false
	}
	return setsEqual(c.sections, other.sections, true)
}

// OwnedSetsEqual compares two section sets ignoring the owner tag, so a
// chute's configuration can be validated for equivalence independent of
// which owner produced it.
func OwnedSetsEqual(a, b []*Section) bool {
	return setsEqual(a, b, false)
}

func setsEqual(a, b []*Section, withOwner bool) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int, len(a))
	for _, s := range a {
		counts[s.key(withOwner)]++
	}
	for _, s := range b {
		k := s.key(withOwner)
		counts[k]--
		if counts[k] < 0 {
			return false
		}
	}
	return true
}

// Save writes the in-memory sections to the store's path. The pre-write file
// content, if any, is preserved under a name derived from backupToken; that
// backup is the substrate rollback actions use to restore prior state.
func (c *Config) Save(backupToken string) error {
	if backupToken == "" {
		return errors.New("backup token required")
	}
	if prev, err := os.ReadFile(c.path); err == nil {
		if err := os.WriteFile(BackupPath(c.path, backupToken), prev, 0o600); err != nil {
			return fmt.Errorf("write backup: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read %s: %w", c.path, err)
	}
	if err := os.WriteFile(c.path, []byte(c.render()), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", c.path, err)
	}
	c.dirty = false
	return nil
}

// Restore replaces the file content with the backup written under token and
// reloads the in-memory sections from it.
func (c *Config) Restore(backupToken string) error {
	data, err := os.ReadFile(BackupPath(c.path, backupToken))
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0o600); err != nil {
		return fmt.Errorf("restore %s: %w", c.path, err)
	}
	re, err := Load(c.path)
	if err != nil {
		return err
	}
	c.sections = re.sections
	c.dirty = false
	return nil
}

// BackupPath derives the backup file name for a store path and token.
func BackupPath(path, token string) string {
	return path + "." + token + ".bak"
}

func (c *Config) render() string {
	var b strings.Builder
	for _, s := range c.sections {
		b.WriteString("config ")
		b.WriteString(s.Type)
		if s.Name != "" {
			b.WriteString(" '")
			b.WriteString(s.Name)
			b.WriteString("'")
		}
		if s.Owner != "" {
			b.WriteString(" #")
			b.WriteString(s.Owner)
		}
		b.WriteString("\n")
		keys := make([]string, 0, len(s.Options))
		for k := range s.Options {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			switch v := Stringify(s.Options[k]).(type) {
			case []string:
				for _, e := range v {
					fmt.Fprintf(&b, "\tlist %s '%s'\n", k, e)
				}
			case string:
				fmt.Fprintf(&b, "\toption %s '%s'\n", k, v)
			default:
				fmt.Fprintf(&b, "\toption %s '%v'\n", k, v)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}
