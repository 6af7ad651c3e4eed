// Package tasks reads the list of jobs to analyze. Each job declares the tables it
// writes and the tables it reads from outside its own chain.
package tasks

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
)

// ErrUnknownFormat is returned for a format outside the supported set.
var ErrUnknownFormat = errors.New("unknown task format")

// Format selects the task list layout.
type Format string

const (
	// FormatDefault is "id<TAB>t1,t2<TAB>s1,s2".
	FormatDefault Format = "default"
	// FormatOM is the tab separated export of the job scheduler.
	FormatOM Format = "om"
	// FormatYAML is a YAML list of {id, targets, sources}.
	FormatYAML Format = "yaml"
)

// Formats lists the supported formats.
func Formats() []Format {
	return []Format{FormatDefault, FormatOM, FormatYAML}
}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if f == "" {
		return FormatDefault, nil
	}
	for _, known := range Formats() {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// Descriptor is one job to analyze.
type Descriptor struct {
	ID      string   `json:"id" yaml:"id"`
	Targets []string `json:"targets" yaml:"targets"`
	Sources []string `json:"sources" yaml:"sources"`
}

// Options tunes parsing.
type Options struct {
	// SkipHeader drops the first line of tab separated input.
	SkipHeader bool
	// OnlySuccessful keeps only scheduler rows whose modelling state is a success.
	OnlySuccessful bool
	Logger         *slog.Logger
}

// Source enumerates descriptors.
type Source interface {
	HasNext() bool
	Next() Descriptor
}

// List is a Source over descriptors held in memory, in first-appearance order.
type List struct {
	items []Descriptor
	pos   int
}

// NewList creates a list. Descriptors sharing an id are merged.
func NewList(descs ...Descriptor) *List {
	b := newBuilder()
	for _, d := range descs {
		b.add(d.ID, d.Targets, d.Sources)
	}
	return b.list()
}

// HasNext reports whether Next has another descriptor.
func (l *List) HasNext() bool { return l.pos < len(l.items) }

// Next returns the next descriptor. It panics past the end, like an exhausted iterator.
func (l *List) Next() Descriptor {
	d := l.items[l.pos]
	l.pos++
	return d
}

// Len returns the number of descriptors.
func (l *List) Len() int { return len(l.items) }

// All returns every descriptor regardless of the iteration position.
func (l *List) All() []Descriptor {
	out := make([]Descriptor, len(l.items))
	copy(out, l.items)
	return out
}

// Open reads the task list at path.
func Open(format Format, path string, opts Options) (*List, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open task list: %w", err)
	}
	defer func() { _ = f.Close() }()

	list, err := Read(format, f, opts)
	if err != nil {
		return nil, fmt.Errorf("read task list %s: %w", path, err)
	}
	return list, nil
}

// Read parses a task list from r.
func Read(format Format, r io.Reader, opts Options) (*List, error) {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	switch format {
	case FormatDefault, "":
		return readDefault(r, opts)
	case FormatOM:
		return readOM(r, opts)
	case FormatYAML:
		return readYAML(r, opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// builder merges rows by id while keeping first-appearance order.
type builder struct {
	order   []string
	targets map[string]map[string]struct{}
	sources map[string]map[string]struct{}
}

func newBuilder() *builder {
	return &builder{
		targets: make(map[string]map[string]struct{}),
		sources: make(map[string]map[string]struct{}),
	}
}

func (b *builder) add(id string, targets, sources []string) {
	id = strings.TrimSpace(id)
	if _, ok := b.targets[id]; !ok {
		b.order = append(b.order, id)
		b.targets[id] = make(map[string]struct{})
		b.sources[id] = make(map[string]struct{})
	}
	addTables(b.targets[id], targets)
	addTables(b.sources[id], sources)
}

func (b *builder) list() *List {
	items := make([]Descriptor, 0, len(b.order))
	for _, id := range b.order {
		items = append(items, Descriptor{
			ID:      id,
			Targets: sortedKeys(b.targets[id]),
			Sources: sortedKeys(b.sources[id]),
		})
	}
	return &List{items: items}
}

func addTables(set map[string]struct{}, tables []string) {
	for _, t := range tables {
		if t = NormalizeTable(t); t != "" {
			set[t] = struct{}{}
		}
	}
}

// NormalizeTable trims and lower-cases a table name.
func NormalizeTable(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}

// SplitTables splits a comma separated table list.
func SplitTables(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
