package symbols

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
)

// Source is one symbol list input with the name it is reported under.
type Source struct {
	Name    string
	Symbols []string
}

// Parse reads a symbol list. Blank lines, '#' comments and "[section]"
// headers are skipped; the first field of every other line is a symbol.
func Parse(r io.Reader) ([]string, error) {
	var out []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "[") {
			continue
		}
		out = append(out, strings.Fields(line)[0])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read symbol list: %w", err)
	}
	return out, nil
}

// ParseFile reads the symbol list at path. name labels it in reports.
func ParseFile(path, name string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return Source{}, err
	}
	defer func() { _ = f.Close() }()
	syms, err := Parse(f)
	if err != nil {
		return Source{}, fmt.Errorf("%s: %w", path, err)
	}
	return Source{Name: name, Symbols: syms}, nil
}

// List is a de-duplicated set of symbols that remembers where each symbol
// was first seen and which sources contributed.
type List struct {
	order   []string
	origins map[string][]string
	sources []sourceStat
}

type sourceStat struct {
	name  string
	total int
	added int
}

// Merge combines sources in order. A symbol keeps the position of its first
// occurrence.
func Merge(sources ...Source) *List {
	l := &List{origins: make(map[string][]string)}
	for _, src := range sources {
		stat := sourceStat{name: src.Name}
		for _, sym := range src.Symbols {
			stat.total++
			prev, seen := l.origins[sym]
			if !seen {
				l.order = append(l.order, sym)
				stat.added++
			}
			if !slices.Contains(prev, src.Name) {
				l.origins[sym] = append(prev, src.Name)
			}
		}
		l.sources = append(l.sources, stat)
	}
	return l
}

// Len returns the number of distinct symbols.
func (l *List) Len() int { return len(l.order) }

// Names returns the symbols in first-seen order.
func (l *List) Names() []string { return slices.Clone(l.order) }

// Sorted returns the symbols in lexical order.
func (l *List) Sorted() []string {
	s := slices.Clone(l.order)
	slices.Sort(s)
	return s
}

// Origins returns the sources that listed sym.
func (l *List) Origins(sym string) []string { return slices.Clone(l.origins[sym]) }

// Normalized renders the list in symbol list file format.
func (l *List) Normalized() string {
	var b strings.Builder
	b.WriteString("[abi_symbol_list]\n")
	for _, s := range l.Sorted() {
		b.WriteString("  ")
		b.WriteString(s)
		b.WriteByte('\n')
	}
	return b.String()
}

// Raw renders bare symbol names, one per line, as the kernel configuration
// consumes them.
func (l *List) Raw() string {
	var b strings.Builder
	for _, s := range l.Sorted() {
		b.WriteString(s)
		b.WriteByte('\n')
	}
	return b.String()
}

// Report describes what was merged from where.
func (l *List) Report() string {
	var b strings.Builder
	fmt.Fprintf(&b, "KMI symbol list: %d symbols from %d sources\n", l.Len(), len(l.sources))
	for _, s := range l.sources {
		fmt.Fprintf(&b, "  %s: %d listed, %d new\n", s.name, s.total, s.added)
	}
	b.WriteString("\n")
	for _, sym := range l.Sorted() {
		fmt.Fprintf(&b, "%s\t%s\n", sym, strings.Join(l.origins[sym], ", "))
	}
	return b.String()
}
