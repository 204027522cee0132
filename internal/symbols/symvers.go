package symbols

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	ferrors "git.home.luguber.info/inful/kbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/kbuild/internal/util/sets"
)

// Export is one row of a Module.symvers file.
type Export struct {
	CRC       string
	Symbol    string
	Module    string
	Kind      string
	Namespace string
}

// ParseSymvers reads the tab separated export table written by modpost.
func ParseSymvers(r io.Reader) ([]Export, error) {
	var out []Export
	scanner := bufio.NewScanner(r)
	for n := 1; scanner.Scan(); n++ {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		f := strings.Split(line, "\t")
		if len(f) < 4 {
			return nil, fmt.Errorf("symvers line %d: expected at least 4 fields, got %d", n, len(f))
		}
		e := Export{CRC: f[0], Symbol: f[1], Module: f[2], Kind: f[3]}
		if len(f) > 4 {
			e.Namespace = f[4]
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read symvers: %w", err)
	}
	return out, nil
}

// ExportedBy returns the sorted symbols exported by any of objects.
func ExportedBy(exports []Export, objects []string) []string {
	want := sets.New(objects...)
	got := sets.New[string]()
	for _, e := range exports {
		if want.Has(e.Module) {
			got.Add(e.Symbol)
		}
	}
	return sets.Sorted(got)
}

// MismatchError lists the differences between the expected and the actual
// exported symbol sets.
type MismatchError struct {
	// Missing are listed symbols the build does not export.
	Missing []string
	// Extra are exported symbols absent from the list.
	Extra []string
}

func (e *MismatchError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(e.Missing, " "))
	}
	if len(e.Extra) > 0 {
		parts = append(parts, "unexpected: "+strings.Join(e.Extra, " "))
	}
	return fmt.Sprintf("exported symbols differ from the KMI symbol list (%s)", strings.Join(parts, "; "))
}

// Compare returns a MismatchError when expected and exported differ, wrapped
// as a consistency failure.
func Compare(expected, exported []string) error {
	exp := sets.New(expected...)
	act := sets.New(exported...)
	m := &MismatchError{
		Missing: sets.Sorted(exp.Difference(act)),
		Extra:   sets.Sorted(act.Difference(exp)),
	}
	if len(m.Missing) == 0 && len(m.Extra) == 0 {
		return nil
	}
	return ferrors.WrapError(m, ferrors.CategoryConsistency, "KMI symbol list mismatch").
		WithHint("update KMI_SYMBOL_LIST to match the exported symbols, or fix the exports").
		WithContext("missing", len(m.Missing)).
		WithContext("unexpected", len(m.Extra)).
		Build()
}

// CompareSymvers checks a Module.symvers file against a raw symbol list.
func CompareSymvers(symversPath string, objects, expected []string) error {
	f, err := os.Open(symversPath)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryPrecondition, "exported symbol table not found").
			WithContext("path", symversPath).
			Build()
	}
	defer func() { _ = f.Close() }()
	exports, err := ParseSymvers(f)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryConsistency, "unreadable exported symbol table").
			WithContext("path", symversPath).
			Build()
	}
	return Compare(slices.Clone(expected), ExportedBy(exports, objects))
}
