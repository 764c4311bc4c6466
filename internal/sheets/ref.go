package sheets

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultColumns is the column span used when only a tab name is known.
const DefaultColumns = "A:Z"

var cellRangeRe = regexp.MustCompile(`^([A-Za-z]{1,3})(\d*)(?::([A-Za-z]{1,3})(\d*))?$`)

// Ref is a parsed A1-notation range such as "Sheet1!A1:Z" or "'My tab'!B:F".
// Zero rows mean the bound is open.
type Ref struct {
	Sheet    string
	StartCol string
	StartRow int
	EndCol   string
	EndRow   int
}

// ParseRef parses an A1 range. A bare tab name expands to DefaultColumns.
func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Ref{}, fmt.Errorf("empty range")
	}

	var r Ref

	cells := s

	if i := strings.LastIndex(s, "!"); i >= 0 {
		r.Sheet = unquoteSheet(s[:i])
		cells = s[i+1:]
	} else if !cellRangeRe.MatchString(s) {
		r.Sheet = unquoteSheet(s)
		cells = DefaultColumns
	}

	if cells == "" {
		cells = DefaultColumns
	}

	m := cellRangeRe.FindStringSubmatch(cells)
	if m == nil {
		return Ref{}, fmt.Errorf("invalid range %q", s)
	}

	r.StartCol = strings.ToUpper(m[1])
	r.StartRow = atoiOrZero(m[2])
	r.EndCol = strings.ToUpper(m[3])
	r.EndRow = atoiOrZero(m[4])

	if r.EndCol == "" {
		r.EndCol = r.StartCol
		r.EndRow = r.StartRow
	}

	return r, nil
}

// String renders the ref in A1 notation, quoting the tab name when needed.
func (r Ref) String() string {
	var b strings.Builder

	if r.Sheet != "" {
		b.WriteString(quoteSheet(r.Sheet))
		b.WriteByte('!')
	}

	b.WriteString(r.StartCol)

	if r.StartRow > 0 {
		b.WriteString(strconv.Itoa(r.StartRow))
	}

	b.WriteByte(':')
	b.WriteString(r.EndCol)

	if r.EndRow > 0 {
		b.WriteString(strconv.Itoa(r.EndRow))
	}

	return b.String()
}

// FirstRow returns the 1-based row the range starts at.
func (r Ref) FirstRow() int {
	if r.StartRow > 0 {
		return r.StartRow
	}

	return 1
}

// HeaderRef narrows a range to its first row: "Sheet1!A:Z" becomes
// "Sheet1!A1:Z1". Unparseable refs are returned unchanged.
func HeaderRef(ref string) string {
	r, err := ParseRef(ref)
	if err != nil {
		return ref
	}

	r.StartRow = r.FirstRow()
	r.EndRow = r.StartRow

	return r.String()
}

// TabRef returns the default range for a tab title.
func TabRef(title string) string {
	return Ref{Sheet: title, StartCol: "A", EndCol: "Z"}.String()
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}

	return n
}

func unquoteSheet(s string) string {
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return strings.ReplaceAll(s[1:len(s)-1], "''", "'")
	}

	return s
}

func quoteSheet(s string) string {
	for _, c := range s {
		if !(c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
			return "'" + strings.ReplaceAll(s, "'", "''") + "'"
		}
	}

	return s
}
