// =============================================================================
// gridsubmit - Clipboard HTML Table Parser
// =============================================================================
//
// This module turns the HTML flavor of a clipboard paste into a Grid. The
// pasted markup is usually a whole page copied from a browser: the table we
// want sits several layout tables deep, inside a form.
//
// LOCATOR STRATEGIES:
//   - structural : a fixed selector path down to the target table
//   - heuristic  : the leaf table with the most rows inside the relaxed
//                  container (innermost form, else #conteudo, else body)
//   - auto       : structural first, heuristic when the path matches nothing
//
// CELL CONVERSION:
//   Rows are read in document order. Text is whitespace-normalized and kept
//   as text unless CoerceNumbers is set. colspan and rowspan reserve the
//   covered positions as empty cells.
//
// =============================================================================

package htmlparser

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/ginjaninja78/gridsubmit/internal/types"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNoContent is returned when the input carries no usable markup.
	ErrNoContent = errors.New("no HTML content")

	// ErrTableNotFound is returned when no locator matched a table and
	// OnTableNotFound is set to NotFoundError.
	ErrTableNotFound = errors.New("table not found")
)

// =============================================================================
// OPTIONS
// =============================================================================

// Strategy selects how the target table is located.
type Strategy string

const (
	StrategyStructural Strategy = "structural"
	StrategyHeuristic  Strategy = "heuristic"
	StrategyAuto       Strategy = "auto"
)

// NotFoundPolicy controls what happens when no table is located.
type NotFoundPolicy string

const (
	// NotFoundEmpty returns a zero-row grid and no error.
	NotFoundEmpty NotFoundPolicy = "empty"

	// NotFoundError returns ErrTableNotFound.
	NotFoundError NotFoundPolicy = "error"
)

// DefaultTableSelector is the structural path to the data table on the
// source page.
const DefaultTableSelector = "html body div#pagina table tbody tr td table tbody tr td table tbody tr td table tbody tr td div#conteudo fieldset strong form table:nth-of-type(2)"

// DefaultDescriptionSelector points to the table preceding the data table,
// which carries the free-text label of the listing.
const DefaultDescriptionSelector = "html body div#pagina table tbody tr td table tbody tr td table tbody tr td table tbody tr td div#conteudo fieldset strong form table:nth-of-type(1)"

// Options configures Extract.
type Options struct {
	Strategy            Strategy
	TableSelector       string
	DescriptionSelector string
	OnTableNotFound     NotFoundPolicy

	// CoerceNumbers converts numeric-looking cell text to float64.
	CoerceNumbers bool

	Logger *slog.Logger
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Strategy:            StrategyAuto,
		TableSelector:       DefaultTableSelector,
		DescriptionSelector: DefaultDescriptionSelector,
		OnTableNotFound:     NotFoundEmpty,
	}
}

func applyDefaults(opts *Options) {
	if opts.Strategy == "" {
		opts.Strategy = StrategyAuto
	}
	if opts.TableSelector == "" {
		opts.TableSelector = DefaultTableSelector
	}
	if opts.DescriptionSelector == "" {
		opts.DescriptionSelector = DefaultDescriptionSelector
	}
	if opts.OnTableNotFound == "" {
		opts.OnTableNotFound = NotFoundEmpty
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// =============================================================================
// RESULT
// =============================================================================

// Result is the outcome of a clipboard extraction.
type Result struct {
	Grid        types.Grid
	Description string

	// Strategy is the locator that produced the table. It is empty when no
	// table was found.
	Strategy Strategy
}

// Found reports whether a table was located.
func (r *Result) Found() bool {
	return r.Strategy != ""
}

// =============================================================================
// EXTRACTION
// =============================================================================

// Extract parses raw clipboard HTML and converts the located table into a
// Grid.
//
// RETURNS:
//   - The extracted grid and description label.
//   - ErrNoContent when the input has no markup.
//   - ErrTableNotFound when nothing matched and the policy is NotFoundError.
func Extract(raw string, opts Options) (*Result, error) {
	applyDefaults(&opts)

	if strings.TrimSpace(raw) == "" {
		return nil, ErrNoContent
	}

	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoContent, err)
	}
	if !hasElementContent(doc) {
		return nil, ErrNoContent
	}

	table, label, strategy, err := locate(doc, opts)
	if err != nil {
		return nil, err
	}

	if table == nil {
		if opts.OnTableNotFound == NotFoundError {
			return nil, ErrTableNotFound
		}
		opts.Logger.Warn("no table matched; returning empty grid", "strategy", string(opts.Strategy))
		return &Result{Grid: types.Grid{}}, nil
	}

	grid := TableToGrid(table, opts.CoerceNumbers)
	opts.Logger.Debug("table extracted", "strategy", string(strategy), "rows", len(grid))

	return &Result{
		Grid:        grid,
		Description: label,
		Strategy:    strategy,
	}, nil
}

// locate runs the configured strategy and returns the data table and its
// description label.
func locate(doc *html.Node, opts Options) (*html.Node, string, Strategy, error) {
	if opts.Strategy == StrategyStructural || opts.Strategy == StrategyAuto {
		tableSel, err := ParseSelector(opts.TableSelector)
		if err != nil {
			return nil, "", "", fmt.Errorf("table selector: %w", err)
		}
		descSel, err := ParseSelector(opts.DescriptionSelector)
		if err != nil {
			return nil, "", "", fmt.Errorf("description selector: %w", err)
		}
		if table := tableSel.First(doc); table != nil {
			return table, labelText(descSel.First(doc)), StrategyStructural, nil
		}
		if opts.Strategy == StrategyStructural {
			return nil, "", "", nil
		}
	}

	if opts.Strategy != StrategyHeuristic && opts.Strategy != StrategyAuto {
		return nil, "", "", fmt.Errorf("unknown strategy %q", opts.Strategy)
	}

	table, label := locateHeuristic(doc)
	if table == nil {
		return nil, "", "", nil
	}
	return table, labelText(label), StrategyHeuristic, nil
}

// locateHeuristic picks the leaf table with the most rows inside the relaxed
// container. The label is the leaf table immediately preceding it among the
// candidates.
func locateHeuristic(doc *html.Node) (table, label *html.Node) {
	candidates := candidateTables(doc)
	best := -1
	bestRows := 0
	for i, t := range candidates {
		if rows := len(tableRows(t)); rows > bestRows {
			best, bestRows = i, rows
		}
	}
	if best < 0 {
		return nil, nil
	}
	if best > 0 {
		label = candidates[best-1]
	}
	return candidates[best], label
}

// candidateTables returns leaf tables in document order, restricted to the
// first containment level that yields any: forms, then #conteudo, then the
// whole document.
func candidateTables(doc *html.Node) []*html.Node {
	leaves := findAll(doc, func(n *html.Node) bool {
		return n.DataAtom == atom.Table && !containsTable(n)
	})

	inside := func(pred func(*html.Node) bool) []*html.Node {
		var out []*html.Node
		for _, t := range leaves {
			for p := t.Parent; p != nil; p = p.Parent {
				if p.Type == html.ElementNode && pred(p) {
					out = append(out, t)
					break
				}
			}
		}
		return out
	}

	if c := inside(func(n *html.Node) bool { return n.DataAtom == atom.Form }); len(c) > 0 {
		return c
	}
	if c := inside(func(n *html.Node) bool { return getAttr(n, "id") == "conteudo" }); len(c) > 0 {
		return c
	}
	return leaves
}

// =============================================================================
// TABLE CONVERSION
// =============================================================================

// TableToGrid converts a <table> element into a Grid. Rows of nested tables
// are not included.
func TableToGrid(table *html.Node, coerceNumbers bool) types.Grid {
	grid := types.Grid{}
	var reserved []int // rows still covered by a rowspan, per column

	for _, tr := range tableRows(table) {
		row := types.Row{}
		col := 0
		skipReserved := func() {
			for col < len(reserved) && reserved[col] > 0 {
				row = setCell(row, col, nil)
				col++
			}
		}

		for c := tr.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode || (c.DataAtom != atom.Td && c.DataAtom != atom.Th) {
				continue
			}
			skipReserved()

			row = setCell(row, col, cellValue(c, coerceNumbers))
			colspan := spanAttr(c, "colspan", 1000)
			rowspan := spanAttr(c, "rowspan", 65534)
			for k := 0; k < colspan; k++ {
				if k > 0 {
					row = setCell(row, col+k, nil)
				}
				if rowspan > 1 {
					for len(reserved) <= col+k {
						reserved = append(reserved, 0)
					}
					reserved[col+k] = rowspan
				}
			}
			col += colspan
		}

		for i := range reserved {
			if reserved[i] > 0 {
				reserved[i]--
			}
		}
		grid = append(grid, trimTrailingBlanks(row))
	}

	return grid
}

// trimTrailingBlanks ends a row at its last non-empty cell.
func trimTrailingBlanks(row types.Row) types.Row {
	end := len(row)
	for end > 0 && row[end-1] == nil {
		end--
	}
	return row[:end]
}

// tableRows returns the <tr> elements owned by table, skipping nested tables.
func tableRows(table *html.Node) []*html.Node {
	var rows []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch c.DataAtom {
			case atom.Tr:
				rows = append(rows, c)
			case atom.Thead, atom.Tbody, atom.Tfoot:
				walk(c)
			}
		}
	}
	walk(table)
	return rows
}

func setCell(row types.Row, col int, v types.Value) types.Row {
	for len(row) <= col {
		row = append(row, nil)
	}
	row[col] = v
	return row
}

func spanAttr(n *html.Node, key string, max int) int {
	v, err := strconv.Atoi(strings.TrimSpace(getAttr(n, key)))
	if err != nil || v < 1 {
		return 1
	}
	if v > max {
		return max
	}
	return v
}

var numericPattern = regexp.MustCompile(`^[-+]?(\d+\.?\d*|\.\d+)([eE][-+]?\d+)?$`)

// cellValue returns nil for a blank cell, a float64 for numeric text when
// coercion is on, and the normalized text otherwise.
func cellValue(cell *html.Node, coerceNumbers bool) types.Value {
	text := collectText(cell)
	if text == "" {
		return nil
	}
	if coerceNumbers && numericPattern.MatchString(text) {
		if f, err := strconv.ParseFloat(text, 64); err == nil {
			return f
		}
	}
	return text
}

// =============================================================================
// TEXT HELPERS
// =============================================================================

// collectText returns the whitespace-normalized text content of n.
// <br> counts as a space; script and style content is dropped.
func collectText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
			return
		case html.ElementNode:
			switch n.DataAtom {
			case atom.Script, atom.Style:
				return
			case atom.Br:
				sb.WriteByte(' ')
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

var labelPolicy = bluemonday.StrictPolicy()

// labelText renders n, strips every tag and returns the plain label text.
func labelText(n *html.Node) string {
	if n == nil {
		return ""
	}
	var sb strings.Builder
	if err := html.Render(&sb, n); err != nil {
		return collectText(n)
	}
	// Separate adjacent cells before the tags are stripped.
	rendered := strings.NewReplacer("</td>", " </td>", "</th>", " </th>", "<br>", " ", "<br/>", " ").Replace(sb.String())
	plain := html.UnescapeString(labelPolicy.Sanitize(rendered))
	return strings.Join(strings.Fields(plain), " ")
}

func hasElementContent(doc *html.Node) bool {
	body := findFirst(doc, func(n *html.Node) bool { return n.DataAtom == atom.Body })
	if body == nil {
		return false
	}
	for c := body.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return true
		}
	}
	return false
}

func containsTable(table *html.Node) bool {
	var found bool
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil && !found; c = c.NextSibling {
			if c.Type == html.ElementNode && c.DataAtom == atom.Table {
				found = true
				return
			}
			walk(c)
		}
	}
	walk(table)
	return found
}

func findAll(root *html.Node, pred func(*html.Node) bool) []*html.Node {
	var results []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && pred(n) {
			results = append(results, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return results
}

func findFirst(root *html.Node, pred func(*html.Node) bool) *html.Node {
	all := findAll(root, pred)
	if len(all) == 0 {
		return nil
	}
	return all[0]
}
