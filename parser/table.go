package parser

import (
	"errors"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/aluiziolira/go-scrape-fasteners/models"
)

// ErrNoHeaderRow is returned when a table has no all-header rows to name its columns.
var ErrNoHeaderRow = errors.New("table has no header row")

// Cell is one grid position. Filled is false until a table cell claims it.
type Cell struct {
	Text   string
	Filled bool
}

type gridRow = *GrowingSlice[Cell]

// Grid is the 2D result of ExtractTable. Cells covered by a rowspan or colspan
// hold a copy of the spanning cell's text.
type Grid struct {
	rows *GrowingSlice[gridRow]
}

func newGrid() *Grid {
	return &Grid{
		rows: NewGrowingSlice(func() gridRow {
			return NewGrowingSlice[Cell](nil)
		}),
	}
}

// Rows returns the number of rows.
func (g *Grid) Rows() int {
	return g.rows.Len()
}

// Row returns the texts of row i. Unfilled positions are empty strings.
func (g *Grid) Row(i int) []string {
	if i < 0 || i >= g.rows.Len() {
		return nil
	}
	cells := g.rows.Get(i).Slice()
	out := make([]string, len(cells))
	for j, c := range cells {
		out[j] = c.Text
	}
	return out
}

// At returns the cell at (i, j) without growing the grid.
func (g *Grid) At(i, j int) Cell {
	if i < 0 || j < 0 || i >= g.rows.Len() {
		return Cell{}
	}
	row := g.rows.Get(i)
	if j >= row.Len() {
		return Cell{}
	}
	return row.Get(j)
}

// Values returns every row as a slice of texts.
func (g *Grid) Values() [][]string {
	out := make([][]string, g.rows.Len())
	for i := range out {
		out[i] = g.Row(i)
	}
	return out
}

// ExtractTable reads every tr of table into a Grid and counts the rows made up
// only of th cells. The count includes all-header rows anywhere in the table,
// not just a leading block, and a row with no cells counts as a header row.
func ExtractTable(table *goquery.Selection) (*Grid, int) {
	grid := newGrid()
	headerCount := 0

	table.Find("tr").Each(func(i int, tr *goquery.Selection) {
		j := 0
		isHeaderRow := true
		tr.ChildrenFiltered("th, td").Each(func(_ int, cell *goquery.Selection) {
			value := cellText(cell)
			rowspan := spanAttr(cell, "rowspan")
			colspan := spanAttr(cell, "colspan")
			if goquery.NodeName(cell) != "th" {
				isHeaderRow = false
			}

			row := grid.rows.Get(i)
			for row.Get(j).Filled {
				j++
			}
			for di := 0; di < rowspan; di++ {
				target := grid.rows.Get(i + di)
				for dj := 0; dj < colspan; dj++ {
					target.Set(j+dj, Cell{Text: value, Filled: true})
				}
			}
			j++
		})
		if isHeaderRow {
			headerCount++
		}
	})

	return grid, headerCount
}

// TableRecords pairs the last header row with each following row. Pairs stop
// at the shorter of the two rows and records whose values are all empty are
// dropped.
func TableRecords(grid *Grid, headerCount int) ([]models.MetricsRow, error) {
	if headerCount < 1 {
		return nil, ErrNoHeaderRow
	}

	header := grid.Row(headerCount - 1)
	var records []models.MetricsRow
	for i := headerCount; i < grid.Rows(); i++ {
		row := grid.Row(i)
		n := min(len(header), len(row))
		record := make(models.MetricsRow, n)
		for k := 0; k < n; k++ {
			record[header[k]] = row[k]
		}
		if record.HasData() {
			records = append(records, record)
		}
	}
	return records, nil
}

// ExtractMetrics runs ExtractTable and TableRecords on table.
func ExtractMetrics(table *goquery.Selection) ([]models.MetricsRow, error) {
	grid, headerCount := ExtractTable(table)
	return TableRecords(grid, headerCount)
}

// cellText returns the first text node anywhere inside sel, in document
// order, with trailing whitespace removed.
func cellText(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}
	if n := firstTextNode(sel.Get(0)); n != nil {
		return strings.TrimRight(n.Data, "\r\n\t ")
	}
	return ""
}

func firstTextNode(n *html.Node) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			return c
		}
		if found := firstTextNode(c); found != nil {
			return found
		}
	}
	return nil
}

// firstText returns the first direct text child of sel with trailing
// whitespace removed.

func firstText(sel *goquery.Selection) (string, bool) {
	if sel.Length() == 0 {
		return "", false
	}
	for n := sel.Get(0).FirstChild; n != nil; n = n.NextSibling {
		if n.Type == html.TextNode {
			return strings.TrimRight(n.Data, "\r\n\t "), true
		}
	}
	return "", false
}

func spanAttr(sel *goquery.Selection, name string) int {
	raw, ok := sel.Attr(name)
	if !ok {
		return 1
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return 1
	}
	return n
}
