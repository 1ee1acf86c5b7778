// Package record extracts clock-in timestamps from the portal's record
// listing pages. The listing is plain ASP.NET GridView markup; there is no
// API, so the most recent entry has to be scraped out of up to two tables.
package record

import (
	"bytes"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// Layout is the civil-time format the portal renders, with no zone marker.
const Layout = "2006/01/02 15:04:05"

// PortalZone is the institution's fixed offset. Rendered timestamps are
// implicitly in this zone.
var PortalZone = time.FixedZone("UTC+8", 8*60*60)

const (
	todayTableID   = "GridViewRec"
	historyTableID = "MonthlyRecordRec"

	// Only a short prefix of data rows per table is inspected; the newest
	// entry is always at the top and full-table walks are wasted work.
	maxDataRows = 5

	// The timestamp sits in the third column of a data row.
	timeCell = 2
)

// Latest returns the most recent timestamp found across the today and
// monthly-history tables of a record listing document. Rows that do not
// parse are skipped; a document with no matching tables or no clean rows
// reports ok=false, never an error.
func Latest(doc []byte) (time.Time, bool) {
	root, err := html.Parse(bytes.NewReader(doc))
	if err != nil {
		return time.Time{}, false
	}

	var latest time.Time
	var found bool
	for _, table := range findTables(root, todayTableID, historyTableID) {
		rows := dataRows(table)
		if len(rows) > maxDataRows {
			rows = rows[:maxDataRows]
		}
		for _, row := range rows {
			ts, ok := rowTime(row)
			if !ok {
				continue
			}
			if !found || ts.After(latest) {
				latest = ts
				found = true
			}
		}
	}
	return latest, found
}

// findTables walks the tree and collects table elements whose id matches one
// of the wanted values.
func findTables(root *html.Node, ids ...string) []*html.Node {
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	var tables []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "table" && wanted[attr(n, "id")] {
			tables = append(tables, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return tables
}

// dataRows returns the tr elements of a table minus the header row. A "no
// records today" placeholder row survives here but is rejected later for
// having too few cells.
func dataRows(table *html.Node) []*html.Node {
	var rows []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			rows = append(rows, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(table)
	if len(rows) <= 1 {
		return nil
	}
	return rows[1:]
}

// rowTime extracts and parses the timestamp cell of one data row.
func rowTime(row *html.Node) (time.Time, bool) {
	var cells []*html.Node
	for c := row.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "td" {
			cells = append(cells, c)
		}
	}
	if len(cells) <= timeCell {
		return time.Time{}, false
	}
	ts, err := time.ParseInLocation(Layout, strings.TrimSpace(text(cells[timeCell])), PortalZone)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func text(n *html.Node) string {
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
