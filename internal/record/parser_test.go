package record

import (
	"fmt"
	"testing"
	"time"
)

func todayTable(rows ...string) string {
	out := `<table id="GridViewRec"><tr><th>課程</th><th>狀態</th><th>時間</th></tr>`
	for _, r := range rows {
		out += r
	}
	return out + `</table>`
}

func historyTable(rows ...string) string {
	out := `<table id="MonthlyRecordRec"><tr><th>課程</th><th>狀態</th><th>時間</th></tr>`
	for _, r := range rows {
		out += r
	}
	return out + `</table>`
}

func dataRow(ts string) string {
	return fmt.Sprintf(`<tr><td>CE07121</td><td>簽到</td><td> %s </td></tr>`, ts)
}

func page(tables ...string) []byte {
	body := `<html><body><div class="wrap">`
	for _, t := range tables {
		body += t
	}
	return []byte(body + `</div></body></html>`)
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.ParseInLocation(Layout, s, PortalZone)
	if err != nil {
		t.Fatalf("bad fixture time %q: %v", s, err)
	}
	return ts
}

func TestLatest_PicksMaxAcrossTables(t *testing.T) {
	t1 := "2025/12/02 08:10:00"
	t2 := "2025/12/02 13:15:03"
	doc := page(todayTable(dataRow(t1)), historyTable(dataRow(t2)))

	got, ok := Latest(doc)
	if !ok {
		t.Fatalf("expected a timestamp, got none")
	}
	if want := mustTime(t, t2); !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestLatest_NoTables(t *testing.T) {
	doc := []byte(`<html><body><table id="Other"><tr><td>x</td></tr></table></body></html>`)
	if _, ok := Latest(doc); ok {
		t.Fatalf("expected no timestamp from a document without record tables")
	}
}

func TestLatest_SkipsUnparseableRows(t *testing.T) {
	good := "2025/12/02 09:00:00"
	doc := page(todayTable(
		dataRow("not a time"),
		dataRow(good),
	))

	got, ok := Latest(doc)
	if !ok {
		t.Fatalf("expected the parseable row to be found")
	}
	if want := mustTime(t, good); !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestLatest_IgnoresPlaceholderRow(t *testing.T) {
	// The portal renders a single wide cell when there is no record today.
	doc := page(todayTable(`<tr><td colspan="3">今日查無記錄</td></tr>`))
	if _, ok := Latest(doc); ok {
		t.Fatalf("placeholder row must not produce a timestamp")
	}
}

func TestLatest_BoundedRowPrefix(t *testing.T) {
	rows := []string{
		dataRow("junk"), dataRow("junk"), dataRow("junk"),
		dataRow("junk"), dataRow("junk"),
		dataRow("2025/12/02 10:00:00"), // row 6, beyond the inspected prefix
	}
	doc := page(todayTable(rows...))
	if _, ok := Latest(doc); ok {
		t.Fatalf("rows beyond the prefix must not be inspected")
	}
}

func TestLatest_TimesCarryPortalZone(t *testing.T) {
	doc := page(todayTable(dataRow("2025/12/02 13:15:00")))
	got, ok := Latest(doc)
	if !ok {
		t.Fatalf("expected a timestamp")
	}
	_, offset := got.Zone()
	if offset != 8*60*60 {
		t.Fatalf("expected UTC+8 offset, got %d", offset)
	}
}
