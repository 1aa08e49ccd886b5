package tabular

import (
	"errors"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestParseCSVStripsBOMAndBlankRows(t *testing.T) {
	content := []byte("\xEF\xBB\xBF Email ,Name,Company\njane@acme.com,Jane,Acme Inc\n\n , ,\nbob@beta.io,Bob\n")
	table, err := Parse("contacts.csv", content)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(table.Headers) != 3 || table.Headers[0] != "Email" {
		t.Fatalf("unexpected headers %#v", table.Headers)
	}
	if len(table.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(table.Rows))
	}
	if table.Rows[0]["Email"] != "jane@acme.com" || table.Rows[0]["Company"] != "Acme Inc" {
		t.Fatalf("unexpected first row %#v", table.Rows[0])
	}
	company, ok := table.Rows[1]["Company"]
	if !ok || company != "" {
		t.Fatalf("short row should be padded, got %#v", table.Rows[1])
	}
}

func TestParseCSVQuotedFields(t *testing.T) {
	content := []byte("Address,Fee\n\"100 Main St, Springfield, IL 62701\",\"$1,200.00\"\n")
	table, err := Parse("orders.csv", content)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if table.Rows[0]["Address"] != "100 Main St, Springfield, IL 62701" || table.Rows[0]["Fee"] != "$1,200.00" {
		t.Fatalf("quoted fields were split: %#v", table.Rows[0])
	}
}

func TestParseEmpty(t *testing.T) {
	if _, err := Parse("empty.csv", []byte("\n\n")); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestParseXLSXFirstSheet(t *testing.T) {
	book := excelize.NewFile()
	defer book.Close()
	if err := book.SetSheetRow("Sheet1", "A1", &[]any{"Order Number", "Borrower", "Fee"}); err != nil {
		t.Fatalf("header: %v", err)
	}
	if err := book.SetSheetRow("Sheet1", "A2", &[]any{"A-100", "Jane Doe", 450}); err != nil {
		t.Fatalf("row: %v", err)
	}
	if err := book.SetSheetRow("Sheet1", "A4", &[]any{"A-101", "Bob Roe"}); err != nil {
		t.Fatalf("row: %v", err)
	}
	if _, err := book.NewSheet("Ignored"); err != nil {
		t.Fatalf("sheet: %v", err)
	}
	buf, err := book.WriteToBuffer()
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	table, err := Parse("upload.bin", buf.Bytes())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(table.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(table.Rows))
	}
	if table.Rows[0]["Order Number"] != "A-100" || table.Rows[0]["Fee"] != "450" {
		t.Fatalf("unexpected row %#v", table.Rows[0])
	}
	if table.Rows[1]["Fee"] != "" {
		t.Fatalf("missing trailing cell should be blank, got %#v", table.Rows[1])
	}
}

func TestDetectFormat(t *testing.T) {
	if DetectFormat("a.XLSX", nil) != FormatXLSX {
		t.Fatalf("extension should win")
	}
	if DetectFormat("upload", []byte("PK\x03\x04rest")) != FormatXLSX {
		t.Fatalf("zip signature should select xlsx")
	}
	if DetectFormat("upload", []byte("a,b\n")) != FormatCSV {
		t.Fatalf("default should be csv")
	}
}
