// Package bundle unpacks the ZIP bundles served by the portal and extracts
// invoice fields from their UBL XML entries.
package bundle

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	// PreviewBytes is how much of each XML entry is kept as a preview.
	PreviewBytes = 500

	// ExtensionNone labels entries without a file extension.
	ExtensionNone = "none"

	maxEntryBytes = 32 << 20
)

// Entry is one file of a bundle.
type Entry struct {
	Name      string            `json:"name"`
	SizeBytes int64             `json:"size_bytes"`
	Extension string            `json:"extension"`
	Fields    map[string]string `json:"fields,omitempty"`
	LineItems int               `json:"line_items,omitempty"`
	Preview   string            `json:"preview,omitempty"`
}

// IsXML reports whether the entry was parsed as XML.
func (e *Entry) IsXML() bool {
	return e.Extension == "xml"
}

// Field returns the extracted value for key, or "" when absent.
func (e *Entry) Field(key string) string {
	return e.Fields[key]
}

// Bundle is the extracted content of a portal ZIP.
type Bundle struct {
	Entries           []Entry        `json:"entries"`
	TotalEntries      int            `json:"total_entries"`
	CountsByExtension map[string]int `json:"counts_by_extension"`
}

// Invoices returns the XML entries in archive order.
func (b *Bundle) Invoices() []Entry {
	var out []Entry
	for _, e := range b.Entries {
		if e.IsXML() {
			out = append(out, e)
		}
	}
	return out
}

// Canonical returns the first XML entry carrying both a subtotal and a total
// (payable, else tax-inclusive), or nil.
func (b *Bundle) Canonical() *Entry {
	for i := range b.Entries {
		e := &b.Entries[i]
		if !e.IsXML() || e.Field(FieldSubtotal) == "" {
			continue
		}
		if e.Field(FieldTotalPayable) != "" || e.Field(FieldTotalWithTax) != "" {
			return e
		}
	}
	return nil
}

// Extensions returns the distinct extensions sorted by name.
func (b *Bundle) Extensions() []string {
	out := make([]string, 0, len(b.CountsByExtension))
	for ext := range b.CountsByExtension {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Extract reads a ZIP bundle held in memory. Directories are skipped. XML
// entries that fail to parse are still listed, without fields.
func Extract(data []byte) (*Bundle, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &ExtractionError{Message: "failed to open ZIP archive", Cause: err}
	}

	b := &Bundle{
		Entries:           make([]Entry, 0, len(reader.File)),
		CountsByExtension: make(map[string]int),
	}

	for _, file := range reader.File {
		if file.FileInfo().IsDir() {
			continue
		}

		entry := Entry{
			Name:      file.Name,
			SizeBytes: int64(file.UncompressedSize64),
			Extension: extensionOf(file.Name),
		}
		b.CountsByExtension[entry.Extension]++

		if entry.IsXML() {
			content, err := readEntry(file)
			if err != nil {
				return nil, &ExtractionError{Message: fmt.Sprintf("failed to read %s", file.Name), Cause: err}
			}
			entry.SizeBytes = int64(len(content))
			entry.Preview = preview(content)
			if fields, lines, ok := ExtractFields(content); ok {
				if len(fields) > 0 {
					entry.Fields = fields
				}
				entry.LineItems = lines
			}
		}

		b.Entries = append(b.Entries, entry)
	}

	b.TotalEntries = len(b.Entries)
	return b, nil
}

func readEntry(file *zip.File) ([]byte, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return io.ReadAll(io.LimitReader(rc, maxEntryBytes))
}

func extensionOf(name string) string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
	if ext == "" {
		return ExtensionNone
	}
	return ext
}

// preview cuts content to PreviewBytes without splitting a UTF-8 sequence.
func preview(content []byte) string {
	if len(content) <= PreviewBytes {
		return string(content)
	}
	cut := PreviewBytes
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return string(content[:cut])
}
