package search

import (
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strings"

	"campus-qa-be/pkg/store"
)

var referenceKeySeparator = regexp.MustCompile(`[,;\s]+`)

// LinkTable maps a reference key (STT) to a document URL
type LinkTable map[string]string

// Resolve expands a key field such as "12, 14;15" into ordered reference links
func (t LinkTable) Resolve(keyField string) []store.ReferenceLink {
	links := []store.ReferenceLink{}
	for _, key := range SplitReferenceKeys(keyField) {
		if url, ok := t[key]; ok {
			links = append(links, store.ReferenceLink{
				Key:   key,
				Title: fmt.Sprintf("Tài liệu tham khảo %s", key),
				URL:   url,
			})
		}
	}
	return links
}

func SplitReferenceKeys(keyField string) []string {
	var keys []string
	for _, part := range referenceKeySeparator.Split(strings.TrimSpace(keyField), -1) {
		if part = strings.TrimSpace(part); part != "" {
			keys = append(keys, part)
		}
	}
	return keys
}

// LoadLinkCSV reads a CSV with STT and Link columns
func LoadLinkCSV(r io.Reader) (LinkTable, error) {
	rows, header, err := readCSV(r)
	if err != nil {
		return nil, err
	}
	keyCol, okKey := header["stt"]
	linkCol, okLink := header["link"]
	if !okKey || !okLink {
		return nil, fmt.Errorf("link csv needs STT and Link columns")
	}

	table := LinkTable{}
	for _, row := range rows {
		key := cell(row, keyCol)
		link := cell(row, linkCol)
		if key != "" && link != "" && key != "nan" && link != "nan" {
			table[key] = link
		}
	}
	return table, nil
}

// LoadKnowledgeCSV reads question, answer, category and STT columns.
// Rows without a question or answer are skipped.
func LoadKnowledgeCSV(r io.Reader) ([]store.KnowledgeEntry, error) {
	rows, header, err := readCSV(r)
	if err != nil {
		return nil, err
	}
	qCol, okQ := header["question"]
	aCol, okA := header["answer"]
	if !okQ || !okA {
		return nil, fmt.Errorf("knowledge csv needs question and answer columns")
	}
	catCol, hasCat := header["category"]
	keyCol, hasKey := header["stt"]

	var entries []store.KnowledgeEntry
	for i, row := range rows {
		q, a := cell(row, qCol), cell(row, aCol)
		if q == "" || a == "" {
			continue
		}
		entry := store.KnowledgeEntry{
			ID:       fmt.Sprintf("kb-%d", i+1),
			Question: q,
			Answer:   a,
			Category: "Chung",
		}
		if hasCat && cell(row, catCol) != "" {
			entry.Category = cell(row, catCol)
		}
		if hasKey {
			entry.ReferenceKey = cell(row, keyCol)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func readCSV(r io.Reader) ([][]string, map[string]int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("csv is empty")
	}
	header := map[string]int{}
	for i, name := range records[0] {
		header[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	return records[1:], header, nil
}

func cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}
