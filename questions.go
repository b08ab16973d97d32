/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// QuestionRecord is one parsed row of the question catalog.
type QuestionRecord struct {
	Round    int
	Category string
	Value    int
	Question string
	Answer   string
}

// Columns the catalog CSV must carry, matched case-insensitively. Extra
// columns are ignored; column order does not matter.
var questionColumns = []string{"Round", "Category", "Value", "Question", "Answer"}

// readQuestionRecords parses the full catalog from r. Any malformed row,
// missing column, or read error fails the whole load rather than skipping
// the offending record, as does a file with no data rows. An all-or-nothing
// catalog keeps the board from silently coming up with holes in it.
func readQuestionRecords(r io.Reader) ([]QuestionRecord, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: reading header: %w", ErrLoadFailure, err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range questionColumns {
		if _, ok := columns[strings.ToLower(name)]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrLoadFailure, name)
		}
	}

	var records []QuestionRecord
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrLoadFailure, line, err)
		}

		field := func(name string) string {
			return row[columns[strings.ToLower(name)]]
		}

		round, err := strconv.Atoi(strings.TrimSpace(field("Round")))
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: bad round %q", ErrLoadFailure, line, field("Round"))
		}
		value, err := strconv.Atoi(strings.TrimSpace(field("Value")))
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: bad value %q", ErrLoadFailure, line, field("Value"))
		}

		records = append(records, QuestionRecord{
			Round:    round,
			Category: field("Category"),
			Value:    value,
			Question: field("Question"),
			Answer:   field("Answer"),
		})
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no question rows", ErrLoadFailure)
	}

	return records, nil
}

// loadQuestionsFile reads the catalog at path into the engine. On any
// failure the engine's catalog is left empty.
func loadQuestionsFile(engine *Engine, path string) error {
	f, err := os.Open(path)
	if err != nil {
		_ = engine.LoadQuestions(nil)
		return fmt.Errorf("%w: %w", ErrLoadFailure, err)
	}
	defer f.Close()

	records, err := readQuestionRecords(f)
	if err != nil {
		_ = engine.LoadQuestions(nil)
		return err
	}

	return engine.LoadQuestions(records)
}
