package dataset

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/hyperjump/chosei/internal/models"
)

// Transform turns a raw table into labelled text pairs. Each data source plugs in its
// own transform; the output must contain only ±1 labels.
type Transform func(t *Table) ([]models.TextPair, error)

var transforms = map[string]Transform{
	"snli":  SNLI,
	"pairs": Pairs,
}

// LookupTransform returns the transform registered under name.
func LookupTransform(name string) (Transform, error) {
	tr, ok := transforms[name]
	if !ok {
		names := make([]string, 0, len(transforms))
		for n := range transforms {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unknown data format %q (supported: %s)", name, strings.Join(names, ", "))
	}
	return tr, nil
}

// SNLI reads Stanford NLI rows (sentence1, sentence2, gold_label) and keeps entailment
// pairs as positives. Every other gold label is dropped.
func SNLI(t *Table) ([]models.TextPair, error) {
	cols, err := t.Columns("sentence1", "sentence2", "gold_label")
	if err != nil {
		return nil, err
	}
	var pairs []models.TextPair
	for _, row := range t.Rows {
		if strings.TrimSpace(Cell(row, cols[2])) != "entailment" {
			continue
		}
		pairs = append(pairs, models.TextPair{
			Text1: Cell(row, cols[0]),
			Text2: Cell(row, cols[1]),
			Label: models.Positive,
		})
	}
	return pairs, nil
}

// Pairs reads rows that already carry text_1, text_2 and label columns. Labels "1" and
// "+1" are positive; "-1" and "0" are negative.
func Pairs(t *Table) ([]models.TextPair, error) {
	cols, err := t.Columns("text_1", "text_2", "label")
	if err != nil {
		return nil, err
	}
	pairs := make([]models.TextPair, 0, len(t.Rows))
	for i, row := range t.Rows {
		label, err := parseLabel(Cell(row, cols[2]))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		pairs = append(pairs, models.TextPair{
			Text1: Cell(row, cols[0]),
			Text2: Cell(row, cols[1]),
			Label: label,
		})
	}
	return pairs, nil
}

func parseLabel(s string) (models.Label, error) {
	v, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(s), "+"))
	if err != nil {
		return 0, fmt.Errorf("invalid label %q", s)
	}
	switch v {
	case 1:
		return models.Positive, nil
	case -1, 0:
		return models.Negative, nil
	default:
		return 0, fmt.Errorf("invalid label %q (want 1, -1 or 0)", s)
	}
}

// Head returns the first n pairs; n <= 0 keeps all of them.
func Head(pairs []models.TextPair, n int) []models.TextPair {
	if n <= 0 || n >= len(pairs) {
		return pairs
	}
	return pairs[:n]
}

// Validate checks every pair and reports the first invalid one.
func Validate(pairs []models.TextPair) error {
	for i := range pairs {
		if err := pairs[i].Validate(); err != nil {
			return fmt.Errorf("pair %d: %w", i, err)
		}
	}
	return nil
}
