package dataset

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"github.com/hyperjump/chosei/internal/models"
)

// ErrNotEnoughNegatives is returned when more negatives are requested than exist.
var ErrNotEnoughNegatives = errors.New("not enough candidate negatives")

type textKey struct {
	a, b string
}

// BuildNegatives returns every unordered pair of distinct texts drawn from the
// positives' vocabulary that is not itself a positive, labelled -1. Each negative is
// ordered so that Text1 < Text2, and the result is sorted, so the output depends only
// on the set of positives.
//
// Call it separately on each split's positives; building over the union would leak
// texts across splits.
func BuildNegatives(positives []models.TextPair) []models.TextPair {
	vocab := make(map[string]struct{})
	known := make(map[textKey]struct{}, len(positives))
	for i := range positives {
		p := &positives[i]
		vocab[p.Text1] = struct{}{}
		vocab[p.Text2] = struct{}{}
		a, b := p.Ordered()
		known[textKey{a, b}] = struct{}{}
	}
	texts := make([]string, 0, len(vocab))
	for t := range vocab {
		texts = append(texts, t)
	}
	sort.Strings(texts)

	var negatives []models.TextPair
	for i := 0; i < len(texts); i++ {
		for j := i + 1; j < len(texts); j++ {
			if _, ok := known[textKey{texts[i], texts[j]}]; ok {
				continue
			}
			negatives = append(negatives, models.TextPair{
				Text1: texts[i],
				Text2: texts[j],
				Label: models.Negative,
			})
		}
	}
	return negatives
}

// SampleNegatives picks n negatives without replacement using a seeded generator.
func SampleNegatives(negatives []models.TextPair, n int, seed int64) ([]models.TextPair, error) {
	if n < 0 {
		return nil, fmt.Errorf("cannot sample %d negatives", n)
	}
	if n > len(negatives) {
		return nil, fmt.Errorf("%w: want %d, have %d", ErrNotEnoughNegatives, n, len(negatives))
	}
	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(len(negatives))
	out := make([]models.TextPair, n)
	for i := 0; i < n; i++ {
		out[i] = negatives[perm[i]]
	}
	return out, nil
}
