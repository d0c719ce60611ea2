package dataset

import (
	"fmt"

	"github.com/hyperjump/chosei/internal/models"
)

// BuildOptions controls how a dataset is split and augmented.
type BuildOptions struct {
	TestFraction         float64
	NegativesPerPositive int
	GenerateNegatives    bool
	Seed                 int64
}

// Build splits pairs into train and test sets, then (optionally) adds synthetic
// negatives to each split from that split's own positives. The result holds the train
// pairs followed by the test pairs.
func Build(pairs []models.TextPair, opts BuildOptions) ([]models.TextPair, error) {
	if err := Validate(pairs); err != nil {
		return nil, err
	}
	train, test, err := Split(pairs, opts.TestFraction, opts.Seed)
	if err != nil {
		return nil, fmt.Errorf("split: %w", err)
	}
	if opts.GenerateNegatives && opts.NegativesPerPositive > 0 {
		if train, err = augment(train, models.SplitTrain, opts); err != nil {
			return nil, err
		}
		if test, err = augment(test, models.SplitTest, opts); err != nil {
			return nil, err
		}
	}
	out := make([]models.TextPair, 0, len(train)+len(test))
	out = append(out, train...)
	out = append(out, test...)
	return out, nil
}

func augment(split []models.TextPair, name models.Split, opts BuildOptions) ([]models.TextPair, error) {
	var positives []models.TextPair
	for _, p := range split {
		if p.Label == models.Positive {
			positives = append(positives, p)
		}
	}
	negatives := BuildNegatives(positives)
	sampled, err := SampleNegatives(negatives, len(split)*opts.NegativesPerPositive, opts.Seed)
	if err != nil {
		return nil, fmt.Errorf("%s negatives: %w", name, err)
	}
	for i := range sampled {
		sampled[i].Split = name
	}
	return append(split, sampled...), nil
}

// Texts returns the distinct texts of pairs in first-seen order.
func Texts(pairs []models.TextPair) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, p := range pairs {
		for _, t := range []string{p.Text1, p.Text2} {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}
