// Package models defines the core data structures for labelled text pairs and training records.
package models

import "fmt"

// Label is the similarity label of a text pair: +1 similar, -1 dissimilar.
type Label int

const (
	// Positive marks a similar pair.
	Positive Label = 1
	// Negative marks a dissimilar pair.
	Negative Label = -1
)

// Float returns the label as a regression target.
func (l Label) Float() float64 {
	return float64(l)
}

// Valid reports whether l is +1 or -1.
func (l Label) Valid() bool {
	return l == Positive || l == Negative
}

// Split is the dataset partition a pair belongs to.
type Split string

const (
	// SplitTrain is the training partition.
	SplitTrain Split = "train"
	// SplitTest is the held-out partition.
	SplitTest Split = "test"
)

// Splits lists the partitions in reporting order.
var Splits = []Split{SplitTrain, SplitTest}

// TextPair is one labelled pair. The embedding and similarity fields are enrichment
// filled in by later pipeline stages; they never change the pair's identity.
type TextPair struct {
	Text1 string `json:"text_1"`
	Text2 string `json:"text_2"`
	Label Label  `json:"label"`
	Split Split  `json:"split,omitempty"`

	Embedding1             []float32 `json:"-"`
	Embedding2             []float32 `json:"-"`
	CosineSimilarity       float64   `json:"cosine_similarity,omitempty"`
	CustomCosineSimilarity float64   `json:"cosine_similarity_custom,omitempty"`
}

// Validate ensures the pair has two texts and a ±1 label.
func (p *TextPair) Validate() error {
	if p.Text1 == "" || p.Text2 == "" {
		return fmt.Errorf("text pair has an empty text")
	}
	if !p.Label.Valid() {
		return fmt.Errorf("invalid label %d (want 1 or -1)", p.Label)
	}
	return nil
}

// Ordered returns the pair's texts so that the first is lexically smaller.
func (p *TextPair) Ordered() (string, string) {
	if p.Text2 < p.Text1 {
		return p.Text2, p.Text1
	}
	return p.Text1, p.Text2
}

// FilterSplit returns the pairs belonging to split, preserving order.
func FilterSplit(pairs []TextPair, split Split) []TextPair {
	out := make([]TextPair, 0, len(pairs))
	for _, p := range pairs {
		if p.Split == split {
			out = append(out, p)
		}
	}
	return out
}
