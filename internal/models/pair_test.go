package models

import "testing"

func TestTextPair_Validate(t *testing.T) {
	tests := []struct {
		name    string
		pair    TextPair
		wantErr bool
	}{
		{"valid positive", TextPair{Text1: "a", Text2: "b", Label: Positive}, false},
		{"valid negative", TextPair{Text1: "a", Text2: "b", Label: Negative}, false},
		{"empty first text", TextPair{Text1: "", Text2: "b", Label: Positive}, true},
		{"empty second text", TextPair{Text1: "a", Text2: "", Label: Positive}, true},
		{"zero label", TextPair{Text1: "a", Text2: "b"}, true},
		{"label two", TextPair{Text1: "a", Text2: "b", Label: 2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.pair.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTextPair_Ordered(t *testing.T) {
	p := TextPair{Text1: "zebra", Text2: "apple"}
	a, b := p.Ordered()
	if a != "apple" || b != "zebra" {
		t.Errorf("Ordered() = %q, %q", a, b)
	}
	p = TextPair{Text1: "apple", Text2: "zebra"}
	a, b = p.Ordered()
	if a != "apple" || b != "zebra" {
		t.Errorf("Ordered() = %q, %q", a, b)
	}
}

func TestFilterSplit(t *testing.T) {
	pairs := []TextPair{
		{Text1: "a", Text2: "b", Split: SplitTrain},
		{Text1: "c", Text2: "d", Split: SplitTest},
		{Text1: "e", Text2: "f", Split: SplitTrain},
	}
	train := FilterSplit(pairs, SplitTrain)
	if len(train) != 2 || train[0].Text1 != "a" || train[1].Text1 != "e" {
		t.Errorf("unexpected train split: %+v", train)
	}
	if got := FilterSplit(pairs, SplitTest); len(got) != 1 {
		t.Errorf("expected 1 test pair, got %d", len(got))
	}
}
