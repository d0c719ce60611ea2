package dataset

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/hyperjump/chosei/internal/models"
)

// Split partitions pairs into train and test sets, stratified by label, and tags each
// pair with its split. The same seed always yields the same partition. Within each
// split, pairs keep their input order.
func Split(pairs []models.TextPair, testFraction float64, seed int64) (train, test []models.TextPair, err error) {
	if testFraction <= 0 || testFraction >= 1 {
		return nil, nil, fmt.Errorf("test fraction must be in (0, 1), got %v", testFraction)
	}
	if len(pairs) == 0 {
		return nil, nil, fmt.Errorf("cannot split an empty dataset")
	}

	byLabel := make(map[models.Label][]int)
	for i, p := range pairs {
		byLabel[p.Label] = append(byLabel[p.Label], i)
	}
	labels := make([]models.Label, 0, len(byLabel))
	for l := range byLabel {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })

	rng := rand.New(rand.NewSource(seed))
	isTest := make([]bool, len(pairs))
	for _, l := range labels {
		idx := byLabel[l]
		if len(idx) < 2 {
			return nil, nil, fmt.Errorf("label %d has %d member(s); need at least 2 to stratify", l, len(idx))
		}
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		nTest := int(math.Round(testFraction * float64(len(idx))))
		nTest = min(max(nTest, 1), len(idx)-1)
		for _, i := range idx[:nTest] {
			isTest[i] = true
		}
	}

	for i, p := range pairs {
		if isTest[i] {
			p.Split = models.SplitTest
			test = append(test, p)
		} else {
			p.Split = models.SplitTrain
			train = append(train, p)
		}
	}
	return train, test, nil
}
