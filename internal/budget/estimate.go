package budget

import "unicode/utf8"

// CharsPerToken is the characters-per-token heuristic.
const CharsPerToken = 4

// Estimate returns the estimated token cost of content in class c:
// characters / CharsPerToken scaled by the class multiplier, rounded up.
func Estimate(content string, c ContentClass) int {
	return EstimateChars(utf8.RuneCountInString(content), c)
}

// EstimateChars is Estimate for a known character count.
func EstimateChars(chars int, c ContentClass) int {
	if chars <= 0 {
		return 0
	}
	den := CharsPerToken * 10
	return (chars*c.tenths() + den - 1) / den
}

// Estimator combines a Classifier with Estimate.
type Estimator struct {
	classifier *Classifier
}

// NewEstimator creates an estimator. A nil classifier uses the defaults.
func NewEstimator(c *Classifier) *Estimator {
	if c == nil {
		c = NewClassifier(nil)
	}
	return &Estimator{classifier: c}
}

// Cost classifies content and returns its estimated token cost.
func (e *Estimator) Cost(path, content string) (int, ContentClass) {
	class := e.classifier.Classify(path, content)
	return Estimate(content, class), class
}
