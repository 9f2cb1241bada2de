package documents

// MaxConfidence caps automated extraction below full certainty.
const MaxConfidence = 0.95

// ReviewThreshold is the confidence below which a human should check the data.
const ReviewThreshold = 0.8

// DefaultKeyFields identify a document: a number, a date and a monetary amount.
var DefaultKeyFields = []string{"invoice_number", "date", "amount"}

// Confidence scores extracted data by the share of key fields present,
// capped at MaxConfidence. Empty data scores zero.
func Confidence(data map[string]any, keyFields []string) float64 {
	if len(data) == 0 {
		return 0
	}
	if len(keyFields) == 0 {
		keyFields = DefaultKeyFields
	}
	found := 0
	for _, k := range keyFields {
		if _, ok := data[k]; ok {
			found++
		}
	}
	return min(float64(found)/float64(len(keyFields)), MaxConfidence)
}

// NeedsReview reports whether a confidence score calls for human review.
func NeedsReview(confidence float64) bool {
	return confidence < ReviewThreshold
}
