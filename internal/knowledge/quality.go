package knowledge

import "math"

// LowConfidenceThreshold flags concepts worth a second look
const LowConfidenceThreshold = 0.6

// QualityReport scores one document's concepts
type QualityReport struct {
	AvgConceptConfidence  float64   `json:"avg_concept_confidence"`
	LowConfidenceConcepts []Concept `json:"low_confidence_concepts,omitempty"`
}

// Quality averages concept confidence, rounded to three decimals
func Quality(concepts []Concept) QualityReport {
	if len(concepts) == 0 {
		return QualityReport{}
	}
	var sum float64
	var low []Concept
	for _, c := range concepts {
		sum += c.Confidence
		if c.Confidence < LowConfidenceThreshold {
			low = append(low, c)
		}
	}
	return QualityReport{
		AvgConceptConfidence:  Round3(sum / float64(len(concepts))),
		LowConfidenceConcepts: low,
	}
}

// Round3 rounds to three decimal places
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
