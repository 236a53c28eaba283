package recognition

import (
	"math"

	"github.com/kozaktomas/deepsecurity/internal/constants"
	"github.com/kozaktomas/deepsecurity/internal/vision"
)

// Face is the external form of a Result.
type Face struct {
	Name                string     `json:"name"`
	ConfidenceDetection float64    `json:"confidence_detection"`
	Similarity          float64    `json:"similarity"`
	Box                 vision.Box `json:"box"`
}

// Response is the body of a recognition reply.
type Response struct {
	Faces []Face `json:"faces"`
}

// Present rounds results for reporting. The face list is never nil.
func Present(results []Result) Response {
	faces := make([]Face, 0, len(results))
	for _, res := range results {
		faces = append(faces, Face{
			Name:                res.Name,
			ConfidenceDetection: Round(res.DetectionConfidence),
			Similarity:          Round(res.Similarity),
			Box:                 res.Box,
		})
	}
	return Response{Faces: faces}
}

// Round rounds v to the reporting precision.
func Round(v float64) float64 {
	p := math.Pow10(constants.ReportPrecision)
	r := math.Round(v*p) / p
	if r == 0 {
		return 0 // no negative zero
	}
	return r
}
