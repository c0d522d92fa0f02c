package face

import "github.com/dunamismax/facefilter/internal/domain"

// MinClarityProbability is the threshold under which smile and eye-open
// probabilities mark a face as low clarity.
const MinClarityProbability = 0.3

const NoFaceMessage = "No faces detected"

// Validate picks the principal face from a detection list. The face with the
// strictly largest bounding-box area wins; on equal areas the earliest face in
// input order is kept. An empty list yields a NoFaceDetected error and no face.
//
// dims is accepted for geometric checks (minimum size, centring) that are not
// enforced yet.
func Validate(faces []domain.Face, dims *domain.Dimensions) domain.FaceValidationResult {
	_ = dims

	if len(faces) == 0 {
		return domain.FaceValidationResult{
			Err: domain.NewError(domain.KindNoFaceDetected, NoFaceMessage, nil),
		}
	}

	best := 0
	for i := 1; i < len(faces); i++ {
		if faces[i].Bounds.Area() > faces[best].Bounds.Area() {
			best = i
		}
	}

	principal := faces[best]
	return domain.FaceValidationResult{
		Face:       &principal,
		LowClarity: IsLowClarity(principal),
	}
}

// IsLowClarity reports whether every classifier probability is present and
// below MinClarityProbability. It is advisory only.
func IsLowClarity(f domain.Face) bool {
	probs := []*float64{f.SmileProbability, f.LeftEyeOpenProbability, f.RightEyeOpenProbability}
	for _, p := range probs {
		if p == nil || *p >= MinClarityProbability {
			return false
		}
	}
	return true
}
