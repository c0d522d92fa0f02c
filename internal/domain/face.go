package domain

type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (b BoundingBox) Area() float64 {
	return b.Width * b.Height
}

// Face is a single detection record. Optional classifier outputs are nil when
// the detector did not produce them.
type Face struct {
	Bounds                  BoundingBox `json:"bounds"`
	ID                      *int        `json:"faceId,omitempty"`
	RollAngle               *float64    `json:"rollAngle,omitempty"`
	YawAngle                *float64    `json:"yawAngle,omitempty"`
	SmileProbability        *float64    `json:"smilingProbability,omitempty"`
	LeftEyeOpenProbability  *float64    `json:"leftEyeOpenProbability,omitempty"`
	RightEyeOpenProbability *float64    `json:"rightEyeOpenProbability,omitempty"`
}

type Dimensions struct {
	Width  int
	Height int
}

type FaceValidationResult struct {
	Face       *Face
	Err        error
	LowClarity bool
}
