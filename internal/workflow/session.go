package workflow

import "github.com/dunamismax/facefilter/internal/domain"

type State string

const (
	StateIdle               State = "idle"
	StateCapturing          State = "capturing"
	StatePicking            State = "picking"
	StateNormalizing        State = "normalizing"
	StateDetectingFace      State = "detecting_face"
	StateFaceInvalid        State = "face_invalid"
	StateFaceValidated      State = "face_validated"
	StateTransforming       State = "transforming"
	StateTransformFailed    State = "transform_failed"
	StateTransformSucceeded State = "transform_succeeded"
	StateSaving             State = "saving"
	StateSharing            State = "sharing"
	StateCaptureFailed      State = "capture_failed"
	StateNormalizeFailed    State = "normalize_failed"
)

// InFlight reports whether a collaborator call is running in this state.
func (s State) InFlight() bool {
	switch s {
	case StateCapturing, StatePicking, StateNormalizing, StateDetectingFace,
		StateTransforming, StateSaving, StateSharing:
		return true
	default:
		return false
	}
}

// Session is the state of one interaction, from capture or pick through save,
// share or reset. Values returned by the controller are copies.
type Session struct {
	ID               string
	State            State
	CapturedURI      string
	NormalizedURI    string
	DetectedFaces    []domain.Face
	ValidatedFace    *domain.Face
	LowClarity       bool
	SelectedFilterID string
	TransformedURI   string
	SavedAssetID     string
	LastError        string
	LastErrorKind    domain.ErrorKind
}

func (s Session) clone() Session {
	out := s
	if s.DetectedFaces != nil {
		out.DetectedFaces = make([]domain.Face, len(s.DetectedFaces))
		copy(out.DetectedFaces, s.DetectedFaces)
	}
	if s.ValidatedFace != nil {
		f := *s.ValidatedFace
		out.ValidatedFace = &f
	}
	return out
}

func (s *Session) clearError() {
	s.LastError = ""
	s.LastErrorKind = ""
}

func (s *Session) setError(err error) {
	s.LastError = domain.MessageOf(err)
	s.LastErrorKind = domain.KindOf(err)
}

type EventType string

const (
	EventSessionChanged    EventType = "session_changed"
	EventTransformProgress EventType = "transform_progress"
)

// Event is delivered to observers after every applied session change and
// when a transform call starts or stops.
type Event struct {
	Type       EventType
	Session    Session
	InProgress bool
}

type Observer func(Event)
