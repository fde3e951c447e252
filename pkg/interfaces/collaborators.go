package interfaces

import (
	"context"

	"classhub/pkg/types"
)

// TokenVerifier is the external session-token verification collaborator.
// The hub only verifies tokens; issuance happens elsewhere.
type TokenVerifier interface {
	// VerifyToken validates a session token and returns the identity it
	// carries. Verification failures and collaborator outages are both
	// returned as errors; callers treat them fail-closed.
	VerifyToken(ctx context.Context, token string) (types.Identity, error)

	// VerifyParentLink reports whether parentID is authorized to act on
	// behalf of childID.
	VerifyParentLink(ctx context.Context, parentID, childID string) (bool, error)
}

// VoiceClassification is the result of child-voice screening.
type VoiceClassification struct {
	IsChildVoice bool
	Confidence   float64
}

// VoiceClassifier is the external voice-safety collaborator.
type VoiceClassifier interface {
	ClassifyVoice(ctx context.Context, userID string, sample []byte) (VoiceClassification, error)
}

// Translator is the external translation collaborator. Failures are
// fail-open: the original text is still delivered untranslated.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// LocationLookup is the external location/language metadata collaborator.
type LocationLookup interface {
	Lookup(ctx context.Context, userID string) (types.Location, error)
}

// IncidentStore persists safety incidents and session reports beyond the
// lifetime of the in-memory classroom state.
type IncidentStore interface {
	SaveIncident(ctx context.Context, incident types.SafetyIncident) error
	SaveReport(ctx context.Context, report types.SessionReport) error
	IncidentsByClassroom(ctx context.Context, classroomID string) ([]types.SafetyIncident, error)
	ReportByClassroom(ctx context.Context, classroomID string) (*types.SessionReport, error)
}
