// Package inference talks to the remote transcription, feedback and voice
// synthesis services. Each operation is a single request/response with no
// retry; retry policy belongs to the session orchestrator.
package inference

import (
	"context"
	"errors"
)

var (
	// ErrTranscriptionFailed covers service errors and empty transcriptions.
	ErrTranscriptionFailed = errors.New("inference: transcription failed")
	// ErrEvaluationFailed covers feedback service errors.
	ErrEvaluationFailed = errors.New("inference: evaluation failed")
	// ErrSynthesisFailed covers voice synthesis errors.
	ErrSynthesisFailed = errors.New("inference: synthesis failed")
)

// Segment is one timed slice of a transcription.
type Segment struct {
	Text string `json:"text"`
}

// Transcription is the usable result of a transcribe call. Text is never
// empty: an empty-text response is reported as ErrTranscriptionFailed.
type Transcription struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
}

// LearnerProfile is static learner context; it does not vary per call
// within a session.
type LearnerProfile struct {
	NativeLanguage   string `json:"nativeLanguage"`
	ProficiencyLevel string `json:"proficiencyLevel"`
	LearnerName      string `json:"learnerName"`
}

// Verdict is the binary feedback classification.
type Verdict string

const (
	VerdictCorrect          Verdict = "correct"
	VerdictNeedsImprovement Verdict = "needs_improvement"
)

// Feedback is the evaluation service's response.
type Feedback struct {
	Summary string  `json:"summary"`
	Verdict Verdict `json:"verdict"`
}

// EvaluationRequest carries everything the feedback service scores against.
type EvaluationRequest struct {
	Transcript     string         `json:"transcript"`
	TargetSentence string         `json:"targetSentence"`
	LearnerProfile LearnerProfile `json:"learnerProfile"`
	Segments       []Segment      `json:"segments,omitempty"`
}

// Transcriber turns a recorded audio artifact into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioRef string) (Transcription, error)
}

// Evaluator scores a transcript against the expected utterance.
type Evaluator interface {
	Evaluate(ctx context.Context, req EvaluationRequest) (Feedback, error)
}

// Synthesizer produces a playable audio ref for the given text.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (string, error)
}

// Gateway bundles the three independent operations.
type Gateway interface {
	Transcriber
	Evaluator
	Synthesizer
}

// Composite assembles a Gateway from independent providers, so the voice
// synthesizer can come from a different service than the evaluator.
type Composite struct {
	Transcriber
	Evaluator
	Synthesizer
}
