package session

import (
	"context"
	"time"

	"github.com/mirkodgzconsulting/phoebe-practice/internal/capture"
	"github.com/mirkodgzconsulting/phoebe-practice/internal/inference"
)

// AvatarState is what the tutor avatar should render.
type AvatarState string

const (
	AvatarIdle      AvatarState = "idle"
	AvatarListening AvatarState = "listening"
	AvatarSpeaking  AvatarState = "speaking"
)

// PipelineState reflects the transcribe→evaluate round trip.
type PipelineState string

const (
	PipelineIdle       PipelineState = "idle"
	PipelineProcessing PipelineState = "processing"
)

// ChatKind tags transcript entries.
type ChatKind string

const (
	ChatTutor    ChatKind = "tutor"
	ChatUser     ChatKind = "user"
	ChatFeedback ChatKind = "feedback"
	ChatSystem   ChatKind = "system"
)

// ChatEntry is one line of the append-only conversation log.
type ChatEntry struct {
	ID      string             `json:"id"`
	Kind    ChatKind           `json:"kind"`
	Text    string             `json:"text"`
	Verdict *inference.Verdict `json:"verdict,omitempty"`
	At      time.Time          `json:"at"`
}

// HistoryItem records one completed pipeline run for the progress view.
type HistoryItem struct {
	LevelID   string            `json:"levelId"`
	TurnIndex int               `json:"turnIndex"`
	Verdict   inference.Verdict `json:"verdict"`
	Summary   string            `json:"summary"`
	At        time.Time         `json:"at"`
}

// Snapshot is the read-only view of session state handed to the UI layer.
type Snapshot struct {
	SessionID         string              `json:"sessionId"`
	ScenarioID        string              `json:"scenarioId"`
	LevelID           string              `json:"levelId"`
	TurnIndex         int                 `json:"turnIndex"`
	CompletedTurns    int                 `json:"completedTurns"`
	TotalTurns        int                 `json:"totalTurns"`
	ProgressPercent   int                 `json:"progressPercent"`
	Recording         bool                `json:"recording"`
	Pipeline          PipelineState       `json:"pipeline"`
	Avatar            AvatarState         `json:"avatar"`
	MicPermission     string              `json:"micPermission"`
	TutorPrompt       string              `json:"tutorPrompt"`
	ExpectedUtterance string              `json:"expectedUtterance"`
	LastFeedback      *inference.Feedback `json:"lastFeedback,omitempty"`
	ProcessingError   string              `json:"processingError,omitempty"`
	VoiceError        string              `json:"voiceError,omitempty"`
	Transcript        []ChatEntry         `json:"transcript"`
}

// Recorder is the microphone capture handle the orchestrator drives.
type Recorder interface {
	Start(ctx context.Context) error
	// Stop returns the artifact ref, or "" when nothing was recorded.
	Stop(ctx context.Context) (string, error)
	Reset()
}

// Playback is the voice playback controller the orchestrator drives.
type Playback interface {
	Play(ctx context.Context, ref string) error
	Stop()
	Live() bool
}

// Archiver persists recording artifacts off the box; failures are logged,
// never surfaced to the learner.
type Archiver interface {
	Archive(ctx context.Context, localPath string) error
}

// Deps are the orchestrator's collaborators.
type Deps struct {
	Recorder    Recorder
	Playback    Playback
	Gateway     inference.Gateway
	Permissions capture.Permissions
	Archiver    Archiver       // optional
	OnChange    func(Snapshot) // optional observer, invoked outside the state lock
}

// Options tune session behavior; zero values get defaults.
type Options struct {
	GreetingDelay  time.Duration // debounce before auto-playing the tutor prompt (default 350ms)
	SpeakingWindow time.Duration // optimistic avatar speaking window (default 2.4s)
}

const (
	defaultGreetingDelay  = 350 * time.Millisecond
	defaultSpeakingWindow = 2400 * time.Millisecond
)
