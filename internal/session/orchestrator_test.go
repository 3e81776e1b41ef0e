package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirkodgzconsulting/phoebe-practice/internal/capture"
	"github.com/mirkodgzconsulting/phoebe-practice/internal/inference"
	"github.com/mirkodgzconsulting/phoebe-practice/internal/playback"
	"github.com/mirkodgzconsulting/phoebe-practice/internal/script"
)

// eventLog records interleaved resource events across the audio fakes so
// tests can assert ordering invariants.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	copy(out, l.events)
	return out
}

type fakeRecorder struct {
	log      *eventLog
	mu       sync.Mutex
	active   bool
	artifact string
	startErr error
	starts   int
}

func (r *fakeRecorder) Start(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts++
	if r.startErr != nil {
		return r.startErr
	}
	r.active = true
	r.log.add("rec-start")
	return nil
}

func (r *fakeRecorder) Stop(_ context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return "", nil
	}
	r.active = false
	r.log.add("rec-stop")
	return r.artifact, nil
}

func (r *fakeRecorder) Reset() {
	r.mu.Lock()
	if r.active {
		r.active = false
		r.log.add("rec-stop")
	}
	r.mu.Unlock()
}

func (r *fakeRecorder) recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

type fakePlayback struct {
	log     *eventLog
	mu      sync.Mutex
	live    bool
	plays   []string
	playErr error
}

func (p *fakePlayback) Play(_ context.Context, ref string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playErr != nil {
		return p.playErr
	}
	if p.live {
		// single flight: a new play first tears down the prior clip
		p.log.add("play-stop")
	}
	p.live = true
	p.plays = append(p.plays, ref)
	p.log.add("play-start")
	return nil
}

func (p *fakePlayback) Stop() {
	p.mu.Lock()
	if p.live {
		p.live = false
		p.log.add("play-stop")
	}
	p.mu.Unlock()
}

func (p *fakePlayback) Live() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}

func (p *fakePlayback) played() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.plays))
	copy(out, p.plays)
	return out
}

type fakePerms struct {
	mu             sync.Mutex
	status         capture.PermissionStatus
	grantOnRequest bool
	requests       int
}

func (f *fakePerms) Status() capture.PermissionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakePerms) Request() capture.PermissionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	if f.grantOnRequest {
		f.status = capture.PermissionGranted
	}
	return f.status
}

type fakeGateway struct {
	mu             sync.Mutex
	transcription  inference.Transcription
	transcribeErr  error
	feedback       inference.Feedback
	evaluateErr    error
	synthRef       string
	synthErr       error
	evalGate       chan struct{} // when set, Evaluate blocks until closed
	transcribes    int
	evaluates      int
	synths         int
	lastSynthText  string
	lastEvaluation inference.EvaluationRequest
}

func (g *fakeGateway) Transcribe(_ context.Context, _ string) (inference.Transcription, error) {
	g.mu.Lock()
	g.transcribes++
	tr, err := g.transcription, g.transcribeErr
	g.mu.Unlock()
	return tr, err
}

func (g *fakeGateway) Evaluate(ctx context.Context, req inference.EvaluationRequest) (inference.Feedback, error) {
	g.mu.Lock()
	g.evaluates++
	g.lastEvaluation = req
	gate := g.evalGate
	fb, err := g.feedback, g.evaluateErr
	g.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return inference.Feedback{}, ctx.Err()
		}
	}
	return fb, err
}

func (g *fakeGateway) Synthesize(_ context.Context, text string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.synths++
	g.lastSynthText = text
	return g.synthRef, g.synthErr
}

func (g *fakeGateway) counts() (transcribes, evaluates, synths int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.transcribes, g.evaluates, g.synths
}

type fixture struct {
	orch  *Orchestrator
	rec   *fakeRecorder
	play  *fakePlayback
	perms *fakePerms
	gw    *fakeGateway
	log   *eventLog
}

func newFixture(t *testing.T, gw *fakeGateway, opts Options) *fixture {
	t.Helper()
	if opts.GreetingDelay == 0 {
		opts.GreetingDelay = time.Hour // keep auto-greetings out of the way unless a test wants them
	}
	if opts.SpeakingWindow == 0 {
		opts.SpeakingWindow = time.Hour
	}
	log := &eventLog{}
	rec := &fakeRecorder{log: log, artifact: "rec.wav"}
	play := &fakePlayback{log: log}
	perms := &fakePerms{status: capture.PermissionGranted}
	if gw == nil {
		gw = &fakeGateway{
			transcription: inference.Transcription{Text: "good morning"},
			feedback:      inference.Feedback{Summary: "well done", Verdict: inference.VerdictCorrect},
			synthRef:      "voice.wav",
		}
	}
	sc := script.Builtin().Resolve("jobInterview")
	orch := New(sc, "beginner", inference.LearnerProfile{
		NativeLanguage:   "Italiano",
		ProficiencyLevel: "Intermedio",
		LearnerName:      "Giulia Rossi",
	}, Deps{Recorder: rec, Playback: play, Gateway: gw, Permissions: perms}, opts)
	t.Cleanup(orch.Close)
	return &fixture{orch: orch, rec: rec, play: play, perms: perms, gw: gw, log: log}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func countEntries(transcript []ChatEntry, kind ChatKind) int {
	n := 0
	for _, e := range transcript {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func TestAdvanceTurn_WrapAndSaturation(t *testing.T) {
	// Scenario: level with 3 turns, 4 advances from fresh
	f := newFixture(t, nil, Options{})

	for i := 0; i < 4; i++ {
		f.orch.AdvanceTurn()
	}
	snap := f.orch.Snapshot()
	assert.Equal(t, 1, snap.TurnIndex, "turn index wraps modulo turn count")
	assert.Equal(t, 3, snap.CompletedTurns, "progress saturates at level size")
	assert.Equal(t, 100, snap.ProgressPercent)
}

func TestAdvanceTurn_IndexIsAdvancesModuloTurns(t *testing.T) {
	f := newFixture(t, nil, Options{})
	for i := 0; i < 7; i++ {
		f.orch.AdvanceTurn()
	}
	assert.Equal(t, 7%3, f.orch.Snapshot().TurnIndex)
}

func TestCompletedTurns_NeverExceedsTotalNorDecreases(t *testing.T) {
	f := newFixture(t, nil, Options{})
	prev := 0
	for i := 0; i < 10; i++ {
		snap := f.orch.AdvanceTurn()
		assert.LessOrEqual(t, snap.CompletedTurns, snap.TotalTurns)
		assert.GreaterOrEqual(t, snap.CompletedTurns, prev)
		prev = snap.CompletedTurns
	}
}

func TestToggleRecording_DeniedPermissionNeverStartsCapture(t *testing.T) {
	f := newFixture(t, nil, Options{})
	f.perms.status = capture.PermissionDenied

	snap := f.orch.ToggleRecording(context.Background())

	assert.Equal(t, 0, f.rec.starts, "capture must not start without permission")
	assert.Equal(t, 1, f.perms.requests, "permission must be re-requested")
	assert.False(t, snap.Recording)
	assert.Equal(t, PipelineIdle, snap.Pipeline)
	assert.Equal(t, "denied", snap.MicPermission)
	assert.NotEmpty(t, snap.ProcessingError)
}

func TestToggleRecording_UndeterminedPermissionGrantsAndRecords(t *testing.T) {
	f := newFixture(t, nil, Options{})
	f.perms.status = capture.PermissionUndetermined
	f.perms.grantOnRequest = true

	snap := f.orch.ToggleRecording(context.Background())

	assert.Equal(t, 1, f.perms.requests)
	assert.True(t, snap.Recording)
	assert.Equal(t, AvatarListening, snap.Avatar)
}

func TestPipeline_TranscriptionFailureShortCircuits(t *testing.T) {
	gw := &fakeGateway{transcribeErr: inference.ErrTranscriptionFailed}
	f := newFixture(t, gw, Options{})

	f.orch.ToggleRecording(context.Background())
	f.orch.ToggleRecording(context.Background())

	waitFor(t, func() bool {
		s := f.orch.Snapshot()
		return s.Pipeline == PipelineIdle && len(s.Transcript) > 0
	}, "pipeline to fail and settle")

	snap := f.orch.Snapshot()
	assert.Equal(t, 1, countEntries(snap.Transcript, ChatSystem), "exactly one system entry")
	assert.Contains(t, snap.Transcript[len(snap.Transcript)-1].Text, "transcription")
	_, evaluates, synths := f.gw.counts()
	assert.Zero(t, evaluates, "evaluate must not run after transcription failure")
	assert.Zero(t, synths, "synthesize must not run after transcription failure")
	assert.Nil(t, snap.LastFeedback)
}

func TestPipeline_HappyPathOrderingAndFeedback(t *testing.T) {
	f := newFixture(t, nil, Options{})

	f.orch.ToggleRecording(context.Background())
	require.True(t, f.orch.Snapshot().Recording)
	f.orch.ToggleRecording(context.Background())

	waitFor(t, func() bool { return len(f.play.played()) == 1 }, "feedback voice to play")

	snap := f.orch.Snapshot()
	assert.Equal(t, PipelineIdle, snap.Pipeline)
	require.NotNil(t, snap.LastFeedback)
	assert.Equal(t, "well done", snap.LastFeedback.Summary)
	assert.Equal(t, inference.VerdictCorrect, snap.LastFeedback.Verdict)

	// transcript order: user entry first, then feedback entry
	require.GreaterOrEqual(t, len(snap.Transcript), 2)
	assert.Equal(t, ChatUser, snap.Transcript[0].Kind)
	assert.Equal(t, "good morning", snap.Transcript[0].Text)
	assert.Equal(t, ChatFeedback, snap.Transcript[1].Kind)
	require.NotNil(t, snap.Transcript[1].Verdict)
	assert.Equal(t, inference.VerdictCorrect, *snap.Transcript[1].Verdict)

	// the evaluation used the current turn's expected utterance as target
	f.gw.mu.Lock()
	target := f.gw.lastEvaluation.TargetSentence
	learner := f.gw.lastEvaluation.LearnerProfile
	f.gw.mu.Unlock()
	assert.Contains(t, target, "Good morning")
	assert.Equal(t, "Giulia Rossi", learner.LearnerName)

	// history recorded the run
	hist := f.orch.History()
	require.Len(t, hist, 1)
	assert.Equal(t, inference.VerdictCorrect, hist[0].Verdict)
}

func TestPipeline_StopWithoutArtifactSkipsProcessing(t *testing.T) {
	f := newFixture(t, nil, Options{})
	f.rec.artifact = ""

	f.orch.ToggleRecording(context.Background())
	snap := f.orch.ToggleRecording(context.Background())

	assert.Equal(t, PipelineIdle, snap.Pipeline)
	assert.Equal(t, AvatarIdle, snap.Avatar)
	transcribes, _, _ := f.gw.counts()
	assert.Zero(t, transcribes)
}

func TestPipeline_StaleEvaluationDiscardedAfterAdvance(t *testing.T) {
	gate := make(chan struct{})
	gw := &fakeGateway{
		transcription: inference.Transcription{Text: "good morning"},
		feedback:      inference.Feedback{Summary: "late feedback", Verdict: inference.VerdictCorrect},
		synthRef:      "voice.wav",
		evalGate:      gate,
	}
	f := newFixture(t, gw, Options{})

	f.orch.ToggleRecording(context.Background())
	f.orch.ToggleRecording(context.Background())
	waitFor(t, func() bool {
		_, evaluates, _ := f.gw.counts()
		return evaluates == 1
	}, "pipeline to reach the blocked evaluate call")

	// user moves on while the evaluation is still in flight
	f.orch.AdvanceTurn()
	close(gate)

	time.Sleep(50 * time.Millisecond) // allow the stale result to (not) land
	snap := f.orch.Snapshot()
	assert.Equal(t, 1, snap.TurnIndex)
	assert.Nil(t, snap.LastFeedback, "stale feedback must not be applied")
	assert.Zero(t, countEntries(snap.Transcript, ChatFeedback))
	assert.Zero(t, countEntries(snap.Transcript, ChatUser), "advance cleared the transcript; stale entries must not reappear")
	assert.Empty(t, f.play.played(), "stale voice must never play")
	_, _, synths := f.gw.counts()
	assert.Zero(t, synths)
}

func TestSelectLevel_SameLevelIsNoop(t *testing.T) {
	f := newFixture(t, nil, Options{})
	f.orch.AdvanceTurn()
	before := f.orch.Snapshot()

	after := f.orch.SelectLevel("beginner")

	assert.Equal(t, before.TurnIndex, after.TurnIndex)
	assert.Equal(t, before.CompletedTurns, after.CompletedTurns)
	assert.Equal(t, before.Transcript, after.Transcript)
	assert.Equal(t, before.LevelID, after.LevelID)
}

func TestSelectLevel_SwitchResetsConversation(t *testing.T) {
	f := newFixture(t, nil, Options{})
	f.orch.AdvanceTurn()
	f.orch.AdvanceTurn()

	snap := f.orch.SelectLevel("advanced")

	assert.Equal(t, "advanced", snap.LevelID)
	assert.Zero(t, snap.TurnIndex)
	assert.Zero(t, snap.CompletedTurns)
	assert.Empty(t, snap.Transcript)
	assert.Nil(t, snap.LastFeedback)
	assert.Equal(t, 4, snap.TotalTurns)
}

func TestSelectLevel_UnknownLevelIsNoop(t *testing.T) {
	f := newFixture(t, nil, Options{})
	snap := f.orch.SelectLevel("expert")
	assert.Equal(t, "beginner", snap.LevelID)
}

func TestAdvanceTurn_NoopWhileRecording(t *testing.T) {
	f := newFixture(t, nil, Options{})
	f.orch.ToggleRecording(context.Background())

	snap := f.orch.AdvanceTurn()

	assert.Zero(t, snap.TurnIndex)
	assert.Zero(t, snap.CompletedTurns)
	assert.True(t, snap.Recording)
}

func TestAdvanceTurn_NoopWhilePlaying(t *testing.T) {
	f := newFixture(t, nil, Options{})
	require.NoError(t, f.play.Play(context.Background(), "clip"))

	snap := f.orch.AdvanceTurn()
	assert.Zero(t, snap.TurnIndex)
}

func TestMutualExclusion_RecordingAndPlaybackNeverOverlap(t *testing.T) {
	// Drive a full session: greeting voice, record over it, pipeline,
	// feedback voice, advance. Then walk the event log.
	gw := &fakeGateway{
		transcription: inference.Transcription{Text: "hi"},
		feedback:      inference.Feedback{Summary: "ok", Verdict: inference.VerdictNeedsImprovement},
		synthRef:      "voice.wav",
	}
	f := newFixture(t, gw, Options{GreetingDelay: 10 * time.Millisecond, SpeakingWindow: time.Hour})
	f.orch.Start()
	waitFor(t, func() bool { return len(f.play.played()) == 1 }, "greeting to play")

	// recording interrupts the greeting clip
	f.orch.ToggleRecording(context.Background())
	require.True(t, f.orch.Snapshot().Recording)
	f.orch.ToggleRecording(context.Background())
	waitFor(t, func() bool { return len(f.play.played()) == 2 }, "feedback voice to play")

	f.play.Stop()
	f.orch.AdvanceTurn()

	recActive, playActive := false, false
	for i, e := range f.log.snapshot() {
		switch e {
		case "rec-start":
			assert.False(t, recActive, "double rec-start at %d", i)
			assert.False(t, playActive, "recording started while playback live at %d", i)
			recActive = true
		case "rec-stop":
			recActive = false
		case "play-start":
			assert.False(t, playActive, "double play-start at %d", i)
			assert.False(t, recActive, "playback started while recording at %d", i)
			playActive = true
		case "play-stop":
			playActive = false
		}
	}
}

func TestVoiceFailure_KeepsFeedbackTextVisible(t *testing.T) {
	gw := &fakeGateway{
		transcription: inference.Transcription{Text: "hello"},
		feedback:      inference.Feedback{Summary: "almost there", Verdict: inference.VerdictNeedsImprovement},
		synthErr:      inference.ErrSynthesisFailed,
	}
	f := newFixture(t, gw, Options{})

	f.orch.ToggleRecording(context.Background())
	f.orch.ToggleRecording(context.Background())

	waitFor(t, func() bool { return f.orch.Snapshot().VoiceError != "" }, "voice error to surface")

	snap := f.orch.Snapshot()
	require.NotNil(t, snap.LastFeedback, "text feedback survives audio failure")
	assert.Equal(t, "almost there", snap.LastFeedback.Summary)
	assert.Equal(t, 1, countEntries(snap.Transcript, ChatFeedback))
	assert.Zero(t, countEntries(snap.Transcript, ChatSystem), "voice failure is a banner, not a system entry")
	assert.Empty(t, f.play.played())
}

func TestRecordingStartFailure_SurfacesSystemEntry(t *testing.T) {
	f := newFixture(t, nil, Options{})
	f.rec.startErr = errors.New("device busy")

	snap := f.orch.ToggleRecording(context.Background())

	assert.False(t, snap.Recording)
	assert.Equal(t, AvatarIdle, snap.Avatar)
	assert.Equal(t, 1, countEntries(snap.Transcript, ChatSystem))
	assert.Contains(t, snap.ProcessingError, "device busy")
}

func TestGreeting_DebounceCollapsesRapidAdvances(t *testing.T) {
	f := newFixture(t, nil, Options{GreetingDelay: 60 * time.Millisecond})
	f.orch.Start()
	f.orch.AdvanceTurn()
	f.orch.AdvanceTurn()

	waitFor(t, func() bool {
		_, _, synths := f.gw.counts()
		return synths == 1
	}, "exactly one greeting to fire")
	time.Sleep(120 * time.Millisecond)

	_, _, synths := f.gw.counts()
	assert.Equal(t, 1, synths, "superseded greetings must not fire")

	snap := f.orch.Snapshot()
	require.Equal(t, 1, countEntries(snap.Transcript, ChatTutor))
	assert.Equal(t, 2, snap.TurnIndex)
	f.gw.mu.Lock()
	spoken := f.gw.lastSynthText
	f.gw.mu.Unlock()
	assert.Equal(t, snap.TutorPrompt, spoken, "greeting speaks the current turn's prompt")
}

func TestSpeakingWindow_CoversSynthesisGapThenExpires(t *testing.T) {
	f := newFixture(t, nil, Options{GreetingDelay: 10 * time.Millisecond, SpeakingWindow: 80 * time.Millisecond})
	f.orch.Start()

	waitFor(t, func() bool { return f.orch.Snapshot().Avatar == AvatarSpeaking }, "optimistic speaking window")
	waitFor(t, func() bool { return f.orch.Snapshot().Avatar == AvatarIdle }, "window to expire")
}

func TestAvatar_FollowsPositionAwareSpeakingSignal(t *testing.T) {
	f := newFixture(t, nil, Options{})

	f.orch.HandlePlaybackStatus(playback.Loaded{PositionMillis: 100, IsPlaying: true})
	assert.Equal(t, AvatarIdle, f.orch.Snapshot().Avatar, "below threshold is not speaking")

	f.orch.HandlePlaybackStatus(playback.Loaded{PositionMillis: 250, IsPlaying: true})
	assert.Equal(t, AvatarSpeaking, f.orch.Snapshot().Avatar)

	f.orch.HandlePlaybackStatus(playback.Loaded{PositionMillis: 900, IsPlaying: false, DidJustFinish: true})
	assert.Equal(t, AvatarIdle, f.orch.Snapshot().Avatar, "finish turns speaking off immediately")

	f.orch.HandlePlaybackStatus(playback.Errored{Message: "clip failed"})
	snap := f.orch.Snapshot()
	assert.Equal(t, AvatarIdle, snap.Avatar)
	assert.Equal(t, "clip failed", snap.VoiceError)
}

func TestAvatar_ListeningWinsOverSpeakingWindow(t *testing.T) {
	f := newFixture(t, nil, Options{GreetingDelay: 10 * time.Millisecond, SpeakingWindow: time.Hour})
	f.orch.Start()
	waitFor(t, func() bool { return f.orch.Snapshot().Avatar == AvatarSpeaking }, "speaking window")

	snap := f.orch.ToggleRecording(context.Background())
	assert.Equal(t, AvatarListening, snap.Avatar)
	assert.False(t, f.play.Live(), "recording start stops playback")

	// the speaking window was cancelled, not paused: stopping leaves idle
	reset := f.orch.ResetSession()
	assert.Equal(t, AvatarIdle, reset.Avatar)
}

func TestSayExpected_AppendsUserEntry(t *testing.T) {
	f := newFixture(t, nil, Options{})
	snap := f.orch.SayExpected()
	require.Equal(t, 1, countEntries(snap.Transcript, ChatUser))
	assert.Equal(t, snap.ExpectedUtterance, snap.Transcript[0].Text)

	f.orch.ToggleRecording(context.Background())
	snap = f.orch.SayExpected()
	assert.Equal(t, 1, countEntries(snap.Transcript, ChatUser), "no-op while recording")
}

func TestReplayFeedback_RequiresFeedbackAndIdleAudio(t *testing.T) {
	f := newFixture(t, nil, Options{})
	f.orch.ReplayFeedback()
	time.Sleep(20 * time.Millisecond)
	_, _, synths := f.gw.counts()
	assert.Zero(t, synths, "nothing to replay yet")

	f.orch.ToggleRecording(context.Background())
	f.orch.ToggleRecording(context.Background())
	waitFor(t, func() bool { return len(f.play.played()) == 1 }, "feedback voice")
	f.play.Stop()

	f.orch.ReplayFeedback()
	waitFor(t, func() bool { return len(f.play.played()) == 2 }, "replayed feedback voice")
	f.gw.mu.Lock()
	spoken := f.gw.lastSynthText
	f.gw.mu.Unlock()
	assert.Equal(t, "well done", spoken)
}

func TestReanalyze_ReusesLastArtifact(t *testing.T) {
	f := newFixture(t, nil, Options{})
	f.orch.Reanalyze()
	transcribes, _, _ := f.gw.counts()
	assert.Zero(t, transcribes, "no artifact recorded yet")

	f.orch.ToggleRecording(context.Background())
	f.orch.ToggleRecording(context.Background())
	waitFor(t, func() bool { return len(f.play.played()) == 1 }, "first analysis")
	f.play.Stop()

	f.orch.Reanalyze()
	waitFor(t, func() bool {
		transcribes, _, _ := f.gw.counts()
		return transcribes == 2
	}, "second analysis on the same artifact")
}

func TestClose_ReleasesEverything(t *testing.T) {
	f := newFixture(t, nil, Options{})
	f.orch.ToggleRecording(context.Background())
	require.True(t, f.rec.recording())

	f.orch.Close()

	assert.False(t, f.rec.recording(), "close discards the live recording")
	assert.False(t, f.play.Live())

	// post-close operations are inert
	snap := f.orch.ToggleRecording(context.Background())
	assert.False(t, snap.Recording)
	snap = f.orch.AdvanceTurn()
	assert.Zero(t, snap.TurnIndex)
}

func TestOnChange_ObserverSeesTransitions(t *testing.T) {
	var mu sync.Mutex
	var states []AvatarState
	gw := &fakeGateway{
		transcription: inference.Transcription{Text: "hi"},
		feedback:      inference.Feedback{Summary: "ok", Verdict: inference.VerdictCorrect},
		synthRef:      "voice.wav",
	}
	log := &eventLog{}
	rec := &fakeRecorder{log: log, artifact: "rec.wav"}
	play := &fakePlayback{log: log}
	orch := New(script.Builtin().Resolve("jobInterview"), "beginner",
		inference.LearnerProfile{LearnerName: "Giulia"},
		Deps{
			Recorder:    rec,
			Playback:    play,
			Gateway:     gw,
			Permissions: &fakePerms{status: capture.PermissionGranted},
			OnChange: func(s Snapshot) {
				mu.Lock()
				states = append(states, s.Avatar)
				mu.Unlock()
			},
		}, Options{GreetingDelay: time.Hour, SpeakingWindow: time.Hour})
	defer orch.Close()

	orch.ToggleRecording(context.Background())
	orch.ToggleRecording(context.Background())
	waitFor(t, func() bool { return len(play.played()) == 1 }, "pipeline to finish")

	mu.Lock()
	joined := ""
	for _, s := range states {
		joined += string(s) + ","
	}
	mu.Unlock()
	assert.True(t, strings.Contains(joined, string(AvatarListening)), "observer saw listening: %s", joined)
	assert.True(t, strings.Contains(joined, string(AvatarSpeaking)), "observer saw speaking: %s", joined)
}
