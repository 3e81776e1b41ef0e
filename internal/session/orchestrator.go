// Package session implements the practice-session orchestrator: the state
// machine coordinating microphone capture, the transcribe→evaluate→synthesize
// pipeline, voice playback and turn progression for one learner session.
package session

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mirkodgzconsulting/phoebe-practice/internal/capture"
	"github.com/mirkodgzconsulting/phoebe-practice/internal/inference"
	"github.com/mirkodgzconsulting/phoebe-practice/internal/playback"
	"github.com/mirkodgzconsulting/phoebe-practice/internal/script"
)

const (
	msgTranscriptionFailed = "Could not get a transcription. Try recording again."
	msgEvaluationFailed    = "The evaluation did not complete, please try again."
)

// Orchestrator owns all session state. Exported operations are safe for
// concurrent use; state is mutated only under the lock and audio side
// effects run outside it, so observers never see a partial transition.
type Orchestrator struct {
	id       string
	scenario script.Scenario
	learner  inference.LearnerProfile
	opts     Options
	deps     Deps

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	closed         bool
	level          script.Level
	turnIndex      int
	completedTurns int
	recording      bool
	pipeline       PipelineState
	lastAudioRef   string
	lastFeedback   *inference.Feedback
	procErr        string
	voiceErr       string
	transcript     []ChatEntry
	history        []HistoryItem
	micPermission  capture.PermissionStatus

	// playbackSpeaking follows the position-aware signal; speakingWindow is
	// the optimistic fixed-duration window armed at every voice request.
	playbackSpeaking bool
	speakingWindow   bool

	// generation stamps every pipeline run and armed greeting; async results
	// from a superseded generation are discarded without side effects.
	generation    uint64
	greetingTimer *time.Timer
	speakingTimer *time.Timer
}

// New builds an orchestrator for one scenario/level. Call Start to arm the
// opening tutor greeting and Close to release all resources.
func New(sc script.Scenario, levelID string, learner inference.LearnerProfile, deps Deps, opts Options) *Orchestrator {
	if opts.GreetingDelay <= 0 {
		opts.GreetingDelay = defaultGreetingDelay
	}
	if opts.SpeakingWindow <= 0 {
		opts.SpeakingWindow = defaultSpeakingWindow
	}
	if strings.TrimSpace(learner.LearnerName) == "" {
		learner.LearnerName = "Studente"
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		id:       uuid.NewString(),
		scenario: sc,
		learner:  learner,
		opts:     opts,
		deps:     deps,
		ctx:      ctx,
		cancel:   cancel,
		level:    sc.Level(levelID),
		pipeline: PipelineIdle,
	}
	if deps.Permissions != nil {
		o.micPermission = deps.Permissions.Status()
	} else {
		o.micPermission = capture.PermissionUndetermined
	}
	return o
}

// ID returns the session id.
func (o *Orchestrator) ID() string { return o.id }

// Start arms the debounced auto-playback of the opening tutor prompt.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.generation++
	o.armGreetingLocked(o.generation)
	o.mu.Unlock()
}

// ToggleRecording starts a recording when idle, or stops it and runs the
// feedback pipeline. With permission missing it requests access and stays
// idle unless granted.
func (o *Orchestrator) ToggleRecording(ctx context.Context) Snapshot {
	o.mu.Lock()
	if o.closed {
		defer o.mu.Unlock()
		return o.snapshotLocked()
	}
	if o.recording {
		return o.stopRecordingLocked(ctx)
	}
	return o.startRecordingLocked(ctx)
}

// startRecordingLocked is entered holding the lock and returns with it
// released.
func (o *Orchestrator) startRecordingLocked(ctx context.Context) Snapshot {
	if o.pipeline == PipelineProcessing {
		defer o.mu.Unlock()
		return o.snapshotLocked()
	}

	if o.micPermission != capture.PermissionGranted {
		o.mu.Unlock()
		status := o.deps.Permissions.Request()
		o.mu.Lock()
		o.micPermission = status
		if status != capture.PermissionGranted {
			o.procErr = "Microphone permission is required to practice. Check your device settings."
			snap := o.snapshotLocked()
			o.mu.Unlock()
			o.emit(snap)
			return snap
		}
	}

	// supersede any pending greeting or in-flight voice before the mic opens
	o.generation++
	o.cancelGreetingLocked()
	o.cancelSpeakingWindowLocked()
	o.lastFeedback = nil
	o.procErr = ""
	o.voiceErr = ""
	o.mu.Unlock()

	o.deps.Playback.Stop()
	err := o.deps.Recorder.Start(ctx)

	o.mu.Lock()
	if err != nil {
		o.procErr = fmt.Sprintf("Recording could not start: %v", err)
		o.appendEntryLocked(ChatSystem, o.procErr, nil)
		log.Printf("[%s] recording start failed: %v", o.id, err)
	} else {
		o.recording = true
		log.Printf("[%s] recording started", o.id)
	}
	snap := o.snapshotLocked()
	o.mu.Unlock()
	o.emit(snap)
	return snap
}

// stopRecordingLocked is entered holding the lock and returns with it
// released.
func (o *Orchestrator) stopRecordingLocked(ctx context.Context) Snapshot {
	o.mu.Unlock()
	artifact, err := o.deps.Recorder.Stop(ctx)
	o.mu.Lock()
	o.recording = false

	if err != nil {
		o.procErr = fmt.Sprintf("Recording failed: %v", err)
		o.appendEntryLocked(ChatSystem, o.procErr, nil)
		log.Printf("[%s] recording stop failed: %v", o.id, err)
		snap := o.snapshotLocked()
		o.mu.Unlock()
		o.emit(snap)
		return snap
	}
	if artifact == "" {
		// nothing captured, back to idle with no pipeline run
		snap := o.snapshotLocked()
		o.mu.Unlock()
		o.emit(snap)
		return snap
	}

	o.lastAudioRef = artifact
	o.pipeline = PipelineProcessing
	o.generation++
	gen := o.generation
	target := o.currentPairLocked().Expected(o.firstName())
	snap := o.snapshotLocked()
	o.mu.Unlock()
	o.emit(snap)
	log.Printf("[%s] recording stopped, artifact=%s", o.id, artifact)

	if o.deps.Archiver != nil {
		go func() {
			if err := o.deps.Archiver.Archive(o.ctx, artifact); err != nil {
				log.Printf("[%s] artifact archive failed: %v", o.id, err)
			}
		}()
	}
	go o.runPipeline(gen, artifact, target)
	return snap
}

// runPipeline executes transcribe → evaluate → synthesize/play for one
// recording. Each step checks the generation before applying its result so a
// superseded run cannot clobber newer state.
func (o *Orchestrator) runPipeline(gen uint64, artifact, target string) {
	tr, err := o.deps.Gateway.Transcribe(o.ctx, artifact)
	if err != nil {
		log.Printf("[%s] transcription failed: %v", o.id, err)
		o.failPipeline(gen, msgTranscriptionFailed)
		return
	}
	if !o.apply(gen, func() {
		o.appendEntryLocked(ChatUser, tr.Text, nil)
	}) {
		return
	}

	fb, err := o.deps.Gateway.Evaluate(o.ctx, inference.EvaluationRequest{
		Transcript:     tr.Text,
		TargetSentence: target,
		LearnerProfile: o.learner,
		Segments:       tr.Segments,
	})
	if err != nil {
		log.Printf("[%s] evaluation failed: %v", o.id, err)
		o.failPipeline(gen, msgEvaluationFailed)
		return
	}

	feedbackText := strings.TrimSpace(fb.Summary)
	if feedbackText == "" {
		feedbackText = fmt.Sprintf("Analysis complete, %s. Great job, keep practicing!", o.firstName())
	}
	if !o.apply(gen, func() {
		verdict := fb.Verdict
		o.lastFeedback = &inference.Feedback{Summary: feedbackText, Verdict: fb.Verdict}
		o.appendEntryLocked(ChatFeedback, feedbackText, &verdict)
		o.history = append(o.history, HistoryItem{
			LevelID:   o.level.ID,
			TurnIndex: o.turnIndex,
			Verdict:   fb.Verdict,
			Summary:   feedbackText,
			At:        time.Now(),
		})
		o.pipeline = PipelineIdle
	}) {
		return
	}

	// voice failures past this point are non-blocking: the feedback text
	// stays visible even when audio cannot be produced
	o.speakVoice(gen, feedbackText)
}

// failPipeline surfaces one system entry and returns the session to idle.
// Errors are transient: there is no persistent errored state to leave.
func (o *Orchestrator) failPipeline(gen uint64, msg string) {
	o.apply(gen, func() {
		o.pipeline = PipelineIdle
		o.procErr = msg
		o.appendEntryLocked(ChatSystem, msg, nil)
	})
}

// speakVoice synthesizes and plays text for the given generation, arming the
// optimistic speaking window up front so the avatar reacts before position
// updates arrive.
func (o *Orchestrator) speakVoice(gen uint64, text string) {
	if !o.apply(gen, func() {
		o.voiceErr = ""
		o.armSpeakingWindowLocked()
	}) {
		return
	}

	ref, err := o.deps.Gateway.Synthesize(o.ctx, text)
	if err != nil {
		log.Printf("[%s] voice synthesis failed: %v", o.id, err)
		o.apply(gen, func() {
			o.voiceErr = "The feedback audio could not be produced."
			o.cancelSpeakingWindowLocked()
		})
		return
	}
	if !o.stillCurrent(gen) {
		return
	}
	if err := o.deps.Playback.Play(o.ctx, ref); err != nil {
		log.Printf("[%s] voice playback failed: %v", o.id, err)
		o.apply(gen, func() {
			o.voiceErr = "The feedback audio could not be played."
			o.cancelSpeakingWindowLocked()
		})
		return
	}
	// a turn advance may have raced the Play call; never let a stale clip
	// talk over the new turn
	if !o.stillCurrent(gen) {
		o.deps.Playback.Stop()
	}
}

// Reanalyze re-runs the feedback pipeline on the most recent recording
// without recording again. No-op while busy or with no prior artifact.
func (o *Orchestrator) Reanalyze() Snapshot {
	o.mu.Lock()
	if o.closed || o.recording || o.pipeline == PipelineProcessing || o.lastAudioRef == "" {
		defer o.mu.Unlock()
		return o.snapshotLocked()
	}
	o.generation++
	gen := o.generation
	o.pipeline = PipelineProcessing
	o.procErr = ""
	o.voiceErr = ""
	artifact := o.lastAudioRef
	target := o.currentPairLocked().Expected(o.firstName())
	snap := o.snapshotLocked()
	o.mu.Unlock()

	o.deps.Playback.Stop()
	o.emit(snap)
	go o.runPipeline(gen, artifact, target)
	return snap
}

// AdvanceTurn moves to the next turn pair. It is a no-op while recording or
// while voice audio is live; an in-flight pipeline is superseded instead,
// its late results discarded by the generation check.
func (o *Orchestrator) AdvanceTurn() Snapshot {
	o.mu.Lock()
	if o.closed || o.recording || o.playbackSpeaking || o.deps.Playback.Live() {
		defer o.mu.Unlock()
		return o.snapshotLocked()
	}
	total := len(o.level.Turns)
	o.generation++
	gen := o.generation
	o.turnIndex = (o.turnIndex + 1) % total
	if o.completedTurns < total {
		o.completedTurns++
	}
	o.resetConversationLocked()
	o.armGreetingLocked(gen)
	snap := o.snapshotLocked()
	o.mu.Unlock()

	o.deps.Playback.Stop()
	o.emit(snap)
	return snap
}

// SelectLevel switches the active level, resetting all conversation state.
// Selecting the active or an unknown level id is a no-op.
func (o *Orchestrator) SelectLevel(levelID string) Snapshot {
	o.mu.Lock()
	if o.closed || levelID == o.level.ID || !o.scenario.HasLevel(levelID) {
		defer o.mu.Unlock()
		return o.snapshotLocked()
	}
	o.generation++
	gen := o.generation
	o.level = o.scenario.Level(levelID)
	o.turnIndex = 0
	o.completedTurns = 0
	o.recording = false
	o.resetConversationLocked()
	o.armGreetingLocked(gen)
	snap := o.snapshotLocked()
	o.mu.Unlock()

	o.deps.Recorder.Reset()
	o.deps.Playback.Stop()
	o.emit(snap)
	log.Printf("[%s] level switched to %s", o.id, levelID)
	return snap
}

// ResetSession discards any in-progress recording and playback and returns
// to a clean idle state on the current turn; progress is kept.
func (o *Orchestrator) ResetSession() Snapshot {
	o.mu.Lock()
	if o.closed {
		defer o.mu.Unlock()
		return o.snapshotLocked()
	}
	o.generation++
	gen := o.generation
	o.recording = false
	o.pipeline = PipelineIdle
	o.lastAudioRef = ""
	o.lastFeedback = nil
	o.procErr = ""
	o.voiceErr = ""
	o.playbackSpeaking = false
	o.cancelSpeakingWindowLocked()
	o.armGreetingLocked(gen)
	snap := o.snapshotLocked()
	o.mu.Unlock()

	o.deps.Recorder.Reset()
	o.deps.Playback.Stop()
	o.emit(snap)
	return snap
}

// ReplayFeedback re-plays the last feedback summary. No-op without feedback
// or while the mic or voice audio is busy.
func (o *Orchestrator) ReplayFeedback() Snapshot {
	o.mu.Lock()
	if o.closed || o.lastFeedback == nil || o.recording ||
		o.pipeline == PipelineProcessing || o.deps.Playback.Live() {
		defer o.mu.Unlock()
		return o.snapshotLocked()
	}
	gen := o.generation
	text := o.lastFeedback.Summary
	snap := o.snapshotLocked()
	o.mu.Unlock()

	go o.speakVoice(gen, text)
	return snap
}

// SayExpected appends the current turn's expected utterance as a user entry
// (the "show me an example" affordance). No-op while recording/processing.
func (o *Orchestrator) SayExpected() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.recording || o.pipeline == PipelineProcessing {
		return o.snapshotLocked()
	}
	o.appendEntryLocked(ChatUser, o.currentPairLocked().Expected(o.firstName()), nil)
	return o.snapshotLocked()
}

// HandlePlaybackStatus consumes playback status updates and recomputes the
// avatar-facing speaking signal.
func (o *Orchestrator) HandlePlaybackStatus(st playback.Status) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	if e, ok := st.(playback.Errored); ok {
		o.voiceErr = e.Message
		o.playbackSpeaking = false
	} else {
		o.playbackSpeaking = playback.Speaking(st)
	}
	snap := o.snapshotLocked()
	o.mu.Unlock()
	o.emit(snap)
}

// Snapshot returns the current read-only session state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// History returns the completed-run log, oldest first.
func (o *Orchestrator) History() []HistoryItem {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]HistoryItem, len(o.history))
	copy(out, o.history)
	return out
}

// Close releases the recording, playback and timer resources. Idempotent.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.generation++
	o.cancelGreetingLocked()
	o.cancelSpeakingWindowLocked()
	o.mu.Unlock()

	o.deps.Recorder.Reset()
	o.deps.Playback.Stop()
	o.cancel()
	log.Printf("[%s] session closed", o.id)
}

// --- internals, all *Locked helpers require o.mu held ---

func (o *Orchestrator) resetConversationLocked() {
	o.pipeline = PipelineIdle
	o.lastAudioRef = ""
	o.lastFeedback = nil
	o.procErr = ""
	o.voiceErr = ""
	o.transcript = nil
	o.playbackSpeaking = false
	o.cancelSpeakingWindowLocked()
}

func (o *Orchestrator) currentPairLocked() script.TurnPair {
	return o.level.Turns[o.turnIndex%len(o.level.Turns)]
}

func (o *Orchestrator) firstName() string {
	fields := strings.Fields(o.learner.LearnerName)
	if len(fields) == 0 {
		return o.learner.LearnerName
	}
	return fields[0]
}

func (o *Orchestrator) appendEntryLocked(kind ChatKind, text string, verdict *inference.Verdict) {
	o.transcript = append(o.transcript, ChatEntry{
		ID:      uuid.NewString(),
		Kind:    kind,
		Text:    text,
		Verdict: verdict,
		At:      time.Now(),
	})
}

func (o *Orchestrator) avatarLocked() AvatarState {
	if o.recording {
		// recording always wins over an overlapping speaking window
		return AvatarListening
	}
	if o.playbackSpeaking || o.speakingWindow {
		return AvatarSpeaking
	}
	return AvatarIdle
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	total := len(o.level.Turns)
	completed := o.completedTurns
	if completed > total {
		completed = total
	}
	pair := o.currentPairLocked()
	first := o.firstName()
	transcript := make([]ChatEntry, len(o.transcript))
	copy(transcript, o.transcript)
	var fb *inference.Feedback
	if o.lastFeedback != nil {
		cp := *o.lastFeedback
		fb = &cp
	}
	return Snapshot{
		SessionID:         o.id,
		ScenarioID:        o.scenario.ID,
		LevelID:           o.level.ID,
		TurnIndex:         o.turnIndex,
		CompletedTurns:    completed,
		TotalTurns:        total,
		ProgressPercent:   int(float64(completed)/float64(total)*100 + 0.5),
		Recording:         o.recording,
		Pipeline:          o.pipeline,
		Avatar:            o.avatarLocked(),
		MicPermission:     permissionLabel(o.micPermission),
		TutorPrompt:       pair.Tutor(first),
		ExpectedUtterance: pair.Expected(first),
		LastFeedback:      fb,
		ProcessingError:   o.procErr,
		VoiceError:        o.voiceErr,
		Transcript:        transcript,
	}
}

func permissionLabel(s capture.PermissionStatus) string {
	if s == capture.PermissionUndetermined {
		return "unknown"
	}
	return string(s)
}

// apply runs fn under the lock only if gen is still the current generation,
// then emits a snapshot. Returns false when the result was stale.
func (o *Orchestrator) apply(gen uint64, fn func()) bool {
	o.mu.Lock()
	if o.closed || gen != o.generation {
		o.mu.Unlock()
		return false
	}
	fn()
	snap := o.snapshotLocked()
	o.mu.Unlock()
	o.emit(snap)
	return true
}

func (o *Orchestrator) stillCurrent(gen uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return !o.closed && gen == o.generation
}

func (o *Orchestrator) emit(snap Snapshot) {
	if o.deps.OnChange != nil {
		o.deps.OnChange(snap)
	}
}

// armGreetingLocked schedules the debounced tutor-prompt playback for gen,
// cancelling any previously armed greeting first (last writer wins).
func (o *Orchestrator) armGreetingLocked(gen uint64) {
	o.cancelGreetingLocked()
	o.greetingTimer = time.AfterFunc(o.opts.GreetingDelay, func() {
		o.playGreeting(gen)
	})
}

func (o *Orchestrator) playGreeting(gen uint64) {
	var prompt string
	if !o.apply(gen, func() {
		prompt = o.currentPairLocked().Tutor(o.firstName())
		o.appendEntryLocked(ChatTutor, prompt, nil)
	}) {
		return
	}
	o.speakVoice(gen, prompt)
}

func (o *Orchestrator) cancelGreetingLocked() {
	if o.greetingTimer != nil {
		o.greetingTimer.Stop()
		o.greetingTimer = nil
	}
}

// armSpeakingWindowLocked starts the fixed-duration optimistic speaking
// window, replacing any prior window timer.
func (o *Orchestrator) armSpeakingWindowLocked() {
	if o.speakingTimer != nil {
		o.speakingTimer.Stop()
	}
	o.speakingWindow = true
	o.speakingTimer = time.AfterFunc(o.opts.SpeakingWindow, func() {
		o.mu.Lock()
		o.speakingWindow = false
		snap := o.snapshotLocked()
		o.mu.Unlock()
		o.emit(snap)
	})
}

func (o *Orchestrator) cancelSpeakingWindowLocked() {
	if o.speakingTimer != nil {
		o.speakingTimer.Stop()
		o.speakingTimer = nil
	}
	o.speakingWindow = false
}
