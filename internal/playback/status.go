package playback

// Status is the playback state reported to the status callback. It is a
// closed union: Loaded, Errored or Unloaded.
type Status interface{ playbackStatus() }

// Loaded carries the live position of a playing or paused clip.
type Loaded struct {
	PositionMillis int64
	IsPlaying      bool
	DidJustFinish  bool
}

// Errored reports an unrecoverable load or play failure.
type Errored struct {
	Message string
}

// Unloaded is reported once no resource is held anymore.
type Unloaded struct{}

func (Loaded) playbackStatus()   {}
func (Errored) playbackStatus()  {}
func (Unloaded) playbackStatus() {}

// SyncThresholdMillis is how far playback must have advanced before the
// clip counts as audibly speaking. Audio engines report a playing state a
// beat before sound is audible; animating on play-start looks premature.
const SyncThresholdMillis = 200

// Speaking derives the avatar mouth-movement signal from a status update:
// true only for a playing clip at or past the sync threshold that has not
// just finished.
func Speaking(st Status) bool {
	l, ok := st.(Loaded)
	if !ok {
		return false
	}
	if l.DidJustFinish || !l.IsPlaying {
		return false
	}
	return l.PositionMillis >= SyncThresholdMillis
}
