package player

// State is the engine's playback state.
//
//	         Load              Play
//	Idle ----------> Loaded ----------> Playing <----+
//	 ^                 |                 |    ^      |
//	 |                 |           Pause |    | Play |
//	 |   Stop (any)    |                 v    |      |
//	 +-----------------+--------------- Paused       |
//	                                                 |
//	       end of track or device loss               |
//	Playing --------------------------> Ended -------+ (Play restarts at 0)
//
// Load from any state tears the current track down first.
type State int

const (
	Idle State = iota
	Loaded
	Playing
	Paused
	// Ended is stopped at the end of the track. The track stays loaded.
	Ended
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loaded:
		return "loaded"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Ended:
		return "ended"
	}
	return "unknown"
}

// HasTrack reports whether a track is loaded.
func (s State) HasTrack() bool { return s != Idle }

// CanPlay reports whether Play would start output.
func (s State) CanPlay() bool { return s == Loaded || s == Paused || s == Ended }

// CanPause reports whether Pause would do anything.
func (s State) CanPause() bool { return s == Playing }

// EndReason says why playback ended.
type EndReason int

const (
	// EndNatural is the end of the stream.
	EndNatural EndReason = iota
	// EndError is a decode failure mid-track.
	EndError
	// EndDeviceLost means the output device went away and could not be
	// reopened.
	EndDeviceLost
)

func (r EndReason) String() string {
	switch r {
	case EndNatural:
		return "natural"
	case EndError:
		return "error"
	case EndDeviceLost:
		return "device-lost"
	}
	return "unknown"
}
