package sound

import "time"

// DownloadState is the lifecycle of one download request.
type DownloadState int

const (
	DownloadPending DownloadState = iota
	DownloadInProgress
	DownloadComplete
	DownloadFailed
)

var downloadStateNames = map[DownloadState]string{
	DownloadPending:    "pending",
	DownloadInProgress: "in_progress",
	DownloadComplete:   "complete",
	DownloadFailed:     "failed",
}

func (s DownloadState) String() string {
	if n, ok := downloadStateNames[s]; ok {
		return n
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible.
func (s DownloadState) Terminal() bool {
	return s == DownloadComplete || s == DownloadFailed
}

var downloadTransitions = map[DownloadState][]DownloadState{
	DownloadPending:    {DownloadInProgress, DownloadFailed},
	DownloadInProgress: {DownloadComplete, DownloadFailed},
}

// PlaybackState is the lifecycle of the single global playback.
type PlaybackState int

const (
	PlaybackIdle PlaybackState = iota
	PlaybackLoading
	PlaybackPlaying
)

var playbackStateNames = map[PlaybackState]string{
	PlaybackIdle:    "idle",
	PlaybackLoading: "loading",
	PlaybackPlaying: "playing",
}

func (s PlaybackState) String() string {
	if n, ok := playbackStateNames[s]; ok {
		return n
	}
	return "unknown"
}

var playbackTransitions = map[PlaybackState][]PlaybackState{
	PlaybackIdle:    {PlaybackLoading},
	PlaybackLoading: {PlaybackPlaying, PlaybackIdle},
	PlaybackPlaying: {PlaybackIdle},
}

func allowed[S comparable](table map[S][]S, from, to S) bool {
	for _, s := range table[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Download is one in-flight request.
type Download struct {
	ID      string
	State   DownloadState
	Slot    uint8
	GUID    string
	Name    string
	URL     string
	Dest    string
	Started time.Time
	Reason  string

	handle WorkerHandle
}

func (d *Download) transition(to DownloadState) error {
	if !allowed(downloadTransitions, d.State, to) {
		return newError(ErrIllegalTransition, "download %s: %s -> %s", d.ID, d.State, to)
	}
	d.State = to
	return nil
}

// playback is the process-wide playback instance.
type playback struct {
	state   PlaybackState
	slot    uint8
	guid    string
	name    string
	pcm     []int16
	cursor  int
	total   int
	seq     uint32
	started time.Time
}

func (p *playback) transition(to PlaybackState) error {
	if !allowed(playbackTransitions, p.state, to) {
		return newError(ErrIllegalTransition, "playback: %s -> %s", p.state, to)
	}
	p.state = to
	return nil
}

// release returns to Idle and drops the buffer. The sequence number survives
// so it keeps increasing across clips.
func (p *playback) release() {
	p.state = PlaybackIdle
	p.pcm = nil
	p.cursor = 0
	p.total = 0
	p.name = ""
	p.guid = ""
}

// stuck reports an active instance whose cursor already reached the end.
func (p *playback) stuck() bool {
	return p.state != PlaybackIdle && p.cursor >= p.total
}
