package session

// maxBacklogFrame caps how much of each frame the backlog keeps.
const maxBacklogFrame = 256

// backlog keeps the most recent frames discarded while waiting for a reply,
// for diagnostics. Once full it overwrites the oldest entry.
type backlog struct {
	frames []string
	head   int // next write position
	full   bool
	seen   int
}

func newBacklog(size int) *backlog {
	if size <= 0 {
		size = 16
	}
	return &backlog{frames: make([]string, size)}
}

func (b *backlog) add(frame string) {
	if len(frame) > maxBacklogFrame {
		frame = frame[:maxBacklogFrame] + "..."
	}
	b.frames[b.head] = frame
	b.head = (b.head + 1) % len(b.frames)
	if b.head == 0 {
		b.full = true
	}
	b.seen++
}

// recent returns the kept frames, oldest first.
func (b *backlog) recent() []string {
	if !b.full {
		return append([]string(nil), b.frames[:b.head]...)
	}
	out := make([]string, 0, len(b.frames))
	out = append(out, b.frames[b.head:]...)
	return append(out, b.frames[:b.head]...)
}

// last returns the newest frame, or "" when none was kept.
func (b *backlog) last() string {
	if b.seen == 0 {
		return ""
	}
	return b.frames[(b.head-1+len(b.frames))%len(b.frames)]
}
