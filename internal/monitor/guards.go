package monitor

import "sync"

// Guards holds the per-GID idempotency markers that make automatic actions
// fire at most once across overlapping monitors and refreshers. Sets are
// append-only for the process lifetime; aria2 does not reuse GIDs within a
// session.
type Guards struct {
	mu              sync.Mutex
	notified        map[string]struct{}
	autoUploaded    map[string]struct{}
	channelUploaded map[string]struct{}
}

func NewGuards() *Guards {
	return &Guards{
		notified:        make(map[string]struct{}),
		autoUploaded:    make(map[string]struct{}),
		channelUploaded: make(map[string]struct{}),
	}
}

func mark(set map[string]struct{}, gid string) bool {
	if _, ok := set[gid]; ok {
		return false
	}
	set[gid] = struct{}{}
	return true
}

// MarkNotified claims the completion/failure notification for gid. The
// check-and-insert happens under one lock so exactly one caller wins.
func (g *Guards) MarkNotified(gid string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return mark(g.notified, gid)
}

// MarkAutoUploaded claims the automatic upload hand-off for gid. It is
// called before the upload goroutine is spawned, closing the race between
// two triggers in the same polling tick.
func (g *Guards) MarkAutoUploaded(gid string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return mark(g.autoUploaded, gid)
}

// MarkChannelUploaded claims the channel upload for gid.
func (g *Guards) MarkChannelUploaded(gid string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return mark(g.channelUploaded, gid)
}
