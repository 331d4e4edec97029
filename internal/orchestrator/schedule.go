package orchestrator

import "github.com/JakeFAU/urlcrawl/internal/crawler"

// lane is an ordered run of targets. A sequential lane never has more than
// one target in flight.
type lane struct {
	group      string
	targets    []crawler.Target
	next       int
	inFlight   int
	sequential bool
	stopped    bool
}

func (l *lane) ready() bool {
	if l.stopped || l.next >= len(l.targets) {
		return false
	}
	return !l.sequential || l.inFlight == 0
}

// scheduler hands out targets lane by lane, round-robin.
type scheduler struct {
	lanes  []*lane
	byName map[string]*lane
	cursor int
	seq    int
}

// newScheduler builds one lane over every target, or one sequential lane
// per group when perGroup is set.
func newScheduler(targets []crawler.Target, perGroup bool) *scheduler {
	s := &scheduler{byName: make(map[string]*lane)}
	if !perGroup {
		l := &lane{targets: targets}
		s.lanes = append(s.lanes, l)
		return s
	}
	for _, t := range targets {
		l, ok := s.byName[t.Group]
		if !ok {
			l = &lane{group: t.Group, sequential: true}
			s.byName[t.Group] = l
			s.lanes = append(s.lanes, l)
		}
		l.targets = append(l.targets, t)
	}
	return s
}

// next returns the next dispatchable target and its sequence number.
func (s *scheduler) next() (crawler.Target, int, bool) {
	for i := 0; i < len(s.lanes); i++ {
		l := s.lanes[(s.cursor+i)%len(s.lanes)]
		if !l.ready() {
			continue
		}
		t := l.targets[l.next]
		l.next++
		l.inFlight++
		s.cursor = (s.cursor + i + 1) % len(s.lanes)
		s.seq++
		return t, s.seq, true
	}
	return crawler.Target{}, 0, false
}

func (s *scheduler) laneFor(group string) *lane {
	if l, ok := s.byName[group]; ok {
		return l
	}
	if len(s.lanes) == 1 && s.lanes[0].group == "" {
		return s.lanes[0]
	}
	return nil
}

// finish releases an in-flight slot for group.
func (s *scheduler) finish(group string) {
	if l := s.laneFor(group); l != nil && l.inFlight > 0 {
		l.inFlight--
	}
}

// stop raises the group's stop flag. It reports whether the flag was newly
// set and how many targets were left undispatched.
func (s *scheduler) stop(group string) (bool, int) {
	l, ok := s.byName[group]
	if !ok || l.stopped {
		return false, 0
	}
	l.stopped = true
	return true, len(l.targets) - l.next
}
