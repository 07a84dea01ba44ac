package conversation

import "github.com/ashureev/backroom/internal/domain"

// Pair is the dual-participant context of one session.
type Pair struct {
	log     *Window
	maxLen  int
	opening map[domain.Participant][]domain.Message
}

// NewPair creates a pair capped at maxLen entries. opening supplies the
// starting context per participant, used only while the log is empty.
func NewPair(maxLen int, opening map[domain.Participant][]domain.Message) *Pair {
	o := make(map[domain.Participant][]domain.Message, len(opening))
	for p, msgs := range opening {
		o[p] = append([]domain.Message(nil), msgs...)
	}
	return &Pair{log: NewWindow(), maxLen: maxLen, opening: o}
}

// Resume creates a pair from persisted turns ordered oldest first.
// System-effect turns are skipped.
func Resume(maxLen int, opening map[domain.Participant][]domain.Message, turns []domain.Turn) *Pair {
	p := NewPair(maxLen, opening)
	for _, t := range turns {
		if t.IsEffect() || !t.Participant.Valid() {
			continue
		}
		p.Record(EntryFromTurn(t))
	}
	return p
}

// Record appends e to the canonical log and trims it to the window size.
func (p *Pair) Record(e Entry) {
	p.log.Append(e)
	p.log.Trim(p.maxLen)
}

// View returns the window of viewpoint with roles projected.
func (p *Pair) View(viewpoint domain.Participant) []domain.Message {
	return Project(p.log.Snapshot(), viewpoint, p.maxLen)
}

// History returns what should be sent to the provider for viewpoint: its
// view, or its opening context while no turn has been recorded yet.
func (p *Pair) History(viewpoint domain.Participant) []domain.Message {
	if p.log.Len() == 0 {
		msgs := p.opening[viewpoint]
		if p.maxLen > 0 && len(msgs) > p.maxLen {
			msgs = msgs[len(msgs)-p.maxLen:]
		}
		return append([]domain.Message(nil), msgs...)
	}
	return p.View(viewpoint)
}

// Len returns the number of entries in the canonical log.
func (p *Pair) Len() int { return p.log.Len() }

// MaxLen returns the configured window size.
func (p *Pair) MaxLen() int { return p.maxLen }
