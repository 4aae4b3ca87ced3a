package frame

import (
	"github.com/cfoust/framesync/pkg/world"

	"github.com/rs/zerolog/log"
)

// Commands kept for replay. Anything older is assumed lost.
const MaxPending = 128

// Predictor runs the local player's input immediately and reconciles with
// the server when a correction arrives: the server's position is taken and
// every command it has not yet applied is replayed on top of it.
type Predictor struct {
	rules   world.Ruleset
	mo      *world.Mobj
	seq     uint32
	pending []world.Ticcmd
}

func NewPredictor(rules world.Ruleset) *Predictor {
	return &Predictor{rules: rules}
}

// Attach sets the object being predicted. Buffered input is kept.
func (p *Predictor) Attach(mo *world.Mobj) {
	p.mo = mo
}

func (p *Predictor) Mobj() *world.Mobj {
	return p.mo
}

func (p *Predictor) Pending() int {
	return len(p.pending)
}

// Predict numbers cmd, applies it locally and buffers it until the server
// acknowledges it. The numbered command is what gets sent.
func (p *Predictor) Predict(cmd world.Ticcmd) world.Ticcmd {
	p.seq++
	cmd.Seq = p.seq

	p.pending = append(p.pending, cmd)
	if len(p.pending) > MaxPending {
		p.pending = p.pending[len(p.pending)-MaxPending:]
	}

	if p.mo != nil {
		p.rules.Move(p.mo, cmd)
	}
	return cmd
}

// Correct moves the object to where the server had it after command acked
// and replays the commands that came after.
func (p *Predictor) Correct(acked uint32, origin world.Vec3, angle world.Angle) {
	keep := p.pending[:0]
	for _, cmd := range p.pending {
		if Newer(cmd.Seq, acked) {
			keep = append(keep, cmd)
		}
	}
	p.pending = keep

	if p.mo == nil {
		return
	}

	before := p.mo.Pos
	p.mo.Pos = origin
	p.mo.Angle = angle
	for _, cmd := range p.pending {
		p.rules.Move(p.mo, cmd)
	}

	if before != p.mo.Pos {
		log.Debug().
			Uint32("acked", acked).
			Int("replayed", len(p.pending)).
			Msg("prediction corrected")
	}
}

// Reset drops buffered input.
func (p *Predictor) Reset() {
	p.pending = nil
	p.mo = nil
}
