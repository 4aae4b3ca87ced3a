package saveg

import (
	"fmt"

	"github.com/cfoust/framesync/pkg/archive"
)

type State uint8

const (
	Idle State = iota
	WritingHeader
	WritingArchiveTables
	WritingPlayers
	WritingWorld
	WritingThinkers
	WritingSpecials
	ReadingHeader
	ReadingArchiveTables
	ReadingPlayers
	ReadingWorld
	ReadingThinkers
	ReadingSpecials
	Done
	CorruptAbort
)

var stateNames = map[State]string{
	Idle:                 "Idle",
	WritingHeader:        "WritingHeader",
	WritingArchiveTables: "WritingArchiveTables",
	WritingPlayers:       "WritingPlayers",
	WritingWorld:         "WritingWorld",
	WritingThinkers:      "WritingThinkers",
	WritingSpecials:      "WritingSpecials",
	ReadingHeader:        "ReadingHeader",
	ReadingArchiveTables: "ReadingArchiveTables",
	ReadingPlayers:       "ReadingPlayers",
	ReadingWorld:         "ReadingWorld",
	ReadingThinkers:      "ReadingThinkers",
	ReadingSpecials:      "ReadingSpecials",
	Done:                 "Done",
	CorruptAbort:         "CorruptAbort",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", s)
}

var (
	writeOrder = []State{
		Idle,
		WritingHeader,
		WritingArchiveTables,
		WritingPlayers,
		WritingWorld,
		WritingThinkers,
		WritingSpecials,
		Done,
	}
	readOrder = []State{
		Idle,
		ReadingHeader,
		ReadingArchiveTables,
		ReadingPlayers,
		ReadingWorld,
		ReadingThinkers,
		ReadingSpecials,
		Done,
	}
)

// machine walks one save or load through its sections. Every step happens
// exactly once and in order.
type machine struct {
	order []State
	pos   int
	state State
}

func newMachine(order []State) *machine {
	return &machine{order: order, state: Idle}
}

func (m *machine) State() State {
	return m.state
}

func (m *machine) advance(next State) error {
	if m.state == CorruptAbort || m.state == Done {
		return &archive.MisuseError{
			Op:     next.String(),
			Reason: fmt.Sprintf("operation already finished (%s)", m.state),
		}
	}

	if m.pos+1 >= len(m.order) || m.order[m.pos+1] != next {
		return &archive.MisuseError{
			Op:     next.String(),
			Reason: fmt.Sprintf("cannot follow %s", m.state),
		}
	}

	m.pos++
	m.state = next
	return nil
}

// abort moves a load into its terminal failure state.
func (m *machine) abort() {
	m.state = CorruptAbort
}
