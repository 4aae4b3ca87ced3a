package world

import "fmt"

type ThinkerClass byte

const (
	ClassNone ThinkerClass = iota
	ClassMobj
	ClassCeiling
	ClassDoor
	ClassFloor
	ClassPlat
	ClassFlash
	ClassStrobe
	ClassGlow
)

func (c ThinkerClass) String() string {
	switch c {
	case ClassMobj:
		return "mobj"
	case ClassCeiling:
		return "ceiling"
	case ClassDoor:
		return "door"
	case ClassFloor:
		return "floor"
	case ClassPlat:
		return "plat"
	case ClassFlash:
		return "flash"
	case ClassStrobe:
		return "strobe"
	case ClassGlow:
		return "glow"
	default:
		return fmt.Sprintf("class(%d)", c)
	}
}

// Thinker is anything with per-tic behavior.
type Thinker interface {
	Class() ThinkerClass
	// Removed reports whether the thinker was unlinked and is waiting to be
	// recycled. Removed thinkers are never archived.
	Removed() bool
	Remove()
}

type thinkerBase struct {
	removed bool
}

func (t *thinkerBase) Removed() bool {
	return t.removed
}

func (t *thinkerBase) Remove() {
	t.removed = true
}

// ThinkerList keeps thinkers in the order they were added. Removal only
// flags a thinker; Compact drops flagged entries.
type ThinkerList struct {
	items []Thinker
}

func (l *ThinkerList) Add(th Thinker) {
	l.items = append(l.items, th)
}

func (l *ThinkerList) Len() int {
	return len(l.items)
}

// Iterate calls fn for every thinker, removed ones included, until fn
// returns false.
func (l *ThinkerList) Iterate(fn func(Thinker) bool) {
	for _, th := range l.items {
		if !fn(th) {
			return
		}
	}
}

func (l *ThinkerList) Compact() {
	live := l.items[:0]
	for _, th := range l.items {
		if !th.Removed() {
			live = append(live, th)
		}
	}
	for i := len(live); i < len(l.items); i++ {
		l.items[i] = nil
	}
	l.items = live
}

// Clear drops every thinker.
func (l *ThinkerList) Clear() {
	l.items = nil
}

type Ceiling struct {
	thinkerBase
	Type         int32
	Sector       *Sector
	BottomHeight float32
	TopHeight    float32
	Speed        float32
	Crush        bool
	Direction    int32
	Tag          int32
	OldDirection int32
}

func (*Ceiling) Class() ThinkerClass { return ClassCeiling }

type Door struct {
	thinkerBase
	Type         int32
	Sector       *Sector
	TopHeight    float32
	Speed        float32
	Direction    int32
	TopWait      int32
	TopCountdown int32
}

func (*Door) Class() ThinkerClass { return ClassDoor }

type Floor struct {
	thinkerBase
	Type            int32
	Crush           bool
	Sector          *Sector
	Direction       int32
	NewSpecial      int32
	Texture         int
	FloorDestHeight float32
	Speed           float32
}

func (*Floor) Class() ThinkerClass { return ClassFloor }

type Plat struct {
	thinkerBase
	Sector    *Sector
	Speed     float32
	Low       float32
	High      float32
	Wait      int32
	Count     int32
	Status    int32
	OldStatus int32
	Crush     bool
	Tag       int32
	Type      int32
}

func (*Plat) Class() ThinkerClass { return ClassPlat }

type LightFlash struct {
	thinkerBase
	Sector   *Sector
	Count    int32
	MaxLight int32
	MinLight int32
	MaxTime  int32
	MinTime  int32
}

func (*LightFlash) Class() ThinkerClass { return ClassFlash }

type Strobe struct {
	thinkerBase
	Sector     *Sector
	Count      int32
	MinLight   int32
	MaxLight   int32
	DarkTime   int32
	BrightTime int32
}

func (*Strobe) Class() ThinkerClass { return ClassStrobe }

type Glow struct {
	thinkerBase
	Sector    *Sector
	MinLight  int32
	MaxLight  int32
	Direction int32
}

func (*Glow) Class() ThinkerClass { return ClassGlow }
