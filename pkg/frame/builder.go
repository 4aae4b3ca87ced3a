package frame

import (
	gIO "github.com/cfoust/framesync/pkg/game/io"
	"github.com/cfoust/framesync/pkg/world"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"
)

// How many unacknowledged snapshots a builder keeps around.
const HistorySize = 64

type tracked[T any] struct {
	digest uint64
	state  T
}

type snapshot struct {
	seq     uint32
	order   []uint16
	mobjs   map[uint16]tracked[MobjState]
	players map[uint16]tracked[PlayerState]
	sectors map[uint16]tracked[SectorState]
}

func digest(pieces ...interface{}) uint64 {
	p := gIO.Buffer{}
	err := p.Marshal(pieces...)
	if err != nil {
		// Every piece is fixed size
		panic(err)
	}
	return xxhash.Sum64(p)
}

func mobjState(mo *world.Mobj) tracked[MobjState] {
	state := MobjState{
		Type:   mo.Type,
		Pos:    mo.Pos,
		Mom:    mo.Mom,
		Angle:  mo.Angle,
		Flags:  mo.Flags,
		Health: mo.Health,
		State:  mo.State,
	}
	return tracked[MobjState]{digest: digest(&state), state: state}
}

func playerState(player *world.Player) tracked[PlayerState] {
	state := PlayerState{
		Health: player.Health,
		Armor:  player.Armor,
		Weapon: player.ReadyWeapon,
		Acked:  player.CmdSeq,
	}
	if player.Mo != nil {
		state.Mobj = player.Mo.ID
		state.Origin = player.Mo.Pos
		state.Angle = player.Mo.Angle
	}
	return tracked[PlayerState]{digest: digest(&state), state: state}
}

func sectorState(sector *world.Sector) tracked[SectorState] {
	state := SectorState{
		FloorHeight:   sector.FloorHeight,
		CeilingHeight: sector.CeilingHeight,
		Light:         sector.LightLevel,
		FloorPic:      sector.FloorPic,
		CeilingPic:    sector.CeilingPic,
	}
	return tracked[SectorState]{
		digest: digest(
			state.FloorHeight,
			state.CeilingHeight,
			state.Light,
			int32(state.FloorPic),
			int32(state.CeilingPic),
		),
		state: state,
	}
}

func capture(w *world.World, seq uint32) *snapshot {
	s := &snapshot{
		seq:     seq,
		mobjs:   make(map[uint16]tracked[MobjState]),
		players: make(map[uint16]tracked[PlayerState]),
		sectors: make(map[uint16]tracked[SectorState]),
	}

	for _, mo := range w.Mobjs() {
		s.order = append(s.order, mo.ID)
		s.mobjs[mo.ID] = mobjState(mo)
	}

	for i := range w.Players {
		player := &w.Players[i]
		if !player.InGame {
			continue
		}
		s.players[uint16(i)] = playerState(player)
	}

	for i, sector := range w.Sectors {
		s.sectors[uint16(i)] = sectorState(sector)
	}

	return s
}

func mobjBits(a, b *MobjState) (bits uint16) {
	if a.Pos != b.Pos {
		bits |= MDOrigin
	}
	if a.Mom != b.Mom {
		bits |= MDMomentum
	}
	if a.Angle != b.Angle {
		bits |= MDAngle
	}
	if a.Type != b.Type {
		bits |= MDType
	}
	if a.Flags != b.Flags {
		bits |= MDFlags
	}
	if a.Health != b.Health {
		bits |= MDHealth
	}
	if a.State != b.State {
		bits |= MDState
	}
	return
}

func playerBits(a, b *PlayerState) (bits uint16) {
	if a.Mobj != b.Mobj {
		bits |= PDMobj
	}
	if a.Health != b.Health {
		bits |= PDHealth
	}
	if a.Armor != b.Armor {
		bits |= PDArmor
	}
	if a.Weapon != b.Weapon {
		bits |= PDWeapon
	}
	if a.Acked != b.Acked || a.Origin != b.Origin || a.Angle != b.Angle {
		bits |= PDCorrection
	}
	return
}

func sectorBits(a, b *SectorState) (bits uint16) {
	if a.FloorHeight != b.FloorHeight {
		bits |= SDFloorHeight
	}
	if a.CeilingHeight != b.CeilingHeight {
		bits |= SDCeilingHeight
	}
	if a.Light != b.Light {
		bits |= SDLight
	}
	if a.FloorPic != b.FloorPic {
		bits |= SDFloorPic
	}
	if a.CeilingPic != b.CeilingPic {
		bits |= SDCeilingPic
	}
	return
}

// changed works out which fields of one object to send. A field goes out
// when it differs from the acknowledged baseline or from any frame sent since,
// so a client that applied some of those frames and lost others still ends up
// with the current value.
func changed[T any](
	id uint16,
	current tracked[T],
	known []map[uint16]tracked[T],
	all uint16,
	diff func(a, b *T) uint16,
) uint16 {
	var bits uint16
	for _, states := range known {
		prior, ok := states[id]
		if !ok {
			return all
		}
		if prior.digest == current.digest {
			continue
		}
		bits |= diff(&prior.state, &current.state)
	}
	return bits
}

// Builder produces the frames for one client. The server feeds the same
// world to every client's builder once per tick.
type Builder struct {
	Textures world.TextureSet
	// Huffman-compress sealed packets.
	Compress bool

	seq      uint32
	history  []*snapshot
	baseline *snapshot
	sounds   []SoundDelta
}

func NewBuilder(textures world.TextureSet) *Builder {
	return &Builder{Textures: textures}
}

func (b *Builder) Sequence() uint32 {
	return b.seq
}

// Baseline returns the sequence of the acknowledged snapshot, if any.
func (b *Builder) Baseline() (uint32, bool) {
	if b.baseline == nil {
		return 0, false
	}
	return b.baseline.seq, true
}

// Reset forgets everything the client has acknowledged. The next frame is a
// full one.
func (b *Builder) Reset() {
	b.history = nil
	b.baseline = nil
	b.sounds = nil
}

// Acknowledge moves the baseline to a frame the client applied. Acks for
// frames that are older than the baseline or no longer remembered are
// ignored.
func (b *Builder) Acknowledge(seq uint32) bool {
	if b.baseline != nil && !Newer(seq, b.baseline.seq) {
		return false
	}

	for i, s := range b.history {
		if s.seq != seq {
			continue
		}

		b.baseline = s
		b.history = b.history[i:]
		return true
	}

	log.Debug().Uint32("seq", seq).Msg("ack for unknown frame")
	return false
}

func (b *Builder) QueueSound(sound SoundDelta) {
	b.sounds = append(b.sounds, sound)
}

// StartSound queues a sound for the next frame.
func (b *Builder) StartSound(id int32, origin *world.Mobj, sector *world.Sector, volume float32) {
	sound := SoundDelta{
		Sector: -1,
		ID:     id,
		Volume: volume,
	}
	if origin != nil {
		sound.Origin = origin.ID
	}
	if sector != nil {
		sound.Sector = int32(sector.Index)
	}
	b.QueueSound(sound)
}

func (b *Builder) remember(s *snapshot) {
	b.history = append(b.history, s)
	if len(b.history) > HistorySize {
		b.history = b.history[len(b.history)-HistorySize:]
	}
}

// outstanding returns the baseline and every snapshot sent after it. The
// client holds one of these states, or a mix of them.
func (b *Builder) outstanding() []*snapshot {
	known := []*snapshot{b.baseline}
	for _, s := range b.history {
		if s != b.baseline && Newer(s.seq, b.baseline.seq) {
			known = append(known, s)
		}
	}
	return known
}

// Build snapshots w and returns the frame to send next.
func (b *Builder) Build(w *world.World) *Frame {
	b.seq++
	current := capture(w, b.seq)

	frame := &Frame{
		Type:     PacketFrame2,
		Sequence: b.seq,
		Sounds:   b.sounds,
	}
	b.sounds = nil

	if b.baseline == nil {
		frame.Type = PacketFrame
		b.full(frame, current, w)
	} else {
		b.diff(frame, current, w)
	}

	b.remember(current)
	return frame
}

func (b *Builder) full(frame *Frame, current *snapshot, w *world.World) {
	for _, id := range current.order {
		frame.Deltas = append(frame.Deltas, Delta{
			Kind: DeltaMobj,
			ID:   id,
			Bits: MDAll,
			Mobj: current.mobjs[id].state,
		})
	}

	for i := range w.Players {
		player, ok := current.players[uint16(i)]
		if !ok {
			continue
		}
		frame.Deltas = append(frame.Deltas, Delta{
			Kind:   DeltaPlayer,
			ID:     uint16(i),
			Bits:   PDAll,
			Player: player.state,
		})
	}

	for i := range w.Sectors {
		frame.Deltas = append(frame.Deltas, Delta{
			Kind:   DeltaSector,
			ID:     uint16(i),
			Bits:   SDAll,
			Sector: current.sectors[uint16(i)].state,
		})
	}
}

func (b *Builder) diff(frame *Frame, current *snapshot, w *world.World) {
	known := b.outstanding()

	mobjs := make([]map[uint16]tracked[MobjState], len(known))
	players := make([]map[uint16]tracked[PlayerState], len(known))
	sectors := make([]map[uint16]tracked[SectorState], len(known))
	for i, s := range known {
		mobjs[i] = s.mobjs
		players[i] = s.players
		sectors[i] = s.sectors
	}

	for _, id := range current.order {
		state := current.mobjs[id]
		bits := changed(id, state, mobjs, MDAll, mobjBits)
		if bits == 0 {
			continue
		}
		frame.Deltas = append(frame.Deltas, Delta{
			Kind: DeltaMobj,
			ID:   id,
			Bits: bits,
			Mobj: state.state,
		})
	}

	removed := make(map[uint16]struct{})
	for _, s := range known {
		for _, id := range s.order {
			if _, live := current.mobjs[id]; live {
				continue
			}
			if _, done := removed[id]; done {
				continue
			}
			removed[id] = struct{}{}
			frame.Deltas = append(frame.Deltas, Delta{
				Kind: DeltaMobj,
				ID:   id,
				Bits: MDRemoved,
			})
		}
	}

	for i := range w.Players {
		state, ok := current.players[uint16(i)]
		if !ok {
			continue
		}
		bits := changed(uint16(i), state, players, PDAll, playerBits)
		if bits == 0 {
			continue
		}
		frame.Deltas = append(frame.Deltas, Delta{
			Kind:   DeltaPlayer,
			ID:     uint16(i),
			Bits:   bits,
			Player: state.state,
		})
	}

	for i := range w.Sectors {
		state := current.sectors[uint16(i)]
		bits := changed(uint16(i), state, sectors, SDAll, sectorBits)
		if bits == 0 {
			continue
		}
		frame.Deltas = append(frame.Deltas, Delta{
			Kind:   DeltaSector,
			ID:     uint16(i),
			Bits:   bits,
			Sector: state.state,
		})
	}
}

// Packet builds the next frame and seals it for transport.
func (b *Builder) Packet(w *world.World) ([]byte, error) {
	frame := b.Build(w)

	body, err := frame.Marshal(b.Textures)
	if err != nil {
		return nil, err
	}

	return Seal(body, b.Compress)
}

var _ world.SoundPlayer = (*Builder)(nil)
