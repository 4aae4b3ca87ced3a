package frame

import (
	"errors"
	"fmt"

	"github.com/cfoust/framesync/pkg/archive"
	gIO "github.com/cfoust/framesync/pkg/game/io"
	"github.com/cfoust/framesync/pkg/world"

	"github.com/rs/zerolog/log"
)

type ReceiverState uint8

const (
	// Nothing received this session.
	Idle ReceiverState = iota
	// Waiting for a full frame to start from.
	AwaitingFullFrame
	// Applying incremental frames.
	Synced
)

func (s ReceiverState) String() string {
	switch s {
	case Idle:
		return "Idle"
	case AwaitingFullFrame:
		return "AwaitingFullFrame"
	case Synced:
		return "Synced"
	}
	return fmt.Sprintf("ReceiverState(%d)", s)
}

type Stats struct {
	Applied int
	Stale   int
	// Malformed packets and frame2s without a baseline.
	Dropped int
	// Frames cut short by a full thing archive or a bad record.
	Aborted int
	Sounds  int
}

var (
	ErrStale          = errors.New("stale frame")
	ErrMissedBaseline = errors.New("incremental frame without a baseline")
	ErrNullObject     = errors.New("object delta for the null handle")
)

// Receiver applies server frames to the client's copy of the world. It is
// driven from the simulation thread only.
type Receiver struct {
	World  *world.World
	Rules  world.Ruleset
	Sounds world.SoundPlayer

	// Thing archive capacity for a single frame.
	Capacity int

	// Corrections for ConsolePlayer go to the predictor instead of being
	// copied onto its object.
	ConsolePlayer int
	Predictor     *Predictor

	// Called with the sequence of every applied frame.
	OnAck func(seq uint32)

	state          ReceiverState
	last           uint32
	haveLast       bool
	missedBaseline bool
	shadows        map[uint16]*world.Mobj
	stats          Stats
}

func NewReceiver(w *world.World, rules world.Ruleset, sounds world.SoundPlayer) *Receiver {
	return &Receiver{
		World:         w,
		Rules:         rules,
		Sounds:        sounds,
		Capacity:      archive.MaxThings,
		ConsolePlayer: -1,
		shadows:       make(map[uint16]*world.Mobj),
	}
}

func (r *Receiver) State() ReceiverState {
	return r.state
}

func (r *Receiver) Stats() Stats {
	return r.stats
}

// MissedBaseline reports whether an incremental frame arrived before any
// full frame.
func (r *Receiver) MissedBaseline() bool {
	return r.missedBaseline
}

// Ack returns the sequence of the last applied frame.
func (r *Receiver) Ack() (uint32, bool) {
	return r.last, r.haveLast
}

// Shadow returns the local copy of a server object.
func (r *Receiver) Shadow(id uint16) *world.Mobj {
	return r.shadows[id]
}

// Reset returns to Idle, dropping every shadow. Called on disconnect and
// level change.
func (r *Receiver) Reset() {
	r.clearShadows(nil)
	r.state = Idle
	r.last = 0
	r.haveLast = false
	r.missedBaseline = false
}

func (r *Receiver) clearShadows(keep map[uint16]struct{}) {
	for id, mo := range r.shadows {
		if _, ok := keep[id]; ok {
			continue
		}
		mo.Remove()
		delete(r.shadows, id)
	}

	for i := range r.World.Players {
		player := &r.World.Players[i]
		if player.Mo != nil && player.Mo.Removed() {
			player.Mo = nil
		}
	}

	r.World.Thinkers.Compact()
}

// HandlePacket decodes one packet from the transport and dispatches it. Bad
// packets are logged and dropped; the returned error is informational.
func (r *Receiver) HandlePacket(packet []byte) error {
	if r.state == Idle {
		r.state = AwaitingFullFrame
	}

	body, err := Open(packet)
	if err != nil {
		r.stats.Dropped++
		log.Warn().Err(err).Msg("dropping undecodable packet")
		return err
	}

	rd := gIO.NewReader(body)
	packetType, seq, err := readHeader(rd)
	if err != nil {
		r.stats.Dropped++
		log.Warn().Err(err).Msg("dropping packet with bad header")
		return err
	}

	switch packetType {
	case PacketFrame:
		return r.FrameReceived(seq, rd)
	case PacketFrame2:
		return r.Frame2Received(seq, rd)
	}

	return nil
}

func (r *Receiver) isStale(seq uint32) bool {
	if r.haveLast && !Newer(seq, r.last) {
		r.stats.Stale++
		log.Debug().
			Uint32("seq", seq).
			Uint32("last", r.last).
			Msg("discarding stale frame")
		return true
	}
	return false
}

// FrameReceived applies a full frame. Everything not mentioned in it is
// dropped.
func (r *Receiver) FrameReceived(seq uint32, rd *gIO.Reader) error {
	if r.isStale(seq) {
		return ErrStale
	}

	mentioned, err := r.apply(rd)
	if err != nil {
		return r.abort(seq, err)
	}

	r.clearShadows(mentioned)
	r.state = Synced
	r.missedBaseline = false
	r.applied(seq)
	return nil
}

// Frame2Received applies an incremental frame. It is only accepted once a
// full frame has been applied.
func (r *Receiver) Frame2Received(seq uint32, rd *gIO.Reader) error {
	if r.state != Synced {
		r.missedBaseline = true
		r.stats.Dropped++
		log.Debug().Uint32("seq", seq).Msg("frame2 before baseline")
		return ErrMissedBaseline
	}

	if r.isStale(seq) {
		return ErrStale
	}

	_, err := r.apply(rd)
	if err != nil {
		return r.abort(seq, err)
	}

	r.applied(seq)
	return nil
}

func (r *Receiver) applied(seq uint32) {
	r.last = seq
	r.haveLast = true
	r.stats.Applied++
	r.World.Thinkers.Compact()
	if r.OnAck != nil {
		r.OnAck(seq)
	}
}

func (r *Receiver) abort(seq uint32, err error) error {
	r.stats.Aborted++
	event := log.Warn()
	if archive.IsCapacity(err) {
		event = log.Error()
	}
	event.Err(err).Uint32("seq", seq).Msg("frame aborted, rest ignored")
	return err
}

// resolve finds the local object for a server id, creating a shadow the
// first time an id is mentioned.
func (r *Receiver) resolve(pass *archive.Pass, id uint16) (*world.Mobj, error) {
	handle := archive.Handle(id)
	if handle == archive.NullHandle {
		return nil, nil
	}

	if mo, err := pass.Thing(handle); err == nil {
		return mo, nil
	}

	mo, known := r.shadows[id]
	if !known {
		mo = r.Rules.SpawnMobj(0)
		mo.ID = id
	}

	if err := pass.Register(handle, mo); err != nil {
		return nil, err
	}

	if !known {
		r.World.AddMobj(mo)
		r.shadows[id] = mo
	}
	return mo, nil
}

// apply reads and applies the rest of a frame body in order. It returns the
// ids of every object the frame mentioned.
func (r *Receiver) apply(rd *gIO.Reader) (map[uint16]struct{}, error) {
	pass := archive.NewPass(archive.ModeRead, r.Capacity)
	textures := r.Rules.Textures()
	mentioned := make(map[uint16]struct{})

	if err := pass.Flats.Read(rd); err != nil {
		return nil, err
	}

	count, err := rd.GetShort()
	if err != nil {
		return nil, err
	}

	for i := 0; i < int(uint16(count)); i++ {
		delta, err := readDelta(rd, pass, textures)
		if err != nil {
			return nil, err
		}

		switch delta.Kind {
		case DeltaMobj:
			if delta.Bits&MDRemoved != 0 {
				r.removeShadow(delta.ID)
				continue
			}
			mentioned[delta.ID] = struct{}{}
			err = r.applyMobj(pass, &delta)
		case DeltaPlayer:
			err = r.applyPlayer(pass, &delta, mentioned)
		case DeltaSector:
			err = r.applySector(&delta)
		}
		if err != nil {
			return nil, err
		}
	}

	count, err = rd.GetShort()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(uint16(count)); i++ {
		if err := r.ReadSoundDelta(rd, pass); err != nil {
			return nil, err
		}
	}

	pass.Close()
	return mentioned, nil
}

func (r *Receiver) removeShadow(id uint16) {
	mo, ok := r.shadows[id]
	if !ok {
		return
	}
	mo.Remove()
	delete(r.shadows, id)

	for i := range r.World.Players {
		if r.World.Players[i].Mo == mo {
			r.World.Players[i].Mo = nil
		}
	}
}

func (r *Receiver) predicted(mo *world.Mobj) bool {
	return mo != nil && r.Predictor != nil && r.Predictor.Mobj() == mo
}

func (r *Receiver) applyMobj(pass *archive.Pass, delta *Delta) error {
	mo, err := r.resolve(pass, delta.ID)
	if err != nil {
		return err
	}
	if mo == nil {
		return ErrNullObject
	}

	bits := delta.Bits
	state := &delta.Mobj

	// The predictor owns where the local player is.
	if r.predicted(mo) {
		bits &^= MDOrigin | MDMomentum | MDAngle
	}

	if bits&MDOrigin != 0 {
		mo.Pos = state.Pos
	}
	if bits&MDMomentum != 0 {
		mo.Mom = state.Mom
	}
	if bits&MDAngle != 0 {
		mo.Angle = state.Angle
	}
	if bits&MDType != 0 {
		mo.Type = state.Type
	}
	if bits&MDFlags != 0 {
		mo.Flags = state.Flags
	}
	if bits&MDHealth != 0 {
		mo.Health = state.Health
	}
	if bits&MDState != 0 {
		mo.State = state.State
	}
	return nil
}

func (r *Receiver) applyPlayer(pass *archive.Pass, delta *Delta, mentioned map[uint16]struct{}) error {
	if int(delta.ID) >= world.MaxPlayers {
		return fmt.Errorf("player delta for slot %d", delta.ID)
	}

	player := &r.World.Players[delta.ID]
	player.InGame = true

	bits := delta.Bits
	state := &delta.Player

	if bits&PDMobj != 0 {
		mo, err := r.resolve(pass, state.Mobj)
		if err != nil {
			return err
		}
		player.Mo = mo
		if mo != nil {
			mo.Player = int32(delta.ID)
			mentioned[state.Mobj] = struct{}{}
		}
	}
	if bits&PDHealth != 0 {
		player.Health = state.Health
	}
	if bits&PDArmor != 0 {
		player.Armor = state.Armor
	}
	if bits&PDWeapon != 0 {
		player.ReadyWeapon = state.Weapon
	}
	if bits&PDCorrection != 0 {
		player.CmdSeq = state.Acked

		if int(delta.ID) == r.ConsolePlayer && r.Predictor != nil {
			if player.Mo != nil && r.Predictor.Mobj() != player.Mo {
				r.Predictor.Attach(player.Mo)
			}
			r.Predictor.Correct(state.Acked, state.Origin, state.Angle)
		} else if player.Mo != nil {
			player.Mo.Pos = state.Origin
			player.Mo.Angle = state.Angle
		}
	}

	return nil
}

func (r *Receiver) applySector(delta *Delta) error {
	sector := r.World.Sector(int(delta.ID))
	if sector == nil {
		return fmt.Errorf("sector delta for %d of %d", delta.ID, len(r.World.Sectors))
	}

	bits := delta.Bits
	state := &delta.Sector
	if bits&SDFloorHeight != 0 {
		sector.FloorHeight = state.FloorHeight
	}
	if bits&SDCeilingHeight != 0 {
		sector.CeilingHeight = state.CeilingHeight
	}
	if bits&SDLight != 0 {
		sector.LightLevel = state.Light
	}
	if bits&SDFloorPic != 0 {
		sector.FloorPic = state.FloorPic
	}
	if bits&SDCeilingPic != 0 {
		sector.CeilingPic = state.CeilingPic
	}
	return nil
}

// ReadSoundDelta reads one sound and starts it. An origin the client does
// not know about is not an error; the sound is skipped.
func (r *Receiver) ReadSoundDelta(rd *gIO.Reader, pass *archive.Pass) error {
	sound, err := readSound(rd)
	if err != nil {
		return err
	}

	var origin *world.Mobj
	if sound.Origin != 0 {
		origin, err = pass.Thing(archive.Handle(sound.Origin))
		if err != nil {
			origin = r.shadows[sound.Origin]
		}
		if origin == nil {
			log.Debug().
				Int32("sound", sound.ID).
				Uint16("origin", sound.Origin).
				Msg("sound origin unknown, skipping")
			return nil
		}
	}

	sector := r.World.Sector(int(sound.Sector))
	if r.Sounds != nil {
		r.Sounds.StartSound(sound.ID, origin, sector, sound.Volume)
	}
	r.stats.Sounds++
	return nil
}
