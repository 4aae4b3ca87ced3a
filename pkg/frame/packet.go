// Package frame implements the snapshot protocol between a server and its
// clients: the server builds full and incremental frames from the live world
// and the client applies them to its local copy.
package frame

import (
	"errors"
	"fmt"
	"math"

	"github.com/cfoust/framesync/pkg/archive"
	gIO "github.com/cfoust/framesync/pkg/game/io"
	"github.com/cfoust/framesync/pkg/world"
)

type PacketType byte

var ErrOutOfRange = errors.New("value does not fit the wire format")

func short(field string, v int32) (int16, error) {
	if v < math.MinInt16 || v > math.MaxInt16 {
		return 0, fmt.Errorf("%w: %s %d", ErrOutOfRange, field, v)
	}
	return int16(v), nil
}

const (
	// A complete snapshot. Always accepted if newer.
	PacketFrame PacketType = 1
	// Changes against a snapshot the client acknowledged.
	PacketFrame2 PacketType = 2
)

func (t PacketType) String() string {
	switch t {
	case PacketFrame:
		return "frame"
	case PacketFrame2:
		return "frame2"
	}
	return fmt.Sprintf("packet(%d)", byte(t))
}

type DeltaKind byte

const (
	DeltaMobj   DeltaKind = 1
	DeltaPlayer DeltaKind = 2
	DeltaSector DeltaKind = 3
)

// Mobj delta fields
const (
	MDOrigin uint16 = 1 << iota
	MDMomentum
	MDAngle
	MDType
	MDFlags
	MDHealth
	MDState
	// The object is gone. No fields follow.
	MDRemoved

	MDAll = MDOrigin | MDMomentum | MDAngle | MDType | MDFlags | MDHealth | MDState
)

// Player delta fields
const (
	PDMobj uint16 = 1 << iota
	PDHealth
	PDArmor
	PDWeapon
	// The last command the server applied and where it left the player.
	PDCorrection

	PDAll = PDMobj | PDHealth | PDArmor | PDWeapon | PDCorrection
)

// Sector delta fields
const (
	SDFloorHeight uint16 = 1 << iota
	SDCeilingHeight
	SDLight
	SDFloorPic
	SDCeilingPic

	SDAll = SDFloorHeight | SDCeilingHeight | SDLight | SDFloorPic | SDCeilingPic
)

type MobjState struct {
	Type   int32
	Pos    world.Vec3
	Mom    world.Vec3
	Angle  world.Angle
	Flags  uint32
	Health int32
	State  int32
}

type PlayerState struct {
	Mobj   uint16
	Health int32
	Armor  int32
	Weapon int32
	Acked  uint32
	Origin world.Vec3
	Angle  world.Angle
}

type SectorState struct {
	FloorHeight   float32
	CeilingHeight float32
	Light         int32
	FloorPic      int
	CeilingPic    int
}

// Delta is one object's changed fields. Only the state matching Kind is
// meaningful, and only the fields named in Bits.
type Delta struct {
	Kind   DeltaKind
	ID     uint16
	Bits   uint16
	Mobj   MobjState
	Player PlayerState
	Sector SectorState
}

// SoundDelta starts one sound on the client.
type SoundDelta struct {
	// Network id of the emitting object, or zero.
	Origin uint16
	// Index of the emitting sector, or -1.
	Sector int32
	ID     int32
	Volume float32
}

type Frame struct {
	Type     PacketType
	Sequence uint32
	Deltas   []Delta
	Sounds   []SoundDelta
}

type soundRecord struct {
	Origin uint16
	Sector int16
	ID     int32
	Volume byte
}

func putVec(p *gIO.Buffer, v world.Vec3) {
	for _, c := range v {
		p.PutFloat(c)
	}
}

func getVec(r *gIO.Reader) (world.Vec3, error) {
	var v world.Vec3
	err := r.Unmarshal(&v)
	return v, err
}

// Marshal writes the frame body. Flats are archived by name so that the
// client can map them onto its own flat numbers.
func (f *Frame) Marshal(textures world.TextureSet) ([]byte, error) {
	pass := archive.NewPass(archive.ModeWrite, archive.MaxThings)

	for _, delta := range f.Deltas {
		if delta.Kind != DeltaSector {
			continue
		}
		if delta.Bits&SDFloorPic != 0 {
			if _, err := pass.FlatNum(textures, delta.Sector.FloorPic); err != nil {
				return nil, err
			}
		}
		if delta.Bits&SDCeilingPic != 0 {
			if _, err := pass.FlatNum(textures, delta.Sector.CeilingPic); err != nil {
				return nil, err
			}
		}
	}

	p := gIO.Buffer{}
	p.PutByte(byte(f.Type))
	p.PutLong(int32(f.Sequence))
	pass.Flats.Write(&p)

	p.PutShort(int16(len(f.Deltas)))
	for i := range f.Deltas {
		if err := writeDelta(&p, pass, textures, &f.Deltas[i]); err != nil {
			return nil, err
		}
	}

	p.PutShort(int16(len(f.Sounds)))
	for _, sound := range f.Sounds {
		volume := sound.Volume * 255
		if volume > 255 {
			volume = 255
		}
		if volume < 0 {
			volume = 0
		}
		err := p.Marshal(&soundRecord{
			Origin: sound.Origin,
			Sector: int16(sound.Sector),
			ID:     sound.ID,
			Volume: byte(volume),
		})
		if err != nil {
			return nil, err
		}
	}

	pass.Close()
	return p, nil
}

func writeDelta(p *gIO.Buffer, pass *archive.Pass, textures world.TextureSet, delta *Delta) error {
	p.PutByte(byte(delta.Kind))
	p.PutShort(int16(delta.ID))
	p.PutShort(int16(delta.Bits))

	bits := delta.Bits
	switch delta.Kind {
	case DeltaMobj:
		mo := &delta.Mobj
		if bits&MDRemoved != 0 {
			return nil
		}
		if bits&MDOrigin != 0 {
			putVec(p, mo.Pos)
		}
		if bits&MDMomentum != 0 {
			putVec(p, mo.Mom)
		}
		if bits&MDAngle != 0 {
			p.PutLong(int32(mo.Angle))
		}
		if bits&MDType != 0 {
			p.PutLong(mo.Type)
		}
		if bits&MDFlags != 0 {
			p.PutLong(int32(mo.Flags))
		}
		if bits&MDHealth != 0 {
			p.PutLong(mo.Health)
		}
		if bits&MDState != 0 {
			p.PutLong(mo.State)
		}
	case DeltaPlayer:
		player := &delta.Player
		if bits&PDMobj != 0 {
			p.PutShort(int16(player.Mobj))
		}
		if bits&PDHealth != 0 {
			p.PutLong(player.Health)
		}
		if bits&PDArmor != 0 {
			p.PutLong(player.Armor)
		}
		if bits&PDWeapon != 0 {
			p.PutLong(player.Weapon)
		}
		if bits&PDCorrection != 0 {
			p.PutLong(int32(player.Acked))
			putVec(p, player.Origin)
			p.PutLong(int32(player.Angle))
		}
	case DeltaSector:
		sector := &delta.Sector
		if bits&SDFloorHeight != 0 {
			p.PutFloat(sector.FloorHeight)
		}
		if bits&SDCeilingHeight != 0 {
			p.PutFloat(sector.CeilingHeight)
		}
		if bits&SDLight != 0 {
			light, err := short("light", sector.Light)
			if err != nil {
				return err
			}
			p.PutShort(light)
		}
		if bits&SDFloorPic != 0 {
			handle, err := pass.FlatNum(textures, sector.FloorPic)
			if err != nil {
				return err
			}
			p.PutShort(int16(handle))
		}
		if bits&SDCeilingPic != 0 {
			handle, err := pass.FlatNum(textures, sector.CeilingPic)
			if err != nil {
				return err
			}
			p.PutShort(int16(handle))
		}
	default:
		return fmt.Errorf("unknown delta kind %d", delta.Kind)
	}

	return nil
}

func readDelta(r *gIO.Reader, pass *archive.Pass, textures world.TextureSet) (Delta, error) {
	delta := Delta{}

	kind, err := r.GetByte()
	if err != nil {
		return delta, err
	}
	delta.Kind = DeltaKind(kind)

	var id, bits uint16
	if err := r.Unmarshal(&id, &bits); err != nil {
		return delta, err
	}
	delta.ID = id
	delta.Bits = bits

	switch delta.Kind {
	case DeltaMobj:
		err = readMobj(r, bits, &delta.Mobj)
	case DeltaPlayer:
		err = readPlayer(r, bits, &delta.Player)
	case DeltaSector:
		err = readSector(r, pass, textures, bits, &delta.Sector)
	default:
		err = fmt.Errorf("unknown delta kind %d", kind)
	}

	return delta, err
}

func readLong(r *gIO.Reader, bits uint16, bit uint16, out *int32) error {
	if bits&bit == 0 {
		return nil
	}
	v, err := r.GetLong()
	*out = v
	return err
}

func readMobj(r *gIO.Reader, bits uint16, mo *MobjState) error {
	if bits&MDRemoved != 0 {
		return nil
	}

	var err error
	if bits&MDOrigin != 0 {
		if mo.Pos, err = getVec(r); err != nil {
			return err
		}
	}
	if bits&MDMomentum != 0 {
		if mo.Mom, err = getVec(r); err != nil {
			return err
		}
	}
	if bits&MDAngle != 0 {
		angle, err := r.GetLong()
		if err != nil {
			return err
		}
		mo.Angle = world.Angle(angle)
	}
	if err := readLong(r, bits, MDType, &mo.Type); err != nil {
		return err
	}
	if bits&MDFlags != 0 {
		flags, err := r.GetLong()
		if err != nil {
			return err
		}
		mo.Flags = uint32(flags)
	}
	if err := readLong(r, bits, MDHealth, &mo.Health); err != nil {
		return err
	}
	return readLong(r, bits, MDState, &mo.State)
}

func readPlayer(r *gIO.Reader, bits uint16, player *PlayerState) error {
	if bits&PDMobj != 0 {
		id, err := r.GetShort()
		if err != nil {
			return err
		}
		player.Mobj = uint16(id)
	}
	if err := readLong(r, bits, PDHealth, &player.Health); err != nil {
		return err
	}
	if err := readLong(r, bits, PDArmor, &player.Armor); err != nil {
		return err
	}
	if err := readLong(r, bits, PDWeapon, &player.Weapon); err != nil {
		return err
	}
	if bits&PDCorrection != 0 {
		var acked, angle uint32
		var origin world.Vec3
		if err := r.Unmarshal(&acked, &origin, &angle); err != nil {
			return err
		}
		player.Acked = acked
		player.Origin = origin
		player.Angle = world.Angle(angle)
	}
	return nil
}

func readSector(r *gIO.Reader, pass *archive.Pass, textures world.TextureSet, bits uint16, sector *SectorState) error {
	var err error
	if bits&SDFloorHeight != 0 {
		if sector.FloorHeight, err = r.GetFloat(); err != nil {
			return err
		}
	}
	if bits&SDCeilingHeight != 0 {
		if sector.CeilingHeight, err = r.GetFloat(); err != nil {
			return err
		}
	}
	if bits&SDLight != 0 {
		light, err := r.GetShort()
		if err != nil {
			return err
		}
		sector.Light = int32(light)
	}
	if bits&SDFloorPic != 0 {
		handle, err := r.GetShort()
		if err != nil {
			return err
		}
		if sector.FloorPic, err = pass.Flat(textures, archive.Handle(handle)); err != nil {
			return err
		}
	}
	if bits&SDCeilingPic != 0 {
		handle, err := r.GetShort()
		if err != nil {
			return err
		}
		if sector.CeilingPic, err = pass.Flat(textures, archive.Handle(handle)); err != nil {
			return err
		}
	}
	return nil
}

func readSound(r *gIO.Reader) (SoundDelta, error) {
	record := soundRecord{}
	if err := r.Unmarshal(&record); err != nil {
		return SoundDelta{}, err
	}
	return SoundDelta{
		Origin: record.Origin,
		Sector: int32(record.Sector),
		ID:     record.ID,
		Volume: float32(record.Volume) / 255,
	}, nil
}

// readHeader reads the packet type and sequence.
func readHeader(r *gIO.Reader) (PacketType, uint32, error) {
	kind, err := r.GetByte()
	if err != nil {
		return 0, 0, err
	}

	packetType := PacketType(kind)
	if packetType != PacketFrame && packetType != PacketFrame2 {
		return packetType, 0, fmt.Errorf("bad packet type %d", kind)
	}

	seq, err := r.GetLong()
	return packetType, uint32(seq), err
}

// Unmarshal decodes a whole frame body.
func Unmarshal(data []byte, textures world.TextureSet) (*Frame, error) {
	r := gIO.NewReader(data)

	packetType, seq, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	frame := &Frame{Type: packetType, Sequence: seq}
	pass := archive.NewPass(archive.ModeRead, archive.MaxThings)
	if err := pass.Flats.Read(r); err != nil {
		return nil, err
	}

	count, err := r.GetShort()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(uint16(count)); i++ {
		delta, err := readDelta(r, pass, textures)
		if err != nil {
			return nil, err
		}
		frame.Deltas = append(frame.Deltas, delta)
	}

	count, err = r.GetShort()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(uint16(count)); i++ {
		sound, err := readSound(r)
		if err != nil {
			return nil, err
		}
		frame.Sounds = append(frame.Sounds, sound)
	}

	return frame, nil
}

// Newer reports whether sequence a comes after b, allowing for wraparound.
func Newer(a, b uint32) bool {
	return int32(a-b) > 0
}
