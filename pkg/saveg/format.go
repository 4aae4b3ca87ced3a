// Package saveg reads and writes saved games: the live world walked into a
// versioned little-endian binary archive, with every object reference
// replaced by an archive handle.
package saveg

import (
	"fmt"

	gIO "github.com/cfoust/framesync/pkg/game/io"
	"github.com/cfoust/framesync/pkg/world"
)

const (
	Magic int32 = 0x1DEAD666

	// Version is what SaveGame writes.
	Version int32 = 5

	// LegacyVersion saves are readable but can never be written.
	LegacyVersion int32 = 4

	// Written after the last section. A missing consistency byte means the
	// file was cut short or a section decoder is out of step.
	consistency byte = 0x1D

	// Class tags in the thinker and special sections. Tags for specials are
	// the world.ThinkerClass values.
	tcEnd         byte = 0x00
	tcMobj        byte = 0x01
	tcEndSpecials byte = 0xFF

	playerRecordEnd byte = 0xFF
)

type Header struct {
	Magic       int32
	Version     int32
	GameID      string
	Description string
	Episode     int32
	Map         int32
	Skill       int32
	LevelTime   int32

	// Which player slots have a record in the file.
	Present [world.MaxPlayers]bool
}

func writeHeader(p *gIO.Buffer, header *Header) error {
	p.PutLong(Magic)
	p.PutLong(header.Version)

	err := p.PutString(header.GameID)
	if err != nil {
		return err
	}

	err = p.PutString(header.Description)
	if err != nil {
		return err
	}

	p.PutLong(header.Episode)
	p.PutLong(header.Map)
	p.PutLong(header.Skill)
	p.PutLong(header.LevelTime)

	for _, present := range header.Present {
		p.PutBool(present)
	}

	return nil
}

// readPrefix reads the fields every format version starts with.
func readPrefix(r *gIO.Reader) (magic int32, version int32, err error) {
	magic, err = r.GetLong()
	if err != nil {
		return
	}
	if magic != Magic {
		err = fmt.Errorf("bad magic %#x", uint32(magic))
		return
	}

	version, err = r.GetLong()
	return
}

func readHeader(r *gIO.Reader, header *Header) error {
	var err error
	header.GameID, err = r.GetString()
	if err != nil {
		return err
	}

	header.Description, err = r.GetString()
	if err != nil {
		return err
	}

	err = r.Unmarshal(
		&header.Episode,
		&header.Map,
		&header.Skill,
		&header.LevelTime,
	)
	if err != nil {
		return err
	}

	for i := range header.Present {
		header.Present[i], err = r.GetBool()
		if err != nil {
			return err
		}
	}

	return nil
}

// ReadHeader decodes only the header of an uncompressed save.
func ReadHeader(data []byte) (*Header, error) {
	r := gIO.NewReader(data)

	magic, version, err := readPrefix(r)
	if err != nil {
		return nil, corrupt(err)
	}

	dec, err := decoderFor(version)
	if err != nil {
		return nil, err
	}

	header, err := dec.header(r)
	if err != nil {
		return nil, corrupt(err)
	}

	header.Magic = magic
	header.Version = version
	return header, nil
}
