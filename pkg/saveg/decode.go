package saveg

import (
	"fmt"

	gIO "github.com/cfoust/framesync/pkg/game/io"
	"github.com/cfoust/framesync/pkg/world"
)

// codec is one on-disk format version.
type codec interface {
	header(r *gIO.Reader) (*Header, error)
	decode(r *gIO.Reader, rules world.Ruleset) (*Result, error)
	encode(w *world.World, rules world.Ruleset, description string) ([]byte, error)
}

func decoderFor(version int32) (codec, error) {
	switch version {
	case Version:
		return currentDecoder{}, nil
	case LegacyVersion:
		return legacyDecoder{}, nil
	}

	return nil, corrupt(fmt.Errorf("%w %d", ErrUnsupportedVersion, version))
}

// Decode reads an uncompressed save of any supported version. The result
// is a new world; nothing the caller holds is touched, so a failed load
// leaves the running game as it was.
func Decode(data []byte, rules world.Ruleset) (*Result, error) {
	r := gIO.NewReader(data)

	_, version, err := readPrefix(r)
	if err != nil {
		return nil, corrupt(err)
	}

	dec, err := decoderFor(version)
	if err != nil {
		return nil, err
	}

	r.Version = version
	result, err := dec.decode(r, rules)
	if err != nil {
		return nil, classify(err)
	}

	result.Header.Version = version
	return result, nil
}

// EncodeVersion writes w in the given format version. Only Version can be
// written.
func EncodeVersion(version int32, w *world.World, rules world.Ruleset, description string) ([]byte, error) {
	dec, err := decoderFor(version)
	if err != nil {
		return nil, err
	}
	return dec.encode(w, rules, description)
}
