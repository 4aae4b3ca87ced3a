package saveg

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cfoust/framesync/pkg/world"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"
	"github.com/sasha-s/go-deadlock"
)

const Extension = ".fsg"

// SaveSystem owns the running world and moves it to and from save slots.
type SaveSystem struct {
	Directory string
	Rules     world.Ruleset
	// Write saves without compression.
	Raw bool

	mutex   deadlock.Mutex
	current *world.World
}

func NewSaveSystem(directory string, rules world.Ruleset) *SaveSystem {
	return &SaveSystem{
		Directory: directory,
		Rules:     rules,
	}
}

func (s *SaveSystem) Current() *world.World {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.current
}

func (s *SaveSystem) SetCurrent(w *world.World) {
	s.mutex.Lock()
	s.current = w
	s.mutex.Unlock()
}

func (s *SaveSystem) SlotPath(slot int) string {
	return filepath.Join(s.Directory, fmt.Sprintf("save%d%s", slot, Extension))
}

func (s *SaveSystem) SaveGame(slot int, description string) error {
	return s.SaveGameFile(s.SlotPath(slot), description)
}

func (s *SaveSystem) LoadGame(slot int) (*Result, error) {
	return s.LoadGameFile(s.SlotPath(slot))
}

func compress(data []byte) ([]byte, error) {
	var buffer bytes.Buffer
	gz := gzip.NewWriter(&buffer)
	_, err := gz.Write(data)
	if err != nil {
		return nil, err
	}
	err = gz.Close()
	if err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

// decompress accepts both compressed and raw saves.
func decompress(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0] != 0x1f || data[1] != 0x8b {
		return data, nil
	}

	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, err
	}

	return raw, nil
}

// SaveGameFile writes the current world to path. The file is written next
// to its destination and renamed into place, so a failed save never
// clobbers an existing one.
func (s *SaveSystem) SaveGameFile(path string, description string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.current == nil {
		return &LoadError{Kind: Misuse, Err: errors.New("no game in progress")}
	}

	data, err := Encode(s.current, s.Rules, description)
	if err != nil {
		return err
	}

	if !s.Raw {
		data, err = compress(data)
		if err != nil {
			return &LoadError{Kind: IO, Err: err}
		}
	}

	err = writeAtomic(path, data)
	if err != nil {
		return &LoadError{Kind: IO, Err: err}
	}

	log.Info().
		Str("path", path).
		Str("description", description).
		Int("bytes", len(data)).
		Msg("game saved")
	return nil
}

func writeAtomic(path string, data []byte) error {
	err := os.MkdirAll(filepath.Dir(path), 0755)
	if err != nil {
		return err
	}

	file, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(file.Name())

	_, err = file.Write(data)
	if err != nil {
		file.Close()
		return err
	}

	err = file.Close()
	if err != nil {
		return err
	}

	return os.Rename(file.Name(), path)
}

func readSave(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Kind: IO, Err: err}
	}

	raw, err := decompress(data)
	if err != nil {
		return nil, corrupt(err)
	}
	return raw, nil
}

// LoadGameFile reads path into a fresh world. On success the loaded world
// becomes current; on any failure the current world is left alone.
func (s *SaveSystem) LoadGameFile(path string) (*Result, error) {
	raw, err := readSave(path)
	if err != nil {
		return nil, err
	}

	result, err := Decode(raw, s.Rules)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("could not load game")
		return nil, err
	}

	s.SetCurrent(result.World)
	log.Info().
		Str("path", path).
		Str("description", result.Header.Description).
		Int32("version", result.Header.Version).
		Msg("game loaded")
	return result, nil
}

// ReadSaveHeader reads just the header of the save at path.
func ReadSaveHeader(path string) (*Header, error) {
	raw, err := readSave(path)
	if err != nil {
		return nil, err
	}
	return ReadHeader(raw)
}

func (s *SaveSystem) GetSaveDescription(path string) (string, error) {
	header, err := ReadSaveHeader(path)
	if err != nil {
		return "", err
	}
	return header.Description, nil
}
