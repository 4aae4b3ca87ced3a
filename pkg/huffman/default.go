package huffman

import (
	"github.com/sasha-s/go-deadlock"
)

// DefaultFrequencies returns the static table the process-wide coder is built
// from. Delta frames are dominated by zero bytes, small counts and the low
// bytes of little-endian numbers, so the table is skewed toward those.
func DefaultFrequencies() [numSymbols]uint32 {
	var freqs [numSymbols]uint32
	for i := range freqs {
		switch {
		case i == 0x00:
			freqs[i] = 40000
		case i == 0xFF:
			freqs[i] = 3000
		case i < 0x10:
			freqs[i] = 6000 - uint32(i)*250
		case i < 0x40:
			freqs[i] = 1200 - uint32(i)*12
		case i < 0x80:
			freqs[i] = 300
		default:
			freqs[i] = 120
		}
	}
	return freqs
}

// Train counts byte frequencies over sample payloads. The result can be fed
// to New to get a coder adapted to a particular traffic mix.
func Train(samples ...[]byte) [numSymbols]uint32 {
	var freqs [numSymbols]uint32
	for _, sample := range samples {
		for _, b := range sample {
			if freqs[b] < ^uint32(0) {
				freqs[b]++
			}
		}
	}
	return freqs
}

var (
	mutex   deadlock.RWMutex
	current *Coder
)

// Init builds the process-wide coder. It is called once at startup; calling
// it again rebuilds the table from the defaults.
func Init() error {
	coder, err := New(DefaultFrequencies())
	if err != nil {
		return err
	}

	mutex.Lock()
	current = coder
	mutex.Unlock()
	return nil
}

// Shutdown releases the process-wide coder.
func Shutdown() {
	mutex.Lock()
	current = nil
	mutex.Unlock()
}

func Initialized() bool {
	mutex.RLock()
	defer mutex.RUnlock()
	return current != nil
}

func get() (*Coder, error) {
	mutex.RLock()
	defer mutex.RUnlock()
	if current == nil {
		return nil, ErrNotInitialized
	}
	return current, nil
}

func Encode(data []byte) ([]byte, error) {
	coder, err := get()
	if err != nil {
		return nil, err
	}
	return coder.Encode(data), nil
}

func Decode(data []byte) ([]byte, error) {
	coder, err := get()
	if err != nil {
		return nil, err
	}
	return coder.Decode(data)
}
