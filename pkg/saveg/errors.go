package saveg

import (
	"errors"
	"fmt"

	"github.com/cfoust/framesync/pkg/archive"
)

type Kind uint8

const (
	// The file failed version or structure validation.
	CorruptData Kind = iota
	// An archive table filled up.
	Resource
	// The archiver was driven out of order or handed state the format
	// cannot hold.
	Misuse
	// The file could not be read or written.
	IO
)

func (k Kind) String() string {
	switch k {
	case CorruptData:
		return "corrupt save data"
	case Resource:
		return "archive limit exceeded"
	case Misuse:
		return "internal error"
	case IO:
		return "file error"
	default:
		return fmt.Sprintf("kind(%d)", k)
	}
}

// LoadError is what the menu layer sees: a single pass/fail with a message.
type LoadError struct {
	Kind Kind
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

var (
	ErrLegacyWrite        = errors.New("legacy save formats are read-only")
	ErrUnsupportedVersion = errors.New("unsupported save version")
	ErrWrongGame          = errors.New("save belongs to another game")
	ErrOutOfRange         = errors.New("value does not fit the save format")
)

func corrupt(err error) error {
	var saveErr *LoadError
	if errors.As(err, &saveErr) {
		return err
	}
	return &LoadError{Kind: CorruptData, Err: err}
}

func classify(err error) error {
	if err == nil {
		return nil
	}

	var saveErr *LoadError
	if errors.As(err, &saveErr) {
		return err
	}

	var capacity *archive.CapacityError
	if errors.As(err, &capacity) {
		return &LoadError{Kind: Resource, Err: err}
	}

	var misuse *archive.MisuseError
	if errors.As(err, &misuse) {
		return &LoadError{Kind: Misuse, Err: err}
	}

	return &LoadError{Kind: CorruptData, Err: err}
}

func IsCorrupt(err error) bool {
	var saveErr *LoadError
	return errors.As(err, &saveErr) && saveErr.Kind == CorruptData
}
