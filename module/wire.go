package module

import (
	"errors"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// FormatVersion is bumped whenever the encoded module layout changes.
const FormatVersion = 1

const magic = "xvmod"

// ErrVersion is returned when an encoded module carries a different
// format version than this build understands.
var ErrVersion = errors.New("module: unsupported format version")

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("module: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// envelope wraps a module with a magic tag and format version.
type envelope struct {
	Magic   string  `cbor:"magic"`
	Version int     `cbor:"version"`
	Module  *Module `cbor:"module"`
}

// Marshal serializes a module to canonical CBOR bytes.
func Marshal(m *Module) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("module: marshal nil module")
	}
	return cborEncMode.Marshal(&envelope{Magic: magic, Version: FormatVersion, Module: m})
}

// Unmarshal deserializes a module from CBOR bytes.
func Unmarshal(data []byte) (*Module, error) {
	var env envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("module: unmarshal: %w", err)
	}
	if env.Magic != magic {
		return nil, fmt.Errorf("module: not an xvm module (magic %q)", env.Magic)
	}
	if env.Version != FormatVersion {
		return nil, fmt.Errorf("%w: %d (want %d)", ErrVersion, env.Version, FormatVersion)
	}
	if env.Module == nil {
		return nil, fmt.Errorf("module: envelope without module")
	}
	return env.Module, nil
}

// ReadFile loads an encoded module from disk.
func ReadFile(path string) (*Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	m, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// WriteFile encodes a module and writes it to disk.
func WriteFile(path string, m *Module) error {
	data, err := Marshal(m)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	return nil
}
