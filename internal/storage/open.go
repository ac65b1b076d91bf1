package storage

import (
	"fmt"
	"path/filepath"
)

// Storage engines accepted by Open.
const (
	EngineBadger = "badger"
	EnginePebble = "pebble"
	EngineMemory = "memory"
)

// Open opens the named engine under dir.
func Open(engine, dir string) (DB, error) {
	switch engine {
	case EngineBadger, "":
		return NewBadger(filepath.Join(dir, "badger"))
	case EnginePebble:
		return NewPebble(filepath.Join(dir, "pebble"))
	case EngineMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage engine %q", engine)
	}
}
