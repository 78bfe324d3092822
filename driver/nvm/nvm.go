// Package nvm persists the global time of time bases across restarts.
package nvm

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/pelletier/go-toml/v2"

	"example.com/synctime/base/timebase"
)

type record struct {
	ID          timebase.ID `toml:"id"`
	Seconds     uint64      `toml:"seconds"`
	Nanoseconds uint32      `toml:"nanoseconds"`
}

type contents struct {
	TimeBases []record `toml:"time_base"`
}

// File stores time stamps in a TOML file.
type File struct {
	path string
}

func NewFile(path string) *File {
	return &File{path: path}
}

// Load returns the stored time stamps. A missing file yields no time stamps.
func (f *File) Load() (map[timebase.ID]timebase.TimeStamp, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[timebase.ID]timebase.TimeStamp{}, nil
	}
	if err != nil {
		return nil, err
	}
	var c contents
	err = toml.NewDecoder(bytes.NewReader(raw)).DisallowUnknownFields().Decode(&c)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", f.path, err)
	}
	m := make(map[timebase.ID]timebase.TimeStamp, len(c.TimeBases))
	for _, r := range c.TimeBases {
		if r.Seconds > timebase.MaxSeconds || r.Nanoseconds >= timebase.NanosecondsPerSecond {
			return nil, fmt.Errorf("invalid time stamp for time base %d in %s", r.ID, f.path)
		}
		m[r.ID] = timebase.NewTimeStamp(r.Seconds, r.Nanoseconds)
	}
	return m, nil
}

// Store replaces the file contents with ts.
func (f *File) Store(ts map[timebase.ID]timebase.TimeStamp) error {
	var c contents
	for id, t := range ts {
		c.TimeBases = append(c.TimeBases, record{ID: id, Seconds: t.Sec(), Nanoseconds: t.Nanoseconds})
	}
	slices.SortFunc(c.TimeBases, func(a, b record) int { return int(a.ID) - int(b.ID) })
	raw, err := toml.Marshal(c)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}
