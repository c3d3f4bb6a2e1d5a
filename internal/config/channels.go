package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/framebuf/internal/source"
	"github.com/smazurov/framebuf/pkg/shmframe"
)

// Defaults applied to channel entries that leave a field out.
const (
	DefaultChannelDepth   = 3
	DefaultChannelFPS     = 30
	DefaultChannelPattern = source.PatternGradient
)

// Channel describes one named block: the frame geometry its producer
// publishes and the synthetic pattern the demo producer draws.
type Channel struct {
	Width   int    `toml:"width" json:"width"`
	Height  int    `toml:"height" json:"height"`
	Depth   int    `toml:"depth" json:"depth"`
	FPS     int    `toml:"fps" json:"fps"`
	Pattern string `toml:"pattern" json:"pattern"`
}

// ImageSize returns width*height*depth.
func (c Channel) ImageSize() int {
	return c.Width * c.Height * c.Depth
}

// Validate checks the entry for channel name.
func (c Channel) Validate(name string) error {
	if err := shmframe.ValidateName(name); err != nil {
		return err
	}
	if c.Width <= 0 || c.Height <= 0 || c.Depth <= 0 {
		return fmt.Errorf("channel %q: width, height and depth must be positive", name)
	}
	if c.FPS <= 0 || c.FPS > 1000 {
		return fmt.Errorf("channel %q: fps must be between 1 and 1000", name)
	}
	if !source.IsPattern(c.Pattern) {
		return fmt.Errorf("channel %q: unknown pattern %q (have %v)", name, c.Pattern, source.Patterns())
	}
	return nil
}

// Channels is the content of a channels file.
type Channels struct {
	Channels map[string]Channel `toml:"channels" json:"channels"`
}

// Names returns the channel names in sorted order.
func (c Channels) Names() []string {
	return slices.Sorted(maps.Keys(c.Channels))
}

// Get returns the named channel.
func (c Channels) Get(name string) (Channel, bool) {
	ch, ok := c.Channels[name]
	return ch, ok
}

// LoadChannels reads a channels file. A missing file is an empty set.
func LoadChannels(path string) (Channels, error) {
	set := Channels{Channels: make(map[string]Channel)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return set, nil
	}
	if err != nil {
		return set, fmt.Errorf("failed to read channels file: %w", err)
	}
	if err := toml.Unmarshal(data, &set); err != nil {
		return set, fmt.Errorf("failed to parse channels file: %w", err)
	}
	if set.Channels == nil {
		set.Channels = make(map[string]Channel)
	}

	var errs []error
	for name, ch := range set.Channels {
		if ch.Depth == 0 {
			ch.Depth = DefaultChannelDepth
		}
		if ch.FPS == 0 {
			ch.FPS = DefaultChannelFPS
		}
		if ch.Pattern == "" {
			ch.Pattern = DefaultChannelPattern
		}
		if err := ch.Validate(name); err != nil {
			errs = append(errs, err)
			continue
		}
		set.Channels[name] = ch
	}
	if len(errs) > 0 {
		return Channels{}, errors.Join(errs...)
	}
	return set, nil
}

// SaveChannels writes the set atomically: a temp file in the same directory
// renamed over path.
func SaveChannels(path string, set Channels) error {
	for _, name := range set.Names() {
		if err := set.Channels[name].Validate(name); err != nil {
			return err
		}
	}

	data, err := toml.Marshal(set)
	if err != nil {
		return fmt.Errorf("failed to encode channels: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".channels-*.toml")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write channels: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write channels: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
