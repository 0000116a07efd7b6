package settings

import (
	"context"
	"fmt"
)

// AnyVersion as a Migration.From matches every format version.
// As a default formatVersion it disables format-version tracking.
const AnyVersion = "*"

const (
	versionField       = "version"
	formatVersionField = "formatVersion"
)

// Strategy selects how InitializeSettings reconciles a stored blob.
// It is either Recursive or Chain.
type Strategy interface {
	strategy()
}

// Recursive backfills missing keys from the defaults.
type Recursive struct{}

// Chain runs migrations in declaration order.
type Chain []Migration

func (Recursive) strategy() {}
func (Chain) strategy()     {}

// MigrationFunc turns the previous settings shape into the next one. It receives
// a private copy and must not touch the store.
type MigrationFunc func(ctx context.Context, previous Blob) (Blob, error)

// Migration moves settings from one format version to another.
type Migration struct {
	From   string
	To     string
	Action MigrationFunc
}

func (m Migration) matches(formatVersion string) bool {
	return (m.From == AnyVersion || m.From == formatVersion) && m.To != formatVersion
}

// chainState is the accumulator threaded through the migration fold.
type chainState struct {
	settings      Blob
	formatVersion string
	fired         bool
}

// fold applies every matching link to state. On failure the input state is
// discarded and nothing is returned for persistence.
func (c Chain) fold(ctx context.Context, key string, state chainState, defaultVersion *string) (chainState, error) {
	for _, link := range c {
		if !link.matches(state.formatVersion) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return chainState{}, &MigrationError{Key: key, From: link.From, To: link.To, Err: err}
		}
		next, err := link.apply(ctx, state, defaultVersion)
		if err != nil {
			return chainState{}, &MigrationError{Key: key, From: link.From, To: link.To, Err: err}
		}
		state = next
	}
	return state, nil
}

func (m Migration) apply(ctx context.Context, state chainState, defaultVersion *string) (next chainState, err error) {
	if m.Action == nil {
		return chainState{}, fmt.Errorf("migration %s -> %s has no action", m.From, m.To)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()

	out, err := m.Action(ctx, Clone(state.settings))
	if err != nil {
		return chainState{}, err
	}
	if out == nil {
		out = Blob{}
	}
	out[formatVersionField] = m.To
	if defaultVersion != nil {
		out[versionField] = *defaultVersion
	}
	return chainState{settings: out, formatVersion: m.To, fired: true}, nil
}
