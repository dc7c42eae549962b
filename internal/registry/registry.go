// Package registry keeps the socket interest entries the engine asks for and
// mirrors each of them into the reactor.
package registry

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/tanq16/volley/internal/engine"
	"github.com/tanq16/volley/internal/reactor"
	"github.com/tanq16/volley/internal/utils"
)

// Entry is the interest held for one descriptor.
type Entry struct {
	FD    int
	Owner string // id of the transfer that last asked for this descriptor
	Dirs  reactor.Direction
}

// Registry maps descriptors to entries. There is at most one entry per
// descriptor, and its Dirs always equal what the reactor was last told.
type Registry struct {
	reactor reactor.Reactor
	entries map[int]*Entry
	log     zerolog.Logger
}

func New(r reactor.Reactor) *Registry {
	return &Registry{
		reactor: r,
		entries: make(map[int]*Entry),
		log:     utils.GetLogger("registry"),
	}
}

func directions(what engine.Interest) (reactor.Direction, error) {
	switch what {
	case engine.PollIn:
		return reactor.Readable, nil
	case engine.PollOut:
		return reactor.Writable, nil
	case engine.PollInOut:
		return reactor.ReadWrite, nil
	default:
		return 0, fmt.Errorf("registry: unexpected interest %s", what)
	}
}

// OnSocketInterest applies one interest change for fd. prior is the entry
// returned by the previous call for the same descriptor, if any. It returns
// the entry to hand back next time, or nil after a removal.
func (r *Registry) OnSocketInterest(fd int, what engine.Interest, owner string, prior *Entry) (*Entry, error) {
	if what == engine.PollRemove {
		return nil, r.remove(fd)
	}
	dirs, err := directions(what)
	if err != nil {
		return nil, err
	}
	entry := prior
	if entry == nil {
		// The engine may have lost its assignment; the table is authoritative.
		entry = r.entries[fd]
	}
	if entry == nil {
		if err := r.reactor.Register(fd, dirs); err != nil {
			return nil, fmt.Errorf("registry: register fd %d: %w", fd, err)
		}
		entry = &Entry{FD: fd, Owner: owner, Dirs: dirs}
		r.entries[fd] = entry
		r.log.Debug().Str("op", "registry/add").Int("fd", fd).Str("dirs", dirs.String()).Msg("watching descriptor")
		return entry, nil
	}
	if entry.FD != fd {
		return nil, fmt.Errorf("registry: entry for fd %d offered for fd %d", entry.FD, fd)
	}
	entry.Owner = owner
	if entry.Dirs == dirs {
		return entry, nil
	}
	if err := r.reactor.Modify(fd, dirs); err != nil {
		return nil, fmt.Errorf("registry: modify fd %d to %s: %w", fd, dirs, err)
	}
	r.log.Debug().Str("op", "registry/modify").Int("fd", fd).Str("from", entry.Dirs.String()).Str("to", dirs.String()).Msg("interest changed")
	entry.Dirs = dirs
	return entry, nil
}

func (r *Registry) remove(fd int) error {
	if _, ok := r.entries[fd]; !ok {
		return nil
	}
	if err := r.reactor.Unregister(fd); err != nil {
		return fmt.Errorf("registry: unregister fd %d: %w", fd, err)
	}
	delete(r.entries, fd)
	r.log.Debug().Str("op", "registry/remove").Int("fd", fd).Msg("descriptor released")
	return nil
}

// Lookup returns the entry for fd.
func (r *Registry) Lookup(fd int) (*Entry, bool) {
	e, ok := r.entries[fd]
	return e, ok
}

// Len is the number of watched descriptors.
func (r *Registry) Len() int { return len(r.entries) }
