// Package registry maps trial-type names to worker variants and assigns a
// type to each new session by rotating over persisted counters.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"grimm.is/humangym/internal/logging"
	"grimm.is/humangym/internal/state"
	"grimm.is/humangym/internal/trial"
)

// Bucket holds the rotation counters.
const Bucket = "counters"

// TotalKey counts every assignment across types.
const TotalKey = "total"

// ErrUnknownType is returned for a trial type with no registered variant.
var ErrUnknownType = errors.New("unknown trial type")

// Factory builds a fresh variant for one session.
type Factory func() trial.Variant

var kinds = map[string]Factory{
	trial.TypePlayGame:     func() trial.Variant { return trial.PlayTrial{} },
	trial.TypeGiveFeedback: func() trial.Variant { return &trial.FeedbackTrial{} },
}

// Names returns every registered trial type, sorted.
func Names() []string {
	names := make([]string, 0, len(kinds))
	for name := range kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewVariant returns a variant for the named type.
func NewVariant(name string) (trial.Variant, error) {
	f, ok := kinds[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
	return f(), nil
}

// Assignment is the outcome of one rotation.
type Assignment struct {
	Type string
	// Index is the per-type counter before this assignment.
	Index int
	// Total is the global counter before this assignment.
	Total int
}

// Options configures a Registry.
type Options struct {
	// Reset reinitialises the counters to {total: 0}.
	Reset  bool
	Logger *logging.Logger
}

// Registry rotates over an ordered list of trial types.
type Registry struct {
	types []string
	store state.Store
	log   *logging.Logger
}

// New validates types and initialises the counter bucket. Existing
// counters are kept unless opts.Reset is set.
func New(store state.Store, types []string, opts Options) (*Registry, error) {
	if len(types) == 0 {
		return nil, errors.New("no trial types configured")
	}
	for _, t := range types {
		if _, ok := kinds[t]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
		}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}

	if err := store.CreateBucket(Bucket); err != nil && !errors.Is(err, state.ErrBucketExists) {
		return nil, fmt.Errorf("create counter bucket: %w", err)
	}

	r := &Registry{
		types: append([]string(nil), types...),
		store: store,
		log:   opts.Logger.WithComponent("registry"),
	}

	err := store.UpdateMany(Bucket, func(tx *state.Tx) error {
		if opts.Reset {
			if err := tx.Clear(); err != nil {
				return err
			}
		}
		if _, err := tx.Get(TotalKey); errors.Is(err, state.ErrNotFound) {
			return tx.Set(TotalKey, encode(0))
		} else if err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("initialise counters: %w", err)
	}

	r.log.Info("trial rotation ready", "types", r.types, "reset", opts.Reset)
	return r, nil
}

// Types returns the rotation order.
func (r *Registry) Types() []string {
	return append([]string(nil), r.types...)
}

// Assign picks the type for a new session and advances the counters in
// one transaction.
func (r *Registry) Assign() (Assignment, error) {
	var a Assignment
	err := r.store.UpdateMany(Bucket, func(tx *state.Tx) error {
		total, err := readCounter(tx, TotalKey)
		if err != nil {
			return err
		}
		a.Total = total
		a.Type = r.types[total%len(r.types)]

		if a.Index, err = readCounter(tx, a.Type); err != nil {
			return err
		}
		if err := tx.Set(a.Type, encode(a.Index+1)); err != nil {
			return err
		}
		return tx.Set(TotalKey, encode(total+1))
	})
	if err != nil {
		return Assignment{}, fmt.Errorf("assign trial type: %w", err)
	}
	r.log.Debug("trial type assigned", "type", a.Type, "index", a.Index, "total", a.Total)
	return a, nil
}

// Counters returns every persisted counter.
func (r *Registry) Counters() (map[string]int, error) {
	return ReadCounters(r.store)
}

// ReadCounters decodes the counter bucket of store.
func ReadCounters(store state.Store) (map[string]int, error) {
	raw, err := store.List(Bucket)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(raw))
	for k, v := range raw {
		n, err := strconv.Atoi(string(v))
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}

func readCounter(tx *state.Tx, key string) (int, error) {
	v, err := tx.Get(key)
	if errors.Is(err, state.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(string(v))
	if err != nil {
		return 0, fmt.Errorf("counter %s: %w", key, err)
	}
	return n, nil
}

func encode(n int) []byte {
	return []byte(strconv.Itoa(n))
}
