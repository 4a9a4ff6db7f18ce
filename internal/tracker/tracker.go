// Package tracker keeps a process-wide registry of releasable resources
// (tickers, event listeners, network connections) so shutdown can release
// everything that is still live and report what failed.
//
// The registry is constructed once in the entrypoint and injected into every
// component that owns a timer or socket.
package tracker

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Category groups registrations in diagnostics.
type Category string

const (
	Timer      Category = "timer"
	Listener   Category = "listener"
	Connection Category = "connection"
)

// Releaser is anything that can be released exactly once.
type Releaser interface {
	Release() error
}

// ReleaseFunc adapts a plain function to Releaser.
type ReleaseFunc func() error

// Release calls f.
func (f ReleaseFunc) Release() error { return f() }

type entry struct {
	name       string
	category   Category
	res        Releaser
	registered time.Time
}

// Tracker is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]*entry
	log     zerolog.Logger
	now     func() time.Time
}

// New returns an empty tracker.
func New(log zerolog.Logger) *Tracker {
	return &Tracker{
		entries: make(map[string]*entry),
		log:     log.With().Str("component", "tracker").Logger(),
		now:     time.Now,
	}
}

// RegisterTimer records a timer or ticker under name.
func (t *Tracker) RegisterTimer(name string, r Releaser) { t.register(name, Timer, r) }

// RegisterListener records an event subscription under name.
func (t *Tracker) RegisterListener(name string, r Releaser) { t.register(name, Listener, r) }

// RegisterConnection records a live connection under name.
func (t *Tracker) RegisterConnection(name string, r Releaser) { t.register(name, Connection, r) }

// register stores r under name. A duplicate name replaces the previous entry
// without releasing it: the newest owner is authoritative.
func (t *Tracker) register(name string, cat Category, r Releaser) {
	if r == nil {
		return
	}
	t.mu.Lock()
	if prev, ok := t.entries[name]; ok {
		t.log.Debug().Str("name", name).Str("previous", string(prev.category)).Msg("resource name re-registered")
	}
	t.entries[name] = &entry{name: name, category: cat, res: r, registered: t.now()}
	t.mu.Unlock()
}

// Release releases and unregisters name. It returns false when nothing is
// registered under that name. The resource is removed even when its Release
// fails.
func (t *Tracker) Release(name string) (bool, error) {
	t.mu.Lock()
	e, ok := t.entries[name]
	if ok {
		delete(t.entries, name)
	}
	t.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, safeRelease(e)
}

// Forget unregisters name without releasing it. Owners call this after they
// have released the resource themselves.
func (t *Tracker) Forget(name string) {
	t.mu.Lock()
	delete(t.entries, name)
	t.mu.Unlock()
}

// Has reports whether name is currently registered.
func (t *Tracker) Has(name string) bool {
	t.mu.Lock()
	_, ok := t.entries[name]
	t.mu.Unlock()
	return ok
}

// Failure describes a resource whose release returned an error or panicked.
type Failure struct {
	Name     string   `json:"name"`
	Category Category `json:"category"`
	Error    string   `json:"error"`
}

// Report summarizes a CleanupAll run.
type Report struct {
	Released int       `json:"released"`
	Failed   []Failure `json:"failed,omitempty"`
}

// CleanupAll releases every registered resource and empties the registry.
// Connections are released first, then listeners, then timers. A failing or
// panicking release is recorded and the sweep continues.
func (t *Tracker) CleanupAll() Report {
	t.mu.Lock()
	all := make([]*entry, 0, len(t.entries))
	for _, e := range t.entries {
		all = append(all, e)
	}
	t.entries = make(map[string]*entry)
	t.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		ri, rj := releaseRank(all[i].category), releaseRank(all[j].category)
		if ri != rj {
			return ri < rj
		}
		return all[i].name < all[j].name
	})

	var rep Report
	for _, e := range all {
		t.releaseInto(&rep, e)
	}
	return rep
}

// ReleaseAll releases the named resources that are still registered, in the
// given order, and reports the outcome the way CleanupAll does. Names that
// are not registered are skipped.
func (t *Tracker) ReleaseAll(names ...string) Report {
	var rep Report
	for _, name := range names {
		t.mu.Lock()
		e, ok := t.entries[name]
		if ok {
			delete(t.entries, name)
		}
		t.mu.Unlock()
		if ok {
			t.releaseInto(&rep, e)
		}
	}
	return rep
}

func (t *Tracker) releaseInto(rep *Report, e *entry) {
	if err := safeRelease(e); err != nil {
		rep.Failed = append(rep.Failed, Failure{Name: e.name, Category: e.category, Error: err.Error()})
		t.log.Warn().Err(err).Str("name", e.name).Str("category", string(e.category)).Msg("release failed")
		return
	}
	rep.Released++
}

// Merge adds o's counts and failures to r.
func (r *Report) Merge(o Report) {
	r.Released += o.Released
	r.Failed = append(r.Failed, o.Failed...)
}

func releaseRank(c Category) int {
	switch c {
	case Connection:
		return 0
	case Listener:
		return 1
	default:
		return 2
	}
}

func safeRelease(e *entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.res.Release()
}

// CategoryStats describes one category in Diagnostics.
type CategoryStats struct {
	Count     int           `json:"count"`
	OldestAge time.Duration `json:"oldest_age_ns"`
}

// EntryInfo describes one registration in Diagnostics.
type EntryInfo struct {
	Name     string        `json:"name"`
	Category Category      `json:"category"`
	Age      time.Duration `json:"age_ns"`
}

// Diagnostics is a point-in-time view of the registry.
type Diagnostics struct {
	Total      int                        `json:"total"`
	Categories map[Category]CategoryStats `json:"categories"`
	Entries    []EntryInfo                `json:"entries"`
}

// Diagnostics returns counts and ages per category plus every entry, oldest
// first.
func (t *Tracker) Diagnostics() Diagnostics {
	now := t.now()
	d := Diagnostics{Categories: map[Category]CategoryStats{
		Timer: {}, Listener: {}, Connection: {},
	}}

	t.mu.Lock()
	for _, e := range t.entries {
		age := now.Sub(e.registered)
		cs := d.Categories[e.category]
		cs.Count++
		if age > cs.OldestAge {
			cs.OldestAge = age
		}
		d.Categories[e.category] = cs
		d.Entries = append(d.Entries, EntryInfo{Name: e.name, Category: e.category, Age: age})
	}
	t.mu.Unlock()

	d.Total = len(d.Entries)
	sort.Slice(d.Entries, func(i, j int) bool {
		if d.Entries[i].Age != d.Entries[j].Age {
			return d.Entries[i].Age > d.Entries[j].Age
		}
		return d.Entries[i].Name < d.Entries[j].Name
	})
	return d
}
