// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package weights stores and restores PatchmatchNet model parameters.
//
// An Archive is a flat map from fully-scoped variable names to tensors. It
// round-trips through gob encoding, and plugs into a context.Context as a
// context.Loader, so parameters are restored lazily as the model graph
// creates its variables.
//
// Archives written by other tooling may use different names for the same
// parameters; Loader accepts an alias table mapping this model's variable
// names to the names found in the archive, consulted before the canonical
// name. A parameter found under neither name is left at its initialized
// value, with a warning.
package weights

import (
	"bufio"
	"encoding/gob"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Archive is an in-memory collection of named tensors.
type Archive struct {
	entries map[string]*tensors.Tensor
}

// New returns an empty Archive.
func New() *Archive {
	return &Archive{entries: make(map[string]*tensors.Tensor)}
}

// FromContext snapshots every variable of ctx (parameters and buffers alike)
// into a new Archive, keyed by the variable's scope and name. Context-internal
// variables (names starting with "#") are skipped.
func FromContext(ctx *context.Context) (*Archive, error) {
	a := New()
	var err error
	ctx.EnumerateVariables(func(v *context.Variable) {
		if err != nil || strings.HasPrefix(v.Name(), "#") {
			return
		}
		var value *tensors.Tensor
		value, err = v.Value()
		if err != nil {
			err = errors.WithMessagef(err, "reading variable %q", v.ScopeAndName())
			return
		}
		a.entries[v.ScopeAndName()] = value
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Put adds or replaces an entry.
func (a *Archive) Put(name string, value *tensors.Tensor) {
	a.entries[name] = value
}

// Get returns the entry for name, if present.
func (a *Archive) Get(name string) (*tensors.Tensor, bool) {
	value, found := a.entries[name]
	return value, found
}

// Delete removes the entry for name, if present.
func (a *Archive) Delete(name string) {
	delete(a.entries, name)
}

// Names returns all entry names, sorted.
func (a *Archive) Names() []string {
	names := make([]string, 0, len(a.entries))
	for name := range a.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Write gob-encodes the archive.
func (a *Archive) Write(w io.Writer) error {
	enc := gob.NewEncoder(w)
	if err := enc.Encode(len(a.entries)); err != nil {
		return errors.Wrap(err, "encoding archive size")
	}
	for _, name := range a.Names() {
		if err := enc.Encode(name); err != nil {
			return errors.Wrapf(err, "encoding name %q", name)
		}
		if err := a.entries[name].GobSerialize(enc); err != nil {
			return errors.Wrapf(err, "encoding tensor %q", name)
		}
	}
	return nil
}

// Read decodes an archive written by Write.
func Read(r io.Reader) (*Archive, error) {
	dec := gob.NewDecoder(r)
	var count int
	if err := dec.Decode(&count); err != nil {
		return nil, errors.Wrap(err, "decoding archive size")
	}
	a := New()
	for i := 0; i < count; i++ {
		var name string
		if err := dec.Decode(&name); err != nil {
			return nil, errors.Wrapf(err, "decoding name of entry %d", i)
		}
		value, err := tensors.GobDeserialize(dec)
		if err != nil {
			return nil, errors.Wrapf(err, "decoding tensor %q", name)
		}
		a.entries[name] = value
	}
	return a, nil
}

// Save writes the archive to a file.
func (a *Archive) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %q", path)
	}
	w := bufio.NewWriter(f)
	if err = a.Write(w); err != nil {
		_ = f.Close()
		return errors.WithMessagef(err, "writing %q", path)
	}
	if err = w.Flush(); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "flushing %q", path)
	}
	return errors.Wrapf(f.Close(), "closing %q", path)
}

// Load reads an archive from a file.
func Load(path string) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %q", path)
	}
	defer func() { _ = f.Close() }()
	a, err := Read(bufio.NewReader(f))
	return a, errors.WithMessagef(err, "reading %q", path)
}

// Loader restores variables from an Archive as they are created. Install it
// with context.Context.SetLoader before building the model graph.
type Loader struct {
	archive *Archive
	aliases map[string]string
}

// Assert Loader implements context.Loader.
var _ context.Loader = (*Loader)(nil)

// NewLoader wraps the archive as a context.Loader. aliases maps this model's
// fully-scoped variable names to the names used in the archive; it may be nil.
func NewLoader(archive *Archive, aliases map[string]string) *Loader {
	return &Loader{archive: archive, aliases: aliases}
}

// LoadVariable implements context.Loader. The alias table is consulted first,
// then the canonical name. A miss on both is a warning only; the variable
// keeps its initialized value.
func (l *Loader) LoadVariable(ctx *context.Context, scope, name string) (*tensors.Tensor, bool) {
	if strings.HasPrefix(name, "#") {
		return nil, false
	}
	key := context.JoinScope(scope, name)
	if alias, found := l.aliases[key]; found {
		if value, ok := l.archive.Get(alias); ok {
			return value, true
		}
	}
	if value, found := l.archive.Get(key); found {
		return value, true
	}
	klog.Warningf("weights: archive has no value for %q, keeping its initialized value", key)
	return nil, false
}

// DeleteVariable implements context.Loader.
func (l *Loader) DeleteVariable(ctx *context.Context, scope, name string) error {
	key := context.JoinScope(scope, name)
	if alias, found := l.aliases[key]; found {
		l.archive.Delete(alias)
	}
	l.archive.Delete(key)
	return nil
}
