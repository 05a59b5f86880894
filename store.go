package mirror

import "io"

// Store is the public façade over the reconciliation engine: construct
// it over a Document and a Schema, then read state, propose updates,
// and subscribe to changes, without ever touching the underlying CRDT
// machinery directly.
type Store struct {
	engine *Engine
}

// NewStore builds a Store backed by doc: it creates a fresh root
// container on doc for each top-level key and seeds them with initial's
// content.
func NewStore(doc Document, schema *Schema, initial State, opts Options) (*Store, error) {
	engine, err := NewEngine(doc, schema, initial, opts)
	if err != nil {
		return nil, err
	}
	return &Store{engine: engine}, nil
}

// GetState returns the store's current mirrored state.
func (s *Store) GetState() State {
	return s.engine.State()
}

// SetState proposes a new state computed from the current one. See
// Engine.SetState.
func (s *Store) SetState(updater func(State) State, options *Options) (bool, error) {
	return s.engine.SetState(updater, options)
}

// Subscribe registers cb to run on every new state, along with the
// ChangeMeta describing which direction produced it and any tags the
// triggering SetState call carried. See Engine.Subscribe.
func (s *Store) Subscribe(cb func(State, ChangeMeta)) (unsubscribe func()) {
	return s.engine.Subscribe(cb)
}

// Dump writes a human-readable YAML rendering of the current state to w.
func (s *Store) Dump(w io.Writer) error {
	return s.engine.Dump(w)
}

// GetDocument returns the Document backing this store, for callers that
// need to reach the CRDT directly (e.g. to persist or sync it).
func (s *Store) GetDocument() Document {
	return s.engine.doc
}

// RootCID returns the CID of the root container mirrored at the given
// top-level state key. See Engine.RootCID.
func (s *Store) RootCID(key string) (CID, bool) {
	return s.engine.RootCID(key)
}

// Close stops the store from mirroring its document's events.
func (s *Store) Close() {
	s.engine.Close()
}
