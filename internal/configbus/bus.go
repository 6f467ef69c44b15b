package configbus

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"doorkeeper/internal/faults"
	"doorkeeper/internal/fileutil"
	"doorkeeper/internal/logging"
)

// Listener receives a copy of a section document whenever it changes.
// Register and Replace call it with the bus write lock held, so a listener
// may read the bus through Get or Snapshot but must not call Replace or
// Register synchronously.
type Listener func(Document)

// Bus owns the runtime configuration document.
type Bus struct {
	path   string
	logger *slog.Logger

	// writeMu serializes Register and Replace so that persistence, swap, and
	// listener delivery happen in one order per section.
	writeMu sync.Mutex

	mu        sync.RWMutex
	schemas   map[string]Schema
	order     []string
	sections  map[string]Document
	listeners map[string]Listener
}

// New loads the runtime configuration at path, falling back to defaults for
// missing sections. A missing file is created with defaults. A file that is
// unreadable or fails validation is a startup error.
func New(path string, logger *slog.Logger, schemas ...Schema) (*Bus, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if len(schemas) == 0 {
		schemas = DefaultSchemas()
	}
	b := &Bus{
		path:      path,
		logger:    logging.NewComponentLogger(logger, "configbus"),
		schemas:   make(map[string]Schema, len(schemas)),
		sections:  make(map[string]Document, len(schemas)),
		listeners: make(map[string]Listener),
	}
	for _, schema := range schemas {
		b.schemas[schema.Name] = schema
		b.order = append(b.order, schema.Name)
	}

	stored, found, err := b.read()
	if err != nil {
		return nil, faults.Wrap(faults.ErrStartupFatal, "configbus", "load", path, err)
	}
	for _, name := range b.order {
		schema := b.schemas[name]
		raw, ok := stored[name]
		if !ok {
			doc, err := schema.defaults()
			if err != nil {
				return nil, faults.Wrap(faults.ErrStartupFatal, "configbus", "defaults", name, err)
			}
			b.sections[name] = doc
			continue
		}
		section, ok := asDocument(raw)
		if !ok {
			return nil, faults.Wrap(faults.ErrStartupFatal, "configbus", "load", name+" is not a table", nil)
		}
		doc, err := schema.normalize(section)
		if err != nil {
			return nil, faults.Wrap(faults.ErrStartupFatal, "configbus", "load", name, err)
		}
		b.sections[name] = doc
	}
	for name := range stored {
		if _, known := b.schemas[name]; !known {
			logging.WarnWithContext(b.logger, "ignoring unknown runtime config section", "config_unknown_section",
				logging.String(logging.FieldSection, name),
				logging.String(logging.FieldErrorHint, "remove the section from "+path),
				logging.String(logging.FieldImpact, "section is dropped on next write"),
			)
		}
	}
	if !found {
		if err := b.persist(b.sections); err != nil {
			return nil, faults.Wrap(faults.ErrStartupFatal, "configbus", "init", path, err)
		}
		b.logger.Info("runtime config initialized with defaults",
			logging.String(logging.FieldEventType, "config_defaults_written"),
			logging.String("path", path),
		)
	}
	return b, nil
}

// Path returns the backing file path.
func (b *Bus) Path() string { return b.path }

// Sections returns the known section names in persistence order.
func (b *Bus) Sections() []string {
	return append([]string(nil), b.order...)
}

// Get returns a copy of one section.
func (b *Bus) Get(section string) (Document, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	doc, ok := b.sections[section]
	if !ok {
		return nil, unknownSection(section)
	}
	return cloneDocument(doc), nil
}

// Snapshot returns a copy of every section.
func (b *Bus) Snapshot() map[string]Document {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]Document, len(b.sections))
	for name, doc := range b.sections {
		out[name] = cloneDocument(doc)
	}
	return out
}

// Register installs the listener for section, replacing any previous one, and
// delivers the current document before returning.
func (b *Bus) Register(section string, listener Listener) error {
	if listener == nil {
		return faults.Wrap(faults.ErrValidation, "configbus", "register", "listener is required", nil)
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	b.mu.Lock()
	doc, ok := b.sections[section]
	if ok {
		b.listeners[section] = listener
	}
	b.mu.Unlock()
	if !ok {
		return unknownSection(section)
	}
	listener(cloneDocument(doc))
	return nil
}

// Replace validates doc against the section schema, durably persists the
// whole configuration, swaps the in-memory value, and notifies the listener.
// On any error nothing is changed.
func (b *Bus) Replace(ctx context.Context, section string, doc Document) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	schema, ok := b.schemas[section]
	if !ok {
		return nil, unknownSection(section)
	}
	normalized, err := schema.normalize(cloneDocument(doc))
	if err != nil {
		return nil, faults.Wrap(faults.ErrValidation, "configbus", "replace", section, err)
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	b.mu.RLock()
	next := make(map[string]Document, len(b.sections))
	for name, current := range b.sections {
		next[name] = current
	}
	b.mu.RUnlock()
	next[section] = normalized

	if err := b.persist(next); err != nil {
		return nil, faults.Wrap(faults.ErrTransientIO, "configbus", "persist", section, err)
	}

	b.mu.Lock()
	b.sections[section] = normalized
	listener := b.listeners[section]
	b.mu.Unlock()

	b.logger.Info("runtime config section replaced",
		logging.String(logging.FieldEventType, "config_section_replaced"),
		logging.String(logging.FieldSection, section),
		logging.Bool("has_listener", listener != nil),
	)
	if listener != nil {
		listener(cloneDocument(normalized))
	}
	return cloneDocument(normalized), nil
}

func (b *Bus) read() (map[string]any, bool, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read runtime config: %w", err)
	}
	stored := map[string]any{}
	if err := toml.Unmarshal(data, &stored); err != nil {
		return nil, true, fmt.Errorf("parse runtime config: %w", err)
	}
	return stored, true, nil
}

func (b *Bus) persist(sections map[string]Document) error {
	tree := make(map[string]any, len(sections))
	for name, doc := range sections {
		tree[name] = map[string]any(doc)
	}
	data, err := toml.Marshal(tree)
	if err != nil {
		return fmt.Errorf("encode runtime config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return fmt.Errorf("create runtime config directory: %w", err)
	}
	return fileutil.WriteFileAtomic(b.path, data, 0o644)
}

func asDocument(raw any) (Document, bool) {
	switch v := raw.(type) {
	case map[string]any:
		return Document(v), true
	case Document:
		return v, true
	default:
		return nil, false
	}
}

func unknownSection(section string) error {
	return faults.Wrap(faults.ErrNotFound, "configbus", "section", fmt.Sprintf("unknown section %q", section), nil)
}
