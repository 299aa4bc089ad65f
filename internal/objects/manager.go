// Package objects manages the mitigation measures a user places on the map:
// a committed set mirrored in a Store and a draft the user edits.
package objects

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mohammed-shakir/heatstress-map/internal/core/executor"
	"github.com/mohammed-shakir/heatstress-map/internal/core/model"
	"github.com/mohammed-shakir/heatstress-map/internal/core/observability"
	"github.com/mohammed-shakir/heatstress-map/internal/crs"
	"github.com/mohammed-shakir/heatstress-map/internal/layers"
)

const (
	// ClientIDPrefix marks objects placed in this session; only those can be
	// removed by clicking them.
	ClientIDPrefix = "CLIENT-"

	saveEndpoint = "update-pet"

	defaultSaveHeight   = 0.4
	defaultSaveRadius   = 5.0
	defaultSaveGeometry = "circle"
)

// Instanced layer defaults for user objects.
var (
	defaultOrientation = [3]float64{0, 0, 90}
	defaultColor       = layers.Color{180, 180, 180, 255}
)

const sizeScale = 0.5

type ImportPolicy string

const (
	// PolicyReplace makes the import the new draft, pending an explicit save.
	PolicyReplace ImportPolicy = "replace"
	// PolicyMerge adds imported objects at unseen positions to the committed
	// set and saves right away.
	PolicyMerge ImportPolicy = "merge"
)

func ParsePolicy(s string) (ImportPolicy, error) {
	switch ImportPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyReplace:
		return PolicyReplace, nil
	case PolicyMerge:
		return PolicyMerge, nil
	default:
		return "", fmt.Errorf("unknown import policy %q", s)
	}
}

type Options struct {
	Signature   string
	DefaultType string
	// Now is the clock used for ids and export dates.
	Now func() time.Time
}

type ImportResult struct {
	Policy   ImportPolicy `json:"policy"`
	Imported int          `json:"imported"`
	Added    int          `json:"added"`
	Skipped  int          `json:"skipped"`
	Saved    bool         `json:"saved"`
}

// Pick is what a click landed on. A nil Pick is a click on the bare map.
type Pick struct {
	LayerID  string
	ObjectID string
}

type Manager struct {
	logger  *slog.Logger
	exec    executor.Interface
	store   Store
	catalog *Catalog
	opts    Options

	saveMu sync.Mutex // serialises Save round-trips

	mu        sync.RWMutex
	committed []model.ObjectInstance
	draft     []model.ObjectInstance
	version   int
	nextID    uint64
	placing   bool
	selected  string
}

// NewManager reads the committed set once from store. An unreadable store
// starts the session empty.
func NewManager(ctx context.Context, logger *slog.Logger, exec executor.Interface, store Store, catalog *Catalog, opts Options) *Manager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if store == nil {
		store = NewMemoryStore()
	}
	committed, err := store.Load(ctx)
	if err != nil {
		logger.Error("load committed objects", "error", err)
		committed = nil
	}
	return &Manager{
		logger:    logger,
		exec:      exec,
		store:     store,
		catalog:   catalog,
		opts:      opts,
		committed: clone(committed),
		draft:     clone(committed),
	}
}

func (m *Manager) Catalog() *Catalog { return m.catalog }

// SetPlacing turns placement mode on for typeName, or off.
func (m *Manager) SetPlacing(on bool, typeName string) {
	m.mu.Lock()
	m.placing = on
	m.selected = typeName
	m.mu.Unlock()
}

func (m *Manager) Placing() (bool, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.placing, m.selected
}

// HandleClick places or removes an object while in placement mode and
// reports whether the click was consumed.
func (m *Manager) HandleClick(pick *Pick, at *model.GeoPoint) bool {
	placing, selected := m.Placing()
	if !placing {
		return false
	}
	if pick != nil {
		if strings.HasPrefix(pick.LayerID, layers.UserObjectsPrefix) {
			return m.Remove(pick.ObjectID)
		}
		return false
	}
	if at == nil {
		return false
	}
	_, ok := m.Place(selected, *at)
	return ok
}

// Place appends a new draft object of typeName at p. It is a no-op when the
// catalog is not loaded or does not know typeName.
func (m *Manager) Place(typeName string, p model.GeoPoint) (model.ObjectInstance, bool) {
	if m.catalog == nil || !m.catalog.IsLoaded() {
		m.logger.Warn("cannot place object: measure types not loaded")
		return model.ObjectInstance{}, false
	}
	mt, ok := m.catalog.Lookup(typeName)
	if !ok {
		m.logger.Warn("cannot place object: unknown type", "type", typeName)
		return model.ObjectInstance{}, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	obj := model.ObjectInstance{
		ID:         m.mintIDLocked(typeName),
		ObjectType: typeName,
		Position:   model.Position{p.Lon, p.Lat, 0},
		Scale:      mt.Scale,
		Height:     mt.Height,
		Radius:     mt.Radius,
		Geometry:   mt.Geometry,
	}
	m.draft = append(m.draft, obj)
	return obj, true
}

// Remove drops a client-placed object from the draft.
func (m *Manager) Remove(id string) bool {
	if !strings.HasPrefix(id, ClientIDPrefix) {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i := slices.IndexFunc(m.draft, func(o model.ObjectInstance) bool { return o.ID == id })
	if i < 0 {
		return false
	}
	m.draft = slices.Delete(m.draft, i, i+1)
	return true
}

func (m *Manager) mintIDLocked(typeName string) string {
	n := m.nextID
	m.nextID++
	return fmt.Sprintf("%s%s-%d-%d", ClientIDPrefix, typeName, m.opts.Now().UnixMilli(), n)
}

// Discard resets the draft to the committed set.
func (m *Manager) Discard() {
	m.mu.Lock()
	m.draft = clone(m.committed)
	m.mu.Unlock()
}

func (m *Manager) Draft() []model.ObjectInstance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clone(m.draft)
}

func (m *Manager) Committed() []model.ObjectInstance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clone(m.committed)
}

// Version counts successful saves.
func (m *Manager) Version() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

func (m *Manager) HasUnsavedChanges() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Differ(m.committed, m.draft)
}

// Differ compares two object sets ignoring order.
func Differ(a, b []model.ObjectInstance) bool {
	if len(a) != len(b) {
		return true
	}
	sa, sb := clone(a), clone(b)
	byID := func(s []model.ObjectInstance) func(i, j int) bool {
		return func(i, j int) bool { return s[i].ID < s[j].ID }
	}
	sort.SliceStable(sa, byID(sa))
	sort.SliceStable(sb, byID(sb))
	ja, errA := json.Marshal(sa)
	jb, errB := json.Marshal(sb)
	if errA != nil || errB != nil {
		return true
	}
	return string(ja) != string(jb)
}

type savePoint struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Height   float64 `json:"height"`
	Radius   float64 `json:"radius"`
	Geometry string  `json:"geometry"`
}

type savePayload struct {
	Points []savePoint `json:"points"`
}

// SavePayload converts objs to the recompute request, in RD coordinates.
func SavePayload(objs []model.ObjectInstance) any {
	p := savePayload{Points: make([]savePoint, 0, len(objs))}
	for _, o := range objs {
		xy := crs.ToProjected(o.Position.Point())
		pt := savePoint{X: xy.X, Y: xy.Y, Height: defaultSaveHeight, Radius: defaultSaveRadius, Geometry: defaultSaveGeometry}
		if o.Height != nil && *o.Height != 0 {
			pt.Height = *o.Height
		}
		if o.Radius != nil && *o.Radius != 0 {
			pt.Radius = *o.Radius
		}
		if o.Geometry != "" {
			pt.Geometry = o.Geometry
		}
		p.Points = append(p.Points, pt)
	}
	return p
}

// Save sends the draft for recomputation and, on success, commits it and
// bumps the version. On failure the draft is left as it was.
func (m *Manager) Save(ctx context.Context) (int, error) {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()
	return m.commitLocked(ctx, m.Draft())
}

// commitLocked must be called with saveMu held.
func (m *Manager) commitLocked(ctx context.Context, objs []model.ObjectInstance) (int, error) {
	if _, err := m.exec.PostJSON(ctx, saveEndpoint, nil, SavePayload(objs)); err != nil {
		se := &SaveError{Err: err}
		var status *executor.StatusError
		if errors.As(err, &status) {
			se.Status = status.Code
		}
		observability.ObserveSave(se)
		m.logger.Error("save objects", "count", len(objs), "error", err)
		return m.Version(), se
	}
	if err := m.store.Save(ctx, objs); err != nil {
		observability.ObserveSave(err)
		m.logger.Error("persist committed objects", "error", err)
		return m.Version(), fmt.Errorf("persist objects: %w", err)
	}

	m.mu.Lock()
	m.committed = clone(objs)
	m.draft = clone(objs)
	m.version++
	v := m.version
	m.mu.Unlock()

	observability.ObserveSave(nil)
	m.logger.Info("objects saved", "count", len(objs), "version", v)
	return v, nil
}

// Reload re-reads the committed set after another instance saved. A clean
// draft follows the new committed set; local unsaved edits are kept. The
// version is bumped either way since server-side rasters changed.
func (m *Manager) Reload(ctx context.Context) (int, error) {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	objs, err := m.store.Load(ctx)
	if err != nil {
		return m.Version(), fmt.Errorf("reload objects: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !Differ(m.committed, m.draft) {
		m.draft = clone(objs)
	}
	m.committed = clone(objs)
	m.version++
	return m.version, nil
}

// Import applies a file produced by Export according to policy.
func (m *Manager) Import(ctx context.Context, data []byte, policy ImportPolicy) (ImportResult, error) {
	imported, err := ParseImport(data, ImportOptions{
		Signature:   m.opts.Signature,
		DefaultType: m.opts.DefaultType,
		Catalog:     m.catalog,
	})
	if err != nil {
		return ImportResult{}, err
	}
	res := ImportResult{Policy: policy, Imported: len(imported)}

	switch policy {
	case PolicyReplace:
		m.mu.Lock()
		m.draft = imported
		m.mu.Unlock()
		res.Added = len(imported)
		return res, nil
	case PolicyMerge:
		// the merge base must be the committed set this commit replaces
		m.saveMu.Lock()
		defer m.saveMu.Unlock()

		committed := m.Committed()
		seen := make(map[string]struct{}, len(committed)+len(imported))
		for _, o := range committed {
			seen[o.Position.Key()] = struct{}{}
		}
		merged := committed
		m.mu.Lock()
		for _, o := range imported {
			k := o.Position.Key()
			if _, dup := seen[k]; dup {
				res.Skipped++
				continue
			}
			seen[k] = struct{}{}
			o.ID = m.mintIDLocked(o.ObjectType)
			merged = append(merged, o)
			res.Added++
		}
		m.mu.Unlock()
		if res.Added == 0 {
			return res, nil
		}
		if _, err := m.commitLocked(ctx, merged); err != nil {
			return res, err
		}
		res.Saved = true
		return res, nil
	default:
		return ImportResult{}, fmt.Errorf("unknown import policy %q", policy)
	}
}

// Export renders the draft.
func (m *Manager) Export(format Format) (ExportFile, error) {
	return Export(m.Draft(), format, m.opts.Signature, m.opts.Now())
}

// Layers groups the draft by type into one instanced layer per known type,
// ordered by type name. Types missing from the catalog are skipped.
func (m *Manager) Layers() []layers.Descriptor {
	if m.catalog == nil || !m.catalog.IsLoaded() {
		return nil
	}
	groups := map[string][]layers.Instance{}
	for _, o := range m.Draft() {
		groups[o.ObjectType] = append(groups[o.ObjectType], layers.Instance{
			ID:         o.ID,
			ObjectType: o.ObjectType,
			Position:   o.Position,
			Scale:      o.Scale,
		})
	}
	names := make([]string, 0, len(groups))
	for n := range groups {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make([]layers.Descriptor, 0, len(names))
	for _, n := range names {
		mt, ok := m.catalog.Lookup(n)
		if !ok {
			m.logger.Warn("missing properties for object type, skipping layer", "type", n)
			continue
		}
		out = append(out, InstancedLayer(layers.UserObjectsPrefix+"-"+n, mt.Model, mt.Rotation, groups[n]))
	}
	return out
}

// InstancedLayer builds a pickable scenegraph layer. A zero orientation uses
// the model default.
func InstancedLayer(id, modelURL string, orientation [3]float64, instances []layers.Instance) *layers.Instanced {
	if orientation == ([3]float64{}) {
		orientation = defaultOrientation
	}
	return &layers.Instanced{
		ID:          id,
		Model:       modelURL,
		SizeScale:   sizeScale,
		Color:       defaultColor,
		Orientation: orientation,
		Pickable:    true,
		Instances:   instances,
	}
}

func clone(objs []model.ObjectInstance) []model.ObjectInstance {
	if objs == nil {
		return nil
	}
	return append([]model.ObjectInstance(nil), objs...)
}
