package dashboard

import (
	"context"
	"fmt"
	"sync"

	"sharedview.org/internal/visuals"
)

// Widget types understood by the shared-dashboard pages. Anything else is
// rendered by the regular dashboard page only and never through a token.
const (
	WidgetLinkedView = "linked_view"
	WidgetStaticText = "static_text"
)

// Widget is one tile of a dashboard. For linked views Name references the
// linked view by name.
type Widget struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
	Text string `json:"text,omitempty"`
}

// Dashboard is a visual with widgets and an optional live share token.
type Dashboard struct {
	visuals.Visual
	// PublicTokenID references the one live share token of this dashboard;
	// empty means the dashboard is not shared.
	PublicTokenID string   `json:"public_token_id,omitempty"`
	Widgets       []Widget `json:"widgets"`
}

// WidgetID derives the stable identifier of the widget at the given index.
func WidgetID(dashboardName string, index int) string {
	return fmt.Sprintf("%s-%d", dashboardName, index)
}

// WidgetByID returns the widget the ID refers to.
func (d *Dashboard) WidgetByID(widgetID string) (Widget, error) {
	for i, w := range d.Widgets {
		if WidgetID(d.Name, i) == widgetID {
			return w, nil
		}
	}
	return Widget{}, &InvalidWidgetError{Reason: fmt.Sprintf("dashboard %q has no widget %q", d.Name, widgetID)}
}

// Table is the persistence contract for dashboard configurations.
type Table interface {
	All(ctx context.Context) (map[visuals.Key]Dashboard, error)
	Get(ctx context.Context, key visuals.Key) (Dashboard, error)
	Put(ctx context.Context, d Dashboard) error
	Delete(ctx context.Context, key visuals.Key) error
	// SetTokenID writes the dashboard's token reference only if the stored
	// value still equals previous (empty meaning unset). A mismatch fails
	// with ErrStaleTokenReference, which is how two concurrent issuances on
	// the same dashboard are kept from both minting a live token.
	SetTokenID(ctx context.Context, key visuals.Key, previous, next string) error
}

// MemoryTable implements Table with in-process concurrency safety.
type MemoryTable struct {
	mu         sync.RWMutex
	dashboards map[visuals.Key]Dashboard
}

func NewMemoryTable() *MemoryTable {
	return &MemoryTable{dashboards: make(map[visuals.Key]Dashboard)}
}

func (t *MemoryTable) All(ctx context.Context) (map[visuals.Key]Dashboard, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[visuals.Key]Dashboard, len(t.dashboards))
	for k, d := range t.dashboards {
		out[k] = cloneDashboard(d)
	}
	return out, nil
}

func (t *MemoryTable) Get(ctx context.Context, key visuals.Key) (Dashboard, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.dashboards[key]
	if !ok {
		return Dashboard{}, visuals.ErrNotFound
	}
	return cloneDashboard(d), nil
}

func (t *MemoryTable) Put(ctx context.Context, d Dashboard) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dashboards[visuals.Key{Owner: d.Owner, Name: d.Name}] = cloneDashboard(d)
	return nil
}

func (t *MemoryTable) SetTokenID(ctx context.Context, key visuals.Key, previous, next string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.dashboards[key]
	if !ok {
		return visuals.ErrNotFound
	}
	if d.PublicTokenID != previous {
		return ErrStaleTokenReference
	}
	d.PublicTokenID = next
	t.dashboards[key] = d
	return nil
}

func (t *MemoryTable) Delete(ctx context.Context, key visuals.Key) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.dashboards[key]; !ok {
		return visuals.ErrNotFound
	}
	delete(t.dashboards, key)
	return nil
}

var _ Table = (*MemoryTable)(nil)

func cloneDashboard(d Dashboard) Dashboard {
	cp := d
	if d.Widgets != nil {
		cp.Widgets = make([]Widget, len(d.Widgets))
		copy(cp.Widgets, d.Widgets)
	}
	return cp
}

// VisualSource feeds the visibility resolver from the live tables: views come
// from the visuals table, dashboards are projected from the dashboard table
// so resolution and configuration cannot drift apart.
type VisualSource struct {
	Views      visuals.Table
	Dashboards Table
}

func (s *VisualSource) All(ctx context.Context, kind string) (map[visuals.Key]visuals.Visual, error) {
	if kind != visuals.KindDashboards {
		return s.Views.All(ctx, kind)
	}
	dashboards, err := s.Dashboards.All(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[visuals.Key]visuals.Visual, len(dashboards))
	for k, d := range dashboards {
		out[k] = d.Visual
	}
	return out, nil
}

var _ visuals.Source = (*VisualSource)(nil)
