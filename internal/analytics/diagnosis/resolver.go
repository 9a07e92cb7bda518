package diagnosis

import (
	"fmt"

	"github.com/kubilitics/sensordx/internal/models"
)

// Resolution is the outcome of resolving a metric vector.
type Resolution struct {
	Condition Condition `json:"condition"`
	Entry
}

// Resolver dispatches on sensor type to a rule table. It is immutable after
// construction and safe for concurrent use.
type Resolver struct {
	tables  map[models.SensorType]Table
	catalog Catalog
}

// NewResolver validates tables and indexes them by type. A GENERIC table is
// required since it serves unknown types.
func NewResolver(catalog Catalog, tables ...Table) (*Resolver, error) {
	r := &Resolver{
		tables:  make(map[models.SensorType]Table, len(tables)),
		catalog: catalog,
	}
	if r.catalog == nil {
		r.catalog = DefaultCatalog()
	}
	for _, t := range tables {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("invalid diagnosis table: %w", err)
		}
		if _, dup := r.tables[t.SensorType]; dup {
			return nil, fmt.Errorf("duplicate diagnosis table for %s", t.SensorType)
		}
		r.tables[t.SensorType] = t
	}
	if _, ok := r.tables[models.SensorGeneric]; !ok {
		return nil, fmt.Errorf("diagnosis tables: missing %s table", models.SensorGeneric)
	}
	return r, nil
}

// DefaultResolver builds the built-in table for every sensor type, with
// per-type threshold overrides.
func DefaultResolver(overrides map[models.SensorType]Thresholds) (*Resolver, error) {
	tables := make([]Table, 0, len(models.AllSensorTypes))
	for _, t := range models.AllSensorTypes {
		tables = append(tables, BuildTable(t, overrides[t]))
	}
	return NewResolver(DefaultCatalog(), tables...)
}

// Table returns the table used for t, falling back to GENERIC.
func (r *Resolver) Table(t models.SensorType) Table {
	if tbl, ok := r.tables[t]; ok {
		return tbl
	}
	return r.tables[models.SensorGeneric]
}

// Resolve maps a metric vector plus the anomaly error to a diagnosis. The
// anomaly error is passed separately because the vector may have been
// computed before a baseline was available.
func (r *Resolver) Resolve(v models.MetricVector, anomalyErr models.Metric, t models.SensorType) Resolution {
	return r.ResolveWith(v, anomalyErr, t, nil)
}

// ResolveWith is Resolve with per-call threshold overrides.
func (r *Resolver) ResolveWith(v models.MetricVector, anomalyErr models.Metric, t models.SensorType, overrides Thresholds) Resolution {
	tbl := r.Table(t)
	if len(overrides) > 0 {
		tbl.Thresholds = tbl.Thresholds.Merge(overrides)
	}

	lookup := func(name models.MetricName) (float64, bool) {
		if name == models.MetricAnomalyError {
			if !anomalyErr.Available {
				return 0, false
			}
			return anomalyErr.Value, true
		}
		return v.Get(name)
	}

	rule := tbl.match(lookup)
	return Resolution{Condition: rule.Condition, Entry: r.catalog.Lookup(rule.Code)}
}

// Fault is the resolution for a sensor whose samples are mostly sentinels.
func (r *Resolver) Fault() Resolution {
	return Resolution{Entry: r.catalog.Lookup(CodeHardFailure)}
}

// Insufficient is the resolution when too few samples exist to diagnose.
func (r *Resolver) Insufficient() Resolution {
	return Resolution{Entry: r.catalog.Lookup(CodeInsufficientData)}
}
