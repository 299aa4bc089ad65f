package objects

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/mohammed-shakir/heatstress-map/internal/core/model"
)

// SignatureField marks files written by Export.
const SignatureField = "__app_signature"

type Format string

const (
	FormatGeoJSON Format = "geojson"
	FormatJSON    Format = "json"
)

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatGeoJSON:
		return FormatGeoJSON, nil
	case FormatJSON, "raw":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown export format %q", s)
	}
}

type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

type pointGeometry struct {
	Type        string         `json:"type"`
	Coordinates model.Position `json:"coordinates"`
}

type exportFeature struct {
	Type       string               `json:"type"`
	Geometry   pointGeometry        `json:"geometry"`
	Properties model.ObjectInstance `json:"properties"`
}

type geoJSONFile struct {
	Type      string          `json:"type"`
	Signature string          `json:"__app_signature"`
	Features  []exportFeature `json:"features"`
}

type rawFile struct {
	Signature string                 `json:"__app_signature"`
	Data      []model.ObjectInstance `json:"data"`
}

// Export renders objs as a signed GeoJSON FeatureCollection or a raw
// {__app_signature, data} envelope. The filename carries now's date.
func Export(objs []model.ObjectInstance, format Format, signature string, now time.Time) (ExportFile, error) {
	date := now.UTC().Format("2006-01-02")
	objs = nonNil(objs)

	switch format {
	case FormatGeoJSON:
		fc := geoJSONFile{Type: "FeatureCollection", Signature: signature, Features: make([]exportFeature, 0, len(objs))}
		for _, o := range objs {
			fc.Features = append(fc.Features, exportFeature{
				Type:       "Feature",
				Geometry:   pointGeometry{Type: "Point", Coordinates: o.Position},
				Properties: o,
			})
		}
		b, err := json.MarshalIndent(fc, "", "  ")
		if err != nil {
			return ExportFile{}, err
		}
		return ExportFile{Filename: "neighborhood_" + date + ".geojson", ContentType: "application/geo+json", Data: b}, nil
	case FormatJSON:
		b, err := json.MarshalIndent(rawFile{Signature: signature, Data: objs}, "", "  ")
		if err != nil {
			return ExportFile{}, err
		}
		return ExportFile{Filename: "neighborhood_raw_" + date + ".json", ContentType: "application/json", Data: b}, nil
	default:
		return ExportFile{}, fmt.Errorf("unknown export format %q", format)
	}
}

type ImportOptions struct {
	Signature   string
	DefaultType string
	// Catalog, when loaded, resolves unknown types and default scales.
	Catalog *Catalog
	// NewID mints ids for records without one.
	NewID func() string
}

type importRecord struct {
	ID         string          `json:"id"`
	ObjectType string          `json:"objectType"`
	Position   json.RawMessage `json:"position"`
	Scale      *float64        `json:"scale"`
	Height     *float64        `json:"height"`
	Radius     *float64        `json:"radius"`
	Geometry   string          `json:"geometry"`
}

type importFeature struct {
	Geometry *struct {
		Coordinates json.RawMessage `json:"coordinates"`
	} `json:"geometry"`
	Properties importRecord `json:"properties"`
}

// ParseImport validates a file written by Export (or a compatible tool) and
// normalises its records. Nothing is mutated on error.
func ParseImport(data []byte, opts ImportOptions) ([]model.ObjectInstance, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		if json.Valid(data) {
			return nil, ErrInvalidSignature
		}
		return nil, &ImportError{Err: err}
	}

	var sig string
	if raw, ok := top[SignatureField]; !ok || json.Unmarshal(raw, &sig) != nil || sig != opts.Signature {
		return nil, ErrInvalidSignature
	}

	var records []importRecord
	var typ string
	_ = json.Unmarshal(top["type"], &typ)
	switch {
	case typ == "FeatureCollection" && isArray(top["features"]):
		var feats []importFeature
		if err := json.Unmarshal(top["features"], &feats); err != nil {
			return nil, &ImportError{Err: err}
		}
		for _, f := range feats {
			rec := f.Properties
			rec.Position = nil
			if f.Geometry != nil {
				rec.Position = f.Geometry.Coordinates
			}
			records = append(records, rec)
		}
	case isArray(top["data"]):
		if err := json.Unmarshal(top["data"], &records); err != nil {
			return nil, &ImportError{Err: err}
		}
	default:
		return nil, ErrUnsupportedFormat
	}
	if len(records) == 0 {
		return nil, ErrEmptyImport
	}

	newID := opts.NewID
	if newID == nil {
		newID = func() string { return "IMP-" + uuid.Must(uuid.NewV4()).String() }
	}

	out := make([]model.ObjectInstance, 0, len(records))
	for _, r := range records {
		mt, typeName := resolveType(r.ObjectType, opts)
		scale := 1.0
		switch {
		case r.Scale != nil:
			scale = *r.Scale
		case mt != nil:
			scale = mt.Scale
		}
		id := r.ID
		if id == "" {
			id = newID()
		}
		out = append(out, model.ObjectInstance{
			ID:         id,
			ObjectType: typeName,
			Position:   parsePosition(r.Position),
			Scale:      scale,
			Height:     r.Height,
			Radius:     r.Radius,
			Geometry:   r.Geometry,
		})
	}
	return out, nil
}

// resolveType maps missing or unknown types to the default type.
func resolveType(name string, opts ImportOptions) (*model.MeasureType, string) {
	if name == "" {
		name = opts.DefaultType
	}
	if opts.Catalog == nil || !opts.Catalog.IsLoaded() {
		return nil, name
	}
	if t, ok := opts.Catalog.Lookup(name); ok {
		return &t, name
	}
	if t, ok := opts.Catalog.Lookup(opts.DefaultType); ok {
		return &t, opts.DefaultType
	}
	return nil, opts.DefaultType
}

// parsePosition accepts exactly three numbers; anything else is the origin.
func parsePosition(raw json.RawMessage) model.Position {
	var v []float64
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil || len(v) != 3 {
		return model.Position{}
	}
	return model.Position{v[0], v[1], v[2]}
}

func isArray(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return strings.HasPrefix(s, "[")
}
