package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed overlays.yaml
var defaultOverlays []byte

type OverlayOption struct {
	ID    string `yaml:"id" json:"id"`
	Label string `yaml:"label" json:"label"`
}

// OverlayCatalog lists the WMS layers and styles a user may select.
type OverlayCatalog struct {
	DefaultLayer string          `yaml:"default_layer" json:"defaultLayer"`
	DefaultStyle string          `yaml:"default_style" json:"defaultStyle"`
	LegendLayer  string          `yaml:"legend_layer" json:"legendLayer"`
	Layers       []OverlayOption `yaml:"layers" json:"layers"`
	Styles       []OverlayOption `yaml:"styles" json:"styles"`
}

// LoadOverlayCatalog reads path, or the built-in catalog when path is empty.
func LoadOverlayCatalog(path string) (OverlayCatalog, error) {
	data := defaultOverlays
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return OverlayCatalog{}, fmt.Errorf("read overlay catalog: %w", err)
		}
		data = b
	}
	return ParseOverlayCatalog(data)
}

func ParseOverlayCatalog(data []byte) (OverlayCatalog, error) {
	var c OverlayCatalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return OverlayCatalog{}, fmt.Errorf("parse overlay catalog: %w", err)
	}
	if len(c.Layers) == 0 {
		return OverlayCatalog{}, errors.New("overlay catalog has no layers")
	}
	if len(c.Styles) == 0 {
		c.Styles = []OverlayOption{{ID: "default", Label: "Default"}}
	}
	if c.DefaultLayer == "" {
		c.DefaultLayer = c.Layers[0].ID
	}
	if c.DefaultStyle == "" {
		c.DefaultStyle = c.Styles[0].ID
	}
	if c.LegendLayer == "" {
		c.LegendLayer = c.DefaultLayer
	}
	if !c.HasLayer(c.DefaultLayer) {
		return OverlayCatalog{}, fmt.Errorf("default layer %q not in catalog", c.DefaultLayer)
	}
	if !c.HasStyle(c.DefaultStyle) {
		return OverlayCatalog{}, fmt.Errorf("default style %q not in catalog", c.DefaultStyle)
	}
	return c, nil
}

func (c OverlayCatalog) HasLayer(id string) bool { return hasOption(c.Layers, id) }

func (c OverlayCatalog) HasStyle(id string) bool { return hasOption(c.Styles, id) }

func hasOption(opts []OverlayOption, id string) bool {
	for _, o := range opts {
		if o.ID == id {
			return true
		}
	}
	return false
}
