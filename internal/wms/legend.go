package wms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/mohammed-shakir/heatstress-map/internal/core/executor"
)

type LegendItem struct {
	Value float64 `json:"value"`
	Label *string `json:"label,omitempty"`
	Color string  `json:"color"`
}

type Legend struct {
	Renderer struct {
		Type              string  `json:"type,omitempty"`
		Band              int     `json:"band"`
		ClassificationMin float64 `json:"classification_min"`
		ClassificationMax float64 `json:"classification_max"`
		Opacity           float64 `json:"opacity"`
	} `json:"renderer"`
	ColorRamp struct {
		Type  string       `json:"type,omitempty"`
		Mode  string       `json:"mode,omitempty"`
		Clip  string       `json:"clip,omitempty"`
		Items []LegendItem `json:"items"`
	} `json:"color_ramp"`
}

// LegendSource fetches the overlay legend once per session. Failed fetches
// are not remembered, so the next Get retries.
type LegendSource struct {
	exec  executor.Interface
	layer string

	mu     sync.Mutex
	legend *Legend
}

func NewLegendSource(exec executor.Interface, layer string) *LegendSource {
	return &LegendSource{exec: exec, layer: layer}
}

func (s *LegendSource) Get(ctx context.Context) (*Legend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.legend != nil {
		return s.legend, nil
	}
	body, _, err := s.exec.Get(ctx, "legend", url.Values{"layer": {s.layer}}, "application/json")
	if err != nil {
		return nil, fmt.Errorf("legend request failed: %w", err)
	}
	var l Legend
	if err := json.Unmarshal(body, &l); err != nil {
		return nil, fmt.Errorf("decode legend: %w", err)
	}
	s.legend = &l
	return s.legend, nil
}

func (s *LegendSource) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.legend != nil
}

func (s *LegendSource) Reset() {
	s.mu.Lock()
	s.legend = nil
	s.mu.Unlock()
}

// UpdateStyle asks the backend to switch the rendering style of the overlay.
func UpdateStyle(ctx context.Context, exec executor.Interface, style string) error {
	if _, err := exec.PostJSON(ctx, "update-style", url.Values{"style_name": {style}}, nil); err != nil {
		return fmt.Errorf("failed to update style: %w", err)
	}
	return nil
}
