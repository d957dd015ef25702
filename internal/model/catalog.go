package model

import (
	"fmt"
	"runtime"
)

// Info describes one curated embedding model.
type Info struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"displayName"`
	Dimensions  int      `json:"dimensions"`
	Languages   []string `json:"languages"` // ISO 639-1 codes
	GPURequired bool     `json:"gpuRequired"`
	SizeMB      int      `json:"sizeMB"`
	Default     bool     `json:"default"`
}

// SupportsLanguage reports whether the model covers the given language code.
func (m Info) SupportsLanguage(lang string) bool {
	for _, l := range m.Languages {
		if l == lang {
			return true
		}
	}
	return false
}

// catalog is the curated model set. Folders are validated against this
// list on folder.add; an unknown model ID is rejected up front rather
// than discovered broken at embedding time.
var catalog = []Info{
	{
		ID:          "all-MiniLM-L6-v2",
		DisplayName: "MiniLM L6 (English, fast)",
		Dimensions:  384,
		Languages:   []string{"en"},
		SizeMB:      90,
		Default:     true,
	},
	{
		ID:          "all-mpnet-base-v2",
		DisplayName: "MPNet Base (English, quality)",
		Dimensions:  768,
		Languages:   []string{"en"},
		SizeMB:      420,
	},
	{
		ID:          "paraphrase-multilingual-MiniLM-L12-v2",
		DisplayName: "MiniLM L12 (multilingual, fast)",
		Dimensions:  384,
		Languages:   []string{"en", "de", "fr", "es", "it", "pt", "nl", "pl", "ru", "zh", "ja", "ko", "ar"},
		SizeMB:      470,
	},
	{
		ID:          "bge-m3",
		DisplayName: "BGE-M3 (multilingual, quality)",
		Dimensions:  1024,
		Languages:   []string{"en", "de", "fr", "es", "it", "pt", "nl", "pl", "ru", "zh", "ja", "ko", "ar", "hi"},
		GPURequired: true,
		SizeMB:      2200,
	},
}

// Catalog returns the curated model list.
func Catalog() []Info {
	out := make([]Info, len(catalog))
	copy(out, catalog)
	return out
}

// Find returns the catalog entry for id.
func Find(id string) (Info, error) {
	for _, m := range catalog {
		if m.ID == id {
			return m, nil
		}
	}
	return Info{}, fmt.Errorf("unknown model %q", id)
}

// DefaultModel returns the catalog's default entry.
func DefaultModel() Info {
	for _, m := range catalog {
		if m.Default {
			return m
		}
	}
	return catalog[0]
}

// Hardware summarizes the machine for model recommendation and the
// daemon snapshot.
type Hardware struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	NumCPU  int    `json:"numCpu"`
	HasGPU  bool   `json:"hasGpu"`
	GPUKind string `json:"gpuKind,omitempty"`
}

// DetectHardware returns a best-effort hardware summary. Apple Silicon is
// the one GPU we can detect without a driver probe.
func DetectHardware() Hardware {
	hw := Hardware{
		OS:     runtime.GOOS,
		Arch:   runtime.GOARCH,
		NumCPU: runtime.NumCPU(),
	}
	if runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
		hw.HasGPU = true
		hw.GPUKind = "metal"
	}
	return hw
}

// Recommend picks the best catalog model for the requested languages on
// the given hardware: the smallest model covering every language, with
// GPU-requiring models excluded on CPU-only machines. Falls back to the
// default model when nothing covers the full language set.
func Recommend(languages []string, hw Hardware) Info {
	var best *Info
	for i := range catalog {
		m := &catalog[i]
		if m.GPURequired && !hw.HasGPU {
			continue
		}
		covered := true
		for _, lang := range languages {
			if !m.SupportsLanguage(lang) {
				covered = false
				break
			}
		}
		if !covered {
			continue
		}
		if best == nil || m.SizeMB < best.SizeMB {
			best = m
		}
	}
	if best == nil {
		return DefaultModel()
	}
	return *best
}
