// Package presets resolves the HandBrake preset name a profile group encodes
// with. Names are read from HandBrake preset export documents and cached per
// document path for the lifetime of a Resolver.
package presets

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"squish/internal/config"
	"squish/internal/services"
)

// document mirrors the part of a HandBrake preset export that squish reads.
type document struct {
	PresetList []struct {
		PresetName string `json:"PresetName"`
	} `json:"PresetList"`
}

// Resolver maps profile groups to preset names. It is safe for concurrent use.
type Resolver struct {
	mu       sync.Mutex
	cache    map[string]string
	readFile func(string) ([]byte, error)
}

// NewResolver returns an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{cache: make(map[string]string), readFile: os.ReadFile}
}

// Resolve returns the group's explicit preset name when set, otherwise the
// first preset name in the group's preset document. Failures wrap
// services.ErrProfileRead.
func (r *Resolver) Resolve(group config.ProfileGroup) (string, error) {
	if name := strings.TrimSpace(group.PresetName); name != "" {
		return name, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if name, ok := r.cache[group.PresetFile]; ok {
		return name, nil
	}
	name, err := r.load(group.PresetFile)
	if err != nil {
		return "", services.Wrap(services.ErrProfileRead, "presets", "resolve",
			fmt.Sprintf("group %s", group.ID), err)
	}
	r.cache[group.PresetFile] = name
	return name, nil
}

func (r *Resolver) load(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("preset document path is empty")
	}
	data, err := r.readFile(path)
	if err != nil {
		return "", fmt.Errorf("read preset document: %w", err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("parse preset document %s: %w", path, err)
	}
	if len(doc.PresetList) == 0 {
		return "", fmt.Errorf("preset document %s has no PresetList entries", path)
	}
	name := strings.TrimSpace(doc.PresetList[0].PresetName)
	if name == "" {
		return "", fmt.Errorf("preset document %s has no PresetName", path)
	}
	return name, nil
}
