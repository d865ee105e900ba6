// Package provider lists well-known public tile servers.
package provider

import (
	"fmt"
	"sort"
	"strings"
)

// Preset describes one tile layer served from a set of mirrors.
type Preset struct {
	Name        string
	Servers     []string
	MaxZoom     int
	Attribution string
}

const (
	osmAttribution   = "© OpenStreetMap contributors"
	cartoAttribution = "© OpenStreetMap contributors © CARTO"
)

func mirrors(pattern string, hosts ...string) []string {
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		out = append(out, fmt.Sprintf(pattern, h))
	}
	return out
}

func carto(style string) []string {
	return mirrors("https://%s.basemaps.cartocdn.com/"+style+"/", "a", "b", "c", "d")
}

var presets = map[string]Preset{
	"osm": {
		Name:        "osm",
		Servers:     mirrors("https://%s.tile.openstreetmap.org/", "a", "b", "c"),
		MaxZoom:     19,
		Attribution: osmAttribution,
	},
	"carto-light": {
		Name:        "carto-light",
		Servers:     carto("light_all"),
		MaxZoom:     20,
		Attribution: cartoAttribution,
	},
	"carto-light-nolabels": {
		Name:        "carto-light-nolabels",
		Servers:     carto("light_nolabels"),
		MaxZoom:     20,
		Attribution: cartoAttribution,
	},
	"carto-dark": {
		Name:        "carto-dark",
		Servers:     carto("dark_all"),
		MaxZoom:     20,
		Attribution: cartoAttribution,
	},
	"carto-dark-nolabels": {
		Name:        "carto-dark-nolabels",
		Servers:     carto("dark_nolabels"),
		MaxZoom:     20,
		Attribution: cartoAttribution,
	},
}

// Lookup returns the preset registered under name, case-insensitively.
func Lookup(name string) (Preset, bool) {
	p, ok := presets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Preset{}, false
	}
	p.Servers = append([]string(nil), p.Servers...)
	return p, true
}

// Names lists the registered presets in sorted order.
func Names() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
