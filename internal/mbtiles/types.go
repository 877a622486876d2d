// Package mbtiles stores composited tiles in MBTiles databases (SQLite).
package mbtiles

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// Tileset types and formats written by this package.
const (
	TypeOverlay   = "overlay"
	TypeBaselayer = "baselayer"
	FormatPNG     = "png"
)

// ErrTileNotFound is returned by Reader.ReadTile for coordinates with no stored tile.
var ErrTileNotFound = errors.New("tile not found")

// Metadata contains MBTiles metadata fields.
type Metadata struct {
	Extra       map[string]string // Non-standard keys, stored verbatim
	Name        string            // Human-readable tileset identifier
	Format      string            // Tile data type (png, jpg, webp)
	Attribution string
	Description string
	Type        string // "baselayer" or "overlay"
	Version     string
	Bounds      orb.Bound // WGS84 extent
	Center      orb.Point // WGS84 default view center
	CenterZoom  int
	MinZoom     int
	MaxZoom     int
}

// ToMap converts Metadata to the name/value rows of the metadata table.
func (m Metadata) ToMap() map[string]string {
	result := make(map[string]string, len(m.Extra)+10)
	for k, v := range m.Extra {
		result[k] = v
	}

	set := func(key, value string) {
		if value != "" {
			result[key] = value
		}
	}
	set("name", m.Name)
	set("format", m.Format)
	set("attribution", m.Attribution)
	set("description", m.Description)
	set("type", m.Type)
	set("version", m.Version)

	result["minzoom"] = strconv.Itoa(m.MinZoom)
	result["maxzoom"] = strconv.Itoa(m.MaxZoom)

	if m.Bounds != (orb.Bound{}) {
		result["bounds"] = fmt.Sprintf("%.6f,%.6f,%.6f,%.6f",
			m.Bounds.Min.Lon(), m.Bounds.Min.Lat(), m.Bounds.Max.Lon(), m.Bounds.Max.Lat())
	}
	if m.Center != (orb.Point{}) || m.CenterZoom != 0 {
		result["center"] = fmt.Sprintf("%.6f,%.6f,%d", m.Center.Lon(), m.Center.Lat(), m.CenterZoom)
	}

	return result
}

var standardKeys = map[string]bool{
	"name": true, "format": true, "attribution": true, "description": true, "type": true,
	"version": true, "minzoom": true, "maxzoom": true, "bounds": true, "center": true,
}

// parseMetadata is the inverse of ToMap. Malformed numeric values are left at zero.
func parseMetadata(values map[string]string) Metadata {
	meta := Metadata{
		Name:        values["name"],
		Format:      values["format"],
		Attribution: values["attribution"],
		Description: values["description"],
		Type:        values["type"],
		Version:     values["version"],
	}

	meta.MinZoom, _ = strconv.Atoi(values["minzoom"])
	meta.MaxZoom, _ = strconv.Atoi(values["maxzoom"])

	// bounds: "minLon,minLat,maxLon,maxLat"
	if f, ok := parseFloats(values["bounds"], 4); ok {
		meta.Bounds = orb.Bound{Min: orb.Point{f[0], f[1]}, Max: orb.Point{f[2], f[3]}}
	}

	// center: "lon,lat,zoom"
	if f, ok := parseFloats(values["center"], 3); ok {
		meta.Center = orb.Point{f[0], f[1]}
		meta.CenterZoom = int(f[2])
	}

	for k, v := range values {
		if !standardKeys[k] {
			if meta.Extra == nil {
				meta.Extra = make(map[string]string)
			}
			meta.Extra[k] = v
		}
	}

	return meta
}

func parseFloats(s string, n int) ([]float64, bool) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, false
	}
	out := make([]float64, n)
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, false
		}
		out[i] = f
	}
	return out, true
}
