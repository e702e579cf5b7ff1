package leveldata

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lafriks/go-tiled"
)

// LoadArena parses a TMX file and returns its collision rectangles and
// spawn points. It takes an fs.FS so callers can pass embed.FS (client)
// or os.DirFS (server).
func LoadArena(fsys fs.FS, tmxPath string) (*ArenaData, error) {
	arenaMap, err := tiled.LoadFile(tmxPath, tiled.WithFileSystem(fsys))
	if err != nil {
		return nil, fmt.Errorf("load TMX %s: %w", tmxPath, err)
	}

	data := &ArenaData{
		MapWidth:  arenaMap.Width * arenaMap.TileWidth,
		MapHeight: arenaMap.Height * arenaMap.TileHeight,
	}

	tileW := float64(arenaMap.TileWidth)
	tileH := float64(arenaMap.TileHeight)
	for _, layer := range arenaMap.Layers {
		if layer.Name != "collision" {
			continue
		}
		for y := 0; y < arenaMap.Height; y++ {
			for x := 0; x < arenaMap.Width; x++ {
				tile := layer.Tiles[y*arenaMap.Width+x]
				if tile.IsNil() {
					continue
				}
				data.SolidRects = append(data.SolidRects, SolidRect{
					X: float64(x) * tileW,
					Y: float64(y) * tileH,
					W: tileW,
					H: tileH,
				})
			}
		}
		break
	}

	for _, og := range arenaMap.ObjectGroups {
		if og.Name != "Spawns" {
			continue
		}
		for _, o := range og.Objects {
			data.SpawnPoints = append(data.SpawnPoints, SpawnPoint{
				X:     o.X,
				Y:     o.Y,
				Index: o.Properties.GetInt("spawnIndex"),
			})
		}
	}

	// Sort spawns left-to-right so both sides assign them identically.
	sort.Slice(data.SpawnPoints, func(i, j int) bool {
		return data.SpawnPoints[i].X < data.SpawnPoints[j].X
	})

	return data, nil
}

// LoadAllArenas discovers every .tmx file in arenasDir within fsys, loads
// each one, and returns a map keyed by stem name plus a sorted name list.
func LoadAllArenas(fsys fs.FS, arenasDir string) (map[string]*ArenaData, []string, error) {
	pattern := arenasDir + "/*.tmx"
	matches, err := fs.Glob(fsys, pattern)
	if err != nil {
		return nil, nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	if len(matches) == 0 {
		return nil, nil, fmt.Errorf("no .tmx files found in %s", arenasDir)
	}

	arenas := make(map[string]*ArenaData, len(matches))
	names := make([]string, 0, len(matches))

	for _, path := range matches {
		data, err := LoadArena(fsys, path)
		if err != nil {
			return nil, nil, fmt.Errorf("load %s: %w", path, err)
		}
		stem := strings.TrimSuffix(filepath.Base(path), ".tmx")
		arenas[stem] = data
		names = append(names, stem)
	}

	sort.Strings(names)
	return arenas, names, nil
}
