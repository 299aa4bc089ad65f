package mesh

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Loader fetches a mesh from a path or URL.
type Loader interface {
	Load(ctx context.Context, path string) (*Mesh, error)
}

// Fetcher retrieves raw bytes for a URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL, accept string) ([]byte, string, error)
}

// OBJLoader reads Wavefront OBJ vertices and faces. http(s) paths go through
// the fetcher, anything else is read from disk.
type OBJLoader struct {
	fetch Fetcher
}

func NewOBJLoader(f Fetcher) *OBJLoader {
	return &OBJLoader{fetch: f}
}

func (l *OBJLoader) Load(ctx context.Context, path string) (*Mesh, error) {
	var data []byte
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		if l.fetch == nil {
			return nil, fmt.Errorf("no fetcher for %s", path)
		}
		b, _, err := l.fetch.Fetch(ctx, path, "")
		if err != nil {
			return nil, fmt.Errorf("fetch mesh: %w", err)
		}
		data = b
	} else {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read mesh: %w", err)
		}
		data = b
	}
	return ParseOBJ(data)
}

// ParseOBJ reads "v" and "f" records; polygons are fan-triangulated.
// A file without vertices yields a mesh without a position attribute.
func ParseOBJ(data []byte) (*Mesh, error) {
	var pos []float32
	var idx []uint32

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "v":
			if len(fields) < 4 {
				return nil, fmt.Errorf("obj line %d: vertex needs 3 coordinates", line)
			}
			for _, f := range fields[1:4] {
				v, err := strconv.ParseFloat(f, 32)
				if err != nil {
					return nil, fmt.Errorf("obj line %d: %w", line, err)
				}
				pos = append(pos, float32(v))
			}
		case "f":
			nverts := len(pos) / 3
			face := make([]uint32, 0, len(fields)-1)
			for _, f := range fields[1:] {
				ref := f
				if k := strings.IndexByte(ref, '/'); k >= 0 {
					ref = ref[:k]
				}
				n, err := strconv.Atoi(ref)
				if err != nil {
					return nil, fmt.Errorf("obj line %d: %w", line, err)
				}
				if n < 0 {
					n = nverts + n + 1
				}
				if n < 1 || n > nverts {
					return nil, fmt.Errorf("obj line %d: vertex index %d out of range", line, n)
				}
				face = append(face, uint32(n-1))
			}
			for k := 1; k+1 < len(face); k++ {
				idx = append(idx, face[0], face[k], face[k+1])
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan obj: %w", err)
	}

	m := &Mesh{Attributes: map[string][]float32{}, Indices: idx}
	if len(pos) > 0 {
		m.Attributes[AttrPosition] = pos
	}
	return m, nil
}
