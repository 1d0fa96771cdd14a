package geotag

import (
	"math/rand"
	"sync"
	"time"

	"cropscan/internal/config"
	"cropscan/internal/dto"
)

// Bounds of the random fallback coordinate.
const (
	RandomLatMin = 20.0
	RandomLatMax = 30.0
	RandomLonMin = 70.0
	RandomLonMax = 80.0
)

// Resolution is the outcome of resolving one image's location.
type Resolution struct {
	Point    dto.GeoPoint
	Located  bool // Point is set
	Skip     bool // the image must be left out of the results
	Fallback bool // Point was generated, not read from EXIF
}

// Resolver applies the configured fallback policy when EXIF has no GPS position.
type Resolver struct {
	policy string
	mu     sync.Mutex
	rng    *rand.Rand
}

func NewResolver(policy string) *Resolver {
	return NewResolverWithSource(policy, rand.NewSource(time.Now().UnixNano()))
}

// NewResolverWithSource is NewResolver with a fixed random source.
func NewResolverWithSource(policy string, src rand.Source) *Resolver {
	switch policy {
	case config.GPSFallbackRandom, config.GPSFallbackKeep:
	default:
		policy = config.GPSFallbackSkip
	}
	return &Resolver{policy: policy, rng: rand.New(src)}
}

func (r *Resolver) Policy() string {
	return r.policy
}

// Resolve extracts the location from data and applies the fallback policy on failure.
func (r *Resolver) Resolve(data []byte) Resolution {
	if pt, err := ExtractBytes(data); err == nil {
		return Resolution{Point: pt, Located: true}
	}

	var res Resolution
	switch r.policy {
	case config.GPSFallbackRandom:
		res.Point = r.randomPoint()
		res.Located = true
		res.Fallback = true
	case config.GPSFallbackKeep:
	default:
		res.Skip = true
	}
	return res
}

func (r *Resolver) randomPoint() dto.GeoPoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return dto.GeoPoint{
		Latitude:  RandomLatMin + r.rng.Float64()*(RandomLatMax-RandomLatMin),
		Longitude: RandomLonMin + r.rng.Float64()*(RandomLonMax-RandomLonMin),
	}
}
