package strategy

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand/v2"

	"github.com/bigkaa/dzap-backend/internal/domain/model"
)

// patternSource заполняет буфер данными прохода. Псевдослучайный поток
// однозначно определяется (seed, номер единицы записи), поэтому его можно
// воспроизвести для верификации и при возобновлении с середины прохода.
type patternSource struct {
	pattern model.Pattern
	seed    [32]byte
}

func newPatternSource(p model.Pattern, seed [32]byte) *patternSource {
	return &patternSource{pattern: p, seed: seed}
}

// fill заполняет buf содержимым единицы записи с индексом unit.
func (s *patternSource) fill(buf []byte, unit uint64) {
	if !s.pattern.Random {
		for i := range buf {
			buf[i] = s.pattern.Fill
		}
		return
	}
	key := s.seed
	binary.LittleEndian.PutUint64(key[:8], binary.LittleEndian.Uint64(key[:8])^unit)
	gen := mrand.NewChaCha8(key)
	_, _ = gen.Read(buf)
}

// newSeeds генерирует независимый seed для каждого прохода.
func newSeeds(passes int) [][32]byte {
	seeds := make([][32]byte, passes)
	for i := range seeds {
		_, _ = rand.Read(seeds[i][:])
	}
	return seeds
}
