package audio

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPeakHolder(t *testing.T) {
	p := NewPeakHolder()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.InDelta(t, MinDB, p.Held(), 0)
	assert.InDelta(t, -10.0, p.Update(-10, base), 0)
	assert.InDelta(t, -10.0, p.Update(-40, base.Add(time.Second)), 0, "quieter block within hold keeps peak")
	assert.InDelta(t, -5.0, p.Update(-5, base.Add(2*time.Second)), 0, "louder block replaces peak")
	assert.InDelta(t, -40.0, p.Update(-40, base.Add(6*time.Second)), 0, "peak falls after hold")
}

func TestPeakHolder_ClampsSilence(t *testing.T) {
	p := NewPeakHolder()
	now := time.Now()
	assert.InDelta(t, MinDB, p.Update(math.Inf(-1), now), 0)
	assert.InDelta(t, MinDB, p.Update(math.NaN(), now), 0)

	p.Update(-3, now)
	p.Reset()
	assert.InDelta(t, MinDB, p.Held(), 0)
}
