package gateway

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sells-group/cropprice/internal/model"
	"github.com/sells-group/cropprice/pkg/agmarknet"
)

// SyntheticSource fabricates plausible price records for any region. It is
// a demo and offline aid only; every record is tagged model.SourceSynthetic
// so results built from it can be flagged.
type SyntheticSource struct {
	mu  sync.Mutex
	rnd *rand.Rand
	now func() time.Time
}

var _ Source = (*SyntheticSource)(nil)

// NewSyntheticSource creates a SyntheticSource. A nil rnd uses a randomly
// seeded generator.
func NewSyntheticSource(rnd *rand.Rand, now func() time.Time) *SyntheticSource {
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if now == nil {
		now = time.Now
	}
	return &SyntheticSource{rnd: rnd, now: now}
}

// Fetch returns between 3 and 7 markets for the region, each priced between
// 1000 and 10000 per quintal and dated today.
func (s *SyntheticSource) Fetch(ctx context.Context, req Request, _ Window) ([]model.PriceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req = req.Normalized()
	place := req.District
	if place == "" {
		place = req.State
	}
	date := s.now().In(indiaTime).Format(agmarknet.RecordDateLayout)

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 3 + s.rnd.IntN(5)
	out := make([]model.PriceRecord, 0, n)
	for i := range n {
		out = append(out, model.PriceRecord{
			State:       req.State,
			District:    req.District,
			Market:      fmt.Sprintf("%s Market %d", place, i+1),
			Commodity:   req.Crop,
			ArrivalDate: date,
			ModalPrice:  fmt.Sprintf("%d", 1000+s.rnd.IntN(9001)),
			Source:      model.SourceSynthetic,
		})
	}
	return out, nil
}
