package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/HerbHall/apwatch/internal/source"
	"github.com/HerbHall/apwatch/pkg/models"
	"go.uber.org/zap"
)

// pollResult is one finished poll handed to the engine.
type pollResult struct {
	cfg      source.Config
	records  []models.RawRecord
	err      error
	at       time.Time
	duration time.Duration

	// done, when set, is closed once the engine has merged the result.
	done chan struct{}
}

// poller drives one source on its own ticker.
type poller struct {
	cfg     source.Config
	adapter source.Adapter
	logger  *zap.Logger
	now     func() time.Time
}

func newPoller(cfg source.Config, adapter source.Adapter, logger *zap.Logger) *poller {
	return &poller{
		cfg:     cfg,
		adapter: adapter,
		logger:  logger.With(zap.String("source", cfg.ID)),
		now:     time.Now,
	}
}

// poll runs the adapter once under the source timeout. An adapter that
// outlives the timeout is abandoned and its late result discarded.
func (p *poller) poll(ctx context.Context) pollResult {
	start := p.now()
	res := pollResult{cfg: p.cfg, at: start}

	pctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	type outcome struct {
		records []models.RawRecord
		err     error
	}
	ch := make(chan outcome, 1)
	go func() {
		recs, err := p.adapter.Poll(pctx)
		ch <- outcome{records: recs, err: err}
	}()

	select {
	case o := <-ch:
		res.records, res.err = o.records, o.err
	case <-pctx.Done():
		res.err = pctx.Err()
	}
	if res.err != nil && !errors.Is(res.err, source.ErrSourceUnavailable) {
		res.err = fmt.Errorf("%w: %s: %w", source.ErrSourceUnavailable, p.cfg.ID, res.err)
	}
	res.duration = time.Since(start)
	return res
}

// run polls immediately and then on every tick until ctx is cancelled.
func (p *poller) run(ctx context.Context, out chan<- pollResult) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.Debug("poller started", zap.Duration("interval", p.cfg.Interval))
	for {
		res := p.poll(ctx)
		if ctx.Err() != nil {
			return
		}
		select {
		case out <- res:
		case <-ctx.Done():
			return
		}

		select {
		case <-ctx.Done():
			p.logger.Debug("poller stopped")
			return
		case <-ticker.C:
		}
	}
}
