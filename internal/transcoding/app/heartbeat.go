package app

import (
	"context"
	"time"

	"video_transcoding_service/pkg/logger"

	"go.uber.org/zap"
)

// heartbeatLoop record liveness every HeartbeatInterval while the pool is healthy.
// The record expires after HeartbeatThreshold, so an unhealthy or dead worker goes stale.
func (p *Pool) heartbeatLoop(ctx context.Context) {
	if p.deps.Heartbeat == nil {
		return
	}
	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		p.beat(ctx)
	}
}

func (p *Pool) beat(ctx context.Context) {
	if p.deps.Heartbeat == nil || !p.Health().Healthy {
		return
	}
	if err := p.deps.Heartbeat.Beat(ctx, p.cfg.WorkerID, p.cfg.HeartbeatThreshold); err != nil {
		logger.Log.Warn("heartbeat failed", zap.String("worker_id", p.cfg.WorkerID), zap.Error(err))
		return
	}
	p.mu.Lock()
	p.lastBeat = p.now().UTC()
	p.mu.Unlock()
}
