package storage

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/game-lobby/internal/game"
)

// Saver persists a game snapshot
type Saver interface {
	SaveGame(ctx context.Context, v *game.View, history []game.Entry) (bool, error)
}

type archiveJob struct {
	view    *game.View
	history []game.Entry
}

// Archiver writes game snapshots in the background, in the order they were queued
type Archiver struct {
	saver Saver
	queue chan archiveJob
}

// NewArchiver creates an archiver that can hold size pending snapshots
func NewArchiver(saver Saver, size int) *Archiver {
	return &Archiver{saver: saver, queue: make(chan archiveJob, size)}
}

// Archive queues a snapshot without blocking; it reports false when the queue is full
func (a *Archiver) Archive(v *game.View, history []game.Entry) bool {
	select {
	case a.queue <- archiveJob{view: v, history: history}:
		return true
	default:
		log.Warn().Str("game", v.ID).Int64("version", v.Version).Msg("archive queue full, dropping snapshot")
		return false
	}
}

// Run saves queued snapshots until ctx is cancelled, then flushes the queue
func (a *Archiver) Run(ctx context.Context) error {
	for {
		select {
		case job := <-a.queue:
			a.save(ctx, job)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			for {
				select {
				case job := <-a.queue:
					a.save(flushCtx, job)
				default:
					return nil
				}
			}
		}
	}
}

func (a *Archiver) save(ctx context.Context, job archiveJob) {
	saved, err := a.saver.SaveGame(ctx, job.view, job.history)
	if err != nil {
		log.Error().Err(err).Str("game", job.view.ID).Msg("archive game")
		return
	}
	if !saved {
		log.Debug().Str("game", job.view.ID).Int64("version", job.view.Version).Msg("archive already has a newer version")
	}
}
