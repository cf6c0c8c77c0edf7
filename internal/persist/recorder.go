package persist

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shijimago/shijima/internal/core/event"
)

type recordKind int

const (
	recSpawn recordKind = iota + 1
	recReap
	recPositions
)

type record struct {
	kind      recordKind
	at        time.Time
	session   SessionRow
	reason    string
	positions []Position
}

// Recorder writes the lifecycle of every mascot of one run from its own
// goroutine. Enqueueing never blocks: when the writer falls behind, records
// are dropped and counted.
type Recorder struct {
	repo  *SessionRepo
	runID uuid.UUID
	log   *zap.Logger

	ch      chan record
	wg      sync.WaitGroup
	once    sync.Once
	closed  atomic.Bool
	dropped atomic.Int64
}

// StartRecorder opens a new run and starts the writer.
func StartRecorder(ctx context.Context, repo *SessionRepo, host string, log *zap.Logger) (*Recorder, error) {
	runID, err := repo.CreateRun(ctx, host, time.Now())
	if err != nil {
		return nil, err
	}
	r := &Recorder{
		repo:  repo,
		runID: runID,
		log:   log,
		ch:    make(chan record, 4096),
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.loop()
	}()
	log.Info("session recording started", zap.String("run_id", runID.String()))
	return r, nil
}

func (r *Recorder) RunID() uuid.UUID { return r.runID }

// Dropped reports how many records were discarded.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Attach subscribes the recorder to lifecycle events on bus.
func (r *Recorder) Attach(bus *event.Bus) {
	event.Subscribe(bus, func(ev event.EntitySpawned) {
		r.enqueue(record{kind: recSpawn, at: time.Now(), session: SessionRow{
			RunID:    r.runID,
			MascotID: int64(ev.ID),
			Template: ev.Template,
			ParentID: int64(ev.ParentID),
		}})
	})
	event.Subscribe(bus, func(ev event.EntityReaped) {
		r.enqueue(record{kind: recReap, at: time.Now(), reason: ev.Reason,
			session: SessionRow{RunID: r.runID, MascotID: int64(ev.ID)}})
	})
}

// RecordPositions queues a position snapshot. ps must not be reused by the
// caller.
func (r *Recorder) RecordPositions(ps []Position) {
	if len(ps) == 0 {
		return
	}
	r.enqueue(record{kind: recPositions, at: time.Now(), positions: ps})
}

func (r *Recorder) enqueue(rec record) {
	if r == nil || r.closed.Load() {
		return
	}
	select {
	case r.ch <- rec:
	default:
		r.dropped.Add(1)
	}
}

func (r *Recorder) loop() {
	for rec := range r.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		var err error
		switch rec.kind {
		case recSpawn:
			rec.session.SpawnedAt = rec.at
			err = r.repo.InsertSpawn(ctx, rec.session)
		case recReap:
			err = r.repo.MarkReaped(ctx, r.runID, rec.session.MascotID, rec.reason, rec.at)
		case recPositions:
			err = r.repo.SavePositions(ctx, r.runID, rec.positions)
		}
		cancel()
		if err != nil {
			r.log.Error("session record failed", zap.Error(err))
		}
	}
}

// Close flushes queued records and stamps the run as stopped. Must be called
// after the tick loop has stopped emitting.
func (r *Recorder) Close(ctx context.Context) error {
	var err error
	r.once.Do(func() {
		r.closed.Store(true)
		close(r.ch)
		r.wg.Wait()
		err = r.repo.FinishRun(ctx, r.runID, time.Now())
		if n := r.dropped.Load(); n > 0 {
			r.log.Warn("session records dropped", zap.Int64("count", n))
		}
	})
	return err
}
