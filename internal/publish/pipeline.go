// Package publish implements the redistribution pipeline: it replays queued
// drafts in creation order to the active destination set, absorbing
// per-item/per-destination failures into aggregate counts.
package publish

import (
	"context"

	"github.com/google/uuid"

	"draftbot/internal/draft"
	"draftbot/internal/store"
	"draftbot/internal/transport"
	"draftbot/pkg/logx"
)

// Transport is the subset of the platform adapter the pipeline needs.
type Transport interface {
	CopyMessage(ctx context.Context, to transport.ChatTarget, from transport.ChatTarget, messageID int, protected bool) (transport.MessageRef, error)
	SendPoll(ctx context.Context, to transport.ChatTarget, p draft.Poll) (transport.MessageRef, error)
}

// Locks answers whether a draft id is currently claimed by a pending schedule.
type Locks interface {
	Locked(id int) bool
}

// Report aggregates one publish pass.
type Report struct {
	PassID    string
	Published int
	Failed    int
	// Posted maps destination chat id to the delivered message ids there.
	Posted map[int64][]int
}

type Pipeline struct {
	store   *store.Store
	tr      Transport
	sender  *Sender
	targets *Targets
	locks   Locks
	source  int64
	log     logx.Logger
}

func NewPipeline(st *store.Store, tr Transport, sender *Sender, targets *Targets, locks Locks, sourceChat int64, log logx.Logger) *Pipeline {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pipeline{store: st, tr: tr, sender: sender, targets: targets, locks: locks, source: sourceChat, log: log}
}

// Publish replays rows in the given order to every destination. A row counts
// as published when at least one destination accepted it; it counts as failed
// only when all destinations failed. When markSent is set, published rows are
// bulk-marked at the end of the pass.
func (p *Pipeline) Publish(ctx context.Context, rows []store.Row, destinations []int64, markSent bool) (Report, error) {
	rep := Report{
		PassID: uuid.NewString(),
		Posted: make(map[int64][]int, len(destinations)),
	}
	for _, d := range destinations {
		rep.Posted[d] = nil
	}
	log := p.log.With(logx.String("pass", rep.PassID))
	log.Info("publish pass started", logx.Int("rows", len(rows)), logx.Int("destinations", len(destinations)), logx.Bool("mark_sent", markSent))

	var sentIDs []int
	for _, row := range rows {
		payload, err := draft.DecodePayload(row.Payload)
		if err != nil {
			// A corrupt payload is a permanent per-item failure; keep going.
			log.Error("payload decode failed", logx.Int("id", row.ID), logx.Err(err))
			rep.Failed++
			continue
		}

		anyOK := false
		for _, dest := range destinations {
			to := transport.ChatTarget{ChatID: dest}
			var op SendFunc
			if payload.IsPoll() {
				poll := *payload.Poll
				op = func(ctx context.Context) (transport.MessageRef, error) {
					return p.tr.SendPoll(ctx, to, poll)
				}
			} else {
				id := row.ID
				op = func(ctx context.Context) (transport.MessageRef, error) {
					return p.tr.CopyMessage(ctx, to, transport.ChatTarget{ChatID: p.source}, id, false)
				}
			}
			ref, ok := p.sender.Send(ctx, op)
			if ok {
				anyOK = true
				if ref.MessageID != 0 {
					rep.Posted[dest] = append(rep.Posted[dest], ref.MessageID)
				}
			}
		}

		if anyOK {
			rep.Published++
			if markSent {
				sentIDs = append(sentIDs, row.ID)
			}
		} else {
			rep.Failed++
			log.Warn("item failed on every destination", logx.Int("id", row.ID))
		}
	}

	if markSent && len(sentIDs) > 0 {
		if err := p.store.MarkSent(ctx, sentIDs); err != nil {
			return rep, err
		}
	}
	log.Info("publish pass finished", logx.Int("published", rep.Published), logx.Int("failed", rep.Failed))
	return rep, nil
}

// PublishPending publishes everything pending except ids claimed by a
// schedule, to the active destinations, marking rows as sent.
func (p *Pipeline) PublishPending(ctx context.Context) (Report, error) {
	rows, err := p.store.GetUnsent(ctx)
	if err != nil {
		return Report{}, err
	}
	rows = p.filterLocked(rows)
	return p.Publish(ctx, rows, p.targets.Active(), true)
}

// PublishByIDs re-queries exactly the given ids (still-pending only, original
// order) and publishes them to the active destinations. Used by fired
// schedules.
func (p *Pipeline) PublishByIDs(ctx context.Context, ids []int, markSent bool) (Report, error) {
	if len(ids) == 0 {
		return Report{Posted: map[int64][]int{}}, nil
	}
	rows, err := p.store.GetByIDs(ctx, ids)
	if err != nil {
		return Report{}, err
	}
	return p.Publish(ctx, rows, p.targets.Active(), markSent)
}

// Preview replays the pending queue (minus scheduled claims) to the preview
// destination without marking anything as sent.
func (p *Pipeline) Preview(ctx context.Context) (Report, error) {
	rows, err := p.store.GetUnsent(ctx)
	if err != nil {
		return Report{}, err
	}
	rows = p.filterLocked(rows)
	return p.Publish(ctx, rows, []int64{p.targets.Preview()}, false)
}

func (p *Pipeline) filterLocked(rows []store.Row) []store.Row {
	if p.locks == nil {
		return rows
	}
	out := rows[:0]
	for _, r := range rows {
		if !p.locks.Locked(r.ID) {
			out = append(out, r)
		}
	}
	return out
}
