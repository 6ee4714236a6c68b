package cases

import (
	"context"
	"log"
	"time"

	"github.com/darkden-lab/casedesk/internal/notifications"
)

// OverdueSweeper periodically flags activities past their due date and sends
// the assignee one activity_overdue event per activity.
type OverdueSweeper struct {
	store    Store
	users    UserLookup
	notifier notifications.Notifier
	interval time.Duration
	now      func() time.Time
}

func NewOverdueSweeper(store Store, users UserLookup, notifier notifications.Notifier, interval time.Duration) *OverdueSweeper {
	return &OverdueSweeper{
		store:    store,
		users:    users,
		notifier: notifier,
		interval: interval,
		now:      time.Now,
	}
}

// Run sweeps on every tick until ctx is cancelled. A zero interval disables
// the sweeper.
func (w *OverdueSweeper) Run(ctx context.Context) {
	if w.interval <= 0 {
		log.Println("cases: overdue sweeper disabled")
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := w.Sweep(ctx); err != nil {
				log.Printf("cases: overdue sweep failed: %v", err)
			} else if n > 0 {
				log.Printf("cases: flagged %d overdue activities", n)
			}
		}
	}
}

// Sweep flags every overdue activity once and returns how many it flagged.
func (w *OverdueSweeper) Sweep(ctx context.Context) (int, error) {
	now := w.now().UTC()
	overdue, err := w.store.ListOverdue(ctx, now)
	if err != nil {
		return 0, err
	}

	flagged := 0
	for _, a := range overdue {
		claimed, err := w.store.MarkOverdueNotified(ctx, a.ID, now)
		if err != nil {
			log.Printf("cases: flagging activity %d overdue: %v", a.ID, err)
			continue
		}
		if !claimed || a.DueAt == nil {
			continue
		}
		flagged++

		dest := resolveUserRef(ctx, w.users, a.AssigneeID)
		w.notifier.Publish(a.AssigneeID, notifications.NewActivityOverdue(a.ID,
			"Una actividad asignada a ti está vencida", dest, *a.DueAt))
	}
	return flagged, nil
}
