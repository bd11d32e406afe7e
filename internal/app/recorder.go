package app

import (
	"context"
	"time"

	"cronhost/internal/alert"
	"cronhost/internal/eventbus"
	"cronhost/internal/host"
	"cronhost/internal/storage"
	logx "cronhost/pkg/logx"
)

const journalTimeout = 2 * time.Second

// record journals finished runs and forwards failures to alerts. On shutdown
// it drains events already queued so the last runs are not lost.
func (a *App) record(ctx context.Context, events <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case ev, ok := <-events:
					if !ok {
						return nil
					}
					a.handleEvent(ev)
				default:
					return nil
				}
			}
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			a.handleEvent(ev)
		}
	}
}

func (a *App) handleEvent(ev eventbus.Event) {
	re, ok := ev.Data.(host.RunEvent)
	if !ok {
		return
	}
	switch ev.Type {
	case eventbus.TopicJobFinished, eventbus.TopicJobFailed:
		failed := ev.Type == eventbus.TopicJobFailed
		if a.store != nil {
			ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
			err := a.store.AppendRun(ctx, storage.Run{
				ID:       re.RunID,
				Host:     re.Host,
				Job:      re.Job,
				Kind:     re.Kind,
				Started:  re.Started,
				Finished: re.Finished,
				Duration: re.Duration,
				OK:       !failed,
				Error:    re.Err,
			})
			cancel()
			if err != nil {
				a.log.Warn("journal append failed", logx.String("job", re.Job), logx.Err(err))
			}
		}
		if failed && a.alerts != nil {
			a.alerts.Notify(alert.Failure{Host: re.Host, Job: re.Job, RunID: re.RunID, At: re.Finished, Err: re.Err})
		}
	case eventbus.TopicJobDisposed:
		if re.Err != "" {
			a.log.Warn("basic job disposed with error", logx.String("job", re.Job), logx.String("err", re.Err))
		}
	}
}
