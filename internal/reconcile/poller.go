package reconcile

import (
	"context"
	"time"

	internalsettings "github.com/contribuicha/cardreveal/internal/settings"
	log "github.com/sirupsen/logrus"
)

const defaultRunTimeout = 5 * time.Minute

// Poller runs ReconcilePending on an interval read from settings.
type Poller struct {
	reconciler *Reconciler
	runTimeout time.Duration
}

// NewPoller constructs a reconciliation poller.
func NewPoller(reconciler *Reconciler) *Poller {
	if reconciler == nil {
		return nil
	}
	return &Poller{reconciler: reconciler, runTimeout: defaultRunTimeout}
}

// Start launches the polling loop in a background goroutine.
func (p *Poller) Start(ctx context.Context) {
	if p == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go p.run(ctx)
	log.Infof("reconcile poller started (interval=%s)", p.interval())
}

func (p *Poller) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		p.poll(ctx)
		if ctx.Err() != nil {
			return
		}
		timer := time.NewTimer(p.interval())
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, p.runTimeout)
	defer cancel()
	if _, errRun := p.reconciler.ReconcilePending(runCtx, 0); errRun != nil && ctx.Err() == nil {
		log.WithError(errRun).Warn("reconcile poller: run failed")
	}
}

func (p *Poller) interval() time.Duration {
	return internalsettings.Seconds(internalsettings.ReconcileIntervalSecondsKey, internalsettings.DefaultReconcileIntervalSeconds)
}
