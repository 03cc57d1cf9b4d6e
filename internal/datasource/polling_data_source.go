package datasource

import (
	"context"
	"sync"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/launchdarkly/go-server-sdk-core/interfaces"
	"github.com/launchdarkly/go-server-sdk-core/internal/fdv2proto"
	"github.com/launchdarkly/go-server-sdk-core/subsystems"
)

const (
	pollingErrorContext     = "on polling request"
	pollingWillRetryMessage = "will retry at next scheduled poll interval"
)

// PollingDataSource fetches the full data set from the v1 polling endpoint, either once as an
// initializer or repeatedly as a synchronizer. It is the transport the data system falls back
// to when the service directs a client off the v2 protocol.
type PollingDataSource struct {
	requester    *Requester
	pollInterval time.Duration
	loggers      ldlog.Loggers
	quit         chan struct{}
	closeOnce    sync.Once
}

// NewPollingDataSource creates a polling data source with the given requester.
func NewPollingDataSource(
	requester *Requester,
	pollInterval time.Duration,
	loggers ldlog.Loggers,
) *PollingDataSource {
	return &PollingDataSource{
		requester:    requester,
		pollInterval: pollInterval,
		loggers:      loggers,
		quit:         make(chan struct{}),
	}
}

// Name identifies this component in log messages.
func (p *PollingDataSource) Name() string {
	return "PollingDataSourceV1"
}

// Fetch performs a single poll, satisfying the DataInitializer interface.
func (p *PollingDataSource) Fetch(ctx context.Context) (*subsystems.Basis, error) {
	changeSet, _, err := p.requester.RequestAll(ctx)
	if err != nil {
		return nil, err
	}
	return &subsystems.Basis{ChangeSet: changeSet, Persist: true}, nil
}

// Sync polls on the configured interval until the source is closed or an unrecoverable error
// occurs. The v1 protocol has no selectors, so the argument is ignored.
func (p *PollingDataSource) Sync(ctx context.Context, _ fdv2proto.Selector) <-chan subsystems.Update {
	updatesCh := make(chan subsystems.Update)
	go p.run(ctx, updatesCh)
	return updatesCh
}

// Close stops the synchronizer. It is safe to call more than once.
func (p *PollingDataSource) Close() error {
	p.closeOnce.Do(func() {
		close(p.quit)
	})
	return nil
}

func (p *PollingDataSource) run(ctx context.Context, updatesCh chan<- subsystems.Update) {
	defer close(updatesCh)

	p.loggers.Infof("Starting LaunchDarkly polling with interval: %+v", p.pollInterval)

	ticker := newTickerWithInitialTick(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.quit:
			p.loggers.Info("Polling has been shut down")
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			changeSet, cached, err := p.requester.RequestAll(ctx)
			if err != nil {
				if !p.deliverError(ctx, updatesCh, err) {
					return
				}
				continue
			}
			if cached {
				// Nothing changed since the last poll; the connection is healthy.
				p.deliver(ctx, updatesCh, subsystems.Update{State: interfaces.DataSourceStateValid})
				continue
			}
			p.deliver(ctx, updatesCh, subsystems.Update{
				State:     interfaces.DataSourceStateValid,
				ChangeSet: changeSet,
			})
		}
	}
}

// deliverError reports a polling failure, returning false if the source must stop permanently.
func (p *PollingDataSource) deliverError(
	ctx context.Context,
	updatesCh chan<- subsystems.Update,
	err error,
) bool {
	if hse, ok := err.(HTTPStatusError); ok {
		errorInfo := interfaces.DataSourceErrorInfo{
			Kind:       interfaces.DataSourceErrorKindErrorResponse,
			StatusCode: hse.Code,
			Time:       time.Now(),
		}
		recoverable := CheckIfErrorIsRecoverableAndLog(
			p.loggers,
			HTTPErrorDescription(hse.Code),
			pollingErrorContext,
			hse.Code,
			pollingWillRetryMessage,
		)
		if !recoverable {
			p.deliver(ctx, updatesCh, subsystems.Update{State: interfaces.DataSourceStateOff, Err: errorInfo})
			return false
		}
		p.deliver(ctx, updatesCh, subsystems.Update{State: interfaces.DataSourceStateInterrupted, Err: errorInfo})
		return true
	}

	errorInfo := interfaces.DataSourceErrorInfo{
		Kind:    interfaces.DataSourceErrorKindNetworkError,
		Message: err.Error(),
		Time:    time.Now(),
	}
	if _, ok := err.(malformedJSONError); ok {
		errorInfo.Kind = interfaces.DataSourceErrorKindInvalidData
	}
	CheckIfErrorIsRecoverableAndLog(p.loggers, err.Error(), pollingErrorContext, 0, pollingWillRetryMessage)
	p.deliver(ctx, updatesCh, subsystems.Update{State: interfaces.DataSourceStateInterrupted, Err: errorInfo})
	return true
}

func (p *PollingDataSource) deliver(ctx context.Context, updatesCh chan<- subsystems.Update, update subsystems.Update) {
	select {
	case updatesCh <- update:
	case <-p.quit:
	case <-ctx.Done():
	}
}

type tickerWithInitialTick struct {
	*time.Ticker
	C <-chan time.Time
}

func newTickerWithInitialTick(interval time.Duration) *tickerWithInitialTick {
	c := make(chan time.Time, 1)
	ticker := time.NewTicker(interval)
	t := &tickerWithInitialTick{
		C:      c,
		Ticker: ticker,
	}
	go func() {
		c <- time.Now() // ensure an immediate initial poll
		for tt := range ticker.C {
			select {
			case c <- tt:
			default: // drop a tick rather than queueing behind a slow poll
			}
		}
	}()
	return t
}
