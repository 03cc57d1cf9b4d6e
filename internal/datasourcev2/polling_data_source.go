package datasourcev2

import (
	"context"
	"sync"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/launchdarkly/go-server-sdk-core/interfaces"
	"github.com/launchdarkly/go-server-sdk-core/internal/datasource"
	"github.com/launchdarkly/go-server-sdk-core/internal/fdv2proto"
	"github.com/launchdarkly/go-server-sdk-core/subsystems"
)

const (
	pollingErrorContext     = "on polling request"
	pollingWillRetryMessage = "will retry at next scheduled poll interval"
)

// PollingDataSource fetches data from the v2 polling endpoint, either once as an initializer
// or repeatedly as a synchronizer. Each request carries the last known selector so the
// server can reply with a delta, or with a none intent when nothing has changed.
type PollingDataSource struct {
	requester    *Requester
	pollInterval time.Duration
	loggers      ldlog.Loggers

	selector fdv2proto.Selector
	lock     sync.Mutex

	quit      chan struct{}
	closeOnce sync.Once
}

// NewPollingDataSource creates a v2 polling data source with the given requester.
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
	return "PollingDataSourceV2"
}

// Fetch performs a single poll, satisfying the DataInitializer interface.
func (p *PollingDataSource) Fetch(ctx context.Context) (*subsystems.Basis, error) {
	result, err := p.requester.Request(ctx, fdv2proto.NoSelector())
	if err != nil {
		return nil, err
	}
	return &subsystems.Basis{ChangeSet: result.changeSet, Persist: true}, nil
}

// Sync polls on the configured interval until the source is closed or an unrecoverable error
// occurs.
func (p *PollingDataSource) Sync(ctx context.Context, selector fdv2proto.Selector) <-chan subsystems.Update {
	p.setSelector(selector)
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

func (p *PollingDataSource) setSelector(selector fdv2proto.Selector) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.selector = selector
}

func (p *PollingDataSource) getSelector() fdv2proto.Selector {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.selector
}

func (p *PollingDataSource) run(ctx context.Context, updatesCh chan<- subsystems.Update) {
	defer close(updatesCh)

	p.loggers.Infof("Starting polling with interval: %+v", p.pollInterval)

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	// immediate first poll, then on the ticker
	if !p.pollOnce(ctx, updatesCh) {
		return
	}

	for {
		select {
		case <-p.quit:
			p.loggers.Info("Polling has been shut down")
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.pollOnce(ctx, updatesCh) {
				return
			}
		}
	}
}

// pollOnce performs one poll, returning false if the synchronizer must stop permanently.
func (p *PollingDataSource) pollOnce(ctx context.Context, updatesCh chan<- subsystems.Update) bool {
	result, err := p.requester.Request(ctx, p.getSelector())

	if result.revertToFDv1 {
		// The service has directed this client off the v2 protocol, even if the rest of the
		// response was unusable.
		p.loggers.Warn("Service requested fallback to the v1 polling protocol")
		p.deliver(ctx, updatesCh, subsystems.Update{
			State:         interfaces.DataSourceStateOff,
			EnvironmentID: result.environmentID,
			RevertToFDv1:  true,
		})
		return false
	}

	if err != nil {
		if hse, ok := err.(datasource.HTTPStatusError); ok {
			errorInfo := interfaces.DataSourceErrorInfo{
				Kind:       interfaces.DataSourceErrorKindErrorResponse,
				StatusCode: hse.Code,
				Time:       time.Now(),
			}
			recoverable := datasource.CheckIfErrorIsRecoverableAndLog(
				p.loggers,
				datasource.HTTPErrorDescription(hse.Code),
				pollingErrorContext,
				hse.Code,
				pollingWillRetryMessage,
			)
			if !recoverable {
				p.deliver(ctx, updatesCh, subsystems.Update{
					State:         interfaces.DataSourceStateOff,
					EnvironmentID: result.environmentID,
					Err:           errorInfo,
				})
				return false
			}
			p.deliver(ctx, updatesCh, subsystems.Update{
				State:         interfaces.DataSourceStateInterrupted,
				EnvironmentID: result.environmentID,
				Err:           errorInfo,
			})
			return true
		}

		errorInfo := interfaces.DataSourceErrorInfo{
			Kind:    interfaces.DataSourceErrorKindNetworkError,
			Message: err.Error(),
			Time:    time.Now(),
		}
		if _, ok := err.(malformedResponseError); ok {
			errorInfo.Kind = interfaces.DataSourceErrorKindInvalidData
		}
		datasource.CheckIfErrorIsRecoverableAndLog(
			p.loggers, err.Error(), pollingErrorContext, 0, pollingWillRetryMessage)
		p.deliver(ctx, updatesCh, subsystems.Update{
			State:         interfaces.DataSourceStateInterrupted,
			EnvironmentID: result.environmentID,
			Err:           errorInfo,
		})
		return true
	}

	if selector := result.changeSet.Selector(); selector.IsDefined() {
		p.setSelector(selector)
	}
	p.deliver(ctx, updatesCh, subsystems.Update{
		State:         interfaces.DataSourceStateValid,
		ChangeSet:     result.changeSet,
		EnvironmentID: result.environmentID,
	})
	return true
}

func (p *PollingDataSource) deliver(ctx context.Context, updatesCh chan<- subsystems.Update, update subsystems.Update) {
	select {
	case updatesCh <- update:
	case <-p.quit:
	case <-ctx.Done():
	}
}
