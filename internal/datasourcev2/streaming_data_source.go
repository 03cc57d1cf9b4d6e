// Package datasourcev2 implements the v2 data transports: a streaming synchronizer over SSE
// and a polling initializer/synchronizer, both speaking the event protocol defined in
// fdv2proto.
package datasourcev2

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	es "github.com/launchdarkly/eventsource"
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/launchdarkly/go-server-sdk-core/interfaces"
	"github.com/launchdarkly/go-server-sdk-core/internal/datasource"
	"github.com/launchdarkly/go-server-sdk-core/internal/fdv2proto"
	"github.com/launchdarkly/go-server-sdk-core/subsystems"
)

const (
	streamingPath = "/sdk/stream"

	streamReadTimeout        = 5 * time.Minute // the stream sends a heartbeat every few minutes
	streamMaxRetryDelay      = 30 * time.Second
	streamRetryResetInterval = 60 * time.Second
	streamJitterRatio        = 0.5
	defaultStreamRetryDelay  = 1 * time.Second

	streamingErrorContext     = "on streaming connection"
	streamingWillRetryMessage = "will retry"
)

// StreamingDataSource is the v2 streaming synchronizer. It maintains an SSE connection,
// feeding protocol events through a change-set builder and emitting an update for each
// completed transfer. The selector from each transfer is presented on the next reconnect so
// the server can send a delta.
type StreamingDataSource struct {
	baseURI           string
	filterKey         string
	headers           http.Header
	httpClient        *http.Client
	initialRetryDelay time.Duration
	loggers           ldlog.Loggers

	selector fdv2proto.Selector
	lock     sync.Mutex

	halt      chan struct{}
	closeOnce sync.Once
}

// NewStreamingDataSource creates a streaming synchronizer, but does not start the connection.
func NewStreamingDataSource(
	httpClient *http.Client,
	baseURI string,
	filterKey string,
	headers http.Header,
	initialRetryDelay time.Duration,
	loggers ldlog.Loggers,
) *StreamingDataSource {
	return &StreamingDataSource{
		baseURI:           baseURI,
		filterKey:         filterKey,
		headers:           headers,
		httpClient:        httpClient,
		initialRetryDelay: initialRetryDelay,
		loggers:           loggers,
		halt:              make(chan struct{}),
	}
}

// Name identifies this component in log messages.
func (s *StreamingDataSource) Name() string {
	return "StreamingDataSourceV2"
}

// Close permanently shuts down the stream. It is safe to call more than once.
func (s *StreamingDataSource) Close() error {
	s.closeOnce.Do(func() {
		close(s.halt)
	})
	return nil
}

// Sync connects to the stream, resuming from the given selector if it is defined.
func (s *StreamingDataSource) Sync(ctx context.Context, selector fdv2proto.Selector) <-chan subsystems.Update {
	s.setSelector(selector)
	updatesCh := make(chan subsystems.Update)
	go s.run(ctx, updatesCh)
	return updatesCh
}

func (s *StreamingDataSource) setSelector(selector fdv2proto.Selector) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.selector = selector
}

func (s *StreamingDataSource) getSelector() fdv2proto.Selector {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.selector
}

func (s *StreamingDataSource) run(ctx context.Context, updatesCh chan<- subsystems.Update) {
	defer close(updatesCh)

	uri := s.baseURI + streamingPath
	req, reqErr := http.NewRequest("GET", uri, nil)
	if reqErr != nil {
		s.loggers.Errorf("Unable to create stream request: %s", reqErr)
		return
	}
	for k, vv := range s.headers {
		req.Header[k] = vv
	}
	s.loggers.Infof("Connecting to stream at %s", uri)

	// The transport captures the interesting response headers on every connect and reconnect,
	// and injects the current selector and filter as query parameters at request time so that
	// reconnects resume from the latest transfer rather than the original one.
	transport := newStreamTransport(s.httpClient.Transport, s.getSelector, s.filterKey)

	unrecoverable := make(chan int, 1)
	errorHandler := func(err error) es.StreamErrorHandlerResult {
		if se, ok := err.(es.SubscriptionError); ok {
			if !datasource.IsHTTPErrorRecoverable(se.Code) {
				datasource.CheckIfErrorIsRecoverableAndLog(
					s.loggers, datasource.HTTPErrorDescription(se.Code),
					streamingErrorContext, se.Code, streamingWillRetryMessage)
				select {
				case unrecoverable <- se.Code:
				default:
				}
				return es.StreamErrorHandlerResult{CloseNow: true}
			}
			datasource.CheckIfErrorIsRecoverableAndLog(
				s.loggers, datasource.HTTPErrorDescription(se.Code),
				streamingErrorContext, se.Code, streamingWillRetryMessage)
			s.deliver(ctx, updatesCh, transport, subsystems.Update{
				State: interfaces.DataSourceStateInterrupted,
				Err: interfaces.DataSourceErrorInfo{
					Kind:       interfaces.DataSourceErrorKindErrorResponse,
					StatusCode: se.Code,
					Time:       time.Now(),
				},
			})
			return es.StreamErrorHandlerResult{CloseNow: false}
		}

		datasource.CheckIfErrorIsRecoverableAndLog(
			s.loggers, err.Error(), streamingErrorContext, 0, streamingWillRetryMessage)
		s.deliver(ctx, updatesCh, transport, subsystems.Update{
			State: interfaces.DataSourceStateInterrupted,
			Err: interfaces.DataSourceErrorInfo{
				Kind:    interfaces.DataSourceErrorKindNetworkError,
				Message: err.Error(),
				Time:    time.Now(),
			},
		})
		return es.StreamErrorHandlerResult{CloseNow: false}
	}

	retry := s.initialRetryDelay
	if retry <= 0 {
		retry = defaultStreamRetryDelay
	}

	// Client.Timeout must be zeroed out for stream connections, since it's not just a connect
	// timeout but a timeout for the entire response
	client := *s.httpClient
	client.Timeout = 0
	client.Transport = transport

	stream, err := es.SubscribeWithRequestAndOptions(req,
		es.StreamOptionHTTPClient(&client),
		es.StreamOptionReadTimeout(streamReadTimeout),
		es.StreamOptionInitialRetry(retry),
		es.StreamOptionUseBackoff(streamMaxRetryDelay),
		es.StreamOptionUseJitter(streamJitterRatio),
		es.StreamOptionRetryResetInterval(streamRetryResetInterval),
		es.StreamOptionErrorHandler(errorHandler),
		es.StreamOptionCanRetryFirstConnection(-1),
		es.StreamOptionLogger(s.loggers.ForLevel(ldlog.Info)),
	)

	if err != nil {
		var errorInfo interfaces.DataSourceErrorInfo
		select {
		case code := <-unrecoverable:
			errorInfo = interfaces.DataSourceErrorInfo{
				Kind:       interfaces.DataSourceErrorKindErrorResponse,
				StatusCode: code,
				Time:       time.Now(),
			}
		default:
			errorInfo = interfaces.DataSourceErrorInfo{
				Kind:    interfaces.DataSourceErrorKindNetworkError,
				Message: err.Error(),
				Time:    time.Now(),
			}
		}
		s.deliver(ctx, updatesCh, transport, subsystems.Update{
			State: interfaces.DataSourceStateOff,
			Err:   errorInfo,
		})
		return
	}

	s.consumeStream(ctx, stream, transport, updatesCh, unrecoverable)
}

func (s *StreamingDataSource) consumeStream(
	ctx context.Context,
	stream *es.Stream,
	transport *streamTransport,
	updatesCh chan<- subsystems.Update,
	unrecoverable <-chan int,
) {
	// Consume remaining Events so the stream can be garbage collected
	defer func() {
		for range stream.Events {
		}
	}()

	builder := fdv2proto.NewChangeSetBuilder()

	for {
		if transport.revertToFDv1() {
			// The service has directed this client off the v2 protocol. This synchronizer is done
			// for good; the orchestrator switches to the v1 transport.
			s.loggers.Warn("Service requested fallback to the v1 polling protocol")
			s.deliver(ctx, updatesCh, transport, subsystems.Update{
				State: interfaces.DataSourceStateOff,
			})
			stream.Close()
			return
		}

		select {
		case event, ok := <-stream.Events:
			if !ok {
				select {
				case code := <-unrecoverable:
					s.deliver(ctx, updatesCh, transport, subsystems.Update{
						State: interfaces.DataSourceStateOff,
						Err: interfaces.DataSourceErrorInfo{
							Kind:       interfaces.DataSourceErrorKindErrorResponse,
							StatusCode: code,
							Time:       time.Now(),
						},
					})
				default:
				}
				return
			}
			if !s.handleEvent(ctx, event, builder, transport, updatesCh) {
				stream.Close()
				return
			}
		case <-s.halt:
			stream.Close()
			return
		case <-ctx.Done():
			stream.Close()
			return
		}
	}
}

// handleEvent processes one SSE event, returning false if the stream must stop.
func (s *StreamingDataSource) handleEvent(
	ctx context.Context,
	event es.Event,
	builder *fdv2proto.ChangeSetBuilder,
	transport *streamTransport,
	updatesCh chan<- subsystems.Update,
) bool {
	if s.loggers.IsDebugEnabled() {
		s.loggers.Debugf("Received %q event: %s", event.Event(), event.Data())
	}

	gotMalformedEvent := func(err error) {
		s.loggers.Errorf("Received streaming %q event with malformed JSON data (%s)", event.Event(), err)
		builder.Reset()
		s.deliver(ctx, updatesCh, transport, subsystems.Update{
			State: interfaces.DataSourceStateInterrupted,
			Err: interfaces.DataSourceErrorInfo{
				Kind:    interfaces.DataSourceErrorKindInvalidData,
				Message: err.Error(),
				Time:    time.Now(),
			},
		})
	}
	gotProtocolError := func(err error) {
		s.loggers.Errorf("Protocol error on %q event: %s", event.Event(), err)
		builder.Reset()
		s.deliver(ctx, updatesCh, transport, subsystems.Update{
			State: interfaces.DataSourceStateInterrupted,
			Err: interfaces.DataSourceErrorInfo{
				Kind:    interfaces.DataSourceErrorKindInvalidData,
				Message: err.Error(),
				Time:    time.Now(),
			},
		})
	}

	switch fdv2proto.EventName(event.Event()) {
	case fdv2proto.EventServerIntent:
		var intent fdv2proto.ServerIntent
		if err := json.Unmarshal([]byte(event.Data()), &intent); err != nil {
			gotMalformedEvent(err)
			break
		}
		if err := builder.Start(intent); err != nil {
			gotProtocolError(err)
		}

	case fdv2proto.EventPutObject:
		var put fdv2proto.PutObject
		if err := json.Unmarshal([]byte(event.Data()), &put); err != nil {
			gotMalformedEvent(err)
			break
		}
		if err := builder.AddPut(put.Kind, put.Key, put.Version, put.Object); err != nil {
			gotProtocolError(err)
		}

	case fdv2proto.EventDeleteObject:
		var del fdv2proto.DeleteObject
		if err := json.Unmarshal([]byte(event.Data()), &del); err != nil {
			gotMalformedEvent(err)
			break
		}
		if err := builder.AddDelete(del.Kind, del.Key, del.Version); err != nil {
			gotProtocolError(err)
		}

	case fdv2proto.EventPayloadTransferred:
		var transferred fdv2proto.PayloadTransferred
		if err := json.Unmarshal([]byte(event.Data()), &transferred); err != nil {
			gotMalformedEvent(err)
			break
		}
		selector := fdv2proto.NewSelector(transferred.State, transferred.Version)
		changeSet, err := builder.Finish(selector)
		if err != nil {
			gotProtocolError(err)
			break
		}
		s.setSelector(selector)
		s.deliver(ctx, updatesCh, transport, subsystems.Update{
			State:     interfaces.DataSourceStateValid,
			ChangeSet: changeSet,
		})

	case fdv2proto.EventError:
		var errEvent fdv2proto.ErrorEvent
		if err := json.Unmarshal([]byte(event.Data()), &errEvent); err != nil {
			gotMalformedEvent(err)
			break
		}
		s.loggers.Warnf("Server reported an error for payload %q: %s", errEvent.PayloadID, errEvent.Reason)
		builder.Reset()
		s.deliver(ctx, updatesCh, transport, subsystems.Update{
			State: interfaces.DataSourceStateInterrupted,
			Err: interfaces.DataSourceErrorInfo{
				Kind:    interfaces.DataSourceErrorKindUnknown,
				Message: errEvent.Reason,
				Time:    time.Now(),
			},
		})

	case fdv2proto.EventGoodbye:
		var goodbye fdv2proto.Goodbye
		if err := json.Unmarshal([]byte(event.Data()), &goodbye); err != nil {
			gotMalformedEvent(err)
			break
		}
		if !goodbye.Silent {
			s.loggers.Warnf("Server is disconnecting: %s", goodbye.Reason)
		}

	case fdv2proto.EventHeartbeat:
		// keepalive only

	default:
		s.loggers.Debugf("Ignoring unrecognized stream event: %q", event.Event())
	}
	return true
}

// deliver sends an update, filling in the session properties captured from response headers.
func (s *StreamingDataSource) deliver(
	ctx context.Context,
	updatesCh chan<- subsystems.Update,
	transport *streamTransport,
	update subsystems.Update,
) {
	update.EnvironmentID = transport.environmentID()
	update.RevertToFDv1 = update.RevertToFDv1 || transport.revertToFDv1()
	select {
	case updatesCh <- update:
	case <-s.halt:
	case <-ctx.Done():
	}
}
