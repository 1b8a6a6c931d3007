package pool

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"waconnect/internal/domain/connstate"
	"waconnect/internal/domain/events"
	"waconnect/internal/domain/projection"
	"waconnect/internal/domain/sessionkey"
	"waconnect/internal/domain/waerrors"
	"waconnect/internal/protocol"
	"waconnect/pkg/logger"
)

type commandKind int

const (
	cmdReconnect commandKind = iota
	cmdSend
)

type command struct {
	kind   commandKind
	to     string
	text   string
	result chan error
}

// sessionActor is the single owner goroutine for one session key. Its
// record field is only ever written from the run() goroutine; other
// goroutines read it through snapshot(), which takes mu.
type sessionActor struct {
	key sessionkey.Key
	p   *Pool
	log logger.Logger

	mailbox      chan command
	stopped      chan struct{}
	stopOne      sync.Once
	stableSignal chan struct{}

	mu     sync.RWMutex
	record connstate.Record

	handshakeCompleted bool
	proxyCountry       string
	syncContactsCount  int
	syncMessagesCount  int
}

func newSessionActor(key sessionkey.Key, p *Pool) *sessionActor {
	return &sessionActor{
		key:          key,
		p:            p,
		log:          p.log.WithField("sessionKey", key.String()),
		mailbox:      make(chan command, 16),
		stopped:      make(chan struct{}),
		stableSignal: make(chan struct{}, 1),
		record:       connstate.Record{Phase: connstate.PhaseConnecting},
	}
}

func (a *sessionActor) snapshot() connstate.Record {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.record
}

func (a *sessionActor) setPhase(phase connstate.Phase) {
	a.mu.Lock()
	a.record.Phase = phase
	a.mu.Unlock()
}

func (a *sessionActor) stop() {
	a.stopOne.Do(func() { close(a.stopped) })
}

func (a *sessionActor) requestReconnect() {
	select {
	case a.mailbox <- command{kind: cmdReconnect}:
	default:
		a.log.Warn().Msg("mailbox full, dropping reconnect request")
	}
}

func (a *sessionActor) send(ctx context.Context, to, text string) error {
	result := make(chan error, 1)
	select {
	case a.mailbox <- command{kind: cmdSend, to: to, text: text, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-a.stopped:
		return waerrors.ErrNotConnected
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run drives the attach-or-pair sequence and then the steady-state
// event loop for the lifetime of the session, until stop() is called.
// Grounded on internal/infra/whatsapp/connection/manager.go's
// Connect/connectNewSession/connectExistingSession/startAutoReconnect
// quartet, collapsed into one goroutine's control flow instead of
// four cooperating methods guarded by a shared map mutex.
func (a *sessionActor) run(ctx context.Context, opts AttachOptions) {
	defer a.teardown(ctx)

	client, err := a.buildClient(ctx, opts)
	if err != nil {
		a.fail(ctx, err)
		return
	}

	if err := a.connectOrPair(ctx, client, opts); err != nil {
		a.fail(ctx, err)
		return
	}

	a.eventLoop(ctx, client)
}

func (a *sessionActor) buildClient(ctx context.Context, opts AttachOptions) (*protocol.Client, error) {
	if opts.ExistingWaJID != "" {
		jid, err := protocol.ParseJID(opts.ExistingWaJID)
		if err == nil {
			if dev, err := a.p.deviceStore.GetDevice(ctx, jid); err == nil {
				a.handshakeCompleted = true
				return protocol.NewClient(dev, a.log), nil
			}
		}
	}
	dev := a.p.deviceStore.NewDevice()
	return protocol.NewClient(dev, a.log), nil
}

// connectOrPair runs the initial handshake within attachDeadline,
// branching to the QR flow for a fresh device. PairViaPhone and
// PhoneForPairing are not read here: a fresh device always pairs
// through the QR flow.
func (a *sessionActor) connectOrPair(ctx context.Context, client *protocol.Client, opts AttachOptions) error {
	deadline, cancel := context.WithTimeout(ctx, attachDeadline)
	defer cancel()

	if opts.UseProxy && a.p.proxies != nil {
		assignment, err := a.p.proxies.Allocate(deadline, a.key.String(), opts.Country)
		if err != nil {
			return fmt.Errorf("allocate proxy: %w", err)
		}
		a.mu.Lock()
		a.record.ProxyAssignment = assignment.URL()
		a.mu.Unlock()
		a.proxyCountry = assignment.Country
	}

	if a.handshakeCompleted {
		if err := client.Connect(deadline); err != nil {
			return fmt.Errorf("reconnect existing device: %w", err)
		}
		return nil
	}

	a.setPhase(connstate.PhaseQRPending)
	a.publish(ctx, events.TopicConnecting, nil)

	qrChan, err := client.GetQRChannel(deadline)
	if err != nil {
		return fmt.Errorf("get qr channel: %w", err)
	}

	if err := client.Connect(deadline); err != nil {
		return fmt.Errorf("connect for pairing: %w", err)
	}

	qrTimer := time.NewTimer(qrTimeout)
	defer qrTimer.Stop()

	for {
		select {
		case item, ok := <-qrChan:
			if !ok {
				return nil
			}
			switch item.Kind {
			case protocol.EventQRCode:
				a.mu.Lock()
				a.record.QRCode = item.QRCode
				a.record.QRExpiresAt = time.Now().Add(qrTimeout)
				a.mu.Unlock()
				a.writeProjection(ctx, projection.Delta{"phase": string(connstate.PhaseQRPending)})
				a.publish(ctx, events.TopicQR, map[string]any{"qrCode": item.QRCode})
			case protocol.EventPairSuccess:
				return nil
			case protocol.EventPairError:
				return fmt.Errorf("pairing failed: %w", item.Error)
			}
		case <-qrTimer.C:
			// QR timed out without pairing: release the egress IP so it
			// doesn't sit orphaned against an abandoned session (spec's
			// anti-orphan rule); teardown() releases again on exit, a
			// harmless no-op since Release is idempotent.
			if a.p.proxies != nil {
				if err := a.p.proxies.Release(context.Background(), a.key.String()); err != nil {
					a.log.WithError(err).Warn().Msg("failed to release proxy after qr timeout")
				}
			}
			return fmt.Errorf("qr code pairing timed out after %s", qrTimeout)
		case <-deadline.Done():
			return fmt.Errorf("%w: attach deadline exceeded", waerrors.ErrTimeout)
		}
	}
}

// eventLoop is the steady-state dispatcher, generalized from
// internal/infra/whatsapp/events/processor.go's type-switch shape but
// operating over the neutral protocol.Event vocabulary instead of raw
// whatsmeow types, and driven by select{} alongside the actor's own
// command mailbox and phase timers.
func (a *sessionActor) eventLoop(ctx context.Context, client *protocol.Client) {
	var stableTimer, syncTimer, graceTimer *time.Timer
	reconnectAttempt := 0

	for {
		var stableC, syncC, graceC <-chan time.Time
		if stableTimer != nil {
			stableC = stableTimer.C
		}
		if syncTimer != nil {
			syncC = syncTimer.C
		}
		if graceTimer != nil {
			graceC = graceTimer.C
		}

		select {
		case <-ctx.Done():
			client.Disconnect()
			return

		case <-a.stopped:
			client.Disconnect()
			return

		case cmd := <-a.mailbox:
			switch cmd.kind {
			case cmdReconnect:
				reconnectAttempt = 0
				a.reconnectNow(ctx, client)
			case cmdSend:
				cmd.result <- a.doSend(ctx, client, cmd.to, cmd.text)
			}

		case <-a.stableSignal:
			stableTimer = time.NewTimer(stableOpenWindow)

		case <-stableC:
			reconnectAttempt = 0
			stableTimer = nil
			a.maybeReleaseProxyAfterStableOpen(ctx)

		case <-syncC:
			a.log.Warn().Msg("importing phase exceeded sync timeout, forcing connected")
			a.markConnected(ctx, a.syncContactsCount, a.syncMessagesCount)
			syncTimer = nil

		case <-graceC:
			graceTimer = nil
			a.markConnected(ctx, a.syncContactsCount, a.syncMessagesCount)

		case evt, ok := <-client.Events():
			if !ok {
				return
			}
			switch evt.Kind {
			case protocol.EventConnected:
				a.handshakeCompleted = true
				a.setPhase(connstate.PhaseImportingHistory)
				a.mu.Lock()
				a.record.ConnectedAt = time.Now()
				a.mu.Unlock()
				a.writeProjection(ctx, projection.Delta{"phase": string(connstate.PhaseImportingHistory)})
				syncTimer = time.NewTimer(syncTimeout)

			case protocol.EventHistorySync:
				a.syncContactsCount += evt.HistoryContacts
				a.syncMessagesCount += evt.HistoryMessages
				contacts, messages := a.syncContactsCount, a.syncMessagesCount
				if evt.IsLatest {
					graceTimer = time.NewTimer(importGrace)
				} else {
					a.p.workers.Submit(func() {
						if err := a.p.state.UpdateSyncProgress(ctx, a.key.String(), contacts, messages, false); err != nil {
							a.log.WithError(err).Warn().Msg("failed to write sync progress projection")
						}
					})
				}

			case protocol.EventMessage, protocol.EventReceipt, protocol.EventPresence:
				a.mu.Lock()
				a.record.LastSeen = time.Now()
				a.mu.Unlock()
				a.publish(ctx, events.TopicMessage, map[string]any{"kind": string(evt.Kind)})
				if a.p.coord != nil {
					a.p.workers.Submit(func() {
						if err := a.p.coord.UpdateActivity(context.Background(), a.key.String()); err != nil {
							a.log.WithError(err).Warn().Msg("failed to update ownership activity")
						}
					})
				}

			case protocol.EventDisconnected, protocol.EventLoggedOut, protocol.EventStreamReplaced:
				cause := protocol.ClassifyClose(evt, a.handshakeCompleted)
				if a.handleClose(ctx, client, cause, &reconnectAttempt) {
					return
				}
			}
		}
	}
}

// maybeReleaseProxyAfterStableOpen implements spec.md's `proxy_released`
// invariant: at most once, only after the session has been open for
// T_stable without a further restart, and only once it has connected at
// least once. The flag is checked and set under the same lock so two
// racing timers (there is only ever one per actor, but this keeps the
// invariant obviously correct) can't both decide to release.
func (a *sessionActor) maybeReleaseProxyAfterStableOpen(ctx context.Context) {
	a.mu.Lock()
	eligible := !a.record.ProxyReleased && a.record.ConnectedOnce && a.record.Phase == connstate.PhaseConnected
	if eligible {
		a.record.ProxyReleased = true
	}
	a.mu.Unlock()

	if !eligible || a.p.proxies == nil {
		return
	}
	a.p.workers.Submit(func() {
		if err := a.p.proxies.Release(context.Background(), a.key.String()); err != nil {
			a.log.WithError(err).Warn().Msg("failed to release proxy after stable-open window")
		}
	})
}

func (a *sessionActor) markConnected(ctx context.Context, contacts, messages int) {
	a.mu.Lock()
	a.record.Phase = connstate.PhaseConnected
	a.record.ConnectedOnce = true
	a.mu.Unlock()
	select {
	case a.stableSignal <- struct{}{}:
	default:
	}
	a.p.workers.Submit(func() {
		if err := a.p.state.MarkConnected(ctx, a.key.String()); err != nil {
			a.log.WithError(err).Warn().Msg("failed to write connected projection")
		}
		if err := a.p.state.UpdateSyncProgress(ctx, a.key.String(), contacts, messages, true); err != nil {
			a.log.WithError(err).Warn().Msg("failed to write sync progress projection")
		}
	})
	a.publish(ctx, events.TopicSyncCompleted, map[string]any{"contacts": contacts, "messages": messages})
	a.publish(ctx, events.TopicConnected, nil)
}

// handleClose implements spec.md's four-way dispatch for the close
// cause: restartRequired reattaches immediately with no backoff
// (whatsmeow's real post-pair-success behavior), loggedOut tears the
// session down, replaced ends the session as disconnected once it has
// connected before (and is otherwise retried like an other cause), and
// other causes retry with exponential backoff up to
// MaxReconnectAttempts. Returns true if the actor should exit.
func (a *sessionActor) handleClose(ctx context.Context, client *protocol.Client, cause protocol.CloseCause, attempt *int) bool {
	switch cause {
	case protocol.CauseRestartRequired:
		a.setPhase(connstate.PhaseRestarting)
		a.writeProjection(ctx, projection.Delta{"phase": string(connstate.PhaseRestarting)})
		a.reconnectNow(ctx, client)
		return false

	case protocol.CauseLoggedOut:
		a.setPhase(connstate.PhaseDisconnected)
		a.publish(ctx, events.TopicLoggedOut, nil)
		a.p.workers.Submit(func() {
			if err := a.p.state.MarkDisconnected(ctx, a.key.String(), "logged_out"); err != nil {
				a.log.WithError(err).Warn().Msg("failed to write disconnected projection")
			}
		})
		return true

	case protocol.CauseReplaced:
		if a.snapshot().ConnectedOnce {
			a.setPhase(connstate.PhaseDisconnected)
			a.publish(ctx, events.TopicDisconnected, map[string]any{"reason": "connection_replaced"})
			a.p.workers.Submit(func() {
				if err := a.p.state.MarkDisconnected(ctx, a.key.String(), "connection_replaced"); err != nil {
					a.log.WithError(err).Warn().Msg("failed to write disconnected projection")
				}
			})
			return true
		}
		fallthrough

	default:
		*attempt++
		if *attempt > a.p.cfg.MaxReconnectAttempts {
			a.setPhase(connstate.PhaseFailed)
			a.publish(ctx, events.TopicFailed, map[string]any{"reason": "max_reconnect_attempts_exceeded"})
			a.p.workers.Submit(func() {
				if err := a.p.state.MarkFailed(ctx, a.key.String(), fmt.Errorf("max reconnect attempts exceeded")); err != nil {
					a.log.WithError(err).Warn().Msg("failed to write failed projection")
				}
			})
			return true
		}

		allowed := true
		if a.p.limiter != nil {
			if ok, err := a.p.limiter.AllowReconnect(ctx, a.key.String(), a.p.cfg.ReconnectRatePerHour); err == nil {
				allowed = ok
			}
		}
		if !allowed {
			a.setPhase(connstate.PhaseFailed)
			a.publish(ctx, events.TopicFailed, map[string]any{"reason": "reconnect_rate_limited"})
			a.p.workers.Submit(func() {
				if err := a.p.state.MarkFailed(ctx, a.key.String(), fmt.Errorf("reconnect rate limited")); err != nil {
					a.log.WithError(err).Warn().Msg("failed to write failed projection")
				}
			})
			return true
		}

		a.setPhase(connstate.PhaseRestarting)
		delay := reconnectDelay(*attempt)
		a.publish(ctx, events.TopicReconnecting, map[string]any{"attempt": *attempt, "delay": delay.String()})

		select {
		case <-time.After(delay):
			a.reconnectNow(ctx, client)
		case <-ctx.Done():
			return true
		case <-a.stopped:
			return true
		}
		return false
	}
}

func (a *sessionActor) reconnectNow(ctx context.Context, client *protocol.Client) {
	a.setPhase(connstate.PhaseConnecting)
	if err := client.Connect(ctx); err != nil {
		a.log.WithError(err).Warn().Msg("reconnect attempt failed")
	}
}

// doSend attempts real delivery through the protocol client, recording
// the message id whatsmeow actually returned (not a client-generated
// one) in the sent-by-API dedup set on success. A network error
// matching ECONNREFUSED|ETIMEDOUT|proxy triggers a proxy rotation
// before the caller's surrounding reconnect logic takes over.
func (a *sessionActor) doSend(ctx context.Context, client *protocol.Client, to, text string) error {
	if !client.IsConnected() {
		return waerrors.ErrNotConnected
	}

	messageID, err := client.SendText(ctx, to, text)
	if err != nil {
		if isNetworkOrProxyError(err) {
			a.rotateProxyAndReconnect(ctx)
		}
		return fmt.Errorf("send message: %w", err)
	}

	if a.p.limiter != nil {
		if mErr := a.p.limiter.MarkSentByAPI(ctx, messageID); mErr != nil {
			a.log.WithError(mErr).Warn().Msg("failed to record sent-by-api dedup entry")
		}
	}
	if a.p.coord != nil {
		if aErr := a.p.coord.UpdateActivity(ctx, a.key.String()); aErr != nil {
			a.log.WithError(aErr).Warn().Msg("failed to update ownership activity")
		}
	}
	return nil
}

// isNetworkOrProxyError reports whether err looks like the egress IP
// itself has gone bad, per spec.md's ECONNREFUSED|ETIMEDOUT|proxy match.
func isNetworkOrProxyError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "econnrefused") ||
		strings.Contains(msg, "etimedout") ||
		strings.Contains(msg, "proxy")
}

// rotateProxyAndReconnect releases the session's current proxy and
// purchases a fresh one in the same country, then requests a
// reconnect — spec.md §4.5.3's egress network-error handling.
func (a *sessionActor) rotateProxyAndReconnect(ctx context.Context) {
	if a.p.proxies != nil && a.proxyCountry != "" {
		assignment, err := a.p.proxies.Rotate(context.Background(), a.key.String(), a.proxyCountry)
		if err != nil {
			a.log.WithError(err).Warn().Msg("failed to rotate proxy after network error")
		} else {
			a.mu.Lock()
			a.record.ProxyAssignment = assignment.URL()
			a.mu.Unlock()
			a.proxyCountry = assignment.Country
		}
	}
	a.requestReconnect()
}

func (a *sessionActor) fail(ctx context.Context, err error) {
	a.setPhase(connstate.PhaseFailed)
	a.mu.Lock()
	a.record.LastError = err.Error()
	a.mu.Unlock()
	a.log.WithError(err).Error().Msg("session attach failed")
	a.publish(ctx, events.TopicFailed, map[string]any{"error": err.Error()})
	a.p.workers.Submit(func() {
		if mErr := a.p.state.MarkFailed(context.Background(), a.key.String(), err); mErr != nil {
			a.log.WithError(mErr).Warn().Msg("failed to write failed projection")
		}
	})
}

// teardown runs once the event loop exits. It releases the session's
// egress IP unconditionally — Release is a no-op if the stable-open
// timer or a QR timeout already released it — so every exit path
// (detach, QR timeout, logout, fatal error) ends with no orphaned
// proxy assignment. The mailbox is deliberately never closed here: a
// concurrent send() could still be racing to write to it, and a send
// on a closed channel panics. stop() already closes a.stopped, which
// is what send() and requestReconnect() select on to notice the actor
// is gone.
func (a *sessionActor) teardown(ctx context.Context) {
	if a.p.proxies != nil {
		if err := a.p.proxies.Release(context.Background(), a.key.String()); err != nil {
			a.log.WithError(err).Warn().Msg("failed to release proxy on teardown")
		}
	}
	a.stop()
}

// writeProjection submits an async projection write, tagging it with
// handshakeCompleted whenever the actor has observed it locally so the
// State Manager's first-time-pairing suppression rule sees the flag in
// the same write that flips it.
func (a *sessionActor) writeProjection(ctx context.Context, delta projection.Delta) {
	if a.handshakeCompleted {
		delta["handshakeCompleted"] = true
	}
	a.p.workers.Submit(func() {
		if err := a.p.state.ApplyDelta(ctx, a.key.String(), delta); err != nil {
			a.log.WithError(err).Warn().Msg("failed to write projection delta")
		}
	})
}

func (a *sessionActor) publish(ctx context.Context, topic events.Topic, data map[string]any) {
	if a.p.bus == nil {
		return
	}
	a.p.workers.Submit(func() {
		_ = a.p.bus.Publish(context.Background(), events.Envelope{
			SessionKey: a.key.String(),
			Topic:      topic,
			Timestamp:  time.Now(),
			Data:       data,
		})
	})
}
