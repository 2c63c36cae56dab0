// Package sender implements the Command Sender façade of spec.md §4.8: IPC
// try-send first, Pane Adapter fallback. Grounded on spec.md §4.8 directly;
// its composition style (a façade holding references to two lower services,
// trying one then the other) follows the teacher's internal/app.Model
// "owns every service, composes calls across them" idiom.
package sender

import (
	"context"
	"fmt"

	"github.com/sidecar-core/sidecar/internal/paneadapter"
)

// PaneIDResolver resolves a target to the multiplexer pane id used to
// address the IPC server; satisfied by *statestore.Store.
type PaneIDResolver interface {
	PaneID(target string) (string, bool)
}

// IPCSender is the subset of the IPC Server's try-send API the sender needs.
type IPCSender interface {
	TrySendKeys(paneID, keys string, literal bool) bool
	TrySendKeysAndEnter(paneID, text string) bool
}

// Sender is the unified command-dispatch façade.
type Sender struct {
	resolver PaneIDResolver
	ipc      IPCSender
	adapter  *paneadapter.TmuxAdapter
}

// New builds a Sender.
func New(resolver PaneIDResolver, ipc IPCSender, adapter *paneadapter.TmuxAdapter) *Sender {
	return &Sender{resolver: resolver, ipc: ipc, adapter: adapter}
}

// SendKeys sends named keys (Enter, Up, C-c, ...) to target.
func (s *Sender) SendKeys(ctx context.Context, target, keys string) error {
	return s.dispatch(ctx, target,
		func(paneID string) bool { return s.ipc.TrySendKeys(paneID, keys, false) },
		func(target string) error { return s.adapter.SendKeys(ctx, target, keys, false) },
	)
}

// SendKeysLiteral sends a literal string with no key-name interpretation.
func (s *Sender) SendKeysLiteral(ctx context.Context, target, keys string) error {
	return s.dispatch(ctx, target,
		func(paneID string) bool { return s.ipc.TrySendKeys(paneID, keys, true) },
		func(target string) error { return s.adapter.SendKeys(ctx, target, keys, true) },
	)
}

// SendTextAndEnter is an atomic "paste + submit".
func (s *Sender) SendTextAndEnter(ctx context.Context, target, text string) error {
	return s.dispatch(ctx, target,
		func(paneID string) bool { return s.ipc.TrySendKeysAndEnter(paneID, text) },
		func(target string) error { return s.adapter.SendTextAndEnter(ctx, target, text) },
	)
}

func (s *Sender) dispatch(ctx context.Context, target string, viaIPC func(paneID string) bool, viaAdapter func(target string) error) error {
	if s.resolver != nil && s.ipc != nil {
		if paneID, ok := s.resolver.PaneID(target); ok {
			if viaIPC(paneID) {
				return nil
			}
		}
	}
	if s.adapter == nil {
		return fmt.Errorf("sender: no pane adapter fallback available for %s", target)
	}
	return viaAdapter(target)
}
