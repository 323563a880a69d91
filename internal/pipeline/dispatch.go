package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/jarvis/internal/gateway"
	"github.com/MrWong99/jarvis/internal/handoff"
	"github.com/MrWong99/jarvis/internal/memory"
	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/internal/router"
)

// handoffTimeout bounds one side-channel delivery. Hand-offs outlive the turn
// that started them.
const handoffTimeout = 15 * time.Second

type dispatchResult struct {
	reply gateway.Reply
	err   error
}

// dispatch sends d to its agent. The bridge phrase is spoken only if the
// gateway is still working after the bridge delay; past the grace window a
// "still working" notice follows. A failed dispatch is announced and handed
// off.
func (o *Orchestrator) dispatch(t *turn, d router.Decision, bridge string) outcome {
	name := o.d.Agents.Name(d.AgentID)
	out := outcome{decision: d.String(), agentID: d.AgentID, metric: "routed"}
	log := observe.Logger(t.ctx).With("agent", d.AgentID, "epoch", t.epoch)
	o.recordRoute(d)
	t.setState(StateDispatching)
	log.Info("pipeline: dispatching", "query", d.Query)

	req := gateway.Request{
		AgentID: d.AgentID,
		Query:   d.Query,
		Context: o.contextTurns(),
		Timeout: o.cfg.DispatchTimeout,
	}
	results := make(chan dispatchResult, 1)
	go func() {
		r, err := o.d.Gateway.Dispatch(t.ctx, req)
		results <- dispatchResult{reply: r, err: err}
	}()
	grace := time.NewTimer(o.cfg.GraceWindow)
	defer grace.Stop()
	var bridgeC <-chan time.Time
	if o.cfg.BridgeDelay < 0 {
		o.say(t, bridge)
	} else {
		bridged := time.NewTimer(o.cfg.BridgeDelay)
		defer bridged.Stop()
		bridgeC = bridged.C
	}

	var res dispatchResult
wait:
	for {
		select {
		case <-t.ctx.Done():
			return outcome{decision: out.decision, agentID: d.AgentID, metric: "cancelled"}
		case res = <-results:
			break wait
		case <-bridgeC:
			bridgeC = nil
			o.say(t, bridge)
		case <-grace.C:
			bridgeC = nil
			o.say(t, fmt.Sprintf(stillWorkingFormat, name))
		}
	}

	switch {
	case !t.current() || errors.Is(res.err, context.Canceled):
		out.metric = "cancelled"
		return out
	case res.err != nil:
		notice := fmt.Sprintf(notRespondingFormat, name)
		o.notify(t, handoff.Message{
			Reason:    handoff.ReasonUnreachable,
			AgentID:   d.AgentID,
			AgentName: name,
			Query:     d.Query,
			Text:      res.err.Error(),
		})
		o.d.Memory.AppendAssistant(routedText(name, notice))
		t.setState(StateSpeaking)
		o.say(t, notice)
		out.response = notice
		out.metric = "unreachable"
		return out
	}

	reply := res.reply
	if reply.Truncated {
		o.notify(t, handoff.Message{
			Reason:    handoff.ReasonTruncated,
			AgentID:   d.AgentID,
			AgentName: name,
			Query:     d.Query,
			Text:      reply.Full,
		})
	}
	o.d.Memory.AppendAssistant(routedText(name, reply.Text))
	t.setState(StateSpeaking)
	o.say(t, reply.Text)
	out.response = reply.Text
	return out
}

// contextTurns returns the recent history sent along with a dispatch, minus
// the question being dispatched.
func (o *Orchestrator) contextTurns() []gateway.ContextTurn {
	if o.cfg.ContextTurns < 0 {
		return nil
	}
	snap := o.d.Memory.Snapshot()
	if n := len(snap); n > 0 && snap[n-1].Role == memory.RoleUser {
		snap = snap[:n-1]
	}
	if len(snap) > o.cfg.ContextTurns {
		snap = snap[len(snap)-o.cfg.ContextTurns:]
	}
	out := make([]gateway.ContextTurn, 0, len(snap))
	for _, turn := range snap {
		role := "user"
		if turn.Role == memory.RoleAssistant {
			role = "assistant"
		}
		out = append(out, gateway.ContextTurn{Role: role, Text: turn.Text})
	}
	return out
}

// notify delivers m in the background so the turn is never held up by the
// side channel.
func (o *Orchestrator) notify(t *turn, m handoff.Message) {
	if o.metrics != nil {
		o.metrics.RecordHandoff(context.Background(), string(m.Reason))
	}
	if o.d.Handoff == nil {
		return
	}
	m.Time = time.Now()
	ctx := context.WithoutCancel(t.parent)
	o.handoffs.Add(1)
	go func() {
		defer o.handoffs.Done()
		ctx, cancel := context.WithTimeout(ctx, handoffTimeout)
		defer cancel()
		if err := o.d.Handoff.Notify(ctx, m); err != nil {
			observe.Logger(ctx).Warn("pipeline: handoff failed", "agent", m.AgentID, "reason", m.Reason, "err", err)
		}
	}()
}
