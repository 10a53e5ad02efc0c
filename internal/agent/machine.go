package agent

import (
	"context"
	"log"

	"github.com/looplab/fsm"
)

const (
	StateAwaitingModel    = "awaiting_model"
	StateDispatchingTools = "dispatching_tools"
	StateDone             = "done"

	eventToolCalls = "tool_calls"
	eventToolsDone = "tools_done"
	eventFinish    = "finish"
)

func newTurnMachine(turnID, initial string) *fsm.FSM {
	return fsm.NewFSM(
		initial,
		fsm.Events{
			{Name: eventToolCalls, Src: []string{StateAwaitingModel}, Dst: StateDispatchingTools},
			{Name: eventToolsDone, Src: []string{StateDispatchingTools}, Dst: StateAwaitingModel},
			{Name: eventFinish, Src: []string{StateAwaitingModel}, Dst: StateDone},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				log.Printf("agent[%s]: %s -> %s", turnID, e.Src, e.Dst)
			},
		},
	)
}
