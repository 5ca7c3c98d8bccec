package workers

import (
	"context"

	gametypes "github.com/yal212/chess-web-sub000/pkg/game/types"
	"github.com/yal212/chess-web-sub000/pkg/log"
)

// Publisher fans a change event out to the subscribers of its game.
type Publisher interface {
	Publish(event gametypes.ChangeEvent) error
}

type ChangeBroadcastWorker struct {
	publisher  Publisher
	changeChan <-chan gametypes.ChangeEvent
}

type NewChangeBroadcastWorkerOptions struct {
	Publisher  Publisher
	ChangeChan <-chan gametypes.ChangeEvent
}

// NewChangeBroadcastWorker creates a worker that forwards every committed
// write to the push channel subscribers of the written game.
func NewChangeBroadcastWorker(opts NewChangeBroadcastWorkerOptions) *ChangeBroadcastWorker {
	return &ChangeBroadcastWorker{
		publisher:  opts.Publisher,
		changeChan: opts.ChangeChan,
	}
}

func (w *ChangeBroadcastWorker) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.changeChan:
			if !ok {
				return
			}
			switch event.Type {
			case gametypes.ChangeTypeInsert, gametypes.ChangeTypeUpdate, gametypes.ChangeTypeDelete:
				if err := w.publisher.Publish(event); err != nil {
					log.Error("Failed to broadcast %s event for game %s: %v", event.Type, event.GameID(), err)
				}
			default:
				log.Error("Unknown change type: %v", event.Type)
			}
		}
	}
}
