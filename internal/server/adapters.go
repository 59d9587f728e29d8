package server

import (
	"github.com/rampart-project/rampart/internal/fetch"
	"github.com/rampart-project/rampart/internal/protocol"
	"github.com/rampart-project/rampart/internal/sound"
	"github.com/rampart-project/rampart/internal/worker"
)

// engineOutput sends admin engine replies and actions over the transport.
type engineOutput struct {
	s *Service
}

func (o engineOutput) Respond(slot uint8, message string) {
	o.s.send(protocol.EncodeAdminResponse(slot, message))
}

func (o engineOutput) Action(kind protocol.ActionKind, slot uint8, number int32, text string) {
	o.s.send(protocol.EncodeAdminAction(kind, slot, number, text))
}

// WorkerLauncher starts download workers as child processes.
type WorkerLauncher struct {
	Spawner *worker.Spawner
}

// Launch starts one worker for job.
func (l WorkerLauncher) Launch(job fetch.Job) (sound.WorkerHandle, error) {
	p, err := l.Spawner.Start(job)
	if err != nil {
		return nil, err
	}
	return p, nil
}
