package orchestrator

// BroadcastResult is the aggregate {sent, dropped, disconnected} view C8
// exposes to its caller, wrapping C5's broadcast (§4.8).
type BroadcastResult struct {
	Sent         int
	Dropped      int
	Disconnected int
}

// Broadcast wraps acpserver.Broadcast, reducing its per-connection detail
// to the aggregate counts the orchestrator's callers expect.
func (o *Orchestrator) Broadcast(messageType, content string) (BroadcastResult, error) {
	res, err := o.server.Broadcast(messageType, content)
	if err != nil {
		return BroadcastResult{}, err
	}
	return BroadcastResult{
		Sent:         res.Sent,
		Dropped:      res.Dropped,
		Disconnected: len(res.Disconnected),
	}, nil
}
