package rl

import (
	"encoding/json"
	"math"
	"math/rand"
	"sync"

	"go.uber.org/zap"
)

// Params are the tabular Q-learning algorithm's tunables, exposed via
// get_params/set_params (§4.7). Epsilon's starting value, alpha, and gamma
// are left to the implementer by the spec; BatchSize/BufferCapacity follow
// the supplemented defaults in the original daemon's rl.rs config.
type Params struct {
	Epsilon        float64 `json:"epsilon"`
	EpsilonDecay   float64 `json:"epsilon_decay"`
	EpsilonFloor   float64 `json:"epsilon_floor"`
	Alpha          float64 `json:"alpha"`
	Gamma          float64 `json:"gamma"`
	BatchSize      int     `json:"batch_size"`
	BufferCapacity int     `json:"buffer_capacity"`

	// TrainInterval is how many recorded experiences elapse between
	// automatic Train() calls, matching the original daemon's
	// rl.rs::train_interval cadence (supplemented feature, default 100).
	TrainInterval int `json:"train_interval"`
}

func defaultParams() Params {
	return Params{
		Epsilon:        0.5,
		EpsilonDecay:   0.999,
		EpsilonFloor:   0.01,
		Alpha:          0.1,
		Gamma:          0.9,
		BatchSize:      32,
		BufferCapacity: 10000,
		TrainInterval:  100,
	}
}

// EngineStats summarizes a policy's learning progress, returned by stats().
type EngineStats struct {
	Algorithm     string  `json:"algorithm"`
	QTableSize    int     `json:"q_table_size"`
	BufferSize    int     `json:"buffer_size"`
	UpdateCount   int64   `json:"update_count"`
	Epsilon       float64 `json:"epsilon"`
	LastTrainLoss float64 `json:"last_train_loss"`
}

// Algorithm is the pluggable backend behind Engine (§4.7's set_algorithm).
type Algorithm interface {
	Predict(s State) Action
	Record(e Experience)
	Train() float64
	Params() (json.RawMessage, error)
	SetParams(raw json.RawMessage) error
	Stats() EngineStats
}

// qLearning is the reference tabular Q-learning algorithm.
type qLearning struct {
	mu     sync.RWMutex
	params Params

	q        map[string][actionSpaceSize]float64
	buf      *ringBuffer
	updates  int64
	lastLoss float64
	recorded int64 // experiences seen since the last periodic Train trigger

	logger *zap.Logger
}

func newQLearning(logger *zap.Logger) *qLearning {
	p := defaultParams()
	return &qLearning{
		params: p,
		q:      make(map[string][actionSpaceSize]float64),
		buf:    newRingBuffer(p.BufferCapacity),
		logger: logger,
	}
}

func (a *qLearning) qRow(key string) [actionSpaceSize]float64 {
	if row, ok := a.q[key]; ok {
		return row
	}
	return [actionSpaceSize]float64{}
}

func (a *qLearning) maxQ(key string) float64 {
	row := a.qRow(key)
	max := row[0]
	for _, v := range row[1:] {
		if v > max {
			max = v
		}
	}
	return max
}

// Predict selects an action index epsilon-greedily, then materializes it
// back into an Action via actionFromIndex.
func (a *qLearning) Predict(s State) Action {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := stateKey(s)
	if rand.Float64() < a.params.Epsilon {
		return actionFromIndex(rand.Intn(actionSpaceSize))
	}

	row := a.qRow(key)
	bestIdx := 0
	bestVal := row[0]
	for i, v := range row[1:] {
		if v > bestVal {
			bestVal = v
			bestIdx = i + 1
		}
	}
	return actionFromIndex(bestIdx)
}

// Record stores the experience and applies the tabular Q-learning update
// immediately — the ring buffer additionally retains it for Train's batched
// replay. Every TrainInterval recorded experiences it also triggers a batch
// Train() pass (the original daemon's periodic training cadence).
func (a *qLearning) Record(e Experience) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.buf.push(e)
	a.update(e)
	a.params.Epsilon = math.Max(a.params.EpsilonFloor, a.params.Epsilon*a.params.EpsilonDecay)

	a.recorded++
	if a.params.TrainInterval > 0 && a.recorded%int64(a.params.TrainInterval) == 0 {
		a.trainLocked()
	}
}

// update applies one TD step for a single experience. Caller must hold mu.
func (a *qLearning) update(e Experience) {
	key := stateKey(e.State)
	idx := actionIndex(e.Action)

	row := a.qRow(key)
	oldQ := row[idx]

	target := e.Reward
	if !e.Done && e.NextState != nil {
		target = e.Reward + a.params.Gamma*a.maxQ(stateKey(*e.NextState))
	}

	row[idx] = oldQ + a.params.Alpha*(target-oldQ)
	a.q[key] = row
	a.updates++
}

// Train is a no-op (loss 0) below batch size; otherwise it samples a batch
// uniformly at random from the replay buffer, re-applies the TD update for
// each sampled transition, and returns the batch's mean squared TD error.
func (a *qLearning) Train() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.trainLocked()
}

// trainLocked is Train's body, factored out so Record's periodic
// MaybeTrain-style cadence can invoke it without re-entering a.mu. Caller
// must hold mu.
func (a *qLearning) trainLocked() float64 {
	if a.buf.len() < a.params.BatchSize {
		a.lastLoss = 0
		return 0
	}

	batch := a.buf.sample(a.params.BatchSize)
	var sumSq float64
	for _, e := range batch {
		key := stateKey(e.State)
		idx := actionIndex(e.Action)
		row := a.qRow(key)
		oldQ := row[idx]

		target := e.Reward
		if !e.Done && e.NextState != nil {
			target = e.Reward + a.params.Gamma*a.maxQ(stateKey(*e.NextState))
		}
		td := target - oldQ
		sumSq += td * td

		row[idx] = oldQ + a.params.Alpha*td
		a.q[key] = row
		a.updates++
	}

	loss := sumSq / float64(len(batch))
	a.lastLoss = loss
	return loss
}

func (a *qLearning) Params() (json.RawMessage, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return json.Marshal(a.params)
}

func (a *qLearning) SetParams(raw json.RawMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	p := a.params
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	if p.BufferCapacity != a.params.BufferCapacity && p.BufferCapacity > 0 {
		a.buf = newRingBuffer(p.BufferCapacity)
	}
	a.params = p
	return nil
}

func (a *qLearning) Stats() EngineStats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return EngineStats{
		Algorithm:     "q_learning",
		QTableSize:    len(a.q),
		BufferSize:    a.buf.len(),
		UpdateCount:   a.updates,
		Epsilon:       a.params.Epsilon,
		LastTrainLoss: a.lastLoss,
	}
}
