package toolbox

import (
	"fmt"
	"time"
)

type TrainTimings struct {
	Overall         time.Duration
	Forward         time.Duration
	Loss            time.Duration
	Backpropagation time.Duration
	WeightUpdate    time.Duration
}

func (t *TrainTimings) Reset() {
	t.Overall = 0 * time.Second
	t.Forward = 0 * time.Second
	t.Loss = 0 * time.Second
	t.Backpropagation = 0 * time.Second
	t.WeightUpdate = 0 * time.Second
}

// Trainer runs single optimization steps of a Sequential model.
type Trainer struct {
	Net          *Sequential
	Optimizer    Optimizer
	LossFunction LossFunctionType

	// Regularization strengths added to the gradients before each update.
	L1, L2 float32

	Timings TrainTimings
}

// Step runs forward, loss gradient, backward, regularization and the optimizer
// update on one batch, and returns the batch loss before the update.
//
// x is the input batch.  y is the ground truth (shape depends on the loss
// function).
func (tr *Trainer) Step(x, y *AF32) (float32, error) {
	start := time.Now()

	forwardStart := time.Now()
	a, err := tr.Net.Forward(x)
	if err != nil {
		return 0, fmt.Errorf("while running forward pass: %w", err)
	}
	tr.Timings.Forward += time.Since(forwardStart)

	lossStart := time.Now()
	loss := Loss(tr.LossFunction, y, a, x.Shape[0])
	djda := LossGradient(tr.LossFunction, y, a)
	tr.Timings.Loss += time.Since(lossStart)

	backpropStart := time.Now()
	if _, err := tr.Net.Backward(djda); err != nil {
		return 0, fmt.Errorf("while running backward pass: %w", err)
	}
	if tr.L1 != 0 {
		if err := tr.Net.ApplyL1Regularization(tr.L1); err != nil {
			return 0, fmt.Errorf("while applying L1 regularization: %w", err)
		}
	}
	if tr.L2 != 0 {
		if err := tr.Net.ApplyL2Regularization(tr.L2); err != nil {
			return 0, fmt.Errorf("while applying L2 regularization: %w", err)
		}
	}
	tr.Timings.Backpropagation += time.Since(backpropStart)

	weightUpdateStart := time.Now()
	if err := tr.Optimizer.Step(); err != nil {
		return 0, fmt.Errorf("while updating weights: %w", err)
	}
	tr.Timings.WeightUpdate += time.Since(weightUpdateStart)

	tr.Timings.Overall += time.Since(start)

	return loss, nil
}
