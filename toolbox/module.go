package toolbox

import (
	"errors"
	"fmt"
)

// Module is a single layer of a model.  Params and Grads return the layer's
// own maps, keyed by globally unique parameter names.  A gradient entry is nil
// until the first backward pass.
type Module interface {
	Name() string
	Params() map[string]*AF32
	Grads() map[string]*AF32

	// Forward applies the layer and caches whatever Backward needs.
	Forward(x *AF32) (*AF32, error)

	// Backward takes the gradient of the loss wrt the layer output, stores
	// parameter gradients in Grads(), and returns the gradient wrt the input.
	Backward(dout *AF32) (*AF32, error)
}

// LayeredModel is anything an optimizer can step over.
type LayeredModel interface {
	Layers() []Module
}

var ErrNoForward = errors.New("no forward function called before for this module")

func checkRank4(x *AF32) error {
	if len(x.Shape) != 4 {
		return fmt.Errorf("expected batch of images, but received shape %v", x.Shape)
	}
	return nil
}
