package ipc

import "context"

// Handler executes the arguments of a request. The returned lines are sent
// back as the result of the request.
type Handler interface {
	Command(ctx context.Context, args []string) ([]string, error)
}
