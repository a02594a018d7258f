package plugin

import "context"

// AutoJoin returns a plugin that joins channels once the bot is ready.
func AutoJoin(channels []string) Func {
	channels = append([]string(nil), channels...)

	return func(ctx context.Context, in <-chan string, out chan<- string) error {
		for {
			select {
			case line, ok := <-in:
				if !ok {
					return nil
				}
				if line != StateReady {
					continue
				}
				for _, channel := range channels {
					if !Emit(ctx, out, "JOIN "+channel) {
						return ctx.Err()
					}
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
