package links

import (
	"context"

	"linkstash/internal/domain"
)

// Watch streams the links matching q. The current snapshot is sent right away and again
// after every committed change to the store. A reader that falls behind only receives the
// latest snapshot. The channel is closed when ctx is done or the store shuts down.
func (s *Service) Watch(ctx context.Context, q domain.Query) <-chan []domain.Link {
	out := make(chan []domain.Link, 1)
	changes, unsubscribe := s.repo.Subscribe()

	go func() {
		defer close(out)
		defer unsubscribe()

		for {
			links, err := s.repo.ListLinks(ctx, q)
			if err != nil {
				s.log.WithError(err).Warn("Failed to refresh watched links")
			} else {
				publish(out, links)
			}

			select {
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok {
					return
				}
			}
		}
	}()
	return out
}

// publish replaces any unread snapshot in out with links.
func publish(out chan []domain.Link, links []domain.Link) {
	for {
		select {
		case out <- links:
			return
		default:
		}
		select {
		case <-out:
		default:
		}
	}
}
