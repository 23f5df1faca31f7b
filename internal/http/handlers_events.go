package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/target/portfolio-ui/internal/guard"
)

const sseHeartbeatInterval = 15 * time.Second

// GuardEventHandlers streams route-guard navigations to an open dashboard so
// a sign-out elsewhere (or an expired refresh) sends the page back to "/".
type GuardEventHandlers struct {
	Registry VisitorRegistry
	Target   string
	Logger   *slog.Logger
	// Heartbeat overrides sseHeartbeatInterval (optional).
	Heartbeat time.Duration
	// Closing ends every open stream when closed. http.Server.Shutdown does
	// not cancel request contexts, so long-lived streams need their own signal.
	Closing <-chan struct{}
}

func (h *GuardEventHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Stream handles GET /dashboard/events.
func (h *GuardEventHandlers) Stream(w http.ResponseWriter, r *http.Request) {
	vis, ok := GetVisitorFromContext(r.Context())
	if !ok {
		http.Error(w, "auth context not attached to request", http.StatusInternalServerError)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sse := &sseWriter{w: w, flusher: flusher}
	nav := &sseNavigator{sse: sse, cancel: cancel}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.heartbeat(ctx, sse, vis.Key)
	}()
	go func() {
		defer wg.Done()
		select {
		case <-h.Closing:
			cancel()
		case <-ctx.Done():
		}
	}()

	guard.New(nav, h.Target).Run(ctx, vis.Store.Watch(ctx))

	// w must not be touched once the handler returns.
	cancel()
	wg.Wait()
}

// heartbeat keeps intermediaries from closing the stream and keeps the
// visitor's auth context from being swept while the page is open.
func (h *GuardEventHandlers) heartbeat(ctx context.Context, sse *sseWriter, key string) {
	interval := h.Heartbeat
	if interval <= 0 {
		interval = sseHeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if h.Registry != nil {
				if _, err := h.Registry.Get(ctx, key); err != nil {
					h.logger().DebugContext(ctx, "visitor touch failed", "error", err)
				}
			}
			if ctx.Err() != nil {
				return
			}
			if err := sse.comment("ping"); err != nil {
				return
			}
		}
	}
}

// sseWriter serializes writes from the guard and the heartbeat.
type sseWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *sseWriter) event(name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) comment(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// sseNavigator tells the page to navigate, then ends the stream.
type sseNavigator struct {
	sse    *sseWriter
	cancel context.CancelFunc
}

func (n *sseNavigator) NavigateTo(path string) {
	_ = n.sse.event("navigate", map[string]string{"to": path})
	n.cancel()
}
