// Package cartsync keeps a client's cached cart projection consistent with the server cart.
//
// Mutations are applied optimistically and tracked as pending intents until the server
// acknowledges them. Snapshots arriving from the realtime channel are applied only when no
// pending intent supersedes them, and echoes of this client's own writes are suppressed for a
// short debounce window so an older echo never overwrites a newer optimistic state.
package cartsync

import (
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/oklog/ulid/v2"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
)

// DefaultDebounce is how long echoes of this client's acknowledged mutations are ignored.
const DefaultDebounce = 750 * time.Millisecond

// Freshness says whether the projection reflects the latest server state.
type Freshness string

const (
	Fresh Freshness = "fresh"
	Stale Freshness = "stale"
)

// Outcome reports what ApplyRemote did with an update.
type Outcome int

const (
	// Ignored means the update was older than, or an echo of, the local state.
	Ignored Outcome = iota
	// Applied means the projection now mirrors the update.
	Applied
	// Deferred means a pending intent supersedes the update; the projection is stale until refreshed.
	Deferred
	// NeedsRefresh means the update carried no cart body and the caller should fetch the cart.
	NeedsRefresh
)

// ErrUnknownMutation is returned when acknowledging a mutation that is not pending.
var ErrUnknownMutation = errors.New("cartsync: mutation is not pending")

// Update is a server cart change seen by the client, either a full snapshot or a CartUpdated
// notification that only names the version and origin.
type Update struct {
	Version          int64
	ClientID         string
	OriginMutationID string
	Sequence         int64
	Lines            []domain.CartLine
	HasLines         bool
}

// UpdateFromCart wraps a server cart as a full snapshot.
func UpdateFromCart(cart domain.Cart) Update {
	u := Update{Version: cart.Version, Lines: slices.Clone(cart.Lines), HasLines: true}
	if cart.LastMutation != nil {
		u.ClientID = cart.LastMutation.ClientID
		u.OriginMutationID = cart.LastMutation.MutationID
		u.Sequence = cart.LastMutation.Sequence
	}
	return u
}

// UpdateFromEvent decodes a cart.updated payload. Numbers may arrive as float64 after JSON decoding.
func UpdateFromEvent(event domain.OutboxEvent) (Update, bool) {
	if event.Type != domain.EventCartUpdated {
		return Update{}, false
	}
	u := Update{
		Version:          toInt64(event.Payload["cartVersion"]),
		Sequence:         toInt64(event.Payload["sequence"]),
		ClientID:         toString(event.Payload["clientId"]),
		OriginMutationID: toString(event.Payload["originMutationId"]),
	}
	return u, u.Version > 0
}

// View is a read-only copy of the projection.
type View struct {
	Version   int64
	Lines     []domain.CartLine
	Freshness Freshness
	Pending   int
}

type pendingIntent struct {
	mutation domain.CartMutation
	began    time.Time
}

// Config wires a Reconciler.
type Config struct {
	BuyerID  string
	ClientID string
	Clock    clock.Clock
	Debounce time.Duration
	// NewID generates mutation ids; ULIDs by default.
	NewID func() string
}

// Reconciler is the client-side cart projection. It is safe for concurrent use.
type Reconciler struct {
	buyerID  string
	clientID string
	clock    clock.Clock
	debounce time.Duration
	newID    func() string

	mu        sync.Mutex
	seq       int64
	version   int64
	lines     []domain.CartLine
	freshness Freshness
	pending   []pendingIntent
	acked     map[string]time.Time
}

// New builds an empty, stale projection.
func New(cfg Config) (*Reconciler, error) {
	if strings.TrimSpace(cfg.BuyerID) == "" || strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errors.New("cartsync: buyer and client ids are required")
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	newID := cfg.NewID
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	return &Reconciler{
		buyerID:   cfg.BuyerID,
		clientID:  cfg.ClientID,
		clock:     clk,
		debounce:  debounce,
		newID:     newID,
		freshness: Stale,
		acked:     make(map[string]time.Time),
	}, nil
}

// Begin applies the intent to the projection and returns the mutation to send. The sequence
// continues from the highest value the server has recorded for this client.
func (r *Reconciler) Begin(op domain.CartMutationOp, line domain.CartLine) domain.CartMutation {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	m := domain.CartMutation{
		BuyerID:    r.buyerID,
		ClientID:   r.clientID,
		MutationID: r.newID(),
		Sequence:   r.seq,
		Op:         op,
		Line:       line,
	}
	r.lines = applyLocal(r.lines, m)
	r.pending = append(r.pending, pendingIntent{mutation: m, began: r.clock.Now()})
	r.freshness = Stale
	return m
}

// Ack records the server's answer to a pending mutation. The server cart is adopted once no
// other intent is in flight.
func (r *Reconciler) Ack(mutationID string, cart domain.Cart) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.pendingIndex(mutationID)
	if idx < 0 {
		return ErrUnknownMutation
	}
	r.pending = slices.Delete(r.pending, idx, idx+1)
	now := r.clock.Now()
	r.acked[mutationID] = now
	r.prune(now)
	if seq := cart.AppliedSeq[r.clientID]; seq > r.seq {
		r.seq = seq
	}
	if cart.Version < r.version {
		return nil
	}
	r.version = cart.Version
	if len(r.pending) == 0 {
		r.lines = slices.Clone(cart.Lines)
		r.freshness = Fresh
		return nil
	}
	r.lines = replay(cart.Lines, r.pending)
	return nil
}

// Fail drops a pending mutation the server rejected. The projection is left stale so the caller
// refetches the cart.
func (r *Reconciler) Fail(mutationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.pendingIndex(mutationID)
	if idx < 0 {
		return ErrUnknownMutation
	}
	r.pending = slices.Delete(r.pending, idx, idx+1)
	r.freshness = Stale
	return nil
}

// ApplyRemote reconciles a server update with the projection.
func (r *Reconciler) ApplyRemote(u Update) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	r.prune(now)

	if u.Version <= r.version && r.freshness == Fresh {
		return Ignored
	}
	if u.ClientID == r.clientID && u.OriginMutationID != "" {
		if u.Sequence > r.seq {
			r.seq = u.Sequence
		}
		if r.pendingIndex(u.OriginMutationID) >= 0 {
			return Ignored
		}
		if at, ok := r.acked[u.OriginMutationID]; ok && now.Sub(at) < r.debounce && u.Version <= r.version {
			return Ignored
		}
	}
	if len(r.pending) > 0 {
		r.freshness = Stale
		return Deferred
	}
	if !u.HasLines {
		if u.Version > r.version {
			r.freshness = Stale
			return NeedsRefresh
		}
		return Ignored
	}
	if u.Version < r.version {
		return Ignored
	}
	r.version = u.Version
	r.lines = slices.Clone(u.Lines)
	r.freshness = Fresh
	return Applied
}

// Refresh adopts a cart fetched from the server unless intents are still in flight.
func (r *Reconciler) Refresh(cart domain.Cart) Outcome {
	r.mu.Lock()
	if seq := cart.AppliedSeq[r.clientID]; seq > r.seq {
		r.seq = seq
	}
	if len(r.pending) == 0 && cart.Version >= r.version {
		r.version = cart.Version
		r.lines = slices.Clone(cart.Lines)
		r.freshness = Fresh
		r.mu.Unlock()
		return Applied
	}
	r.mu.Unlock()
	return r.ApplyRemote(UpdateFromCart(cart))
}

// Snapshot returns the current projection.
func (r *Reconciler) Snapshot() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return View{
		Version:   r.version,
		Lines:     slices.Clone(r.lines),
		Freshness: r.freshness,
		Pending:   len(r.pending),
	}
}

// PendingSince reports the start time of the oldest in-flight intent.
func (r *Reconciler) PendingSince() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) == 0 {
		return time.Time{}, false
	}
	return r.pending[0].began, true
}

func (r *Reconciler) pendingIndex(mutationID string) int {
	return slices.IndexFunc(r.pending, func(p pendingIntent) bool { return p.mutation.MutationID == mutationID })
}

func (r *Reconciler) prune(now time.Time) {
	for id, at := range r.acked {
		if now.Sub(at) >= r.debounce {
			delete(r.acked, id)
		}
	}
}

func replay(base []domain.CartLine, pending []pendingIntent) []domain.CartLine {
	lines := slices.Clone(base)
	for _, p := range pending {
		lines = applyLocal(lines, p.mutation)
	}
	return lines
}

// applyLocal mirrors the server's mutation rules without catalog or quantity checks; the server
// answer replaces the optimistic result either way.
func applyLocal(lines []domain.CartLine, m domain.CartMutation) []domain.CartLine {
	out := slices.Clone(lines)
	idx := slices.IndexFunc(out, func(l domain.CartLine) bool { return l.StockKey() == m.Line.StockKey() })
	switch m.Op {
	case domain.CartOpClear:
		return nil
	case domain.CartOpRemove:
		if idx >= 0 {
			out = slices.Delete(out, idx, idx+1)
		}
	case domain.CartOpAdd:
		qty := m.Line.Quantity
		if qty <= 0 {
			qty = 1
		}
		line := m.Line
		if idx >= 0 {
			line.Quantity = out[idx].Quantity + qty
			out[idx] = line
		} else {
			line.Quantity = qty
			out = append(out, line)
		}
	case domain.CartOpSetQuantity:
		if idx < 0 {
			break
		}
		if m.Line.Quantity <= 0 {
			out = slices.Delete(out, idx, idx+1)
		} else {
			out[idx].Quantity = m.Line.Quantity
		}
	}
	return out
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}
