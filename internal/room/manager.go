// Package room implements the Room Registry / Manager (spec §4.4): room
// lifecycle, password-gated membership, single-host election, the
// member-merge policy, and the 60-second TTL sweeper.
package room

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/n0remac/vo-sync/internal/apperror"
	"github.com/n0remac/vo-sync/internal/clock"
	"github.com/n0remac/vo-sync/internal/mediaref"
	"github.com/n0remac/vo-sync/internal/platform"
	"github.com/n0remac/vo-sync/internal/token"
)

// entry is one Room (spec §3), mutated only by the Manager.
type entry struct {
	password   string
	host       string
	state      *State
	members    map[string]time.Time
	lastUpdate time.Time
}

// ResolvedMedia is the result of resolving a media reference into a
// streamable token (spec §4.4, resolveMediaPath).
type ResolvedMedia struct {
	Token      string
	URL        string
	ExpiresAt  time.Time
	SourceType string
	Cover      string
}

// Manager owns the rooms map and the media-token registry. All fields are
// guarded by mu except mediaRoot, which has its own lock and is never held
// across mu (spec §5, lock discipline).
type Manager struct {
	mu    sync.Mutex
	rooms map[string]*entry

	rootMu    sync.Mutex
	mediaRoot string

	tokens             *token.Registry
	platformResolver   platform.Resolver
	allowMemberControl bool
	roomTTL            time.Duration
	clock              clock.Clock
	log                zerolog.Logger
}

// New builds a Manager. tokens must be shared with the streaming endpoint;
// platformResolver handles bilibili-shaped references.
func New(tokens *token.Registry, platformResolver platform.Resolver, allowMemberControl bool, roomTTL time.Duration, clk clock.Clock, log zerolog.Logger) *Manager {
	return &Manager{
		rooms:              make(map[string]*entry),
		tokens:             tokens,
		platformResolver:   platformResolver,
		allowMemberControl: allowMemberControl,
		roomTTL:            roomTTL,
		clock:              clk,
		log:                log,
	}
}

// JoinRoom implements spec §4.4 joinRoom: creates the room on first join,
// elects the first joiner as host, and records the new member's heartbeat.
func (m *Manager) JoinRoom(name, password string) (tempUser string, isHost bool, err error) {
	name = strings.TrimSpace(name)
	password = strings.TrimSpace(password)
	if name == "" || password == "" {
		return "", false, apperror.NewBadRequest("room and password are required")
	}

	tempUser = uuid.NewString()
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.rooms[name]
	if !ok {
		e = &entry{password: password, members: make(map[string]time.Time)}
		m.rooms[name] = e
	}
	if e.password != password {
		return "", false, apperror.NewBadRequest("room password mismatch")
	}
	if e.host == "" {
		e.host = tempUser
		isHost = true
	}
	e.members[tempUser] = now

	return tempUser, isHost, nil
}

// Authorize implements spec §4.4 authorize: validates the (room, password,
// tempUser) triplet and reports whether tempUser is the room's host.
func (m *Manager) Authorize(name, password, tempUser string) (isHost bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.rooms[name]
	if !ok {
		return false, apperror.NewForbidden("room not found")
	}
	if e.password != password {
		return false, apperror.NewForbidden("password mismatch")
	}
	if _, member := e.members[tempUser]; !member {
		return false, apperror.NewForbidden("not a member of this room")
	}
	return e.host == tempUser, nil
}

// TouchMember implements spec §4.4 touchMember: a silent no-op if the room
// or member is unknown.
func (m *Manager) TouchMember(name, tempUser string) {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.rooms[name]
	if !ok {
		return
	}
	if _, member := e.members[tempUser]; !member {
		return
	}
	e.members[tempUser] = now
}

// UpdateState implements spec §4.4 updateState: hosts overwrite the stored
// state outright; members merge per the source-immutability invariant.
func (m *Manager) UpdateState(name, tempUser string, incoming State, isHost bool) (State, error) {
	now := m.clock.Now()
	nowMs := now.UnixMilli()

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.rooms[name]
	if !ok {
		return State{}, apperror.NewBadRequest("room not found")
	}

	if isHost {
		incoming.UpdatedAt = nowMs
		e.state = &incoming
		e.lastUpdate = now
		return incoming, nil
	}

	if !m.allowMemberControl {
		return State{}, apperror.NewForbidden("member control is disabled")
	}
	if e.state == nil {
		return State{}, apperror.NewBadRequest("host has not published state")
	}

	merged := merge(*e.state, incoming, nowMs)
	e.state = &merged
	e.lastUpdate = now
	return merged, nil
}

// CurrentState implements spec §4.4 currentState.
func (m *Manager) CurrentState(name string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.rooms[name]
	if !ok || e.state == nil {
		return State{}, false
	}
	return *e.state, true
}

// SetMediaRoot implements spec §4.4 setMediaRoot: canonicalize, require an
// existing directory, and store it under its own lock.
func (m *Manager) SetMediaRoot(path string) (string, error) {
	canonical := mediaref.CleanPath(path)
	info, err := os.Stat(canonical)
	if err != nil {
		return "", apperror.NewBadRequest("media root does not exist: %s", canonical)
	}
	if !info.IsDir() {
		return "", apperror.NewBadRequest("media root is not a directory: %s", canonical)
	}

	m.rootMu.Lock()
	m.mediaRoot = canonical
	m.rootMu.Unlock()

	return canonical, nil
}

// MediaRoot returns the currently configured root, or "" if unset.
func (m *Manager) MediaRoot() string {
	m.rootMu.Lock()
	defer m.rootMu.Unlock()
	return m.mediaRoot
}

// ResolveMediaPath implements spec §4.4 resolveMediaPath. Locks are copied
// out and released before any network or filesystem operation runs, per
// spec §5's "no blocking call under a registry lock" rule.
func (m *Manager) ResolveMediaPath(ctx context.Context, name, password, tempUser, path string) (ResolvedMedia, error) {
	if err := m.checkResolvePermission(name, password, tempUser); err != nil {
		return ResolvedMedia{}, err
	}

	switch mediaref.Classify(path) {
	case mediaref.KindPlatform:
		return m.resolvePlatform(ctx, path)
	case mediaref.KindRemote:
		return m.resolveRemote(path)
	default:
		return m.resolveLocal(path)
	}
}

func (m *Manager) checkResolvePermission(name, password, tempUser string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.rooms[name]
	if !ok {
		return apperror.NewForbidden("room not found")
	}
	if e.password != password {
		return apperror.NewForbidden("password mismatch")
	}
	if e.host != tempUser && !m.allowMemberControl {
		return apperror.NewForbidden("member control is disabled")
	}
	return nil
}

func (m *Manager) resolvePlatform(ctx context.Context, ref string) (ResolvedMedia, error) {
	resolved, err := m.platformResolver.Resolve(ctx, ref)
	if err != nil {
		return ResolvedMedia{}, err
	}
	return ResolvedMedia{
		Token:      resolved.Token,
		URL:        resolved.URL,
		ExpiresAt:  resolved.ExpiresAt,
		SourceType: resolved.SourceType,
		Cover:      resolved.Cover,
	}, nil
}

func (m *Manager) resolveRemote(rawURL string) (ResolvedMedia, error) {
	tok, expiresAt := m.tokens.Issue(token.RemoteTarget(rawURL, token.Redirect))
	return ResolvedMedia{
		Token:      tok,
		URL:        "/media/" + tok,
		ExpiresAt:  expiresAt,
		SourceType: "remote",
	}, nil
}

func (m *Manager) resolveLocal(rawPath string) (ResolvedMedia, error) {
	root := m.MediaRoot()
	if root == "" {
		return ResolvedMedia{}, apperror.NewBadRequest("media root is not configured")
	}

	canonical := mediaref.CleanPath(rawPath)
	if !mediaref.IsUnderRoot(canonical, root) {
		return ResolvedMedia{}, apperror.NewForbidden("path escapes media root")
	}

	info, err := os.Stat(canonical)
	if err != nil || info.IsDir() {
		return ResolvedMedia{}, apperror.NewBadRequest("local file does not exist: %s", canonical)
	}

	tok, expiresAt := m.tokens.Issue(token.LocalTarget(canonical))
	return ResolvedMedia{
		Token:      tok,
		URL:        "/media/" + tok,
		ExpiresAt:  expiresAt,
		SourceType: "file",
	}, nil
}

// Sweep implements spec §4.4 sweep: rooms are retained iff their most
// recent activity (state update or any member heartbeat) is within roomTTL;
// tokens are swept through the shared token registry.
func (m *Manager) Sweep() {
	now := m.clock.Now()

	m.mu.Lock()
	for name, e := range m.rooms {
		lastSeen := e.lastUpdate
		for _, seenAt := range e.members {
			if seenAt.After(lastSeen) {
				lastSeen = seenAt
			}
		}
		if now.Sub(lastSeen) > m.roomTTL {
			delete(m.rooms, name)
		}
	}
	m.mu.Unlock()

	m.tokens.Sweep()
}

// RunSweeper runs Sweep on a ticker until ctx is cancelled.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
