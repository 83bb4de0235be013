package realtime

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

const membershipTimeout = 5 * time.Second

var (
	errMalformedFrame = errors.New("malformed frame")
	pongFrame         = []byte(`{"event":"pong","data":null}`)
)

type frame struct {
	Type  string
	ID    string
	Token string
}

func parseFrame(data []byte) (frame, error) {
	if !gjson.ValidBytes(data) {
		return frame{}, errMalformedFrame
	}
	fields := gjson.GetManyBytes(data, "type", "id", "token")
	if fields[0].Type != gjson.String || fields[0].Str == "" {
		return frame{}, errMalformedFrame
	}
	return frame{Type: fields[0].Str, ID: fields[1].String(), Token: fields[2].String()}, nil
}

type frameHandler func(ctx context.Context, f frame)

// dispatcher builds the frame table for one connection. Handlers run on the
// connection's read goroutine.
func (g *Gateway) dispatcher(ctx context.Context, c *Conn) func([]byte) {
	needID := func(h frameHandler) frameHandler {
		return func(ctx context.Context, f frame) {
			if f.ID == "" {
				g.metrics.ignored()
				c.log.Debug().Str("type", f.Type).Msg("frame without id ignored")
				return
			}
			h(ctx, f)
		}
	}

	table := map[string]frameHandler{
		FrameSubscribeWorkspace: needID(func(ctx context.Context, f frame) {
			g.subscribe(ctx, c, Workspace(f.ID))
		}),
		FrameUnsubscribeWorkspace: needID(func(_ context.Context, f frame) {
			g.registry.UnsubscribeWorkspace(c.ID(), f.ID)
		}),
		FrameSubscribeProject: needID(func(ctx context.Context, f frame) {
			g.subscribe(ctx, c, Project(f.ID))
		}),
		FrameUnsubscribeProject: needID(func(_ context.Context, f frame) {
			g.registry.UnsubscribeProject(c.ID(), f.ID)
		}),
		FramePing: func(context.Context, frame) {
			if err := c.Send(pongFrame); err != nil {
				c.Close(websocket.CloseTryAgainLater, "send buffer full")
			}
		},
	}

	return func(data []byte) {
		f, err := parseFrame(data)
		if err != nil {
			g.metrics.ignored()
			c.log.Debug().Err(err).Msg("ignoring frame")
			return
		}
		handle, ok := table[f.Type]
		if !ok {
			g.metrics.ignored()
			c.log.Debug().Str("type", f.Type).Msg("ignoring unknown frame type")
			return
		}
		handle(ctx, f)
	}
}

// subscribe adds scope to the connection if its user is a member. Denials
// and lookup failures are not reported to the client.
func (g *Gateway) subscribe(ctx context.Context, c *Conn, scope Scope) {
	ctx, cancel := context.WithTimeout(ctx, membershipTimeout)
	defer cancel()

	var allowed bool
	var err error
	switch scope.Kind {
	case ScopeWorkspace:
		allowed, err = g.members.IsWorkspaceMember(ctx, c.UserID(), scope.ID)
	case ScopeProject:
		allowed, err = g.members.IsProjectMember(ctx, c.UserID(), scope.ID)
	}
	if err != nil {
		g.metrics.rejected(scope.Kind)
		c.log.Warn().Err(err).Str("scope", scope.String()).Msg("membership lookup failed")
		return
	}
	if !allowed {
		g.metrics.rejected(scope.Kind)
		c.log.Debug().Str("scope", scope.String()).Msg("subscription denied")
		return
	}

	switch scope.Kind {
	case ScopeWorkspace:
		g.registry.SubscribeWorkspace(c.ID(), scope.ID)
	case ScopeProject:
		g.registry.SubscribeProject(c.ID(), scope.ID)
	}
}
