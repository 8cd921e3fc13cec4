package widget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/msadapter/session"
)

// Session binds a Client to one member token. It satisfies bridge.Widget.
type Session struct {
	client *Client
	token  string
}

// Bind returns the member session for token.
func (c *Client) Bind(token string) *Session {
	return &Session{client: c, token: token}
}

func (s *Session) CurrentMember(ctx context.Context) (*session.Member, error) {
	return s.client.CurrentMember(ctx, s.token)
}

func (s *Session) Logout(ctx context.Context) error {
	return s.client.Logout(ctx, s.token)
}

// MemberCookie returns the token the session is bound to.
func (s *Session) MemberCookie() string { return s.token }

func (s *Session) MemberJSON(ctx context.Context) (map[string]any, error) {
	return s.client.MemberJSON(ctx, s.token)
}

func (s *Session) UpdateMemberJSON(ctx context.Context, data map[string]any) (map[string]any, error) {
	return s.client.UpdateMemberJSON(ctx, s.token, data)
}

// Loader fills persistent storage with the member snapshot the way the
// widget does on boot.
type Loader struct {
	Client *Client
	Logger *slog.Logger
}

// Load fetches the member for token and writes it under session.KeyMember.
// A rejected token clears both v2 keys so the page renders anonymous. No
// token is not an error: there is nothing to load.
func (l *Loader) Load(ctx context.Context, token string, st session.Storage) error {
	if token == "" {
		return nil
	}
	raw, err := l.Client.MemberRaw(ctx, token)
	if errors.Is(err, ErrUnauthorized) {
		st.Remove(session.KeyMemberID)
		st.Remove(session.KeyMember)
		l.logger().Info("widget: member token rejected, session cleared")
		return err
	}
	if err != nil {
		return fmt.Errorf("widget: load member: %w", err)
	}
	st.Set(session.KeyMember, string(raw))
	return nil
}

func (l *Loader) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}
