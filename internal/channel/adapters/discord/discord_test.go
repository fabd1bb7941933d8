package discord

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/memohai/crosschat/internal/channel"
	"github.com/memohai/crosschat/internal/config"
	"github.com/memohai/crosschat/internal/dispatch"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSession struct {
	mu       sync.Mutex
	handlers []interface{}
	opened   bool
	closed   bool
	openErr  error
	sent     []*discordgo.MessageSend
	edits    []*discordgo.MessageEdit
	dmOpens  int

	user       func(userID string) (*discordgo.User, error)
	sendFn     func(channelID string, data *discordgo.MessageSend) (*discordgo.Message, error)
	editFn     func(m *discordgo.MessageEdit) (*discordgo.Message, error)
	sendCaller func()
}

func (s *fakeSession) User(userID string, _ ...discordgo.RequestOption) (*discordgo.User, error) {
	if s.user != nil {
		return s.user(userID)
	}
	return &discordgo.User{ID: userID, Username: "user" + userID}, nil
}

func (s *fakeSession) UserChannelCreate(recipientID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	s.mu.Lock()
	s.dmOpens++
	s.mu.Unlock()
	return &discordgo.Channel{ID: "dm-" + recipientID}, nil
}

func (s *fakeSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if s.sendCaller != nil {
		s.sendCaller()
	}
	s.mu.Lock()
	s.sent = append(s.sent, data)
	s.mu.Unlock()
	if s.sendFn != nil {
		return s.sendFn(channelID, data)
	}
	return &discordgo.Message{ID: "m1", ChannelID: channelID}, nil
}

func (s *fakeSession) ChannelMessageEditComplex(m *discordgo.MessageEdit, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	s.mu.Lock()
	s.edits = append(s.edits, m)
	s.mu.Unlock()
	if s.editFn != nil {
		return s.editFn(m)
	}
	return &discordgo.Message{ID: m.ID, ChannelID: m.Channel}, nil
}

func (s *fakeSession) AddHandler(handler interface{}) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, handler)
	return func() {}
}

func (s *fakeSession) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = true
	return s.openErr
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) emit(event interface{}) {
	s.mu.Lock()
	handlers := append([]interface{}(nil), s.handlers...)
	s.mu.Unlock()
	for _, h := range handlers {
		switch fn := h.(type) {
		case func(*discordgo.Session, *discordgo.Ready):
			if e, ok := event.(*discordgo.Ready); ok {
				fn(nil, e)
			}
		case func(*discordgo.Session, *discordgo.MessageCreate):
			if e, ok := event.(*discordgo.MessageCreate); ok {
				fn(nil, e)
			}
		case func(*discordgo.Session, *discordgo.MessageUpdate):
			if e, ok := event.(*discordgo.MessageUpdate); ok {
				fn(nil, e)
			}
		}
	}
}

func restError(status, code int) error {
	return &discordgo.RESTError{
		Response: &http.Response{StatusCode: status},
		Message:  &discordgo.APIErrorMessage{Code: code, Message: "refused"},
	}
}

func TestClassifyError(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"dms closed", restError(http.StatusForbidden, discordgo.ErrCodeCannotSendMessagesToThisUser), channel.ErrForbidden},
		{"missing access", restError(http.StatusForbidden, discordgo.ErrCodeMissingAccess), channel.ErrForbidden},
		{"unknown user", restError(http.StatusNotFound, discordgo.ErrCodeUnknownUser), channel.ErrNotFound},
		{"unknown message", restError(http.StatusNotFound, discordgo.ErrCodeUnknownMessage), channel.ErrNotFound},
		{"rate limited", restError(http.StatusTooManyRequests, 0), channel.ErrRateLimited},
		{"bare 403", &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusForbidden}}, channel.ErrForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := classifyError("op", tc.err); !errors.Is(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}

	plain := errors.New("boom")
	got := classifyError("op", plain)
	if !errors.Is(got, plain) || errors.Is(got, channel.ErrForbidden) {
		t.Fatalf("unexpected classification of plain error: %v", got)
	}
	if classifyError("op", nil) != nil {
		t.Fatal("nil must stay nil")
	}
}

func TestToInbound(t *testing.T) {
	t.Parallel()
	edited := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	base := func() *discordgo.Message {
		return &discordgo.Message{
			ID:        "100",
			ChannelID: "c1",
			Content:   "hello",
			Timestamp: time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC),
			Author:    &discordgo.User{ID: "u1", Username: "ali", GlobalName: "Alice"},
		}
	}

	msg, ok := toInbound("self", base(), false)
	if !ok {
		t.Fatal("expected message")
	}
	if msg.Kind != channel.KindDirect || msg.Sender.DisplayName != "Alice" || msg.Sender.Handle != "ali" {
		t.Fatalf("unexpected inbound: %+v", msg)
	}

	guild := base()
	guild.GuildID = "g1"
	guild.Type = discordgo.MessageTypeReply
	guild.MessageReference = &discordgo.MessageReference{MessageID: "99"}
	guild.Attachments = []*discordgo.MessageAttachment{{URL: "https://cdn/a.png", Filename: "a.png", ContentType: "image/png", Size: 10}}
	msg, ok = toInbound("self", guild, false)
	if !ok || msg.Kind != channel.KindChannel || msg.ReplyParentID != "99" || len(msg.Attachments) != 1 {
		t.Fatalf("unexpected guild inbound: %+v", msg)
	}

	edit := base()
	edit.EditedTimestamp = &edited
	msg, ok = toInbound("self", edit, true)
	if !ok || !msg.IsEdit || !msg.EditedAt.Equal(edited) {
		t.Fatalf("unexpected edit: %+v", msg)
	}

	self := base()
	self.Author.ID = "self"
	bot := base()
	bot.Author.Bot = true
	system := base()
	system.Type = discordgo.MessageTypeChannelPinnedMessage
	empty := base()
	empty.Content = " "
	for name, m := range map[string]*discordgo.Message{"self": self, "bot": bot, "system": system, "empty": empty} {
		if _, ok := toInbound("self", m, false); ok {
			t.Fatalf("%s message must be skipped", name)
		}
	}
	if _, ok := toInbound("self", base(), true); ok {
		t.Fatal("update without edit timestamp must be skipped")
	}
}

func TestClientSendTextAndEdit(t *testing.T) {
	t.Parallel()
	session := &fakeSession{}
	client := newClient(discardLogger(), session)

	sent, err := client.SendText(context.Background(), channel.Target{ConversationID: "c1"}, "hi", "42")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if sent.MessageID != "m1" || sent.ConversationID != "c1" {
		t.Fatalf("unexpected sent: %+v", sent)
	}
	data := session.sent[0]
	if data.Reference == nil || data.Reference.MessageID != "42" || *data.Reference.FailIfNotExists {
		t.Fatalf("unexpected reference: %+v", data.Reference)
	}
	if data.AllowedMentions == nil || len(data.AllowedMentions.Parse) != 0 {
		t.Fatal("mentions must be suppressed")
	}

	if _, err := client.SendText(context.Background(), channel.Target{}, "hi", ""); !errors.Is(err, channel.ErrInvalidTarget) {
		t.Fatalf("expected ErrInvalidTarget, got %v", err)
	}

	if err := client.EditText(context.Background(), channel.Target{ConversationID: "c1"}, "m1", "fixed"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if got := session.edits[0]; got.Channel != "c1" || got.ID != "m1" || *got.Content != "fixed" {
		t.Fatalf("unexpected edit: %+v", got)
	}

	session.editFn = func(*discordgo.MessageEdit) (*discordgo.Message, error) {
		return nil, restError(http.StatusNotFound, discordgo.ErrCodeUnknownMessage)
	}
	if err := client.EditText(context.Background(), channel.Target{ConversationID: "c1"}, "m1", "x"); !errors.Is(err, channel.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClientOpenDirectCaches(t *testing.T) {
	t.Parallel()
	session := &fakeSession{}
	client := newClient(discardLogger(), session)
	for i := 0; i < 3; i++ {
		id, err := client.OpenDirect(context.Background(), "u1")
		if err != nil || id != "dm-u1" {
			t.Fatalf("open direct: %q %v", id, err)
		}
	}
	if session.dmOpens != 1 {
		t.Fatalf("expected one channel create, got %d", session.dmOpens)
	}
}

func TestClientFetchIdentity(t *testing.T) {
	t.Parallel()
	session := &fakeSession{user: func(id string) (*discordgo.User, error) {
		if id == "gone" {
			return nil, restError(http.StatusNotFound, discordgo.ErrCodeUnknownUser)
		}
		return &discordgo.User{ID: id, Username: "bob"}, nil
	}}
	client := newClient(discardLogger(), session)
	ident, err := client.FetchIdentity(context.Background(), "u2")
	if err != nil || ident.DisplayName != "bob" || ident.Handle != "bob" {
		t.Fatalf("unexpected identity %+v, %v", ident, err)
	}
	if _, err := client.FetchIdentity(context.Background(), "gone"); !errors.Is(err, channel.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClientSendAttachmentReuploads(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("PNGDATA"))
	}))
	defer srv.Close()

	session := &fakeSession{}
	client := newClient(discardLogger(), session)
	_, err := client.SendAttachment(context.Background(), channel.Target{ConversationID: "c1"},
		channel.Attachment{URL: srv.URL + "/a.png", ContentType: "image/png", Name: "a.png"}, "from Tom", "")
	if err != nil {
		t.Fatalf("send attachment: %v", err)
	}
	data := session.sent[0]
	if data.Content != "from Tom" || len(data.Files) != 1 || data.Files[0].Name != "a.png" {
		t.Fatalf("unexpected send: %+v", data)
	}
	body, _ := io.ReadAll(data.Files[0].Reader)
	if string(body) != "PNGDATA" {
		t.Fatalf("unexpected body %q", body)
	}

	_, err = client.SendAttachment(context.Background(), channel.Target{ConversationID: "c1"},
		channel.Attachment{URL: srv.URL + "/missing", Name: "x"}, "", "")
	if err == nil {
		t.Fatal("expected download failure")
	}
	_, err = client.SendAttachment(context.Background(), channel.Target{ConversationID: "c1"},
		channel.Attachment{URL: srv.URL + "/big", Name: "big", Size: maxAttachmentBytes + 1}, "", "")
	if err == nil {
		t.Fatal("expected size rejection")
	}
	if len(session.sent) != 1 {
		t.Fatalf("failed attachments must not be sent, got %d sends", len(session.sent))
	}
}

func TestDispatchedClientRunsOnLoop(t *testing.T) {
	t.Parallel()
	loop := dispatch.New(discardLogger(), "discord", dispatch.WithTimeout(time.Second))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()
	waitRunning(t, loop)

	onLoop := make(chan struct{}, 1)
	session := &fakeSession{sendCaller: func() { onLoop <- struct{}{} }}
	client := NewDispatchedClient(loop, newClient(discardLogger(), session))

	sent, err := client.SendText(context.Background(), channel.Target{ConversationID: "c1"}, "hi", "")
	if err != nil || sent.MessageID != "m1" {
		t.Fatalf("dispatched send: %+v %v", sent, err)
	}
	select {
	case <-onLoop:
	default:
		t.Fatal("session was not called")
	}
}

func TestDispatchedClientLoopStopped(t *testing.T) {
	t.Parallel()
	loop := dispatch.New(discardLogger(), "discord")
	client := NewDispatchedClient(loop, newClient(discardLogger(), &fakeSession{}))
	if _, err := client.OpenDirect(context.Background(), "u1"); !errors.Is(err, dispatch.ErrLoopUnavailable) {
		t.Fatalf("expected ErrLoopUnavailable, got %v", err)
	}
}

func TestDispatchedClientTimeout(t *testing.T) {
	t.Parallel()
	loop := dispatch.New(discardLogger(), "discord", dispatch.WithTimeout(20*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()
	waitRunning(t, loop)

	release := make(chan struct{})
	session := &fakeSession{user: func(id string) (*discordgo.User, error) {
		<-release
		return &discordgo.User{ID: id}, nil
	}}
	client := NewDispatchedClient(loop, newClient(discardLogger(), session))
	_, err := client.FetchIdentity(context.Background(), "u1")
	close(release)
	if !errors.Is(err, dispatch.ErrDispatchTimeout) {
		t.Fatalf("expected ErrDispatchTimeout, got %v", err)
	}
}

func waitRunning(t *testing.T, loop *dispatch.Loop) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !loop.Running() {
		if time.Now().After(deadline) {
			t.Fatal("loop did not start")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestConnectPostsEventsOntoLoop(t *testing.T) {
	session := &fakeSession{}
	orig := newSessionForTest
	var gotToken string
	newSessionForTest = func(token string) (gatewaySession, error) {
		gotToken = token
		return session, nil
	}
	defer func() { newSessionForTest = orig }()

	loop := dispatch.New(discardLogger(), "discord")
	adapter := NewDiscordAdapter(discardLogger(), config.DiscordConfig{Token: "abc"}, loop)
	got := make(chan channel.InboundMessage, 2)
	conn, err := adapter.Connect(context.Background(), func(_ context.Context, msg channel.InboundMessage) error {
		if !loop.Running() {
			t.Error("handler must run while the loop is running")
		}
		got <- msg
		if msg.MessageID == "2" {
			return errors.New("relay failed")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if gotToken != "Bot abc" {
		t.Fatalf("unexpected token %q", gotToken)
	}
	waitRunning(t, loop)

	session.emit(&discordgo.Ready{User: &discordgo.User{ID: "self"}})
	if adapter.SelfID() != "self" {
		t.Fatalf("self id not recorded: %q", adapter.SelfID())
	}
	session.emit(&discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "1", ChannelID: "dm", Content: "mine", Author: &discordgo.User{ID: "self"},
	}})
	session.emit(&discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "2", ChannelID: "dm", Content: "hello", Author: &discordgo.User{ID: "u1", Username: "ali"},
	}})

	session.emit(&discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "3", ChannelID: "dm", Content: "again", Author: &discordgo.User{ID: "u1", Username: "ali"},
	}})

	for _, want := range []string{"2", "3"} {
		select {
		case msg := <-got:
			if msg.MessageID != want {
				t.Fatalf("expected message %s, got %+v", want, msg)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for inbound")
		}
	}
	if !loop.Running() {
		t.Fatal("a failed handler must not stop the loop")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !session.closed || loop.Running() {
		t.Fatal("stop must close the session and the loop")
	}
}

func TestConnectOpenFailureStopsLoop(t *testing.T) {
	session := &fakeSession{openErr: errors.New("bad token")}
	orig := newSessionForTest
	newSessionForTest = func(string) (gatewaySession, error) { return session, nil }
	defer func() { newSessionForTest = orig }()

	loop := dispatch.New(discardLogger(), "discord")
	adapter := NewDiscordAdapter(discardLogger(), config.DiscordConfig{Token: "abc", UserAccount: true}, loop)
	if _, err := adapter.Connect(context.Background(), func(context.Context, channel.InboundMessage) error { return nil }); err == nil {
		t.Fatal("expected open failure")
	}
	if loop.Running() {
		t.Fatal("loop must stop when the gateway fails to open")
	}
}
