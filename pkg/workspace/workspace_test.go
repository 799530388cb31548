package workspace

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmad-cheema/file-verse/pkg/events"
	"github.com/ahmad-cheema/file-verse/pkg/models"
	"github.com/ahmad-cheema/file-verse/pkg/protocol"
	"github.com/ahmad-cheema/file-verse/pkg/retry"
	"github.com/ahmad-cheema/file-verse/pkg/session"
	"github.com/ahmad-cheema/file-verse/pkg/transport"
	"github.com/ahmad-cheema/file-verse/pkg/transport/transporttest"
)

func newClient(rec *transporttest.Recorder) *Client {
	return New(rec, Config{SaveRetry: retry.Config{MaxAttempts: 3}})
}

// loggedIn returns a client logged in as alice with the login call forgotten.
func loggedIn(t *testing.T, rec *transporttest.Recorder) *Client {
	t.Helper()
	rec.Enqueue(protocol.OpUserLogin, transporttest.Token("T1"))
	c := newClient(rec)
	_, err := c.Login(context.Background(), "alice", "pw1")
	require.NoError(t, err)
	rec.Reset()
	return c
}

func waitFor(t *testing.T, ch <-chan events.Event, typ events.Type) events.Event {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case e := <-ch:
			if e.Type == typ {
				return e
			}
		case <-deadline:
			t.Fatalf("no %s event", typ)
			return events.Event{}
		}
	}
}

func netErr(op protocol.Operation) error {
	return &transport.Error{Op: op, Err: errors.New("connection reset")}
}

func TestLogin(t *testing.T) {
	rec := transporttest.New().Enqueue(protocol.OpUserLogin, transporttest.Token("T1"))
	c := newClient(rec)
	sub := c.Events().Subscribe()
	defer c.Events().Unsubscribe(sub)

	s, err := c.Login(context.Background(), "alice", "pw1")
	require.NoError(t, err)
	assert.Equal(t, "alice", s.Username)
	assert.Equal(t, "T1", s.Token)
	assert.True(t, c.LoggedIn())
	assert.Equal(t, "alice", waitFor(t, sub, events.LoggedIn).Username)
}

func TestListDirectory_RootWithAbsoluteNames(t *testing.T) {
	rec := transporttest.New().Enqueue(protocol.OpDirList, transporttest.Listing(transporttest.File("/a.txt")))
	c := loggedIn(t, rec)

	listing, err := c.ListDirectory(context.Background(), "/")
	require.NoError(t, err)
	require.Len(t, listing.Entries, 1)
	assert.Equal(t, models.KindFile, listing.Entries[0].Kind)
	assert.Equal(t, "a.txt", listing.Entries[0].DisplayName())

	entries := c.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "/a.txt", entries[0].Name)
	assert.Equal(t, "/", c.Location())
}

func TestListDirectory_KeepsServerOrder(t *testing.T) {
	rec := transporttest.New().Enqueue(protocol.OpDirList, transporttest.Listing(
		transporttest.File("zeta.txt"),
		transporttest.Dir("alpha"),
		transporttest.File("beta.txt"),
	))
	c := loggedIn(t, rec)

	_, err := c.ListDirectory(context.Background(), "/docs")
	require.NoError(t, err)

	assert.Equal(t, []models.Entry{
		{Name: "zeta.txt", Kind: models.KindFile},
		{Name: "alpha", Kind: models.KindDirectory},
		{Name: "beta.txt", Kind: models.KindFile},
	}, c.Entries())
	assert.Equal(t, "/docs", c.Location())
	assert.Equal(t, "/docs", rec.Calls()[0].Path())
}

func TestListDirectory_FailureChangesNothing(t *testing.T) {
	rec := transporttest.New().
		Enqueue(protocol.OpDirList, transporttest.Listing(transporttest.File("a.txt"))).
		Enqueue(protocol.OpDirList, transporttest.Fail(protocol.ErrKindNotFound)).
		EnqueueErr(protocol.OpDirList, netErr(protocol.OpDirList))
	c := loggedIn(t, rec)

	_, err := c.ListDirectory(context.Background(), "/docs")
	require.NoError(t, err)
	before := c.State()

	_, err = c.ListDirectory(context.Background(), "/missing")
	_, isAPI := protocol.AsAPIError(err)
	assert.True(t, isAPI)
	assert.Equal(t, before, c.State())

	_, err = c.ListDirectory(context.Background(), "/elsewhere")
	_, isTransport := transport.AsTransportError(err)
	assert.True(t, isTransport)
	assert.Equal(t, before, c.State())
}

func TestListDirectory_ClosesDocumentOnlyWhenMoving(t *testing.T) {
	rec := transporttest.New()
	c := loggedIn(t, rec)

	_, err := c.ListDirectory(context.Background(), "/docs")
	require.NoError(t, err)
	_, err = c.OpenFile(context.Background(), "a.txt")
	require.NoError(t, err)

	_, err = c.Refresh(context.Background())
	require.NoError(t, err)
	_, open := c.Document()
	assert.True(t, open, "refresh of the same directory keeps the document")

	_, err = c.ListDirectory(context.Background(), "/other")
	require.NoError(t, err)
	_, open = c.Document()
	assert.False(t, open)
}

func TestChangeDirectory(t *testing.T) {
	rec := transporttest.New()
	c := loggedIn(t, rec)
	ctx := context.Background()

	_, err := c.ChangeDirectory(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, "/docs", c.Location())

	_, err = c.ChangeDirectory(ctx, "reports")
	require.NoError(t, err)
	assert.Equal(t, "/docs/reports", c.Location())

	_, err = c.ChangeDirectory(ctx, "..")
	require.NoError(t, err)
	assert.Equal(t, "/docs", c.Location())

	_, err = c.ChangeDirectory(ctx, "/tmp/")
	require.NoError(t, err)
	assert.Equal(t, "/tmp", c.Location())

	_, err = c.ChangeDirectory(ctx, "..")
	require.NoError(t, err)
	_, err = c.ChangeDirectory(ctx, "..")
	require.NoError(t, err)
	assert.Equal(t, "/", c.Location())

	var paths []string
	for _, call := range rec.Calls() {
		paths = append(paths, call.Path())
	}
	assert.Equal(t, []string{"/docs", "/docs/reports", "/docs", "/tmp", "/", "/"}, paths)
}

func TestBrowse_DoesNotMove(t *testing.T) {
	rec := transporttest.New().
		Enqueue(protocol.OpDirList, transporttest.Listing(transporttest.File("a.txt"))).
		Enqueue(protocol.OpDirList, transporttest.Listing(transporttest.File("b.txt"), transporttest.File("c.txt")))
	c := loggedIn(t, rec)

	_, err := c.ListDirectory(context.Background(), "/docs")
	require.NoError(t, err)

	listing, err := c.Browse(context.Background(), "sub")
	require.NoError(t, err)
	assert.Equal(t, "/docs/sub", listing.Path)
	assert.Len(t, listing.Entries, 2)

	assert.Equal(t, "/docs", c.Location())
	assert.Len(t, c.Entries(), 1)
}

func TestOpenFile_ContentPrecedence(t *testing.T) {
	tests := []struct {
		name    string
		content string
		data    string
		want    string
	}{
		{"content only", "from content", "", "from content"},
		{"data only", "", "from data", "from data"},
		{"both", "from content", "from data", "from content"},
		{"neither", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := protocol.Success("")
			resp.Content = tt.content
			resp.Data = tt.data
			rec := transporttest.New().Enqueue(protocol.OpFileRead, resp)
			c := loggedIn(t, rec)

			doc, err := c.OpenFile(context.Background(), "a.txt")
			require.NoError(t, err)
			assert.Equal(t, "/a.txt", doc.Path)
			assert.Equal(t, tt.want, doc.Content)

			open, ok := c.Document()
			require.True(t, ok)
			assert.Equal(t, doc, open)
		})
	}
}

func TestOpenFile_FailureIsWrappedWithAction(t *testing.T) {
	rec := transporttest.New().Enqueue(protocol.OpFileRead, transporttest.Fail(protocol.ErrKindNotFound))
	c := loggedIn(t, rec)
	sub := c.Events().Subscribe()
	defer c.Events().Unsubscribe(sub)

	_, err := c.OpenFile(context.Background(), "/a.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open /a.txt: ")
	_, ok := c.Document()
	assert.False(t, ok)

	e := waitFor(t, sub, events.OperationFailed)
	assert.Equal(t, "open /a.txt", e.Action)
	assert.Equal(t, "/a.txt", e.Path)
}

func TestCreate_DoesNotTouchCache(t *testing.T) {
	rec := transporttest.New().Enqueue(protocol.OpDirList, transporttest.Listing(transporttest.File("a.txt")))
	c := loggedIn(t, rec)
	ctx := context.Background()

	_, err := c.ListDirectory(ctx, "/docs")
	require.NoError(t, err)

	p, err := c.CreateFile(ctx, "new.txt", "hello")
	require.NoError(t, err)
	assert.Equal(t, "/docs/new.txt", p)

	p, err = c.CreateDirectory(ctx, "sub")
	require.NoError(t, err)
	assert.Equal(t, "/docs/sub", p)

	assert.Len(t, c.Entries(), 1)

	calls := rec.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "hello", calls[1].Fields.String("data"))
	assert.Equal(t, protocol.OpDirCreate, calls[2].Op)
}

func TestSaveFile_DeleteThenCreate(t *testing.T) {
	rec := transporttest.New().Enqueue(protocol.OpFileRead, func() *protocol.Response {
		r := protocol.Success("")
		r.Content = "old"
		return r
	}())
	c := loggedIn(t, rec)
	ctx := context.Background()

	_, err := c.OpenFile(ctx, "a.txt")
	require.NoError(t, err)
	rec.Reset()

	require.NoError(t, c.SaveFile(ctx, "a.txt", "new"))

	calls := rec.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, protocol.OpFileDelete, calls[0].Op)
	assert.Equal(t, protocol.OpFileCreate, calls[1].Op)
	assert.Equal(t, "/a.txt", calls[0].Path())
	assert.Equal(t, "/a.txt", calls[1].Path())
	assert.Equal(t, "new", calls[1].Fields.String("data"))
	assert.False(t, rec.Overlapped())

	doc, ok := c.Document()
	require.True(t, ok)
	assert.Equal(t, "new", doc.Content)
}

func TestSaveFile_PartialSave(t *testing.T) {
	rec := transporttest.New().Enqueue(protocol.OpFileCreate, transporttest.Fail("disk_full"))
	c := loggedIn(t, rec)
	sub := c.Events().Subscribe()
	defer c.Events().Unsubscribe(sub)

	err := c.SaveFile(context.Background(), "/a.txt", "x")
	pe, ok := AsPartialSave(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, "/a.txt", pe.Path)
	apiErr, ok := protocol.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, "disk_full", apiErr.Reason)

	assert.Equal(t, []protocol.Operation{protocol.OpFileDelete, protocol.OpFileCreate}, rec.Ops(),
		"api errors are not retried")
	assert.Equal(t, "/a.txt", waitFor(t, sub, events.PartialSave).Path)
}

func TestSaveFile_DeleteRejectedStillCreates(t *testing.T) {
	rec := transporttest.New().Enqueue(protocol.OpFileDelete, transporttest.Fail(protocol.ErrKindNotFound))
	c := loggedIn(t, rec)

	require.NoError(t, c.SaveFile(context.Background(), "/fresh.txt", "x"))
	assert.Equal(t, []protocol.Operation{protocol.OpFileDelete, protocol.OpFileCreate}, rec.Ops())
}

func TestSaveFile_DeleteRejectedAndCreateFailsIsNotPartial(t *testing.T) {
	rec := transporttest.New().
		Enqueue(protocol.OpFileDelete, transporttest.Fail(protocol.ErrKindPermissionDenied)).
		Enqueue(protocol.OpFileCreate, transporttest.Fail(protocol.ErrKindExists))
	c := loggedIn(t, rec)

	err := c.SaveFile(context.Background(), "/locked.txt", "x")
	require.Error(t, err)
	_, partial := AsPartialSave(err)
	assert.False(t, partial)
	assert.Contains(t, err.Error(), "save /locked.txt: ")
}

func TestSaveFile_DeleteTransportErrorAborts(t *testing.T) {
	rec := transporttest.New().EnqueueErr(protocol.OpFileDelete, netErr(protocol.OpFileDelete))
	c := loggedIn(t, rec)

	err := c.SaveFile(context.Background(), "/a.txt", "x")
	_, isTransport := transport.AsTransportError(err)
	assert.True(t, isTransport)
	assert.Equal(t, []protocol.Operation{protocol.OpFileDelete}, rec.Ops())
}

func TestSaveFile_RetriesCreateAfterTransportError(t *testing.T) {
	rec := transporttest.New().EnqueueErr(protocol.OpFileCreate, netErr(protocol.OpFileCreate))
	c := loggedIn(t, rec)

	require.NoError(t, c.SaveFile(context.Background(), "/a.txt", "x"))
	assert.Equal(t, []protocol.Operation{
		protocol.OpFileDelete, protocol.OpFileCreate, protocol.OpFileCreate,
	}, rec.Ops())
}

func TestSaveFile_RetryExhaustedIsPartial(t *testing.T) {
	rec := transporttest.New()
	for i := 0; i < 3; i++ {
		rec.EnqueueErr(protocol.OpFileCreate, netErr(protocol.OpFileCreate))
	}
	c := loggedIn(t, rec)

	err := c.SaveFile(context.Background(), "/a.txt", "x")
	_, partial := AsPartialSave(err)
	assert.True(t, partial)
	_, isTransport := transport.AsTransportError(err)
	assert.True(t, isTransport)
	assert.Len(t, rec.Ops(), 4)
}

func TestSaveFile_RetryFindsLandedCreate(t *testing.T) {
	read := protocol.Success("")
	read.Content = "x"
	rec := transporttest.New().
		EnqueueErr(protocol.OpFileCreate, netErr(protocol.OpFileCreate)).
		Enqueue(protocol.OpFileCreate, transporttest.Fail(protocol.ErrKindExists)).
		Enqueue(protocol.OpFileRead, read)
	c := loggedIn(t, rec)

	require.NoError(t, c.SaveFile(context.Background(), "/a.txt", "x"))
	assert.Equal(t, []protocol.Operation{
		protocol.OpFileDelete, protocol.OpFileCreate, protocol.OpFileCreate, protocol.OpFileRead,
	}, rec.Ops())
}

func TestSaveDocument_RequiresOpenDocument(t *testing.T) {
	rec := transporttest.New()
	c := loggedIn(t, rec)

	assert.ErrorIs(t, c.SaveDocument(context.Background(), "x"), ErrNoDocument)
	assert.Empty(t, rec.Calls())
}

func TestDeleteFile_ClosesMatchingDocument(t *testing.T) {
	rec := transporttest.New()
	c := loggedIn(t, rec)
	ctx := context.Background()

	_, err := c.OpenFile(ctx, "a.txt")
	require.NoError(t, err)

	require.NoError(t, c.DeleteFile(ctx, "b.txt"))
	_, open := c.Document()
	assert.True(t, open)

	require.NoError(t, c.DeleteFile(ctx, "/a.txt"))
	_, open = c.Document()
	assert.False(t, open)
}

func TestDeleteFile_EquivalentPathClosesDocument(t *testing.T) {
	rec := transporttest.New()
	c := loggedIn(t, rec)
	ctx := context.Background()

	_, err := c.OpenFile(ctx, "a.txt")
	require.NoError(t, err)
	rec.Reset()

	require.NoError(t, c.DeleteFile(ctx, "./a.txt"))
	_, open := c.Document()
	assert.False(t, open)
	require.Len(t, rec.Calls(), 1)
	assert.Equal(t, "/a.txt", rec.Calls()[0].Path())
}

func TestSaveFile_EquivalentPathUpdatesDocument(t *testing.T) {
	rec := transporttest.New()
	c := loggedIn(t, rec)
	ctx := context.Background()

	_, err := c.OpenFile(ctx, "/a.txt")
	require.NoError(t, err)
	rec.Reset()

	require.NoError(t, c.SaveFile(ctx, "/./a.txt", "new"))
	doc, open := c.Document()
	require.True(t, open)
	assert.Equal(t, "new", doc.Content)
	for _, call := range rec.Calls() {
		assert.Equal(t, "/a.txt", call.Path())
	}
}

func TestCreateDirectory_TrailingSlash(t *testing.T) {
	rec := transporttest.New()
	c := loggedIn(t, rec)
	ctx := context.Background()

	_, err := c.ListDirectory(ctx, "/docs")
	require.NoError(t, err)
	rec.Reset()

	p, err := c.CreateDirectory(ctx, "sub/")
	require.NoError(t, err)
	assert.Equal(t, "/docs/sub", p)
	assert.Equal(t, "/docs/sub", rec.Calls()[0].Path())
}

func TestInvalidSession_AtDocs(t *testing.T) {
	rec := transporttest.New().
		Enqueue(protocol.OpDirList, transporttest.Listing(transporttest.File("a.txt"))).
		Enqueue(protocol.OpDirList, transporttest.Fail(protocol.ErrKindInvalidSession))
	c := loggedIn(t, rec)
	sub := c.Events().Subscribe()
	defer c.Events().Unsubscribe(sub)
	ctx := context.Background()

	_, err := c.ListDirectory(ctx, "/docs")
	require.NoError(t, err)
	_, err = c.OpenFile(ctx, "a.txt")
	require.NoError(t, err)

	_, err = c.Refresh(ctx)
	assert.ErrorIs(t, err, session.ErrSessionExpired)

	assert.False(t, c.LoggedIn())
	st := c.State()
	assert.Equal(t, models.Session{}, st.Session)
	assert.Equal(t, "/", st.Location)
	assert.Empty(t, st.Entries)
	assert.Nil(t, st.Document)
	assert.Equal(t, "alice", waitFor(t, sub, events.SessionExpired).Username)
}

func TestInvalidSession_DuringSave(t *testing.T) {
	rec := transporttest.New().Enqueue(protocol.OpFileDelete, transporttest.Fail(protocol.ErrKindInvalidSession))
	c := loggedIn(t, rec)

	err := c.SaveFile(context.Background(), "/a.txt", "x")
	assert.ErrorIs(t, err, session.ErrSessionExpired)
	assert.False(t, c.LoggedIn())
	assert.Equal(t, []protocol.Operation{protocol.OpFileDelete}, rec.Ops())
}

func TestInvalidSession_OnCreateAfterDelete(t *testing.T) {
	rec := transporttest.New().Enqueue(protocol.OpFileCreate, transporttest.Fail(protocol.ErrKindInvalidSession))
	c := loggedIn(t, rec)
	sub := c.Events().Subscribe()
	defer c.Events().Unsubscribe(sub)

	err := c.SaveFile(context.Background(), "/a.txt", "x")
	pe, ok := AsPartialSave(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, "/a.txt", pe.Path)
	assert.ErrorIs(t, err, session.ErrSessionExpired)
	assert.False(t, c.LoggedIn())
	assert.Equal(t, []protocol.Operation{protocol.OpFileDelete, protocol.OpFileCreate}, rec.Ops())
	assert.Equal(t, "/a.txt", waitFor(t, sub, events.PartialSave).Path)
}

func TestLogout_ResetsWorkspace(t *testing.T) {
	rec := transporttest.New().Enqueue(protocol.OpDirList, transporttest.Listing(transporttest.File("a.txt")))
	c := loggedIn(t, rec)

	_, err := c.ListDirectory(context.Background(), "/docs")
	require.NoError(t, err)
	rec.Reset()

	c.Logout()
	assert.False(t, c.LoggedIn())
	assert.Equal(t, "/", c.Location())
	assert.Empty(t, c.Entries())
	assert.Empty(t, rec.Calls(), "logout makes no call")
}

func TestLogin_DifferentUserStartsAtRoot(t *testing.T) {
	rec := transporttest.New().Enqueue(protocol.OpUserLogin, transporttest.Token("T2"))
	c := loggedIn(t, rec)

	_, err := c.ListDirectory(context.Background(), "/docs")
	require.NoError(t, err)

	_, err = c.Login(context.Background(), "bob", "pw2")
	require.NoError(t, err)
	assert.Equal(t, "/", c.Location())
	assert.Equal(t, "bob", c.Session().Username)
}

func TestSignup_LogsIn(t *testing.T) {
	rec := transporttest.New().Enqueue(protocol.OpUserLogin, transporttest.Token("T9"))
	c := newClient(rec)

	s, err := c.Signup(context.Background(), "carol", "pw", "normal")
	require.NoError(t, err)
	assert.Equal(t, "T9", s.Token)
	assert.Equal(t, []protocol.Operation{protocol.OpUserCreate, protocol.OpUserLogin}, rec.Ops())
}

func TestSignup_FailureSkipsLogin(t *testing.T) {
	rec := transporttest.New().Enqueue(protocol.OpUserCreate, transporttest.Fail(protocol.ErrKindUserExists))
	c := newClient(rec)

	_, err := c.Signup(context.Background(), "carol", "pw", "normal")
	require.Error(t, err)
	assert.Equal(t, []protocol.Operation{protocol.OpUserCreate}, rec.Ops())
	assert.False(t, c.LoggedIn())
}

func TestPingAndUsers(t *testing.T) {
	pong := protocol.Success("")
	pong.Message = "pong"
	users := protocol.Success("")
	users.Users = []models.UserInfo{{Username: "admin", Role: "admin"}}
	rec := transporttest.New().Enqueue(protocol.OpPing, pong).Enqueue(protocol.OpUserList, users)
	c := loggedIn(t, rec)

	msg, err := c.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pong", msg)

	got, err := c.ListUsers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, users.Users, got)
}

func TestOperationsAreSerialized(t *testing.T) {
	slow := func(call transporttest.Call) transporttest.Reply {
		time.Sleep(2 * time.Millisecond)
		return transporttest.Reply{Response: protocol.Success("")}
	}
	rec := transporttest.New().
		Handle(protocol.OpDirList, slow).
		Handle(protocol.OpFileDelete, slow).
		Handle(protocol.OpFileCreate, slow)
	c := loggedIn(t, rec)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = c.Refresh(ctx)
		}()
		go func() {
			defer wg.Done()
			_ = c.SaveFile(ctx, "/a.txt", "x")
		}()
	}
	wg.Wait()

	assert.False(t, rec.Overlapped())
	ops := rec.Ops()
	assert.Len(t, ops, 12)
	for i, op := range ops {
		if op == protocol.OpFileDelete {
			require.Less(t, i+1, len(ops))
			assert.Equal(t, protocol.OpFileCreate, ops[i+1], "create follows its delete")
		}
	}
}

func TestGettersDoNotBlockOnOperation(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	rec := transporttest.New().Handle(protocol.OpDirList, func(transporttest.Call) transporttest.Reply {
		close(started)
		<-release
		return transporttest.Reply{Response: transporttest.Listing()}
	})
	c := loggedIn(t, rec)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.ListDirectory(context.Background(), "/docs")
	}()
	<-started

	assert.Equal(t, "/", c.Location())
	assert.True(t, c.LoggedIn())
	_ = c.State()

	close(release)
	<-done
	assert.Equal(t, "/docs", c.Location())
}
