// Package workspace is the client model of a remote file store: it keeps the
// session, the current directory, a snapshot of that directory and the open
// document consistent with the replies of the remote API.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ahmad-cheema/file-verse/internal/logging"
	"github.com/ahmad-cheema/file-verse/internal/metrics"
	"github.com/ahmad-cheema/file-verse/pkg/cache"
	"github.com/ahmad-cheema/file-verse/pkg/events"
	"github.com/ahmad-cheema/file-verse/pkg/location"
	"github.com/ahmad-cheema/file-verse/pkg/models"
	"github.com/ahmad-cheema/file-verse/pkg/protocol"
	"github.com/ahmad-cheema/file-verse/pkg/retry"
	"github.com/ahmad-cheema/file-verse/pkg/session"
	"github.com/ahmad-cheema/file-verse/pkg/transport"
)

// Config holds client configuration.
type Config struct {
	// SaveRetry bounds the create retries after the delete half of a save
	// succeeded. Zero MaxAttempts uses retry.DefaultConfig.
	SaveRetry retry.Config

	// CallTimeout is the per-envelope deadline used by Dial.
	CallTimeout time.Duration

	// Events receives state changes. A new broadcaster is made if nil.
	Events *events.Broadcaster
}

// State is a consistent copy of everything a view renders.
type State struct {
	Session  models.Session
	Location string
	Entries  []models.Entry
	Document *models.Document
}

// Client is one workspace: one session, one location, one directory
// snapshot, at most one open document. Operations are serialized.
type Client struct {
	sess      *session.Manager
	loc       *location.Location
	cache     *cache.Cache
	events    *events.Broadcaster
	saveRetry retry.Config
	closer    io.Closer

	opMu sync.Mutex

	docMu sync.RWMutex
	doc   *models.Document
}

type tokenSink interface {
	SetTokenSource(transport.TokenSource)
}

// New creates a client that sends through sender. If the sender accepts a
// token source (as *transport.Envelope does), the session is wired into it.
func New(sender transport.Sender, cfg Config) *Client {
	if cfg.SaveRetry.MaxAttempts == 0 {
		cfg.SaveRetry = retry.DefaultConfig()
	}
	if cfg.Events == nil {
		cfg.Events = events.NewBroadcaster()
	}

	c := &Client{
		sess:      session.New(sender),
		loc:       location.New(),
		cache:     cache.New(),
		events:    cfg.Events,
		saveRetry: cfg.SaveRetry,
	}
	if sink, ok := sender.(tokenSink); ok {
		sink.SetTokenSource(c.sess)
	}
	c.sess.OnExpired(c.handleExpired)
	return c
}

// Dial creates a client for an endpoint URL (http, https, ws, wss or tcp).
func Dial(endpoint string, cfg Config) (*Client, error) {
	wire, err := transport.NewWire(endpoint)
	if err != nil {
		return nil, err
	}
	env := transport.New(transport.Config{Wire: wire, CallTimeout: cfg.CallTimeout})
	c := New(env, cfg)
	c.closer = env
	return c, nil
}

// Close releases the connection of a dialed client.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// Events returns the broadcaster state changes are published on.
func (c *Client) Events() *events.Broadcaster {
	return c.events
}

// Session returns the current session.
func (c *Client) Session() models.Session {
	return c.sess.Current()
}

// LoggedIn reports whether a session is held.
func (c *Client) LoggedIn() bool {
	return c.sess.LoggedIn()
}

// Location returns the current directory.
func (c *Client) Location() string {
	return c.loc.Current()
}

// Entries returns the snapshot of the current directory in server order.
func (c *Client) Entries() []models.Entry {
	return c.cache.List()
}

// Lookup finds an entry of the current snapshot by literal or display name.
func (c *Client) Lookup(name string) (models.Entry, bool) {
	return c.cache.Lookup(name)
}

// Document returns the open document, if any.
func (c *Client) Document() (models.Document, bool) {
	c.docMu.RLock()
	defer c.docMu.RUnlock()
	if c.doc == nil {
		return models.Document{}, false
	}
	return *c.doc, true
}

// State returns a copy of the whole view state.
func (c *Client) State() State {
	st := State{
		Session:  c.sess.Current(),
		Location: c.loc.Current(),
		Entries:  c.cache.List(),
	}
	if doc, ok := c.Document(); ok {
		st.Document = &doc
	}
	return st
}

// Login authenticates. Logging in as a different user starts from the root
// with an empty snapshot.
func (c *Client) Login(ctx context.Context, username, password string) (models.Session, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.login(ctx, username, password)
}

func (c *Client) login(ctx context.Context, username, password string) (models.Session, error) {
	prev := c.sess.Current()
	s, err := c.sess.Login(ctx, username, password)
	if err != nil {
		return models.Session{}, c.fail("login", "", err)
	}
	if prev.Username != s.Username {
		c.resetWorkspace()
	}
	c.publish(events.Event{Type: events.LoggedIn, Username: s.Username})
	return s, nil
}

// Signup creates an account and then logs in with it, since account
// creation returns no token.
func (c *Client) Signup(ctx context.Context, username, password, role string) (models.Session, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.sess.Signup(ctx, username, password, role); err != nil {
		return models.Session{}, c.fail("signup", "", err)
	}
	return c.login(ctx, username, password)
}

// Logout drops the session and all workspace state. No call is made.
func (c *Client) Logout() {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	user := c.sess.Current().Username
	c.sess.Logout()
	c.resetWorkspace()
	c.publish(events.Event{Type: events.LoggedOut, Username: user})
}

// handleExpired runs inside whatever operation received invalid_session.
func (c *Client) handleExpired(prev models.Session) {
	c.resetWorkspace()
	if prev.Valid() {
		c.publish(events.Event{Type: events.SessionExpired, Username: prev.Username})
	}
}

func (c *Client) resetWorkspace() {
	c.loc.Reset()
	c.cache.Clear()
	c.setDocument(nil)
}

// ListDirectory lists an absolute path. On success the snapshot is replaced
// and the location moves there; moving to another directory closes the open
// document. On failure nothing changes.
func (c *Client) ListDirectory(ctx context.Context, path string) (models.Listing, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.listDirectory(ctx, path)
}

func (c *Client) listDirectory(ctx context.Context, path string) (models.Listing, error) {
	dir := location.Normalize(path)
	resp, err := c.sess.Do(ctx, protocol.OpDirList, protocol.Fields{"path": dir})
	if err != nil {
		return models.Listing{}, c.fail("list "+dir, dir, err)
	}

	entries := resp.EntryList()
	if dir != c.loc.Current() {
		c.closeDocument()
	}
	c.cache.Replace(dir, entries)
	c.loc.Navigate(dir)

	c.publish(events.Event{Type: events.DirectoryListed, Path: dir})
	return models.Listing{Path: dir, Entries: entries}, nil
}

// Refresh lists the current directory again.
func (c *Client) Refresh(ctx context.Context) (models.Listing, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.listDirectory(ctx, c.loc.Current())
}

// ChangeDirectory resolves name against the location ("..", "." and
// absolute paths included) and lists the result.
func (c *Client) ChangeDirectory(ctx context.Context, name string) (models.Listing, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	var target string
	switch name {
	case "", ".":
		target = c.loc.Current()
	case "..":
		target = location.Parent(c.loc.Current())
	default:
		target = c.resolve(name)
	}
	return c.listDirectory(ctx, target)
}

// Browse lists a directory without moving the location or touching the
// snapshot.
func (c *Client) Browse(ctx context.Context, nameOrPath string) (models.Listing, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	dir := c.resolve(nameOrPath)
	resp, err := c.sess.Do(ctx, protocol.OpDirList, protocol.Fields{"path": dir})
	if err != nil {
		return models.Listing{}, c.fail("browse "+dir, dir, err)
	}
	return models.Listing{Path: dir, Entries: resp.EntryList()}, nil
}

// OpenFile reads a file and makes it the open document.
func (c *Client) OpenFile(ctx context.Context, nameOrPath string) (models.Document, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	path := c.resolve(nameOrPath)
	resp, err := c.sess.Do(ctx, protocol.OpFileRead, protocol.Fields{"path": path})
	if err != nil {
		return models.Document{}, c.fail("open "+path, path, err)
	}

	doc := models.Document{Path: path, Content: resp.Body()}
	c.setDocument(&doc)
	c.publish(events.Event{Type: events.DocumentOpened, Path: path})
	return doc, nil
}

// CloseFile closes the open document, if any.
func (c *Client) CloseFile() {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.closeDocument()
}

// CreateFile creates a file and returns its absolute path. The snapshot is
// not updated; call Refresh to see the new entry.
func (c *Client) CreateFile(ctx context.Context, nameOrPath, content string) (string, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	path := c.resolve(nameOrPath)
	if _, err := c.sess.Do(ctx, protocol.OpFileCreate, protocol.Fields{"path": path, "data": content}); err != nil {
		return "", c.fail("create file "+path, path, err)
	}
	c.publish(events.Event{Type: events.EntryCreated, Path: path})
	return path, nil
}

// CreateDirectory creates a directory and returns its absolute path. The
// snapshot is not updated.
func (c *Client) CreateDirectory(ctx context.Context, nameOrPath string) (string, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	path := c.resolve(nameOrPath)
	if _, err := c.sess.Do(ctx, protocol.OpDirCreate, protocol.Fields{"path": path}); err != nil {
		return "", c.fail("create directory "+path, path, err)
	}
	c.publish(events.Event{Type: events.EntryCreated, Path: path})
	return path, nil
}

// DeleteFile deletes a file. An open document for that path is closed.
func (c *Client) DeleteFile(ctx context.Context, nameOrPath string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	path := c.resolve(nameOrPath)
	if _, err := c.sess.Do(ctx, protocol.OpFileDelete, protocol.Fields{"path": path}); err != nil {
		return c.fail("delete "+path, path, err)
	}

	if doc, ok := c.Document(); ok && doc.Path == path {
		c.closeDocument()
	}
	c.publish(events.Event{Type: events.EntryDeleted, Path: path})
	return nil
}

// Ping asks the server for a liveness reply and returns its message.
func (c *Client) Ping(ctx context.Context) (string, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	resp, err := c.sess.Do(ctx, protocol.OpPing, nil)
	if err != nil {
		return "", c.fail("ping", "", err)
	}
	return resp.Message, nil
}

// ListUsers returns the accounts known to the server (admin only).
func (c *Client) ListUsers(ctx context.Context) ([]models.UserInfo, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	resp, err := c.sess.Do(ctx, protocol.OpUserList, nil)
	if err != nil {
		return nil, c.fail("list users", "", err)
	}
	return resp.Users, nil
}

// resolve turns a name or path into the normalized absolute path that is
// sent to the server and compared with the open document.
func (c *Client) resolve(nameOrPath string) string {
	return location.Normalize(c.loc.ResolveChild(nameOrPath))
}

func (c *Client) setDocument(doc *models.Document) {
	c.docMu.Lock()
	defer c.docMu.Unlock()
	c.doc = doc
}

func (c *Client) closeDocument() {
	c.docMu.Lock()
	doc := c.doc
	c.doc = nil
	c.docMu.Unlock()
	if doc != nil {
		c.publish(events.Event{Type: events.DocumentClosed, Path: doc.Path})
	}
}

func (c *Client) publish(e events.Event) {
	c.events.Publish(e)
}

// fail wraps err with the action that failed and reports it to the view.
func (c *Client) fail(action, path string, err error) error {
	c.publish(events.Event{Type: events.OperationFailed, Action: action, Path: path, Error: err.Error()})
	if !errors.Is(err, session.ErrSessionExpired) {
		logging.Debug("operation failed", logging.String("action", action), logging.Err(err))
	}
	return fmt.Errorf("%s: %w", action, err)
}

// recordSave keeps the save outcome metric in one place.
func recordSave(err error) {
	switch {
	case err == nil:
		metrics.RecordSave("success")
	case isPartial(err):
		metrics.RecordSave("partial")
	default:
		metrics.RecordSave("error")
	}
}

func isPartial(err error) bool {
	_, ok := AsPartialSave(err)
	return ok
}
