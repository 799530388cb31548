package workspace

import (
	"context"
	"errors"

	"github.com/ahmad-cheema/file-verse/internal/logging"
	"github.com/ahmad-cheema/file-verse/internal/metrics"
	"github.com/ahmad-cheema/file-verse/pkg/events"
	"github.com/ahmad-cheema/file-verse/pkg/protocol"
	"github.com/ahmad-cheema/file-verse/pkg/retry"
	"github.com/ahmad-cheema/file-verse/pkg/session"
	"github.com/ahmad-cheema/file-verse/pkg/transport"
)

// SaveFile replaces the content of a file. The API has no update, so this
// is file_delete followed by file_create, never overlapped.
//
// A delete rejected by the server (the file may not exist yet) does not
// stop the create. A delete lost in transport or ended by session expiry
// does. Once the delete succeeded, transport failures of the create are
// retried with backoff; if the create still fails the error is a
// *PartialSaveError.
func (c *Client) SaveFile(ctx context.Context, nameOrPath, content string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.save(ctx, c.resolve(nameOrPath), content)
}

// SaveDocument saves new content to the open document.
func (c *Client) SaveDocument(ctx context.Context, content string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	doc, ok := c.Document()
	if !ok {
		return ErrNoDocument
	}
	return c.save(ctx, doc.Path, content)
}

func (c *Client) save(ctx context.Context, path, content string) (err error) {
	defer func() { recordSave(err) }()

	deleted := true
	if _, delErr := c.sess.Do(ctx, protocol.OpFileDelete, protocol.Fields{"path": path}); delErr != nil {
		if _, isAPI := protocol.AsAPIError(delErr); !isAPI || errors.Is(delErr, session.ErrSessionExpired) {
			return c.fail("save "+path, path, delErr)
		}
		logging.Debug("save: delete rejected, creating anyway",
			logging.String("path", path), logging.Err(delErr))
		deleted = false
	}

	if createErr := c.createForSave(ctx, path, content, deleted); createErr != nil {
		if !deleted {
			return c.fail("save "+path, path, createErr)
		}
		pe := &PartialSaveError{Path: path, Err: createErr}
		logging.Error("save lost file content", logging.String("path", path), logging.Err(createErr))
		c.publish(events.Event{Type: events.PartialSave, Action: "save " + path, Path: path, Error: pe.Error()})
		return pe
	}

	c.docMu.Lock()
	if c.doc != nil && c.doc.Path == path {
		c.doc.Content = content
	}
	c.docMu.Unlock()

	c.publish(events.Event{Type: events.DocumentSaved, Path: path})
	return nil
}

// createForSave sends file_create. Retries happen only when the delete
// succeeded and the failure was in transport; a retried create that finds
// the file already present reads it back, since the lost reply may have
// belonged to a create that did land.
func (c *Client) createForSave(ctx context.Context, path, content string, deleted bool) error {
	cfg := retry.Once()
	if deleted {
		cfg = c.saveRetry
	}
	cfg.OnRetry = func(attempt int, err error) {
		metrics.RecordSaveRecoveryAttempt()
		logging.Warn("save: retrying create",
			logging.String("path", path), logging.Int("attempt", attempt), logging.Err(err))
	}

	attempt := 0
	return retry.Do(ctx, cfg, func() error {
		attempt++
		_, err := c.sess.Do(ctx, protocol.OpFileCreate, protocol.Fields{"path": path, "data": content})
		if err == nil {
			return nil
		}
		if _, ok := transport.AsTransportError(err); ok {
			return retry.Retryable(err)
		}
		if apiErr, ok := protocol.AsAPIError(err); ok && attempt > 1 && apiErr.Reason == protocol.ErrKindExists {
			return c.confirmContent(ctx, path, content, err)
		}
		return err
	})
}

func (c *Client) confirmContent(ctx context.Context, path, content string, createErr error) error {
	resp, err := c.sess.Do(ctx, protocol.OpFileRead, protocol.Fields{"path": path})
	if err != nil || resp.Body() != content {
		return createErr
	}
	return nil
}
