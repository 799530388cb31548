// Package devserver is an in-memory reference implementation of the remote
// file API. It speaks the same envelopes over HTTP, newline-delimited TCP
// and WebSocket.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ahmad-cheema/file-verse/internal/logging"
	"github.com/ahmad-cheema/file-verse/internal/metrics"
	"github.com/ahmad-cheema/file-verse/pkg/protocol"
)

// Config holds dev server configuration.
type Config struct {
	JWTSecret     string        // random per process if empty
	SessionTTL    time.Duration // default 30m
	AdminUser     string
	AdminPassword string // no admin account if empty
	BcryptCost    int    // 0 uses bcrypt.DefaultCost
}

// Server dispatches envelopes against a Store.
type Server struct {
	store    *Store
	users    *Users
	sessions *Sessions
	ops      map[protocol.Operation]operation

	lines lineConns
}

type operation struct {
	auth bool
	fn   func(req *protocol.Request, who Principal) (*protocol.Response, error)
}

// New creates a server with an empty tree.
func New(cfg Config) (*Server, error) {
	secret := cfg.JWTSecret
	if secret == "" {
		var err error
		if secret, err = randomHex(32); err != nil {
			return nil, err
		}
		logging.Warn("no jwt secret configured, using a random one")
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}

	s := &Server{
		store:    NewStore(),
		users:    newUsers(cfg.BcryptCost),
		sessions: newSessions([]byte(secret), ttl),
	}
	s.ops = map[protocol.Operation]operation{
		protocol.OpPing:       {fn: s.ping},
		protocol.OpUserCreate: {fn: s.userCreate},
		protocol.OpUserLogin:  {fn: s.userLogin},
		protocol.OpUserList:   {auth: true, fn: s.userList},
		protocol.OpDirList:    {auth: true, fn: s.dirList},
		protocol.OpDirCreate:  {auth: true, fn: s.dirCreate},
		protocol.OpFileCreate: {auth: true, fn: s.fileCreate},
		protocol.OpFileRead:   {auth: true, fn: s.fileRead},
		protocol.OpFileDelete: {auth: true, fn: s.fileDelete},
	}

	if cfg.AdminPassword != "" {
		admin := cfg.AdminUser
		if admin == "" {
			admin = "admin"
		}
		if err := s.users.Create(admin, cfg.AdminPassword, RoleAdmin); err != nil {
			s.Close()
			return nil, fmt.Errorf("create admin: %w", err)
		}
	}
	return s, nil
}

// Close stops background work and drops line connections.
func (s *Server) Close() {
	s.sessions.close()
	s.lines.closeAll()
}

// Store returns the file tree.
func (s *Server) Store() *Store { return s.store }

// Users returns the account table.
func (s *Server) Users() *Users { return s.users }

// Sessions returns the session table.
func (s *Server) Sessions() *Sessions { return s.sessions }

// Handle answers one encoded envelope with one encoded reply. It never
// fails: undecodable input gets an invalid_request reply.
func (s *Server) Handle(ctx context.Context, raw []byte) []byte {
	var req protocol.Request
	var resp *protocol.Response
	if err := json.Unmarshal(raw, &req); err != nil {
		resp = protocol.Failure("", protocol.ErrKindInvalidRequest)
	} else {
		resp = s.dispatch(&req)
		resp.RequestID = req.RequestID
	}

	metrics.RecordServerRequest(string(req.Operation), resp.Status)
	logging.WithContext(logging.WithRequestID(ctx, req.RequestID)).Debug("envelope handled",
		logging.String("operation", string(req.Operation)),
		logging.String("status", resp.Status),
		logging.String("error", resp.Error),
	)

	out, err := json.Marshal(resp)
	if err != nil {
		out, _ = json.Marshal(protocol.Failure(req.RequestID, "internal_error"))
	}
	return out
}

func (s *Server) dispatch(req *protocol.Request) *protocol.Response {
	op, ok := s.ops[req.Operation]
	if !ok {
		return protocol.Failure("", string(errUnknownOperation))
	}

	var who Principal
	if op.auth {
		if who, ok = s.sessions.Lookup(req.Token); !ok {
			return protocol.Failure("", string(errInvalidSession))
		}
	}

	resp, err := op.fn(req, who)
	if err != nil {
		var kind Error
		if errors.As(err, &kind) {
			return protocol.Failure("", string(kind))
		}
		logging.Error("operation failed", logging.String("operation", string(req.Operation)), logging.Err(err))
		return protocol.Failure("", "internal_error")
	}
	return resp
}

func pathField(req *protocol.Request) (string, error) {
	p := req.Fields.String("path")
	if p == "" {
		return "", errInvalidRequest
	}
	return p, nil
}

func (s *Server) ping(*protocol.Request, Principal) (*protocol.Response, error) {
	resp := protocol.Success("")
	resp.Message = "pong"
	return resp, nil
}

func (s *Server) userCreate(req *protocol.Request, _ Principal) (*protocol.Response, error) {
	err := s.users.Create(req.Fields.String("username"), req.Fields.String("password"), req.Fields.String("role"))
	if err != nil {
		return nil, err
	}
	return protocol.Success(""), nil
}

func (s *Server) userLogin(req *protocol.Request, _ Principal) (*protocol.Response, error) {
	username := req.Fields.String("username")
	role, err := s.users.Verify(username, req.Fields.String("password"))
	if err != nil {
		return nil, err
	}
	token, err := s.sessions.Issue(Principal{Username: username, Role: role})
	if err != nil {
		return nil, err
	}
	logging.Info("login successful", logging.String("username", username))

	resp := protocol.Success("")
	resp.Token = token
	return resp, nil
}

func (s *Server) userList(_ *protocol.Request, who Principal) (*protocol.Response, error) {
	if who.Role != RoleAdmin {
		return nil, errPermissionDenied
	}
	resp := protocol.Success("")
	resp.Users = s.users.List()
	return resp, nil
}

func (s *Server) dirList(req *protocol.Request, _ Principal) (*protocol.Response, error) {
	p, err := pathField(req)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.List(p)
	if err != nil {
		return nil, err
	}
	resp := protocol.Success("")
	resp.Entries = entries
	return resp, nil
}

func (s *Server) dirCreate(req *protocol.Request, _ Principal) (*protocol.Response, error) {
	p, err := pathField(req)
	if err != nil {
		return nil, err
	}
	if err := s.store.Mkdir(p); err != nil {
		return nil, err
	}
	return protocol.Success(""), nil
}

func (s *Server) fileCreate(req *protocol.Request, _ Principal) (*protocol.Response, error) {
	p, err := pathField(req)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateFile(p, req.Fields.String("data")); err != nil {
		return nil, err
	}
	return protocol.Success(""), nil
}

func (s *Server) fileRead(req *protocol.Request, _ Principal) (*protocol.Response, error) {
	p, err := pathField(req)
	if err != nil {
		return nil, err
	}
	content, err := s.store.ReadFile(p)
	if err != nil {
		return nil, err
	}
	resp := protocol.Success("")
	resp.Content = content
	return resp, nil
}

func (s *Server) fileDelete(req *protocol.Request, _ Principal) (*protocol.Response, error) {
	p, err := pathField(req)
	if err != nil {
		return nil, err
	}
	if err := s.store.DeleteFile(p); err != nil {
		return nil, err
	}
	return protocol.Success(""), nil
}
