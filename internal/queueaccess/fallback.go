package queueaccess

import (
	"fmt"

	"capstan/internal/ipc"
	"capstan/internal/queue"
)

// Session bundles an Access with the cleanup for its backing resource.
type Session struct {
	Access Access

	close func() error
}

// Close releases the IPC connection or store behind the session.
func (s *Session) Close() error {
	if s != nil && s.close != nil {
		return s.close()
	}
	return nil
}

// OpenWithFallback connects to the daemon socket and, when that fails for
// any reason, opens the queue database directly so queue commands keep
// working while the daemon is down.
func OpenWithFallback(dial func() (*ipc.Client, error), openStore func() (*queue.Store, error)) (*Session, error) {
	client, err := dial()
	if err == nil {
		return &Session{Access: NewIPCAccess(client), close: client.Close}, nil
	}

	store, err := openStore()
	if err != nil {
		return nil, fmt.Errorf("open queue store: %w", err)
	}
	return &Session{Access: NewStoreAccess(store), close: store.Close}, nil
}
