package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"capstan/internal/config"
	"capstan/internal/ipc"
	"capstan/internal/queue"
	"capstan/internal/queueaccess"
)

type commandContext struct {
	socketFlag *string
	configFlag *string
	jsonFlag   *bool

	configOnce sync.Once
	configErr  error
	config     *config.Config
}

func newCommandContext(socketFlag, configFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{socketFlag: socketFlag, configFlag: configFlag, jsonFlag: jsonFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		c.config, c.configErr = loadCommandConfig(c.configFlag)
	})
	return c.config, c.configErr
}

func loadCommandConfig(flag *string) (*config.Config, error) {
	path := ""
	if flag != nil {
		path = strings.TrimSpace(*flag)
	}
	cfg, _, _, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

func (c *commandContext) JSONMode() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

// writeJSON encodes v as indented JSON on the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	out := json.NewEncoder(cmd.OutOrStdout())
	out.SetIndent("", "  ")
	return out.Encode(v)
}

func (c *commandContext) socketPath() string {
	flag := c.socketFlag
	if flag == nil {
		return defaultSocketPath()
	}
	if strings.TrimSpace(*flag) == "" {
		*flag = defaultSocketPath()
	}
	return *flag
}

func (c *commandContext) withClient(fn func(*ipc.Client) error) error {
	cl, err := c.dialClient()
	if err != nil {
		return err
	}
	defer cl.Close()
	return fn(cl)
}

func (c *commandContext) dialClient() (*ipc.Client, error) {
	socket := c.socketPath()
	cl, err := ipc.Dial(socket)
	if err != nil {
		return nil, wrapDialError(err, socket)
	}
	return cl, nil
}

// withQueue runs fn against the daemon when it answers and falls back to
// opening the queue database directly, so queue commands work while the
// daemon is down.
func (c *commandContext) withQueue(ctx context.Context, fn func(context.Context, queueaccess.Access) error) error {
	session, err := queueaccess.OpenWithFallback(
		func() (*ipc.Client, error) { return ipc.Dial(c.socketPath()) },
		func() (*queue.Store, error) {
			cfg, err := c.ensureConfig()
			if err != nil {
				return nil, err
			}
			return queue.Open(cfg)
		},
	)
	if err != nil {
		return err
	}
	defer session.Close()
	return fn(ctx, session.Access)
}

func wrapDialError(err error, socket string) error {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("connect to daemon: socket %s refused the connection; verify the daemon is running", socket)
	case errors.Is(err, syscall.ENOENT) || os.IsNotExist(err):
		return fmt.Errorf("connect to daemon: socket %s not found; start the daemon with `capstan start`", socket)
	default:
		return fmt.Errorf("connect to daemon: %w", err)
	}
}

func defaultSocketPath() string {
	if cfg, _, _, err := config.Load(""); err == nil {
		return filepath.Join(cfg.Paths.LogDir, "capstan.sock")
	}
	logDir, err := config.ExpandPath("~/.local/share/capstan/logs")
	if err != nil {
		return filepath.Join(os.TempDir(), "capstan.sock")
	}
	return filepath.Join(logDir, "capstan.sock")
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for cur := cmd; cur != nil; cur = cur.Parent() {
		if cur.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
