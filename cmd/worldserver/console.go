package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/wildlands/internal/game/engine"
	"github.com/cory-johannsen/wildlands/internal/game/session"
)

// console lets a single local player explore the world from a terminal.
// "quit" ends the session and "@reset" wipes the world.
type console struct {
	eng      *engine.Engine
	sessions *session.Manager
	in       io.Reader
	out      io.Writer
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func newConsole(eng *engine.Engine, sessions *session.Manager, in io.Reader, out io.Writer, logger *zap.Logger) *console {
	ctx, cancel := context.WithCancel(context.Background())
	return &console{
		eng:      eng,
		sessions: sessions,
		in:       in,
		out:      out,
		logger:   logger.Named("console"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start implements server.Service. It returns when input ends, the player
// quits, or Stop is called.
func (c *console) Start() error {
	uid := uuid.NewString()
	out, err := c.eng.Join(c.ctx, uid, "Wanderer")
	if err != nil {
		return fmt.Errorf("joining console player: %w", err)
	}
	c.print(uid, out)

	defer c.Stop()
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-c.ctx.Done():
				return
			}
		}
	}()

	defer func() {
		if err := c.eng.Leave(context.Background(), uid); err != nil {
			c.logger.Warn("leaving console player", zap.Error(err))
		}
	}()
	for {
		fmt.Fprint(c.out, "> ")
		var line string
		var ok bool
		select {
		case <-c.ctx.Done():
			return nil
		case line, ok = <-lines:
			if !ok {
				return nil
			}
		}

		switch strings.TrimSpace(line) {
		case "":
			continue
		case "quit":
			fmt.Fprintln(c.out, "Farewell.")
			return nil
		case "@reset":
			if err := c.eng.ResetWorld(c.ctx); err != nil {
				return err
			}
			c.drain(uid)
			continue
		}

		out, err := c.eng.ProcessAction(c.ctx, uid, line)
		if err != nil {
			return err
		}
		c.print(uid, out)
	}
}

// Stop implements server.Service.
func (c *console) Stop() { c.once.Do(c.cancel) }

func (c *console) print(uid string, out *engine.Outcome) {
	if out != nil {
		fmt.Fprintln(c.out, out.Message)
	}
	c.drain(uid)
}

func (c *console) drain(uid string) {
	mb, ok := c.sessions.Mailbox(uid)
	if !ok {
		return
	}
	for _, n := range mb.Drain() {
		fmt.Fprintf(c.out, "* %s\n", n.Text)
	}
}
