// Package cli implements the interactive operator console of the login
// server.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/loginserver/internal/config"
	"github.com/energizer-project/loginserver/internal/db"
	"github.com/energizer-project/loginserver/internal/player"
)

// Clients is the view of connected players the console needs.
type Clients interface {
	Players() []player.Snapshot
	Player(id uint32) (player.Snapshot, bool)
	Kick(id uint32) error
}

// Sessions lists recorded sessions.
type Sessions interface {
	Recent(ctx context.Context, limit int) ([]db.Session, error)
}

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg      *config.Config
	clients  Clients
	sessions Sessions
	shutdown func()

	in  io.Reader
	out io.Writer
}

// NewCLI creates a console reading commands from in and writing to out.
// shutdown is called by the quit command. sessions may be nil.
func NewCLI(cfg *config.Config, clients Clients, sessions Sessions, shutdown func(), in io.Reader, out io.Writer) *CLI {
	return &CLI{
		cfg:      cfg,
		clients:  clients,
		sessions: sessions,
		shutdown: shutdown,
		in:       in,
		out:      out,
	}
}

// Start reads commands until EOF or ctx is cancelled.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nLogin server console ready. Type 'help' for available commands.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.Warn().Err(err).Msg("CLI: input error, console disabled")
		}
	}()

	for {
		fmt.Fprint(c.out, "login> ")

		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			parts := strings.Fields(line)
			if len(parts) == 0 {
				continue
			}
			if err := c.execute(ctx, strings.ToLower(parts[0]), parts[1:]); err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
			}
		}
	}
}

// execute processes a single command.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		return c.printStatus(args)
	case "kick", "k":
		return c.cmdKick(args)
	case "motd":
		return c.cmdMOTD(args)
	case "sessions":
		return c.printSessions(ctx, args)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down login server...")
		if c.shutdown != nil {
			c.shutdown()
		}
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, `
  status [id]      Show connected clients, or one client in detail
  kick <id>        Close a client connection
  motd [text]      Show or set the message of the day
  sessions [n]     Show the last n recorded sessions
  quit             Shut down the login server
  help             Show this help message`)
}

func (c *CLI) printStatus(args []string) error {
	if len(args) > 0 {
		id, err := parseClientID(args)
		if err != nil {
			return err
		}
		snap, ok := c.clients.Player(id)
		if !ok {
			return fmt.Errorf("client %d not found", id)
		}
		c.printClientDetail(snap)
		return nil
	}

	players := c.clients.Players()

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"ID", "Address", "State", "Login", "Last Seq", "Requests", "Connected"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, p := range players {
		tw.Append([]string{
			strconv.FormatUint(uint64(p.ID), 10),
			fmt.Sprintf("%s:%d", p.IP, p.Port),
			p.State,
			p.LoginName,
			strconv.FormatUint(uint64(p.LastSequence), 10),
			strconv.FormatUint(p.Requests, 10),
			time.Since(p.ConnectedAt).Truncate(time.Second).String(),
		})
	}
	tw.SetFooter([]string{"", "", "", "", "", "Total", strconv.Itoa(len(players))})
	tw.Render()
	return nil
}

func (c *CLI) printClientDetail(p player.Snapshot) {
	fmt.Fprintf(c.out, "\n  Client ID:     %d\n", p.ID)
	fmt.Fprintf(c.out, "  Address:       %s:%d\n", p.IP, p.Port)
	fmt.Fprintf(c.out, "  State:         %s\n", p.State)
	fmt.Fprintf(c.out, "  Login:         %s\n", p.LoginName)
	fmt.Fprintf(c.out, "  Display name:  %s\n", p.DisplayName)
	fmt.Fprintf(c.out, "  Tag:           %s\n", p.Tag)
	fmt.Fprintf(c.out, "  Authenticated: %v\n", p.Authenticated)
	fmt.Fprintf(c.out, "  Last sequence: %d\n", p.LastSequence)
	fmt.Fprintf(c.out, "  Connected at:  %s\n\n", p.ConnectedAt.Format(time.RFC3339))
}

func (c *CLI) cmdKick(args []string) error {
	id, err := parseClientID(args)
	if err != nil {
		return err
	}
	if err := c.clients.Kick(id); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Client %d kicked\n", id)
	return nil
}

func (c *CLI) cmdMOTD(args []string) error {
	if len(args) == 0 {
		fmt.Fprintf(c.out, "MOTD: %s\n", c.cfg.GetServerInfo().MOTD)
		return nil
	}

	c.cfg.SetMOTD(strings.Join(args, " "))
	if err := c.cfg.Save(); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	fmt.Fprintln(c.out, "MOTD updated")
	return nil
}

func (c *CLI) printSessions(ctx context.Context, args []string) error {
	if c.sessions == nil {
		return fmt.Errorf("session history is disabled")
	}

	limit := 20
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid count: %s", args[0])
		}
		limit = n
	}

	sessions, err := c.sessions.Recent(ctx, limit)
	if err != nil {
		return err
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Session", "Client", "Address", "Login", "Final State", "Messages", "Duration"})
	tw.SetBorder(true)

	for _, s := range sessions {
		duration := "open"
		if s.DisconnectedAt != nil {
			duration = s.DisconnectedAt.Sub(s.ConnectedAt).Truncate(time.Second).String()
		}
		tw.Append([]string{
			strconv.FormatInt(s.ID, 10),
			strconv.FormatUint(uint64(s.ClientID), 10),
			fmt.Sprintf("%s:%d", s.IP, s.Port),
			s.LoginName,
			s.FinalState,
			strconv.FormatUint(s.Messages, 10),
			duration,
		})
	}
	tw.Render()
	return nil
}

func parseClientID(args []string) (uint32, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("client id required")
	}
	id, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid client id: %s", args[0])
	}
	return uint32(id), nil
}
