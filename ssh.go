package main

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net"
	"os"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/crypto/ssh"

	"gg.chat/session"
	"gg.chat/transcript"
)

const sshHelp = `Commands:
  /personality <name>   switch personality (e.g. /personality Humorous)
  /personalities        list personalities
  /reset                clear chat history
  /help                 show this help
  /quit                 leave
Press Ctrl-C while a reply is streaming to stop it.`

// sshServerConfig accepts any client: the chat is anonymous, like the web page
func (a *app) sshServerConfig() (*ssh.ServerConfig, error) {
	signer, err := loadHostKey(a.cfg.Server.SSHHostKey)
	if err != nil {
		return nil, err
	}
	config := &ssh.ServerConfig{
		NoClientAuth:  true,
		ServerVersion: "SSH-2.0-gg.chat",
	}
	config.AddHostKey(signer)
	return config, nil
}

// loadHostKey reads the host key at path. When path is set but missing, a
// new ed25519 key is generated and saved there so the fingerprint survives
// restarts; with no path the key lives only for this process.
func loadHostKey(path string) (ssh.Signer, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			signer, err := ssh.ParsePrivateKey(data)
			if err != nil {
				return nil, fmt.Errorf("parse SSH host key %s: %w", path, err)
			}
			return signer, nil
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("read SSH host key: %w", err)
		}
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate SSH host key: %w", err)
	}
	if path != "" {
		block, err := ssh.MarshalPrivateKey(priv, "gg.chat host key")
		if err != nil {
			return nil, fmt.Errorf("encode SSH host key: %w", err)
		}
		if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
			return nil, fmt.Errorf("write SSH host key: %w", err)
		}
		log.Printf("[SSH] Generated new host key at %s", path)
	} else {
		log.Printf("[SSH] No SSH_HOST_KEY set, using an ephemeral host key")
	}
	return ssh.NewSignerFromKey(priv)
}

// serveSSH accepts connections until ctx is done
func (a *app) serveSSH(ctx context.Context, port int) error {
	config, err := a.sshServerConfig()
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	log.Printf("[SSH] SSH server listening on :%d", port)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("[SSH] Accept failed: %v", err)
			continue
		}
		go a.handleSSHConn(ctx, conn, config)
	}
}

func (a *app) handleSSHConn(ctx context.Context, nConn net.Conn, config *ssh.ServerConfig) {
	defer nConn.Close()

	if !a.limiter.Allow(nConn.RemoteAddr().String()) {
		return
	}

	sconn, chans, reqs, err := ssh.NewServerConn(nConn, config)
	if err != nil {
		if debugMode {
			log.Printf("[SSH] Handshake with %s failed: %v", nConn.RemoteAddr(), err)
		}
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		sconn.Close()
	}()

	// One conversation per connection, shared by its channels.
	sess := a.newSession("ssh-"+generateRequestID(), surfaceSSH)
	log.Printf("[SSH] Session %s for %s (%s)", sess.ID(), sconn.RemoteAddr(), sconn.ClientVersion())

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			log.Printf("[SSH] Could not accept channel: %v", err)
			continue
		}
		go a.serveSSHChannel(ctx, sess, channel, requests)
	}
}

// serveSSHChannel waits for a shell or exec request and runs it
func (a *app) serveSSHChannel(ctx context.Context, sess *session.Session, channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()

	pty := false
	for req := range requests {
		switch req.Type {
		case "pty-req":
			pty = true
			req.Reply(true, nil)
		case "env", "window-change":
			req.Reply(true, nil)
		case "shell":
			req.Reply(true, nil)
			go ssh.DiscardRequests(requests)
			a.runSSHChat(ctx, sess, channel, pty)
			sendExitStatus(channel, 0)
			return
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			go ssh.DiscardRequests(requests)
			out := &sshSurface{w: channel, crlf: pty}
			if err := sess.Submit(ctx, out, payload.Command); err != nil {
				fmt.Fprintf(channel.Stderr(), "%v\n", err)
				sendExitStatus(channel, 1)
				return
			}
			sendExitStatus(channel, 0)
			return
		default:
			req.Reply(false, nil)
		}
	}
}

func sendExitStatus(channel ssh.Channel, code uint32) {
	status := struct{ Status uint32 }{code}
	channel.SendRequest("exit-status", false, ssh.Marshal(&status))
}

// runSSHChat is the interactive loop of one shell
func (a *app) runSSHChat(ctx context.Context, sess *session.Session, channel ssh.Channel, pty bool) {
	term := newSSHTerminal(channel, pty)
	defer term.Close()
	out := &sshSurface{w: channel, crlf: pty}

	out.Line("🎮 My Gaming AI Assistant")
	out.Line(fmt.Sprintf("Personality: %s %s (type /help for commands)", sess.Personality().Emoji, sess.Personality().Label))
	out.Line("")
	if welcome, ok := lastTurn(sess); ok {
		out.Line(welcome.Content)
		out.Line("")
	}

	for {
		out.Prompt()
		line, err := term.ReadLine()
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := a.sshCommand(sess, out, line); quit {
				out.Line("Bye! GG 🎮")
				return
			}
			continue
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := sess.Submit(ctx, out, line); err != nil {
				out.Line(err.Error())
			}
		}()
		if !term.WatchInterrupt(done, func() { sess.Cancel() }) {
			<-done
			return
		}
	}
}

// sshCommand runs a slash command and reports whether the user asked to leave
func (a *app) sshCommand(sess *session.Session, out *sshSurface, line string) bool {
	fields := strings.Fields(line)
	switch strings.ToLower(fields[0]) {
	case "/quit", "/exit":
		return true
	case "/help":
		out.Line(sshHelp)
	case "/personalities":
		active := sess.Personality().ID
		for _, p := range a.catalog.List() {
			marker := " "
			if p.ID == active {
				marker = "*"
			}
			out.Line(fmt.Sprintf("%s %s %-13s %s", marker, p.Emoji, p.ID, p.Description))
		}
	case "/personality":
		if len(fields) < 2 {
			out.Line("Usage: /personality <name>")
			return false
		}
		p, changed, err := sess.ChangePersonality(out, strings.Join(fields[1:], " "))
		if err != nil {
			out.Line(err.Error())
		} else if !changed {
			out.Line(fmt.Sprintf("Already talking as %s %s.", p.Emoji, p.Label))
		}
	case "/reset", "/clear":
		if err := sess.Reset(out); err != nil {
			out.Line(err.Error())
		}
	default:
		out.Line(fmt.Sprintf("Unknown command %s. Type /help for commands.", fields[0]))
	}
	return false
}

func lastTurn(sess *session.Session) (transcript.Turn, bool) {
	turns := sess.Snapshot()
	if len(turns) == 0 {
		return transcript.Turn{}, false
	}
	return turns[len(turns)-1], true
}

// sshSurface writes a session to a terminal. Partial replies are written
// as deltas so the text appears to stream.
type sshSurface struct {
	w    io.Writer
	crlf bool

	mu      sync.Mutex
	printed string
}

func (s *sshSurface) write(text string) {
	if s.crlf {
		text = strings.ReplaceAll(text, "\n", "\r\n")
	}
	io.WriteString(s.w, text)
}

func (s *sshSurface) Line(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.write(text + "\n")
}

func (s *sshSurface) Prompt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.write("> ")
}

func (s *sshSurface) RenderTurn(role transcript.Role, content string) {
	if role != transcript.RoleAssistant {
		// The terminal already shows what the user typed.
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.printed != "" && strings.HasPrefix(content, s.printed) {
		s.write(content[len(s.printed):] + "\n\n")
	} else {
		if s.printed != "" {
			s.write("\n")
		}
		s.write(content + "\n\n")
	}
	s.printed = ""
}

func (s *sshSurface) RenderPartial(cumulative string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.HasPrefix(cumulative, s.printed) {
		s.write(cumulative[len(s.printed):])
	} else {
		s.write("\n" + cumulative)
	}
	s.printed = cumulative
}

func (s *sshSurface) Notify(message string) {
	s.Line("* " + message)
}

func (s *sshSurface) ClearAndShow(welcome transcript.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.crlf {
		// Clear screen, cursor home.
		io.WriteString(s.w, "\x1b[2J\x1b[H")
	} else {
		s.write("--- chat history cleared ---\n")
	}
	s.write(welcome.Content + "\n\n")
}

// sshTerminal is a minimal line editor over an SSH channel: echo,
// backspace, Ctrl-C and Ctrl-D. Escape sequences are ignored.
type sshTerminal struct {
	ch    io.ReadWriter
	echo  bool
	input chan []byte
	done  chan struct{}
	once  sync.Once

	pending []byte
	lastCR  bool
	escape  int // 0 none, 1 after ESC, 2 inside CSI
}

func newSSHTerminal(ch io.ReadWriter, echo bool) *sshTerminal {
	t := &sshTerminal{ch: ch, echo: echo, input: make(chan []byte), done: make(chan struct{})}
	go t.pump()
	return t
}

func (t *sshTerminal) pump() {
	defer close(t.input)
	buf := make([]byte, 1024)
	for {
		n, err := t.ch.Read(buf)
		if n > 0 {
			select {
			case t.input <- append([]byte(nil), buf[:n]...):
			case <-t.done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (t *sshTerminal) Close() {
	t.once.Do(func() { close(t.done) })
}

func (t *sshTerminal) echoBytes(s string) {
	if t.echo {
		io.WriteString(t.ch, s)
	}
}

// ReadLine returns the next line, or io.EOF when the client hangs up or
// presses Ctrl-D on an empty line
func (t *sshTerminal) ReadLine() (string, error) {
	var line []byte
	for {
		for len(t.pending) > 0 {
			c := t.pending[0]
			t.pending = t.pending[1:]

			switch {
			case t.escape == 1:
				t.escape = 0
				if c == '[' || c == 'O' {
					t.escape = 2
				}
				continue
			case t.escape == 2:
				if c >= 0x40 && c <= 0x7e {
					t.escape = 0
				}
				continue
			}

			if c == '\n' && t.lastCR {
				t.lastCR = false
				continue
			}
			t.lastCR = c == '\r'

			switch c {
			case '\r', '\n':
				t.echoBytes("\r\n")
				return string(line), nil
			case 0x7f, 0x08:
				if len(line) > 0 {
					_, size := utf8.DecodeLastRune(line)
					line = line[:len(line)-size]
					t.echoBytes("\b \b")
				}
			case 0x03:
				t.echoBytes("^C\r\n")
				return "", nil
			case 0x04:
				if len(line) == 0 {
					return "", io.EOF
				}
			case 0x1b:
				t.escape = 1
			default:
				if c >= 0x20 || c == '\t' {
					line = append(line, c)
					t.echoBytes(string([]byte{c}))
				}
			}
		}

		b, ok := <-t.input
		if !ok {
			if len(line) > 0 {
				return string(line), nil
			}
			return "", io.EOF
		}
		t.pending = b
	}
}

// WatchInterrupt consumes input until done is closed, calling interrupt on
// Ctrl-C. Typed-ahead text is dropped. It returns false if the client went
// away first.
func (t *sshTerminal) WatchInterrupt(done <-chan struct{}, interrupt func()) bool {
	t.pending = nil
	for {
		select {
		case <-done:
			return true
		case b, ok := <-t.input:
			if !ok {
				interrupt()
				return false
			}
			if bytes.IndexByte(b, 0x03) >= 0 {
				interrupt()
			}
		}
	}
}
