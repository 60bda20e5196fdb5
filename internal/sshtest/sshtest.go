// Package sshtest runs an in-process SSH server so tests can exercise
// the real OpenSSH client binaries against localhost. Exec requests are
// executed locally through sh, and the SFTP subsystem is served for
// clients that copy over SFTP.
package sshtest

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"sync"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

type exitStatusMsg struct {
	Status uint32
}

type execMsg struct {
	Command string
}

// Server is an in-process SSH server bound to a random localhost port.
type Server struct {
	Addr string
	Port uint16

	listener net.Listener
	config   *ssh.ServerConfig

	mu     sync.Mutex
	closed bool
}

// New starts a server accepting any client (no authentication) on
// 127.0.0.1. Callers must Close it.
func New() (*Server, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	config := &ssh.ServerConfig{NoClientAuth: true}
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		listener.Close()
		return nil, err
	}
	hostKey, err := ssh.NewSignerFromKey(key)
	if err != nil {
		listener.Close()
		return nil, err
	}
	config.AddHostKey(hostKey)

	port := listener.Addr().(*net.TCPAddr).Port
	s := &Server{
		Addr:     listener.Addr().String(),
		Port:     uint16(port),
		listener: listener,
		config:   config,
	}

	go s.serve()
	return s, nil
}

// PortString returns the listen port in string form.
func (s *Server) PortString() string {
	return strconv.Itoa(int(s.Port))
}

// Close stops accepting connections.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.listener.Close()
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			continue
		}

		go func() {
			_, channels, requests, err := ssh.NewServerConn(conn, s.config)
			if err != nil {
				conn.Close()
				return
			}
			go ssh.DiscardRequests(requests)
			for newChannel := range channels {
				go handleChannel(newChannel)
			}
		}()
	}
}

func handleChannel(newChannel ssh.NewChannel) {
	if newChannel.ChannelType() != "session" {
		newChannel.Reject(ssh.UnknownChannelType, "only session channels are supported")
		return
	}

	channel, requests, err := newChannel.Accept()
	if err != nil {
		return
	}

	for req := range requests {
		switch req.Type {
		case "pty-req", "env":
			if req.WantReply {
				req.Reply(true, nil)
			}

		case "exec":
			var msg execMsg
			if err := ssh.Unmarshal(req.Payload, &msg); err != nil {
				req.Reply(false, nil)
				continue
			}
			if req.WantReply {
				req.Reply(true, nil)
			}
			go runExec(channel, msg.Command)

		case "subsystem":
			// Payload is a length-prefixed subsystem name.
			if len(req.Payload) < 4 || string(req.Payload[4:]) != "sftp" {
				req.Reply(false, nil)
				continue
			}
			if req.WantReply {
				req.Reply(true, nil)
			}
			go func() {
				defer channel.Close()
				server, err := sftp.NewServer(channel)
				if err != nil {
					return
				}
				server.Serve()
				// scp in SFTP mode checks the session status like any
				// other remote command. Send it before Close: closing
				// the sftp server closes the channel underneath it.
				channel.SendRequest("exit-status", false, ssh.Marshal(&exitStatusMsg{Status: 0}))
				channel.CloseWrite()
				server.Close()
			}()

		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// runExec executes the requested command locally and relays its exit
// status the way a real sshd does.
func runExec(channel ssh.Channel, command string) {
	defer channel.Close()

	cmd := exec.Command("sh", "-c", command)
	cmd.Stdin = channel
	cmd.Stdout = channel
	cmd.Stderr = channel.Stderr()

	status := uint32(0)
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			status = uint32(exitErr.ExitCode())
		} else {
			fmt.Fprintf(channel.Stderr(), "exec failed: %v\n", err)
			status = 127
		}
	}

	channel.SendRequest("exit-status", false, ssh.Marshal(&exitStatusMsg{Status: status}))
	channel.CloseWrite()
}
