package sftpx

import (
	"fmt"
	"net"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/pillarhealth/remit/remit-backend/internal/domain"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Uploader moves file bytes to a remote SFTP destination. The delivery
// engine depends on this interface so tests can substitute a fake transport.
type Uploader interface {
	Upload(cfg domain.SftpConfig, fileName string, content []byte) error
}

// Client is the production Uploader. Each upload opens a fresh session and
// closes it on every exit path.
type Client struct {
	Timeout         time.Duration
	InsecureHostKey bool
}

// NewClient returns a Client with the given per-session dial timeout.
// InsecureHostKey disables host-key checking; acceptable for dev endpoints
// only.
func NewClient(timeout time.Duration, insecureHostKey bool) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{Timeout: timeout, InsecureHostKey: insecureHostKey}
}

// Upload writes content to {cfg.Path}/{fileName} on the remote host.
func (c *Client) Upload(cfg domain.SftpConfig, fileName string, content []byte) error {
	sshCfg := &ssh.ClientConfig{
		User: cfg.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(cfg.Password),
		},
		Timeout: c.Timeout,
	}
	if c.InsecureHostKey {
		sshCfg.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	} else {
		hostKeys, err := knownhosts.New(filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts"))
		if err != nil {
			return fmt.Errorf("loading known_hosts: %w", err)
		}
		sshCfg.HostKeyCallback = hostKeys
	}

	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
	conn, err := ssh.Dial("tcp", addr, sshCfg)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", addr, err)
	}
	defer conn.Close()

	client, err := sftp.NewClient(conn)
	if err != nil {
		return fmt.Errorf("opening sftp session: %w", err)
	}
	defer client.Close()

	remotePath := path.Join(strings.TrimRight(cfg.Path, "/"), fileName)
	f, err := client.Create(remotePath)
	if err != nil {
		return fmt.Errorf("creating remote file %s: %w", remotePath, err)
	}
	defer f.Close()

	if _, err := f.Write(content); err != nil {
		return fmt.Errorf("writing remote file %s: %w", remotePath, err)
	}
	return nil
}
