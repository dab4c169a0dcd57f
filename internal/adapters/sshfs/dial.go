package sshfs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/corey/five/internal/domain/target"
	"github.com/corey/five/internal/ports"
)

// DialConfig holds client-side SSH settings.
type DialConfig struct {
	User                  string   // overrides the target's user when the target has none
	IdentityFiles         []string // empty means the usual ~/.ssh/id_* files
	UseAgent              bool
	KnownHosts            string // empty means ~/.ssh/known_hosts
	InsecureIgnoreHostKey bool
	Timeout               time.Duration
	Logger                *zap.Logger
}

var defaultIdentities = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

// Dial connects and authenticates to a remote target. Authentication uses
// the SSH agent (SSH_AUTH_SOCK) and unencrypted identity files; host keys
// are checked against known_hosts.
func Dial(ctx context.Context, t target.Target, cfg DialConfig) (*ssh.Client, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	name := t.User
	if name == "" {
		name = cfg.User
	}
	if name == "" {
		name = currentUser()
	}

	auth, closeAgent := authMethods(cfg, log)
	defer closeAgent()
	if len(auth) == 0 {
		return nil, &ports.PathError{Op: "dial", Path: t.Address(), Err: fmt.Errorf("%w: no ssh agent or identity file available", ports.ErrPermission)}
	}

	hostKey, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, err
	}

	clientCfg := &ssh.ClientConfig{
		User:            name,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         cfg.Timeout,
	}

	addr := t.HostPort()
	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, ports.WrapPath("dial", addr, dialErr(err))
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, &ports.PathError{Op: "dial", Path: addr, Err: fmt.Errorf("%w: %v", ports.ErrPermission, err)}
		}
		var kerr *knownhosts.KeyError
		if errors.As(err, &kerr) {
			return nil, &ports.PathError{Op: "dial", Path: addr, Err: fmt.Errorf("%w: host key: %v", ports.ErrPermission, err)}
		}
		return nil, ports.WrapPath("dial", addr, dialErr(err))
	}
	conn.SetDeadline(time.Time{})
	log.Info("ssh connected", zap.String("addr", addr), zap.String("user", name))
	return ssh.NewClient(c, chans, reqs), nil
}

// dialErr keeps context errors and marks everything else as transport.
func dialErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", ports.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ports.ErrTransport, err)
}

func authMethods(cfg DialConfig, log *zap.Logger) ([]ssh.AuthMethod, func()) {
	var methods []ssh.AuthMethod
	closer := func() {}

	if cfg.UseAgent {
		if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
			conn, err := net.Dial("unix", sock)
			if err != nil {
				log.Debug("ssh agent unavailable", zap.Error(err))
			} else {
				methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
				closer = func() { conn.Close() }
			}
		}
	}

	files := cfg.IdentityFiles
	if len(files) == 0 {
		home, _ := os.UserHomeDir()
		for _, n := range defaultIdentities {
			files = append(files, filepath.Join(home, ".ssh", n))
		}
	}
	var signers []ssh.Signer
	for _, f := range files {
		key, err := os.ReadFile(expandHome(f))
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			var pm *ssh.PassphraseMissingError
			if errors.As(err, &pm) {
				log.Debug("skipping passphrase-protected key, use the agent", zap.String("file", f))
			} else {
				log.Warn("unreadable identity file", zap.String("file", f), zap.Error(err))
			}
			continue
		}
		signers = append(signers, signer)
	}
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}
	return methods, closer
}

func hostKeyCallback(cfg DialConfig) (ssh.HostKeyCallback, error) {
	if cfg.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	file := cfg.KnownHosts
	if file == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locate known_hosts: %w", err)
		}
		file = filepath.Join(home, ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(expandHome(file))
	if err != nil {
		return nil, fmt.Errorf("load known_hosts: %w", err)
	}
	return cb, nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[1:])
		}
	}
	return p
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}
