// Package device controls the host the agent runs on.
package device

import (
	"context"
	"os"
	"strconv"

	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/firmware"
	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/logging"
	systemd "github.com/coreos/go-systemd/v22/dbus"
	dbus "github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
)

const (
	// DefaultSystemdSocket is systemd's private bus socket.
	DefaultSystemdSocket = "/run/systemd/private"

	rebootUnit = "reboot.target"
	rebootMode = "replace-irreversibly"
	jobDone    = "done"
)

// unitStarter is the part of *systemd.Conn used here.
type unitStarter interface {
	StartUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	Close()
}

// Rebooter restarts the host into a newly installed image.
type Rebooter struct {
	log     logging.Logger
	socket  string
	connect func() (unitStarter, error)
}

func NewRebooter(log logging.Logger, socket string) *Rebooter {
	if socket == "" {
		socket = DefaultSystemdSocket
	}
	r := &Rebooter{log: log, socket: socket}
	r.connect = r.dial
	return r
}

// Observe reboots after a cycle that installed an image. A reboot with a stale
// version record is still performed: the new image is only active after it.
func (r *Rebooter) Observe(ctx context.Context, o firmware.Outcome) {
	if o.Kind != firmware.Installed {
		return
	}
	if o.Stale() {
		r.log.Warn("rebooting with a stale version record, the update will be offered again")
	}
	if err := r.Reboot(ctx); err != nil {
		r.log.WithError(err).Error("unable to reboot into new image")
	}
}

// Reboot asks systemd to start reboot.target and waits for the job to be
// queued.
func (r *Rebooter) Reboot(ctx context.Context) error {
	conn, err := r.connect()
	if err != nil {
		return errors.Wrap(err, "unable to connect to systemd")
	}
	defer conn.Close()

	r.log.WithField("unit", rebootUnit).Info("rebooting")
	result := make(chan string, 1)
	if _, err := conn.StartUnitContext(ctx, rebootUnit, rebootMode, result); err != nil {
		return errors.Wrapf(err, "unable to start %s", rebootUnit)
	}
	select {
	case <-ctx.Done():
		// Shutdown has begun, likely the reboot itself.
		return nil
	case res := <-result:
		if res != jobDone {
			return errors.Errorf("%s job finished with %q", rebootUnit, res)
		}
		return nil
	}
}

func (r *Rebooter) dial() (unitStarter, error) {
	stat, err := os.Stat(r.socket)
	if err != nil {
		return nil, errors.Wrapf(err, "systemd socket %s", r.socket)
	}
	if stat.Mode()&os.ModeSocket == 0 {
		return nil, errors.Errorf("%s is not a unix socket", r.socket)
	}

	dialer := func() (*dbus.Conn, error) {
		conn, err := dbus.Dial("unix:path=" + r.socket)
		if err != nil {
			return nil, errors.Wrap(err, "unable to connect to systemd socket")
		}
		// Authenticate with the user's authority.
		methods := []dbus.Auth{dbus.AuthExternal(strconv.Itoa(os.Getuid()))}
		if err := conn.Auth(methods); err != nil {
			conn.Close()
			return nil, errors.Wrap(err, "unable to authenticate with systemd")
		}
		return conn, nil
	}
	conn, err := systemd.NewConnection(dialer)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
