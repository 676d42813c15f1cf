// Package portal asks the XDG desktop portal for camera access.
package portal

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/cjeanneret/camrelay/internal/debug"
)

const (
	objectName        = "org.freedesktop.portal.Desktop"
	objectPath        = "/org/freedesktop/portal/desktop"
	cameraIface       = "org.freedesktop.portal.Camera"
	accessCameraName  = cameraIface + ".AccessCamera"
	requestIface      = "org.freedesktop.portal.Request"
	responseMember    = "Response"
	propertiesGetName = "org.freedesktop.DBus.Properties.Get"
)

// Response codes of org.freedesktop.portal.Request.Response.
const (
	responseSuccess   uint32 = 0
	responseCancelled uint32 = 1
)

var ErrUnexpectedResponse = errors.New("unexpected response from portal")

// Camera checks camera authorization through the portal on the session bus.
type Camera struct {
	connect func() (*dbus.Conn, error)
}

// NewCamera creates a portal authorizer using the session bus.
func NewCamera() *Camera {
	return &Camera{connect: dbus.SessionBus}
}

// Authorized reports whether the user granted camera access. Any D-Bus
// failure counts as a denial.
func (c *Camera) Authorized(ctx context.Context) bool {
	ok, err := c.access(ctx)
	if err != nil {
		debug.Warn("Portal: camera access check failed: %v", err)
		return false
	}
	return ok
}

func (c *Camera) access(ctx context.Context) (bool, error) {
	conn, err := c.connect()
	if err != nil {
		return false, fmt.Errorf("session bus: %w", err)
	}
	obj := conn.Object(objectName, objectPath)

	var present dbus.Variant
	if err := obj.CallWithContext(ctx, propertiesGetName, 0, cameraIface, "IsCameraPresent").Store(&present); err != nil {
		return false, fmt.Errorf("IsCameraPresent: %w", err)
	}
	if p, ok := present.Value().(bool); ok && !p {
		debug.Info("Portal: no camera present")
		return false, nil
	}

	token := handleToken()
	reqPath := requestPath(conn.Names()[0], token)

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(reqPath),
		dbus.WithMatchInterface(requestIface),
		dbus.WithMatchMember(responseMember),
	); err != nil {
		return false, fmt.Errorf("match Response: %w", err)
	}
	defer conn.RemoveMatchSignal(
		dbus.WithMatchObjectPath(reqPath),
		dbus.WithMatchInterface(requestIface),
		dbus.WithMatchMember(responseMember),
	)
	signals := make(chan *dbus.Signal, 4)
	conn.Signal(signals)
	defer conn.RemoveSignal(signals)

	opts := map[string]dbus.Variant{"handle_token": dbus.MakeVariant(token)}
	var handle dbus.ObjectPath
	if err := obj.CallWithContext(ctx, accessCameraName, 0, opts).Store(&handle); err != nil {
		return false, fmt.Errorf("AccessCamera: %w", err)
	}
	debug.Verbose("Portal: waiting for response on %s", handle)

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case sig, ok := <-signals:
			if !ok {
				return false, ErrUnexpectedResponse
			}
			if sig.Path != handle && sig.Path != reqPath {
				continue
			}
			status, err := parseResponse(sig)
			if err != nil {
				return false, err
			}
			return status == responseSuccess, nil
		}
	}
}

func parseResponse(sig *dbus.Signal) (uint32, error) {
	if len(sig.Body) < 1 {
		return responseCancelled, ErrUnexpectedResponse
	}
	status, ok := sig.Body[0].(uint32)
	if !ok {
		return responseCancelled, ErrUnexpectedResponse
	}
	return status, nil
}

func handleToken() string {
	n, _ := rand.Int(rand.Reader, big.NewInt(1<<16))
	return "camrelay" + strconv.FormatUint(n.Uint64(), 16)
}

// requestPath predicts the request object path from the caller's unique
// bus name, as documented by org.freedesktop.portal.Request.
func requestPath(uniqueName, token string) dbus.ObjectPath {
	sender := strings.ReplaceAll(strings.TrimPrefix(uniqueName, ":"), ".", "_")
	return dbus.ObjectPath("/org/freedesktop/portal/desktop/request/" + sender + "/" + token)
}

// Static is an authorizer with a fixed answer.
type Static bool

func (s Static) Authorized(context.Context) bool { return bool(s) }
