package actuator

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"doorkeeper/internal/logging"
)

// HotplugEvent describes the lock controller tty appearing or vanishing.
type HotplugEvent struct {
	Action string
	Device string
}

// HotplugMonitor watches udev for tty add/remove events on the lock
// controller's device.
type HotplugMonitor struct {
	logger  *slog.Logger
	device  func() string
	handler func(ctx context.Context, ev HotplugEvent)

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

// NewHotplugMonitor returns nil when device is nil.
func NewHotplugMonitor(logger *slog.Logger, device func() string, handler func(ctx context.Context, ev HotplugEvent)) *HotplugMonitor {
	if device == nil {
		return nil
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &HotplugMonitor{
		logger:  logging.NewComponentLogger(logger, "hotplug-monitor"),
		device:  device,
		handler: handler,
	}
}

// Start connects to the udev netlink socket. A connection failure is logged
// and otherwise ignored.
func (m *HotplugMonitor) Start(ctx context.Context) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		m.logger.Warn("failed to connect to netlink socket; lock hotplug events will not be reported",
			logging.Error(err),
			logging.String(logging.FieldEventType, "hotplug_connect_failed"),
			logging.String(logging.FieldErrorHint, "ensure the daemon has permission to access netlink sockets"),
			logging.String(logging.FieldImpact, "lock reconnects after unplugging need a daemon restart"),
		)
		return nil
	}
	m.conn = conn
	m.quit = make(chan struct{})
	m.running = true

	quit := m.quit
	go m.monitorLoop(ctx, conn, quit)

	m.logger.Info("hotplug monitor started",
		logging.String(logging.FieldEventType, "hotplug_monitor_started"),
		logging.String("device", m.device()),
	)
	return nil
}

// Stop shuts the monitor down. It is safe to call more than once.
func (m *HotplugMonitor) Stop() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	close(m.quit)
	m.quit = nil
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.running = false
	m.logger.Info("hotplug monitor stopped",
		logging.String(logging.FieldEventType, "hotplug_monitor_stopped"),
	)
}

// Running reports whether the monitor is active.
func (m *HotplugMonitor) Running() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *HotplugMonitor) monitorLoop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, buildMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-queue:
			m.handleEvent(ctx, uevent)
		case err := <-errs:
			m.logger.Warn("netlink monitor error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "hotplug_monitor_error"),
				logging.String(logging.FieldErrorHint, "check kernel netlink subsystem"),
				logging.String(logging.FieldImpact, "lock hotplug events may be missed"),
			)
		}
	}
}

// buildMatcher accepts tty add and remove events.
func buildMatcher() netlink.Matcher {
	action := "add|remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "tty",
		},
	})
	return rules
}

func (m *HotplugMonitor) handleEvent(ctx context.Context, uevent netlink.UEvent) {
	devname := deviceName(uevent)
	if devname == "" {
		return
	}
	want := m.device()
	if want != "" && !sameDevice(devname, want) {
		m.logger.Debug("ignoring tty event for other device",
			logging.String("device", devname),
			logging.String("lock_device", want),
		)
		return
	}

	ev := HotplugEvent{Action: string(uevent.Action), Device: devname}
	if uevent.Action == netlink.REMOVE {
		logging.WarnWithContext(m.logger, "lock controller disconnected", "lock_device_removed",
			logging.String("device", devname),
			logging.String(logging.FieldImpact, "door commands fail until the controller is reconnected"),
			logging.String(logging.FieldErrorHint, "check the USB cable to the lock controller"),
		)
	} else {
		m.logger.Info("lock controller device appeared",
			logging.String(logging.FieldEventType, "lock_device_added"),
			logging.String("device", devname),
		)
	}
	if m.handler != nil {
		m.handler(ctx, ev)
	}
}

func deviceName(uevent netlink.UEvent) string {
	if devname := uevent.Env["DEVNAME"]; devname != "" {
		if !strings.HasPrefix(devname, "/") {
			devname = "/dev/" + devname
		}
		return devname
	}
	devpath := uevent.Env["DEVPATH"]
	if devpath == "" {
		return ""
	}
	return "/dev/" + filepath.Base(devpath)
}

func sameDevice(a, b string) bool {
	return filepath.Base(a) == filepath.Base(b)
}
