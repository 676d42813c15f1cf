package device

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cjeanneret/camrelay/internal/debug"
)

// DefaultSysfsRoot is where Linux exposes V4L2 nodes.
const DefaultSysfsRoot = "/sys/class/video4linux"

// Sysfs enumerates V4L2 capture nodes from sysfs. Only the first node of each
// physical device (index 0) is reported; the others carry metadata.
type Sysfs struct {
	Root   string // defaults to DefaultSysfsRoot
	DevDir string // defaults to /dev
}

// NewSysfs creates a catalog rooted at root.
func NewSysfs(root string) *Sysfs {
	return &Sysfs{Root: root}
}

func (s *Sysfs) Discover(ctx context.Context) []Device {
	root := s.Root
	if root == "" {
		root = DefaultSysfsRoot
	}
	devDir := s.DevDir
	if devDir == "" {
		devDir = "/dev"
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		debug.Warn("Devices: cannot read %s: %v", root, err)
		return []Device{}
	}

	type node struct {
		num int
		dev Device
	}
	var nodes []node
	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		name := e.Name()
		if !strings.HasPrefix(name, "video") {
			continue
		}
		num, err := strconv.Atoi(strings.TrimPrefix(name, "video"))
		if err != nil {
			continue
		}
		dir := filepath.Join(root, name)
		if idx := readTrimmed(filepath.Join(dir, "index")); idx != "" && idx != "0" {
			debug.Trace("Devices: skipping %s (index %s)", name, idx)
			continue
		}
		label := readTrimmed(filepath.Join(dir, "name"))
		if label == "" {
			label = name
		}
		usb := false
		if target, err := filepath.EvalSymlinks(filepath.Join(dir, "device")); err == nil {
			usb = strings.Contains(target, "/usb")
		}
		path := filepath.Join(devDir, name)
		nodes = append(nodes, node{num: num, dev: New(label, path, Classify(label, usb))})
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].num < nodes[j].num })
	out := make([]Device, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.dev)
	}
	debug.Verbose("Devices: found %d V4L2 capture nodes under %s", len(out), root)
	return out
}

func readTrimmed(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
