package device

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeNode(t *testing.T, root, node, name, index string) {
	t.Helper()
	dir := filepath.Join(root, node)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "name"), []byte(name+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if index != "" {
		if err := os.WriteFile(filepath.Join(dir, "index"), []byte(index+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestSysfs_DiscoverOrderedAndFiltered(t *testing.T) {
	root := t.TempDir()
	writeNode(t, root, "video10", "Rear Camera", "0")
	writeNode(t, root, "video2", "Front Camera", "0")
	writeNode(t, root, "video3", "Front Camera", "1") // metadata node
	writeNode(t, root, "video0", "HD Webcam", "")
	if err := os.MkdirAll(filepath.Join(root, "v4l-subdev0"), 0o755); err != nil {
		t.Fatal(err)
	}

	devs := NewSysfs(root).Discover(context.Background())
	if len(devs) != 3 {
		t.Fatalf("found %d devices, want 3: %v", len(devs), devs)
	}

	wantNames := []string{"HD Webcam", "Front Camera", "Rear Camera"}
	wantCats := []Category{CategoryUnspecified, CategoryInternalFront, CategoryInternalBack}
	for i := range devs {
		if devs[i].Name != wantNames[i] {
			t.Errorf("devs[%d].Name = %q, want %q", i, devs[i].Name, wantNames[i])
		}
		if devs[i].Category != wantCats[i] {
			t.Errorf("devs[%d].Category = %v, want %v", i, devs[i].Category, wantCats[i])
		}
	}
	if devs[0].Path != "/dev/video0" {
		t.Errorf("path = %q, want /dev/video0", devs[0].Path)
	}
}

func TestSysfs_StableIDsAcrossPasses(t *testing.T) {
	root := t.TempDir()
	writeNode(t, root, "video0", "HD Webcam", "0")
	cat := NewSysfs(root)

	a := cat.Discover(context.Background())
	b := cat.Discover(context.Background())
	if len(a) != 1 || len(b) != 1 {
		t.Fatalf("unexpected lengths %d, %d", len(a), len(b))
	}
	if a[0].ID != b[0].ID || a[0].ID == "" {
		t.Errorf("IDs differ across passes: %q vs %q", a[0].ID, b[0].ID)
	}
}

func TestSysfs_MissingRootIsEmpty(t *testing.T) {
	devs := NewSysfs(filepath.Join(t.TempDir(), "nope")).Discover(context.Background())
	if devs == nil || len(devs) != 0 {
		t.Errorf("Discover = %v, want empty non-nil slice", devs)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		usb  bool
		want Category
	}{
		{"Integrated Front Camera", false, CategoryInternalFront},
		{"Back Camera", false, CategoryInternalBack},
		{"rear sensor", true, CategoryInternalBack},
		{"Logitech C920", true, CategoryExternal},
		{"vivid", false, CategoryUnspecified},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.name, tc.usb); got != tc.want {
				t.Errorf("Classify(%q, %v) = %v, want %v", tc.name, tc.usb, got, tc.want)
			}
		})
	}
}

func TestStatic_DiscoverReturnsCopy(t *testing.T) {
	a := New("A", "", CategoryExternal)
	cat := NewStatic(a)
	devs := cat.Discover(context.Background())
	devs[0].Name = "mutated"
	if again := cat.Discover(context.Background()); again[0].Name != "A" {
		t.Error("Discover must not expose internal slice")
	}
}

func TestIndexAndParseCategory(t *testing.T) {
	a, b := New("A", "", CategoryExternal), New("B", "", CategoryExternal)
	if Index([]Device{a, b}, b.ID) != 1 {
		t.Error("Index(b) != 1")
	}
	if Index([]Device{a}, "missing") != -1 {
		t.Error("Index(missing) != -1")
	}
	for _, c := range []Category{CategoryUnspecified, CategoryInternalFront, CategoryInternalBack, CategoryExternal} {
		if ParseCategory(c.String()) != c {
			t.Errorf("ParseCategory(%q) != %v", c.String(), c)
		}
	}
}
