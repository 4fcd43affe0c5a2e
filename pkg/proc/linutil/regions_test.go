package linutil

import (
	"os"
	"strings"
	"testing"
)

func TestParseRegionLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Region
		ok   bool
	}{
		{
			name: "file backed mapping",
			line: "00400000-00452000 r-xp 00000000 08:02 173521  /usr/bin/dbus-daemon",
			want: Region{
				Start:       0x400000,
				End:         0x452000,
				Offset:      0,
				Permissions: PermRead | PermExecute | PermPrivate,
				Name:        "/usr/bin/dbus-daemon",
			},
			ok: true,
		},
		{
			name: "anonymous mapping",
			line: "7f4a3c021000-7f4a40000000 rw-p 00000000 00:00 0",
			want: Region{
				Start:       0x7f4a3c021000,
				End:         0x7f4a40000000,
				Permissions: PermRead | PermWrite | PermPrivate,
			},
			ok: true,
		},
		{
			name: "stack",
			line: "7ffc04b54000-7ffc04b75000 rw-p 00000000 00:00 0                          [stack]",
			want: Region{
				Start:       0x7ffc04b54000,
				End:         0x7ffc04b75000,
				Permissions: PermRead | PermWrite | PermPrivate,
				Name:        "[stack]",
			},
			ok: true,
		},
		{
			name: "shared mapping with offset",
			line: "7f1000000000-7f1000001000 rw-s 00010000 00:05 1026 /dev/shm/x",
			want: Region{
				Start:       0x7f1000000000,
				End:         0x7f1000001000,
				Offset:      0x10000,
				Permissions: PermRead | PermWrite | PermShared,
				Name:        "/dev/shm/x",
			},
			ok: true,
		},
		{
			name: "path with spaces",
			line: "00400000-00401000 r--p 00000000 08:02 99 /tmp/a b c",
			want: Region{
				Start:       0x400000,
				End:         0x401000,
				Permissions: PermRead | PermPrivate,
				Name:        "/tmp/a b c",
			},
			ok: true,
		},
		{name: "short line", line: "00400000-00452000 r-xp", ok: false},
		{name: "empty line", line: "", ok: false},
		{name: "bad address range", line: "00400000 r-xp 00000000 08:02 173521", ok: false},
		{name: "bad start address", line: "zzz-00452000 r-xp 00000000 08:02 173521", ok: false},
		{name: "bad offset", line: "00400000-00452000 r-xp nope 08:02 173521", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseRegionLine(tt.line)
			if ok != tt.ok {
				t.Fatalf("parseRegionLine(%q) ok = %v, want %v", tt.line, ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("parseRegionLine(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}
}

func TestParseRegionsSkipsBadLines(t *testing.T) {
	maps := `00400000-00452000 r-xp 00000000 08:02 173521  /usr/bin/dbus-daemon
this line does not parse
7ffc04b54000-7ffc04b75000 rw-p 00000000 00:00 0                          [stack]
`
	regions, err := parseRegions(strings.NewReader(maps))
	if err != nil {
		t.Fatalf("parseRegions: %v", err)
	}
	if len(regions) != 2 {
		t.Fatalf("expected 2 regions, got %d", len(regions))
	}
	if regions[0].Name != "/usr/bin/dbus-daemon" {
		t.Errorf("unexpected first region %+v", regions[0])
	}
	if !regions[1].IsStack() {
		t.Errorf("expected second region to be the stack, got %+v", regions[1])
	}
}

func TestRegionPredicates(t *testing.T) {
	r := Region{
		Start:       0x400000,
		End:         0x452000,
		Permissions: PermRead | PermExecute | PermPrivate,
		Name:        "/usr/bin/true",
	}
	if !r.IsReadable() || r.IsWritable() || !r.IsExecutable() {
		t.Errorf("unexpected rwx predicates for %+v", r)
	}
	if !r.IsPrivate() || r.IsShared() {
		t.Errorf("unexpected sharing predicates for %+v", r)
	}
	if r.IsStack() || r.IsHeap() || r.IsVdso() {
		t.Errorf("unexpected special predicates for %+v", r)
	}

	if !r.Contains(0x400000) || !r.Contains(0x451fff) {
		t.Error("expected addresses inside the range to be contained")
	}
	if r.Contains(0x3fffff) || r.Contains(0x452000) {
		t.Error("expected addresses outside the range to not be contained")
	}
}

func TestRegionString(t *testing.T) {
	r := Region{
		Start:       0x400000,
		End:         0x452000,
		Offset:      0x1000,
		Permissions: PermRead | PermWrite | PermShared,
		Name:        "[heap]",
	}
	want := "0000000000400000-0000000000452000 rw-s 00001000 [heap]"
	if got := r.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}

	none := Region{}
	if got := none.permString(); got != "----" {
		t.Errorf("permString() = %q, want ----", got)
	}
}

func TestRegionsSelf(t *testing.T) {
	regions, err := Regions(os.Getpid())
	if err != nil {
		t.Fatalf("Regions: %v", err)
	}
	if len(regions) == 0 {
		t.Fatal("expected at least one mapping for the current process")
	}
	var haveExec bool
	for i := range regions {
		if regions[i].Start >= regions[i].End {
			t.Errorf("degenerate region %+v", regions[i])
		}
		if regions[i].IsExecutable() {
			haveExec = true
		}
	}
	if !haveExec {
		t.Error("expected at least one executable mapping")
	}
}

func TestHashRegionsSelf(t *testing.T) {
	h := HashRegions(os.Getpid())
	if h == 0 {
		t.Fatal("expected a nonzero digest for the current process")
	}
	if HashRegions(-1) != 0 {
		t.Error("expected the digest of a nonexistent process to be 0")
	}
}

func TestRegionCache(t *testing.T) {
	rc, err := NewRegionCache(4)
	if err != nil {
		t.Fatalf("NewRegionCache: %v", err)
	}

	first, err := rc.Regions(os.Getpid())
	if err != nil {
		t.Fatalf("Regions: %v", err)
	}
	if len(first) == 0 {
		t.Fatal("expected at least one mapping")
	}

	second, err := rc.Regions(os.Getpid())
	if err != nil {
		t.Fatalf("Regions: %v", err)
	}
	if len(second) == 0 {
		t.Fatal("expected at least one mapping on the second lookup")
	}
}

func TestRegionCacheServesByDigest(t *testing.T) {
	rc, err := NewRegionCache(4)
	if err != nil {
		t.Fatalf("NewRegionCache: %v", err)
	}

	h := HashRegions(os.Getpid())
	if h == 0 {
		t.Fatal("expected a nonzero digest for the current process")
	}
	sentinel := []Region{{Start: 0x1000, End: 0x2000, Name: "sentinel"}}
	rc.cache.Add(h, sentinel)

	got, err := rc.Regions(os.Getpid())
	if err != nil {
		t.Fatalf("Regions: %v", err)
	}
	if len(got) != 1 || got[0].Name != "sentinel" {
		t.Errorf("expected the cached entry to be served, got %d regions", len(got))
	}
}

func TestThreadsSelf(t *testing.T) {
	tids, err := Threads(os.Getpid())
	if err != nil {
		t.Fatalf("Threads: %v", err)
	}
	if len(tids) == 0 {
		t.Fatal("expected at least one task")
	}
	var found bool
	for _, tid := range tids {
		if tid == os.Getpid() {
			found = true
		}
	}
	if !found {
		t.Errorf("expected the thread group leader %d in %v", os.Getpid(), tids)
	}
}

func TestProcessesSelf(t *testing.T) {
	pids, err := Processes()
	if err != nil {
		t.Fatalf("Processes: %v", err)
	}
	var found bool
	for _, pid := range pids {
		if pid == os.Getpid() {
			found = true
		}
	}
	if !found {
		t.Errorf("expected the current process %d in the process list", os.Getpid())
	}
}

func TestTaskNameSelf(t *testing.T) {
	pid := os.Getpid()
	if name := TaskName(pid, pid); name == "" {
		t.Error("expected a nonempty comm for the current task")
	}
	if name := ProcessName(pid); name == "" {
		t.Error("expected a nonempty comm for the current process")
	}
	if name := TaskName(-1, -1); name != "" {
		t.Errorf("expected an empty comm for a nonexistent task, got %q", name)
	}
}
