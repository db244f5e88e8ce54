package publish

import "sync"

// Targets holds the destination set. The primary channel is always active;
// the backup can be toggled at runtime; preview is a separate destination
// used only by preview passes.
type Targets struct {
	mu       sync.Mutex
	primary  int64
	backup   int64
	preview  int64
	backupOn bool
}

func NewTargets(primary, backup, preview int64, backupOn bool) *Targets {
	return &Targets{primary: primary, backup: backup, preview: preview, backupOn: backupOn}
}

// Active returns the destinations for a normal publish pass, in configured
// order: primary first, then backup when enabled.
func (t *Targets) Active() []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := []int64{t.primary}
	if t.backupOn && t.backup != 0 {
		out = append(out, t.backup)
	}
	return out
}

func (t *Targets) Primary() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.primary
}

func (t *Targets) Backup() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.backup
}

func (t *Targets) Preview() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.preview
}

func (t *Targets) BackupOn() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.backupOn
}

func (t *Targets) SetBackup(on bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.backupOn = on
	return t.backupOn
}

func (t *Targets) ToggleBackup() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.backupOn = !t.backupOn
	return t.backupOn
}

// Apply swaps the channel set on config reload; the toggle state is kept.
func (t *Targets) Apply(primary, backup, preview int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.primary = primary
	t.backup = backup
	t.preview = preview
}
