package plugfx

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"
)

func TestWatchSkillsLoadsExisting(t *testing.T) {
	root := t.TempDir()
	writeSkillDir(t, root, "reviewer", reviewerSkillMD)

	d := New()
	defer d.Close()

	w, err := WatchSkills(d, SkillWatcherConfig{Dir: root})
	require.NoError(t, err)
	defer w.Close()

	skill, err := d.Skills().Get("code-reviewer")
	require.NoError(t, err)
	assert.Equal(t, "code-reviewer", skill.Name)
}

func TestWatchSkillsPicksUpNewSkill(t *testing.T) {
	root := t.TempDir()

	d := New()
	defer d.Close()

	changed := make(chan Event, 4)
	_, err := d.On(HookSkillChanged, func(ctx context.Context, event Event, hook Key) (Event, error) {
		changed <- event
		return nil, nil
	}, "observer", 0)
	require.NoError(t, err)

	w, err := WatchSkills(d, SkillWatcherConfig{Dir: root, Debounce: 20 * time.Millisecond})
	require.NoError(t, err)
	defer w.Close()

	// Create the directory first so the watcher can attach to it
	// before the manifest lands.
	dir := filepath.Join(root, "formatter")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, SkillFileName),
		[]byte("---\nname: auto-formatter\ndescription: Format source files.\n---\nRun the formatter.\n"), 0o644))

	require.Eventually(t, func() bool {
		_, err := d.Skills().Get("auto-formatter")
		return err == nil
	}, 5*time.Second, 50*time.Millisecond, "new skill never registered")

	select {
	case event := <-changed:
		assert.Equal(t, "formatter", event["pluginId"])
		assert.Equal(t, "auto-formatter", event["name"])
	case <-time.After(5 * time.Second):
		t.Fatal("skill:changed was never emitted")
	}
}

func TestWatchSkillsDebounceUsesInjectedClock(t *testing.T) {
	root := t.TempDir()
	clock := clockz.NewFakeClock()

	d := New(WithClock(clock))
	defer d.Close()

	w, err := WatchSkills(d, SkillWatcherConfig{Dir: root})
	require.NoError(t, err)
	defer w.Close()

	dir := filepath.Join(root, "formatter")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, SkillFileName),
		[]byte("---\nname: auto-formatter\ndescription: Format source files.\n---\nRun the formatter.\n"), 0o644))

	// The debounce runs on the injected clock: real time passing does
	// not fire it.
	time.Sleep(3 * DefaultSkillDebounce)
	_, err = d.Skills().Get("auto-formatter")
	assert.Error(t, err)

	// Advancing the fake clock past the debounce interval does.
	require.Eventually(t, func() bool {
		clock.Advance(DefaultSkillDebounce)
		clock.BlockUntilReady()
		_, err := d.Skills().Get("auto-formatter")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond, "debounced reload never fired on the fake clock")
}

func TestWatchSkillsRejectsMissingDir(t *testing.T) {
	d := New()
	defer d.Close()

	_, err := WatchSkills(d, SkillWatcherConfig{Dir: filepath.Join(t.TempDir(), "absent")})
	assert.Error(t, err)
}

func TestWatchSkillsRejectsBadPattern(t *testing.T) {
	d := New()
	defer d.Close()

	_, err := WatchSkills(d, SkillWatcherConfig{
		Dir:             t.TempDir(),
		ExcludePatterns: []string{"[broken"},
	})
	assert.ErrorIs(t, err, ErrInvalidPattern)
}

func TestWatchSkillsCloseIdempotent(t *testing.T) {
	d := New()
	defer d.Close()

	w, err := WatchSkills(d, SkillWatcherConfig{Dir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}
