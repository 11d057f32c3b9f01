package plugfx

import (
	"context"
	"errors"
	"testing"
)

func TestRegisterPluginIdempotent(t *testing.T) {
	d := New()
	defer d.Close()

	if err := d.RegisterPlugin("p"); err != nil {
		t.Fatalf("First registration failed: %v", err)
	}
	if err := d.RegisterPlugin("p"); err != nil {
		t.Fatalf("Repeat registration failed: %v", err)
	}
	if got := d.Plugins(); len(got) != 1 || got[0] != "p" {
		t.Errorf("Expected single plugin 'p', got %v", got)
	}
}

func TestUnregisterCascade(t *testing.T) {
	d := New()
	defer d.Close()

	if err := d.RegisterPlugin("doomed"); err != nil {
		t.Fatalf("Failed to register plugin: %v", err)
	}

	var calls int
	handler := func(ctx context.Context, event Event, hook Key) (Event, error) {
		calls++
		return nil, nil
	}
	if _, err := d.On("first", handler, "doomed", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := d.On("second", handler, "doomed", 0); err != nil {
		t.Fatal(err)
	}
	if err := d.Skills().Register("doomed", &Skill{Name: "doomed-skill", Description: "x"}); err != nil {
		t.Fatalf("Failed to register skill: %v", err)
	}

	if err := d.UnregisterPlugin("doomed"); err != nil {
		t.Fatalf("Unregister failed: %v", err)
	}

	// Both hooks lose the plugin's effects entirely.
	if _, err := d.Dispatch(context.Background(), "first", Event{}); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Dispatch(context.Background(), "second", Event{}); err != nil {
		t.Fatal(err)
	}
	if calls != 0 {
		t.Errorf("Unregistered plugin's handlers ran %d times", calls)
	}

	if _, err := d.Skills().Get("doomed-skill"); !errors.Is(err, ErrSkillNotFound) {
		t.Errorf("Expected skill to be removed, got %v", err)
	}
	if m := d.Metrics(); m.RegisteredBindings != 0 {
		t.Errorf("Expected 0 bindings after cascade, got %d", m.RegisteredBindings)
	}
}

func TestEnableDisableIdempotent(t *testing.T) {
	d := New()
	defer d.Close()

	if err := d.RegisterPlugin("p"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := d.DisablePlugin("p"); err != nil {
			t.Fatalf("Disable %d failed: %v", i, err)
		}
	}
	for i := 0; i < 2; i++ {
		if err := d.EnablePlugin("p"); err != nil {
			t.Fatalf("Enable %d failed: %v", i, err)
		}
	}
	if d.pluginDisabled("p") {
		t.Error("Plugin still disabled after enable")
	}
}

func TestUnknownPluginOperations(t *testing.T) {
	d := New()
	defer d.Close()

	if err := d.DisablePlugin("ghost"); !errors.Is(err, ErrPluginNotFound) {
		t.Errorf("Expected ErrPluginNotFound from Disable, got %v", err)
	}
	if err := d.EnablePlugin("ghost"); !errors.Is(err, ErrPluginNotFound) {
		t.Errorf("Expected ErrPluginNotFound from Enable, got %v", err)
	}
	if err := d.UnregisterPlugin("ghost"); !errors.Is(err, ErrPluginNotFound) {
		t.Errorf("Expected ErrPluginNotFound from Unregister, got %v", err)
	}

	// Unknown plugin ids on bindings are treated as enabled.
	if d.pluginDisabled("ghost") {
		t.Error("Unknown plugin reported as disabled")
	}
}

type testPlugin struct {
	id        string
	setupErr  error
	withSkill bool
}

func (p *testPlugin) ID() string { return p.id }

func (p *testPlugin) Setup(ctx context.Context, d *Dispatcher) (*Skill, error) {
	if p.setupErr != nil {
		return nil, p.setupErr
	}
	if _, err := d.On("plugin.hook", func(ctx context.Context, event Event, hook Key) (Event, error) {
		return nil, nil
	}, p.id, 0); err != nil {
		return nil, err
	}
	if !p.withSkill {
		return nil, nil
	}
	return &Skill{
		Name:        p.id + "-skill",
		Description: "capability metadata for " + p.id,
		Tags:        []string{"test"},
	}, nil
}

func TestPluginSetupStoresSkill(t *testing.T) {
	d := New()
	defer d.Close()

	if err := d.Register(context.Background(), &testPlugin{id: "cap", withSkill: true}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	skill, err := d.Skills().ForPlugin("cap")
	if err != nil {
		t.Fatalf("Skill not stored: %v", err)
	}
	if skill.Name != "cap-skill" {
		t.Errorf("Unexpected skill name %q", skill.Name)
	}
}

func TestPluginSetupFailureRollsBack(t *testing.T) {
	d := New()
	defer d.Close()

	boom := errors.New("setup boom")
	err := d.Register(context.Background(), &testPlugin{id: "broken", setupErr: boom})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected setup error, got %v", err)
	}
	if got := d.Plugins(); len(got) != 0 {
		t.Errorf("Plugin record survived failed setup: %v", got)
	}
}
